package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/smazurov/camwatch/internal/events"
)

func TestMonitorRegistry(t *testing.T) {
	m := testMonitor(t, map[string]*fakeDialer{})

	if _, err := m.Add(testCameraConfig("b")); err != nil {
		t.Fatalf("Add b: %v", err)
	}
	if _, err := m.Add(testCameraConfig("a")); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if _, err := m.Add(testCameraConfig("a")); !errors.Is(err, ErrCameraExists) {
		t.Fatalf("duplicate Add: got %v, want ErrCameraExists", err)
	}

	bad := testCameraConfig("c")
	bad.Stream.URL = ""
	if _, err := m.Add(bad); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}

	var ids []string
	for _, cam := range m.List() {
		ids = append(ids, cam.ID())
	}
	if !slices.Equal(ids, []string{"a", "b"}) {
		t.Fatalf("List() = %v, want [a b]", ids)
	}

	if _, err := m.Get("missing"); !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("Get(missing) = %v, want ErrCameraNotFound", err)
	}
	if _, err := m.Status("missing"); !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("Status(missing) = %v", err)
	}
	if err := m.Restart("missing"); !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("Restart(missing) = %v", err)
	}
	if err := m.Stop("missing"); !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("Stop(missing) = %v", err)
	}

	if err := m.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := m.Remove("a"); !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("second Remove = %v, want ErrCameraNotFound", err)
	}
	if got := len(m.Statuses()); got != 1 {
		t.Errorf("Statuses() has %d entries, want 1", got)
	}
}

func TestMonitorStartAllAndLateAdd(t *testing.T) {
	m := testMonitor(t, map[string]*fakeDialer{})

	if _, err := m.Add(testCameraConfig("early")); err != nil {
		t.Fatal(err)
	}
	m.StartAll(context.Background())

	if _, err := m.Add(testCameraConfig("late")); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"early", "late"} {
		waitFor(t, id+" running", func() bool {
			s, err := m.Status(id)
			return err == nil && s.Lifecycle == LifecycleRunning
		})
	}

	waitFor(t, "frame", func() bool {
		_, err := m.CurrentFrame("early")
		return err == nil
	})

	m.StopAll()
	for _, s := range m.Statuses() {
		if s.Lifecycle != LifecycleStopped {
			t.Errorf("%s lifecycle = %s after StopAll", s.ID, s.Lifecycle)
		}
	}
}

func TestMonitorStopAndRestart(t *testing.T) {
	m := testMonitor(t, map[string]*fakeDialer{})
	if _, err := m.Add(testCameraConfig("cam1")); err != nil {
		t.Fatal(err)
	}
	m.StartAll(context.Background())
	waitFor(t, "running", func() bool {
		s, _ := m.Status("cam1")
		return s.Lifecycle == LifecycleRunning
	})

	if err := m.Stop("cam1"); err != nil {
		t.Fatal(err)
	}
	if s, _ := m.Status("cam1"); s.Lifecycle != LifecycleStopped {
		t.Fatalf("lifecycle = %s, want stopped", s.Lifecycle)
	}
	if _, err := m.CurrentFrame("cam1"); !errors.Is(err, ErrNoFrame) {
		t.Errorf("CurrentFrame after stop = %v, want ErrNoFrame", err)
	}

	if err := m.Restart("cam1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "running again", func() bool {
		s, _ := m.Status("cam1")
		return s.Lifecycle == LifecycleRunning
	})
}

func TestMonitorNotificationLog(t *testing.T) {
	m := testMonitor(t, map[string]*fakeDialer{}, WithMaxNotifications(100))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 150 {
		m.record(newNotification("cam1", "Cam 1", KindFrozen, SeverityWarning, fmt.Sprintf("n%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	list := m.Notifications()
	if len(list) != 100 {
		t.Fatalf("log holds %d notifications, want 100", len(list))
	}
	if list[0].Message != "n149" || list[99].Message != "n50" {
		t.Errorf("log not newest first: first=%s last=%s", list[0].Message, list[99].Message)
	}

	list[0].Message = "changed"
	if m.Notifications()[0].Message != "n149" {
		t.Error("Notifications() must return a copy")
	}

	m.ClearNotifications()
	if got := len(m.Notifications()); got != 0 {
		t.Errorf("log holds %d notifications after clear", got)
	}
}

func TestMonitorPublishesNotifications(t *testing.T) {
	bus := events.New()
	received := make(chan events.NotificationEvent, 10)
	unsub := bus.Subscribe(func(e events.NotificationEvent) { received <- e })
	defer unsub()

	m := testMonitor(t, map[string]*fakeDialer{}, WithBus(bus))
	if _, err := m.Add(testCameraConfig("cam1")); err != nil {
		t.Fatal(err)
	}
	m.StartAll(context.Background())

	select {
	case e := <-received:
		if e.Kind != string(KindConnected) || e.Key != "cam1:connected" {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no notification event")
	}

	waitFor(t, "logged notification", func() bool { return len(m.Notifications()) > 0 })
}

func TestMonitorApply(t *testing.T) {
	m := testMonitor(t, map[string]*fakeDialer{})
	m.StartAll(context.Background())

	res, err := m.Apply([]CameraConfig{testCameraConfig("a"), testCameraConfig("b")})
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if !slices.Equal(res.Added, []string{"a", "b"}) || len(res.Removed) != 0 || len(res.Restarted) != 0 {
		t.Fatalf("first Apply result = %+v", res)
	}

	changed := testCameraConfig("a")
	changed.Name = "Renamed"
	res, err = m.Apply([]CameraConfig{changed, testCameraConfig("c")})
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if !slices.Equal(res.Added, []string{"c"}) || !slices.Equal(res.Removed, []string{"b"}) || !slices.Equal(res.Restarted, []string{"a"}) {
		t.Fatalf("second Apply result = %+v", res)
	}

	cam, err := m.Get("a")
	if err != nil || cam.Name() != "Renamed" {
		t.Fatalf("camera a not replaced: %v", err)
	}
	waitFor(t, "c running", func() bool {
		s, err := m.Status("c")
		return err == nil && s.Lifecycle == LifecycleRunning
	})

	invalid := testCameraConfig("d")
	invalid.QualityFloor = 7
	if _, err := m.Apply([]CameraConfig{invalid}); err == nil {
		t.Fatal("expected invalid Apply to fail")
	}
	if got := len(m.List()); got != 2 {
		t.Errorf("invalid Apply changed the registry: %d cameras", got)
	}

	if _, err := m.Apply([]CameraConfig{testCameraConfig("x"), testCameraConfig("x")}); !errors.Is(err, ErrCameraExists) {
		t.Errorf("duplicate ids: got %v, want ErrCameraExists", err)
	}
}

func TestMonitorMetrics(t *testing.T) {
	m := testMonitor(t, map[string]*fakeDialer{})
	for _, id := range []string{"m1", "m2"} {
		if _, err := m.Add(testCameraConfig(id)); err != nil {
			t.Fatal(err)
		}
	}

	samples := m.Metrics()
	if len(samples) != 2 {
		t.Fatalf("Metrics() has %d cameras, want 2", len(samples))
	}
	if samples["m1"].State != "disconnected" {
		t.Errorf("idle camera state = %q", samples["m1"].State)
	}
}
