package monitor

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/camwatch/internal/diagnostics"
	"github.com/smazurov/camwatch/internal/frames"
	"github.com/smazurov/camwatch/internal/media"
	"github.com/smazurov/camwatch/internal/stream"
)

func TestCameraLifecycle(t *testing.T) {
	d := newFakeDialer()
	cam, sink := newTestCamera(t, testCameraConfig("cam1"), d)

	if got := cam.Status().Lifecycle; got != LifecycleIdle {
		t.Fatalf("initial lifecycle = %s, want idle", got)
	}

	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "running", func() bool { return cam.Status().Lifecycle == LifecycleRunning })
	waitFor(t, "analysis", func() bool { return cam.Status().Analysis.FramesAnalyzed >= 3 })

	if sink.count(KindConnected) != 1 {
		t.Errorf("connected notifications = %d, want 1", sink.count(KindConnected))
	}

	cam.Stop()
	if got := cam.Status().Lifecycle; got != LifecycleStopped {
		t.Fatalf("lifecycle after Stop = %s, want stopped", got)
	}
	if err := cam.Start(context.Background()); !errors.Is(err, ErrRestartRequired) {
		t.Fatalf("Start after Stop: got %v, want ErrRestartRequired", err)
	}

	if err := cam.Restart(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	waitFor(t, "running after restart", func() bool { return cam.Status().Lifecycle == LifecycleRunning })
	if d.dialCount() < 2 {
		t.Errorf("dials = %d, want a fresh dial after restart", d.dialCount())
	}
}

func TestCameraStatusSnapshot(t *testing.T) {
	d := newFakeDialer()
	cfg := testCameraConfig("cam1")
	cam, _ := newTestCamera(t, cfg, d)

	before := cam.Status()
	if before.Diagnostics == nil || before.Diagnostics.Quality != cfg.Diagnostics.NeutralQuality {
		t.Fatalf("before any frame: diagnostics = %+v, want neutral quality %v", before.Diagnostics, cfg.Diagnostics.NeutralQuality)
	}
	if m := before.Metrics(); m.Quality != cfg.Diagnostics.NeutralQuality {
		t.Errorf("before any frame: metrics quality = %v, want neutral", m.Quality)
	}

	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "diagnostics", func() bool { return cam.Status().Analysis.FramesAnalyzed > 0 })

	s := cam.Status()
	if strings.Contains(s.URL, "secret") {
		t.Errorf("status leaks credentials: %s", s.URL)
	}
	if s.Connection != "connected" || s.Stream.FramesReceived == 0 {
		t.Errorf("unexpected stream part: %+v", s.Stream)
	}
	if q := s.Diagnostics.Quality; q < 0 || q > 1 {
		t.Errorf("quality %v out of range", q)
	}
	if len(s.Alerts) != 0 {
		t.Errorf("moving picture should have no alerts, got %v", s.Alerts)
	}

	m := s.Metrics()
	if m.State != "connected" || m.Quality != s.Diagnostics.Quality {
		t.Errorf("metrics sample does not match status: %+v", m)
	}
}

func TestCameraFreezeNotifications(t *testing.T) {
	d := newFakeDialer()
	cam, sink := newTestCamera(t, testCameraConfig("cam1"), d)

	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "analysis", func() bool { return cam.Status().Analysis.FramesAnalyzed >= 3 })

	d.pic.setStatic(true)
	waitFor(t, "frozen notification", func() bool { return sink.count(KindFrozen) == 1 })
	waitFor(t, "stopped picture", func() bool { return sink.count(KindStoppedPicture) == 1 })
	if !slices.Contains(cam.Status().Alerts, KindFrozen) {
		t.Error("frozen alert missing from status")
	}

	d.pic.setStatic(false)
	waitFor(t, "unfrozen notification", func() bool { return sink.count(KindUnfrozen) == 1 })

	if got := sink.count(KindFrozen); got != 1 {
		t.Errorf("frozen notifications = %d, want 1", got)
	}
	if got := cam.Status().Analysis.FrozenEpisodes; got != 1 {
		t.Errorf("frozen episodes = %d, want 1", got)
	}
}

func TestCameraCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cfg := testCameraConfig("cam1")
	cfg.NotificationCooldown = time.Minute
	cam, _ := newTestCamera(t, cfg, newFakeDialer(), WithClock(clock))

	evaluate := func(frozen bool) []Notification {
		cam.mu.Lock()
		defer cam.mu.Unlock()
		return cam.evaluateLocked(diagnostics.Result{Frozen: frozen, Quality: 1})
	}
	kinds := func(ns []Notification) []Kind {
		var out []Kind
		for _, n := range ns {
			out = append(out, n.Kind)
		}
		return out
	}

	if got := kinds(evaluate(true)); !slices.Equal(got, []Kind{KindFrozen}) {
		t.Fatalf("first freeze: %v", got)
	}

	now = now.Add(10 * time.Second)
	if got := kinds(evaluate(false)); !slices.Equal(got, []Kind{KindUnfrozen}) {
		t.Fatalf("first unfreeze: %v", got)
	}

	now = now.Add(10 * time.Second)
	if got := evaluate(true); len(got) != 0 {
		t.Fatalf("freeze within cooldown should collapse, got %v", kinds(got))
	}

	now = now.Add(10 * time.Second)
	evaluate(false)

	now = now.Add(time.Minute)
	got := evaluate(true)
	if !slices.Equal(kinds(got), []Kind{KindFrozen}) {
		t.Fatalf("freeze after cooldown should re-emit, got %v", kinds(got))
	}
	if got[0].Key != "cam1:frozen" || got[0].Severity != SeverityWarning || got[0].ID == "" {
		t.Errorf("unexpected notification: %+v", got[0])
	}
}

func TestCameraQualityNotifications(t *testing.T) {
	cfg := testCameraConfig("cam1")
	cfg.QualityFloor = 0.5
	cfg.NotificationCooldown = 0
	cam, _ := newTestCamera(t, cfg, newFakeDialer())

	evaluate := func(q float64) []Notification {
		cam.mu.Lock()
		defer cam.mu.Unlock()
		return cam.evaluateLocked(diagnostics.Result{Quality: q})
	}

	if got := evaluate(0.9); len(got) != 0 {
		t.Fatalf("good quality should be quiet, got %v", got)
	}
	if got := evaluate(0.2); len(got) != 1 || got[0].Kind != KindQualityLow {
		t.Fatalf("expected quality_low, got %v", got)
	}
	if got := evaluate(0.3); len(got) != 0 {
		t.Fatalf("still low should not repeat, got %v", got)
	}
	if got := evaluate(0.8); len(got) != 1 || got[0].Kind != KindQualityRestored {
		t.Fatalf("expected quality_restored, got %v", got)
	}
}

func TestCameraFailsAfterRetryBudget(t *testing.T) {
	d := newFakeDialer()
	d.setErr(media.NewConnectError(media.KindAuth, "rtsp://cam1.local/stream", errors.New("401 Unauthorized")))
	cam, sink := newTestCamera(t, testCameraConfig("cam1"), d)

	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "failed", func() bool { return cam.Status().Lifecycle == LifecycleFailed })

	if got := d.dialCount(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}
	waitFor(t, "failed notification", func() bool { return sink.count(KindFailed) == 1 })
	if sink.count(KindConnectionLost) != 0 {
		t.Error("never-connected camera should not report connection_lost")
	}

	if err := cam.Start(context.Background()); !errors.Is(err, ErrRestartRequired) {
		t.Fatalf("Start while failed returns %v, want ErrRestartRequired", err)
	}
	if err := cam.Connect(context.Background()); !errors.Is(err, ErrRestartRequired) {
		t.Fatalf("Connect while failed returns %v, want ErrRestartRequired", err)
	}

	d.setErr(nil)
	if err := cam.Restart(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "running after restart", func() bool { return cam.Status().Lifecycle == LifecycleRunning })
	if s := cam.Status(); s.Stream.ConsecutiveErrors != 0 {
		t.Errorf("consecutive errors after restart = %d", s.Stream.ConsecutiveErrors)
	}
}

func TestCameraConnectionLost(t *testing.T) {
	d := newFakeDialer()
	d.endAfter = 5
	cam, sink := newTestCamera(t, testCameraConfig("cam1"), d)

	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "connection lost", func() bool { return sink.count(KindConnectionLost) == 1 })
	waitFor(t, "reconnect", func() bool {
		s := cam.Status()
		return s.Stream.Reconnects >= 1 && s.Lifecycle == LifecycleRunning
	})

	// cooldown collapses the repeated losses and reconnects
	if got := sink.count(KindConnected); got != 1 {
		t.Errorf("connected notifications = %d, want 1", got)
	}
}

func TestCameraStatusStatesAgree(t *testing.T) {
	want := map[Lifecycle]stream.State{
		LifecycleIdle:         stream.StateDisconnected,
		LifecycleConnecting:   stream.StateConnecting,
		LifecycleRunning:      stream.StateConnected,
		LifecycleReconnecting: stream.StateReconnecting,
		LifecycleFailed:       stream.StateFailed,
		LifecycleStopped:      stream.StateDisconnected,
	}

	d := newFakeDialer()
	d.endAfter = 2
	cam, _ := newTestCamera(t, testCameraConfig("cam1"), d)
	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	polls := 0
	for time.Now().Before(deadline) {
		s := cam.Status()
		polls++
		if s.Connection != want[s.Lifecycle] {
			t.Fatalf("poll %d: lifecycle %s paired with connection %s", polls, s.Lifecycle, s.Connection)
		}
		if s.Stream.State != s.Connection {
			t.Fatalf("poll %d: stream state %s differs from connection %s", polls, s.Stream.State, s.Connection)
		}
	}
	if d.dialCount() < 2 {
		t.Errorf("dials = %d, want the camera to cycle through reconnects", d.dialCount())
	}

	cam.Stop()
	if s := cam.Status(); s.Lifecycle != LifecycleStopped || s.Connection != stream.StateDisconnected {
		t.Errorf("after Stop: lifecycle %s, connection %s", s.Lifecycle, s.Connection)
	}
}

func TestCameraConnect(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		cam, _ := newTestCamera(t, testCameraConfig("cam1"), newFakeDialer())
		if err := cam.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if got := cam.Status().Lifecycle; got != LifecycleRunning {
			t.Errorf("lifecycle = %s, want running", got)
		}
	})

	t.Run("auth failure", func(t *testing.T) {
		d := newFakeDialer()
		d.setErr(media.NewConnectError(media.KindAuth, "rtsp://cam1.local/stream", errors.New("401")))
		cam, _ := newTestCamera(t, testCameraConfig("cam1"), d)

		err := cam.Connect(context.Background())
		if !errors.Is(err, media.ErrAuth) {
			t.Fatalf("Connect error = %v, want ErrAuth", err)
		}
		if got := cam.Status().Lifecycle; got != LifecycleIdle {
			t.Errorf("lifecycle = %s, want idle", got)
		}
	})
}

func TestCameraRecoversFromAnalysisPanic(t *testing.T) {
	d := newFakeDialer()
	cam, _ := newTestCamera(t, testCameraConfig("cam1"), d)

	var calls atomic.Int32
	cam.beforeAnalyze = func(*frames.Frame) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}

	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "analysis after panic", func() bool { return cam.Status().Analysis.FramesAnalyzed >= 3 })

	s := cam.Status()
	if s.Analysis.Panics != 1 {
		t.Errorf("panics = %d, want 1", s.Analysis.Panics)
	}
	if s.Lifecycle != LifecycleRunning {
		t.Errorf("lifecycle = %s, want running", s.Lifecycle)
	}
}

func TestCameraCurrentFrame(t *testing.T) {
	cam, _ := newTestCamera(t, testCameraConfig("cam1"), newFakeDialer())

	if _, ok := cam.CurrentFrame(); ok {
		t.Fatal("expected no frame before start")
	}
	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frame", func() bool {
		f, ok := cam.CurrentFrame()
		return ok && f.Width == testWidth && f.Height == testHeight
	})
}

func TestCameraConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CameraConfig)
		wantErr bool
	}{
		{"valid", func(*CameraConfig) {}, false},
		{"bad id", func(c *CameraConfig) { c.ID = "bad id" }, true},
		{"missing url", func(c *CameraConfig) { c.Stream.URL = "" }, true},
		{"quality floor", func(c *CameraConfig) { c.QualityFloor = 1.5 }, true},
		{"no queue", func(c *CameraConfig) { c.AnalysisQueue = 0 }, true},
		{"stream", func(c *CameraConfig) { c.Stream.BufferCapacity = 0 }, true},
		{"diagnostics", func(c *CameraConfig) { c.Diagnostics.FreezeDebounceFrames = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testCameraConfig("cam1")
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
