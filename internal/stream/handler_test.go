package stream

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camwatch/internal/media"
)

func TestFailureSequenceEndsInFailed(t *testing.T) {
	authErr := media.NewConnectError(media.KindAuth, "rtsp://cam.test/stream", errors.New("401 Unauthorized"))
	dialer := &fakeDialer{results: []dialResult{{err: authErr}}}
	rec := &transitionRecorder{}

	var mu sync.Mutex
	var delays []time.Duration
	h := NewHandler("front", testConfig(), dialer,
		WithLogger(testLogger()),
		WithOnStateChange(rec.add),
		WithRandom(func() float64 { return 0.999 }),
		WithSleep(func(_ context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return nil
		}),
	)
	defer h.Stop()

	h.Start(context.Background())
	waitFor(t, time.Second, func() bool { return h.State() == StateFailed })

	// stays failed, no further attempts
	time.Sleep(50 * time.Millisecond)
	if got := dialer.callCount(); got != 5 {
		t.Errorf("dial attempts = %d, want 5", got)
	}

	want := []State{StateConnecting, StateReconnecting, StateReconnecting, StateReconnecting, StateReconnecting, StateFailed}
	if got := rec.states(); !slices.Equal(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}

	for i, tr := range rec.all() {
		if tr.Attempt > 5 {
			t.Errorf("transition %d attempt %d exceeds max", i, tr.Attempt)
		}
		if i > 0 && !errors.Is(tr.Err, media.ErrAuth) {
			t.Errorf("transition %d err = %v, want auth failure", i, tr.Err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delays) != 4 {
		t.Fatalf("expected 4 backoff waits, got %v", delays)
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Errorf("backoff not strictly increasing: %v", delays)
		}
	}

	if s := h.Stats(); s.ConsecutiveErrors != 5 || s.Reconnects != 4 {
		t.Errorf("stats consecutive=%d reconnects=%d, want 5 and 4", s.ConsecutiveErrors, s.Reconnects)
	}
}

func TestFailedIsStickyUntilRestart(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 2
	dialer := &fakeDialer{results: []dialResult{{err: errors.New("connection refused")}}}
	h := NewHandler("front", cfg, dialer, WithLogger(testLogger()), WithSleep(func(context.Context, time.Duration) error { return nil }))
	defer h.Stop()

	h.Start(context.Background())
	waitFor(t, time.Second, func() bool { return h.State() == StateFailed })

	if err := h.Connect(context.Background(), "", 0); !errors.Is(err, ErrFailed) {
		t.Errorf("Connect in failed state = %v, want ErrFailed", err)
	}
	h.Start(context.Background())
	h.Stop()
	if h.State() != StateFailed {
		t.Errorf("state after Stop = %s, want failed", h.State())
	}
	if dialer.callCount() != 2 {
		t.Errorf("dial attempts = %d, want 2", dialer.callCount())
	}

	dialer.setResults(dialResult{})
	h.Restart(context.Background())
	waitFor(t, time.Second, func() bool { return h.State() == StateConnected })

	if s := h.Stats(); s.ConsecutiveErrors != 0 || s.Reconnects != 0 {
		t.Errorf("stats not reset by restart: %+v", s)
	}
}

func TestConnectClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"timeout", context.DeadlineExceeded, media.ErrConnectTimeout},
		{"auth", errors.New("wrong user/pass"), media.ErrAuth},
		{"unreachable", errors.New("dial tcp: no route to host"), media.ErrUnreachableHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &fakeDialer{results: []dialResult{{err: tt.err}}}
			h := NewHandler("front", testConfig(), dialer, WithLogger(testLogger()))
			defer h.Stop()

			err := h.Connect(context.Background(), "rtsp://cam.test/stream", time.Second)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Connect() = %v, want %v", err, tt.want)
			}
			var ce *media.ConnectError
			if !errors.As(err, &ce) {
				t.Fatal("expected *media.ConnectError")
			}
			if h.State() != StateDisconnected {
				t.Errorf("state = %s, want disconnected", h.State())
			}
			if h.Stats().ConsecutiveErrors != 1 {
				t.Errorf("consecutive errors = %d, want 1", h.Stats().ConsecutiveErrors)
			}
		})
	}
}

func TestConnectStartsNewEpoch(t *testing.T) {
	s1, s2 := newFakeSession(), newFakeSession()
	dialer := &fakeDialer{results: []dialResult{{sess: s1}, {sess: s2}}}
	h := NewHandler("front", testConfig(), dialer, WithLogger(testLogger()))
	defer h.Stop()
	ctx := context.Background()

	if err := h.Connect(ctx, "", 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	s1.frames <- testImage(1)
	s1.frames <- testImage(2)
	h.readOnce(ctx, FeedMonitoring)
	h.readOnce(ctx, FeedMonitoring)

	f, ok := h.CurrentFrame()
	if !ok || f.Seq != 2 || f.Epoch != 1 {
		t.Fatalf("current frame = %+v, want seq 2 epoch 1", f)
	}

	if err := h.Connect(ctx, "", 0); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if !s1.isClosed() {
		t.Error("previous session not closed")
	}
	if _, ok := h.CurrentFrame(); ok {
		t.Error("buffer should be cleared on reconnect")
	}

	s2.frames <- testImage(3)
	h.readOnce(ctx, FeedMonitoring)
	f, ok = h.CurrentFrame()
	if !ok || f.Seq != 1 || f.Epoch != 2 {
		t.Fatalf("current frame = %+v, want seq 1 epoch 2", f)
	}
}

func TestCaptureLossReconnects(t *testing.T) {
	s1, s2 := newFakeSession(), newFakeSession()
	dialer := &fakeDialer{results: []dialResult{{sess: s1}, {sess: s2}}}
	rec := &transitionRecorder{}
	h := NewHandler("front", testConfig(), dialer,
		WithLogger(testLogger()),
		WithOnStateChange(rec.add),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	defer h.Stop()

	sub := h.SubscribeFrames(FeedMonitoring, 8)
	h.Start(context.Background())
	h.StartMonitoring(200)

	s1.frames <- testImage(1)
	select {
	case f := <-sub.C():
		if f.Epoch != 1 || f.Seq != 1 {
			t.Errorf("frame = seq %d epoch %d", f.Seq, f.Epoch)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame from first session")
	}

	s1.errs <- media.ErrStreamEnded
	waitFor(t, time.Second, func() bool { return h.Stats().Epoch == 2 && h.State() == StateConnected })

	s2.frames <- testImage(2)
	select {
	case f := <-sub.C():
		if f.Epoch != 2 || f.Seq != 1 {
			t.Errorf("frame after reconnect = seq %d epoch %d, want seq 1 epoch 2", f.Seq, f.Epoch)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame from second session")
	}

	want := []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}
	if got := rec.states(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if !s1.isClosed() {
		t.Error("lost session not closed")
	}
	if h.Stats().Reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", h.Stats().Reconnects)
	}
}

func TestStallCountsAsLoss(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = 30 * time.Millisecond
	dialer := &fakeDialer{results: []dialResult{{}}}
	rec := &transitionRecorder{}
	h := NewHandler("front", cfg, dialer,
		WithLogger(testLogger()),
		WithOnStateChange(rec.add),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	defer h.Stop()

	errs := h.SubscribeErrors(8)
	h.Start(context.Background())
	h.StartMonitoring(100)

	select {
	case ev := <-errs.C():
		if ev.Kind != ErrorCapture || !errors.Is(ev.Err, media.ErrReadTimeout) {
			t.Errorf("error event = %+v, want capture read timeout", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("stall not detected")
	}

	waitFor(t, time.Second, func() bool { return dialer.callCount() >= 2 })
}

func TestDecodeErrorSkipsFrame(t *testing.T) {
	s := newFakeSession()
	dialer := &fakeDialer{results: []dialResult{{sess: s}}}
	h := NewHandler("front", testConfig(), dialer, WithLogger(testLogger()))
	defer h.Stop()
	ctx := context.Background()

	if err := h.Connect(ctx, "", 0); err != nil {
		t.Fatal(err)
	}
	s.errs <- &media.DecodeError{Count: 1}
	h.readOnce(ctx, FeedMonitoring)
	s.frames <- testImage(5)
	h.readOnce(ctx, FeedMonitoring)

	st := h.Stats()
	if st.DecodeErrors != 1 || st.FramesDropped != 1 || st.FramesReceived != 1 {
		t.Errorf("stats = %+v", st)
	}
	if h.State() != StateConnected {
		t.Errorf("decode error changed state to %s", h.State())
	}
	if st.ErrorRate <= 0 || st.ErrorRate >= 1 {
		t.Errorf("error rate = %v, want in (0,1)", st.ErrorRate)
	}
}

func TestSlowSubscriberDoesNotStallCapture(t *testing.T) {
	s := newFakeSession()
	dialer := &fakeDialer{results: []dialResult{{sess: s}}}
	h := NewHandler("front", testConfig(), dialer, WithLogger(testLogger()))
	defer h.Stop()
	ctx := context.Background()

	sub := h.SubscribeFrames(FeedVideo, 1)
	if err := h.Connect(ctx, "", 0); err != nil {
		t.Fatal(err)
	}
	for i := range 5 {
		s.frames <- testImage(byte(i))
		h.readOnce(ctx, FeedVideo)
	}

	if sub.Dropped() != 4 {
		t.Errorf("subscription dropped %d, want 4", sub.Dropped())
	}
	if st := h.Stats(); st.FramesReceived != 5 || st.SubscriberDrops != 4 {
		t.Errorf("stats = %+v", st)
	}
}

func TestBufferEvictionsCounted(t *testing.T) {
	cfg := testConfig()
	cfg.BufferCapacity = 32 // two 16-byte frames
	s := newFakeSession()
	dialer := &fakeDialer{results: []dialResult{{sess: s}}}
	h := NewHandler("front", cfg, dialer, WithLogger(testLogger()))
	defer h.Stop()
	ctx := context.Background()

	if err := h.Connect(ctx, "", 0); err != nil {
		t.Fatal(err)
	}
	for i := range 5 {
		s.frames <- testImage(byte(i))
		h.readOnce(ctx, FeedMonitoring)
	}

	st := h.Stats()
	if st.BufferEvictions != 3 || st.FramesDropped != 3 {
		t.Errorf("evictions=%d dropped=%d, want 3 and 3", st.BufferEvictions, st.FramesDropped)
	}
	if st.BufferedBytes > cfg.BufferCapacity {
		t.Errorf("buffer holds %d bytes over capacity %d", st.BufferedBytes, cfg.BufferCapacity)
	}
}

func TestCurrentFrameGracePeriod(t *testing.T) {
	cfg := testConfig()
	cfg.FrameMaxAge = 100 * time.Millisecond
	s := newFakeSession()
	dialer := &fakeDialer{results: []dialResult{{sess: s}}}
	h := NewHandler("front", cfg, dialer, WithLogger(testLogger()))
	defer h.Stop()
	ctx := context.Background()

	if _, ok := h.CurrentFrame(); ok {
		t.Fatal("no frame expected before connecting")
	}
	if err := h.Connect(ctx, "", 0); err != nil {
		t.Fatal(err)
	}

	old := testImage(1)
	old.Timestamp = time.Now().Add(-time.Second)
	s.frames <- old
	h.readOnce(ctx, FeedMonitoring)
	if _, ok := h.CurrentFrame(); ok {
		t.Error("stale frame should not be current")
	}

	s.frames <- testImage(2)
	h.readOnce(ctx, FeedMonitoring)
	if f, ok := h.CurrentFrame(); !ok || f.Pix[0] != 2 {
		t.Error("fresh frame should be current")
	}
}

func TestStopIsIdempotentAndReleases(t *testing.T) {
	s := newFakeSession()
	dialer := &fakeDialer{results: []dialResult{{sess: s}}}
	h := NewHandler("front", testConfig(), dialer, WithLogger(testLogger()))

	sub := h.SubscribeFrames(FeedMonitoring, 4)
	h.Start(context.Background())
	h.StartMonitoring(200)
	h.StartVideoStream(200)
	waitFor(t, time.Second, func() bool { return h.State() == StateConnected })

	s.frames <- testImage(1)
	waitFor(t, time.Second, func() bool { return h.Stats().FramesReceived == 1 })

	h.Stop()
	h.Stop()

	if !s.isClosed() {
		t.Error("session not closed by Stop")
	}
	if h.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", h.State())
	}
	if h.Buffer().Len() != 0 {
		t.Error("buffer not released")
	}
	for range sub.C() {
		// drain until closed
	}
}

func TestStartContextCancelStopsGoroutines(t *testing.T) {
	dialer := &fakeDialer{results: []dialResult{{err: errors.New("connection refused")}}}
	h := NewHandler("front", testConfig(), dialer, WithLogger(testLogger()))
	defer h.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	waitFor(t, time.Second, func() bool { return dialer.callCount() >= 1 })
	cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not exit after context cancel")
	}
}
