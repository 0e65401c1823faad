package stream

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camwatch/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "rtsp://cam.test/stream"
	cfg.BufferCapacity = 1024
	cfg.MonitoringHz = 200
	cfg.VideoHz = 200
	cfg.ReadTimeout = time.Second
	cfg.FrameMaxAge = 0
	cfg.Backoff = Backoff{Initial: 10 * time.Millisecond, Max: time.Second, Multiplier: 2, Jitter: 0.2}
	return cfg
}

func testImage(v byte) media.Image {
	return media.Image{Width: 4, Height: 4, Pix: bytes.Repeat([]byte{v}, 16), Timestamp: time.Now()}
}

type fakeSession struct {
	frames chan media.Image
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		frames: make(chan media.Image, 16),
		errs:   make(chan error, 4),
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) ReadFrame(ctx context.Context) (media.Image, error) {
	select {
	case img := <-s.frames:
		return img, nil
	case err := <-s.errs:
		return media.Image{}, err
	case <-s.closed:
		return media.Image{}, media.ErrSessionClosed
	case <-ctx.Done():
		return media.Image{}, ctx.Err()
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type dialResult struct {
	sess *fakeSession
	err  error
}

// fakeDialer returns results in order and repeats the last one.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, _ time.Duration) (media.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := min(d.calls, len(d.results)-1)
	d.calls++
	r := d.results[i]
	if r.err != nil {
		return nil, r.err
	}
	if r.sess == nil {
		return newFakeSession(), nil
	}
	return r.sess, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) setResults(results ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = results
}

type transitionRecorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *transitionRecorder) add(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *transitionRecorder) all() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transition, len(r.transitions))
	copy(out, r.transitions)
	return out
}

func (r *transitionRecorder) states() []State {
	var out []State
	for _, t := range r.all() {
		out = append(out, t.To)
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
