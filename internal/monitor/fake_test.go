package monitor

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camwatch/internal/logging"
	"github.com/smazurov/camwatch/internal/media"
	"github.com/smazurov/camwatch/internal/stream"
)

const (
	testWidth  = 64
	testHeight = 48
)

func noise(seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	pix := make([]byte, testWidth*testHeight)
	for i := range pix {
		pix[i] = byte(r.IntN(256))
	}
	return pix
}

// picture produces moving or static noise frames.
type picture struct {
	mu     sync.Mutex
	static bool
	seed   uint64
}

func (p *picture) setStatic(static bool) {
	p.mu.Lock()
	p.static = static
	p.mu.Unlock()
}

func (p *picture) next() media.Image {
	p.mu.Lock()
	if !p.static {
		p.seed++
	}
	seed := p.seed
	p.mu.Unlock()
	return media.Image{Width: testWidth, Height: testHeight, Pix: noise(seed), Timestamp: time.Now()}
}

type fakeSession struct {
	pic      *picture
	endAfter int

	mu     sync.Mutex
	reads  int
	closed bool
}

func (s *fakeSession) ReadFrame(ctx context.Context) (media.Image, error) {
	if err := ctx.Err(); err != nil {
		return media.Image{}, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return media.Image{}, media.ErrSessionClosed
	}
	s.reads++
	ended := s.endAfter > 0 && s.reads > s.endAfter
	s.mu.Unlock()

	if ended {
		return media.Image{}, media.ErrStreamEnded
	}
	return s.pic.next(), nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeDialer struct {
	pic *picture

	mu       sync.Mutex
	err      error
	endAfter int
	dials    int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{pic: &picture{}}
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ time.Duration) (media.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return &fakeSession{pic: d.pic, endAfter: d.endAfter}, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testCameraConfig(id string) CameraConfig {
	cfg := DefaultCameraConfig(id, "rtsp://user:secret@"+id+".local/stream")
	cfg.Stream.MonitoringHz = 100
	cfg.Stream.VideoHz = 0
	cfg.Stream.ConnectTimeout = 500 * time.Millisecond
	cfg.Stream.ReadTimeout = 500 * time.Millisecond
	cfg.Stream.FrameMaxAge = 0
	cfg.Stream.MaxConsecutiveFailures = 3
	cfg.Stream.Backoff = stream.Backoff{
		Initial:    5 * time.Millisecond,
		Max:        20 * time.Millisecond,
		Multiplier: 2,
		Jitter:     0.2,
	}
	return cfg
}

func newTestCamera(t *testing.T, cfg CameraConfig, d *fakeDialer, opts ...CameraOption) (*Camera, *notificationSink) {
	t.Helper()
	sink := &notificationSink{}
	opts = append([]CameraOption{
		WithCameraLogger(logging.Discard()),
		WithNotifier(sink.add),
	}, opts...)
	cam := NewCamera(cfg, d, opts...)
	t.Cleanup(cam.Stop)
	return cam, sink
}

type notificationSink struct {
	mu    sync.Mutex
	items []Notification
}

func (s *notificationSink) add(n Notification) {
	s.mu.Lock()
	s.items = append(s.items, n)
	s.mu.Unlock()
}

func (s *notificationSink) count(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if item.Kind == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testMonitor(t *testing.T, dialers map[string]*fakeDialer, opts ...Option) *Monitor {
	t.Helper()
	var mu sync.Mutex
	factory := func(cfg CameraConfig) media.Dialer {
		mu.Lock()
		defer mu.Unlock()
		d, ok := dialers[cfg.ID]
		if !ok {
			d = newFakeDialer()
			dialers[cfg.ID] = d
		}
		return d
	}
	opts = append([]Option{
		WithLogger(logging.Discard()),
		WithDialerFactory(factory),
		WithCameraOptions(WithCameraLogger(logging.Discard())),
	}, opts...)
	m := New(opts...)
	t.Cleanup(m.StopAll)
	return m
}
