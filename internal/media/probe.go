package media

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/rtsp"
)

// ProbeResult describes what an RTSP endpoint advertised in DESCRIBE.
type ProbeResult struct {
	VideoCodecs []string
	AudioCodecs []string
	Latency     time.Duration
}

// HasVideo reports whether the endpoint offers at least one video track.
func (r *ProbeResult) HasVideo() bool {
	return len(r.VideoCodecs) > 0
}

type probeOutcome struct {
	dialed bool
	err    error
}

// Probe performs RTSP OPTIONS/DESCRIBE against rawURL and returns the
// advertised tracks. Failures are *ConnectError.
func Probe(ctx context.Context, rawURL string, timeout time.Duration) (*ProbeResult, error) {
	conn := rtsp.NewClient(rawURL)
	// go2rtc takes whole seconds
	conn.Timeout = max(1, int(math.Ceil(timeout.Seconds())))

	start := time.Now()
	done := make(chan probeOutcome, 1)
	go func() {
		if err := conn.Dial(); err != nil {
			done <- probeOutcome{err: err}
			return
		}
		done <- probeOutcome{dialed: true, err: conn.Describe()}
	}()

	var outcome probeOutcome
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome = <-done:
	case <-timer.C:
		go closeWhenDone(conn, done)
		return nil, NewConnectError(KindTimeout, rawURL, context.DeadlineExceeded)
	case <-ctx.Done():
		go closeWhenDone(conn, done)
		kind := KindUnreachable
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, NewConnectError(kind, rawURL, ctx.Err())
	}

	if outcome.dialed {
		defer conn.Close()
	}
	if outcome.err != nil {
		return nil, NewConnectError(Classify(outcome.err), rawURL, outcome.err)
	}

	result := &ProbeResult{Latency: time.Since(start)}
	for _, m := range conn.GetMedias() {
		for _, codec := range m.Codecs {
			switch m.Kind {
			case core.KindVideo:
				result.VideoCodecs = append(result.VideoCodecs, codec.Name)
			case core.KindAudio:
				result.AudioCodecs = append(result.AudioCodecs, codec.Name)
			}
		}
	}
	return result, nil
}

// closeWhenDone releases an abandoned probe connection once its handshake
// goroutine returns.
func closeWhenDone(conn *rtsp.Conn, done <-chan probeOutcome) {
	if outcome := <-done; outcome.dialed {
		_ = conn.Close()
	}
}
