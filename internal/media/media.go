// Package media connects to camera streams and yields decoded luma images.
//
// Dialer and Session are the seam between the stream handler and the outside
// world. The production Dialer probes the RTSP endpoint with the go2rtc client
// and decodes with an ffmpeg subprocess; tests substitute scripted fakes.
package media

import (
	"context"
	"time"
)

// Image is one decoded 8-bit luma picture.
type Image struct {
	Width     int
	Height    int
	Pix       []byte
	Timestamp time.Time
}

// Session is an open stream. ReadFrame blocks until the next undelivered
// picture is available, the context ends, or the stream fails. Each decoded
// picture is returned at most once.
type Session interface {
	ReadFrame(ctx context.Context) (Image, error)
	Close() error
}

// Dialer opens sessions. Dial failures are *ConnectError.
type Dialer interface {
	Dial(ctx context.Context, url string, timeout time.Duration) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string, timeout time.Duration) (Session, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string, timeout time.Duration) (Session, error) {
	return f(ctx, url, timeout)
}
