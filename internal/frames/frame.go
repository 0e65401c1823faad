// Package frames holds decoded video frames and the bounded buffer shared by a
// camera's capture loops.
package frames

import (
	"image"
	"time"
)

// Frame is a decoded 8-bit luma image plus capture metadata.
// A Frame is immutable once it has been pushed into a Buffer; readers must
// not modify Pix.
type Frame struct {
	// Seq is strictly increasing within one connection epoch.
	Seq uint64
	// Epoch identifies the connection the frame was captured on. It changes
	// on every successful (re)connect.
	Epoch     uint64
	Timestamp time.Time
	Width     int
	Height    int
	Pix       []byte
}

// Size returns the frame's payload size in bytes.
func (f *Frame) Size() int {
	return len(f.Pix)
}

// Valid reports whether the pixel data matches the declared dimensions.
func (f *Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height
}

// Image returns a read-only image.Gray view over the frame's pixels.
func (f *Frame) Image() *image.Gray {
	return &image.Gray{
		Pix:    f.Pix,
		Stride: f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}
