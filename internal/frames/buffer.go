package frames

import "sync"

// Buffer is a thread-safe holder of the most recent frames bounded by a
// byte budget. When a push would exceed the budget the oldest frames are
// evicted first.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	frames   []*Frame // oldest first
	size     int
	evicted  uint64
}

// NewBuffer creates a buffer holding at most capacityBytes of frame payload.
func NewBuffer(capacityBytes int) *Buffer {
	return &Buffer{capacity: capacityBytes}
}

// Push stores f, evicting the oldest frames until it fits. It returns the
// number of frames evicted. A frame larger than the whole capacity is not
// stored; in that case stored is false and the buffer is left untouched.
func (b *Buffer) Push(f *Frame) (evicted int, stored bool) {
	if f == nil {
		return 0, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if f.Size() > b.capacity {
		return 0, false
	}

	n := 0
	for b.size+f.Size() > b.capacity && n < len(b.frames) {
		b.size -= b.frames[n].Size()
		n++
	}
	if n > 0 {
		remaining := copy(b.frames, b.frames[n:])
		clear(b.frames[remaining:])
		b.frames = b.frames[:remaining]
		b.evicted += uint64(n)
	}

	b.frames = append(b.frames, f)
	b.size += f.Size()
	return n, true
}

// Latest returns the most recently pushed frame.
func (b *Buffer) Latest() (*Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.frames) == 0 {
		return nil, false
	}
	return b.frames[len(b.frames)-1], true
}

// Frames returns the buffered frames, oldest first.
func (b *Buffer) Frames() []*Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Frame, len(b.frames))
	copy(out, b.frames)
	return out
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.frames)
}

// Bytes returns the total payload size of buffered frames.
func (b *Buffer) Bytes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the configured byte budget.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Evicted returns the number of frames dropped to make room since creation.
func (b *Buffer) Evicted() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.evicted
}

// Clear drops all frames and releases the backing storage.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.size = 0
}
