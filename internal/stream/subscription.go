package stream

import (
	"sync"
	"sync/atomic"
)

// Subscription is a bounded, non-blocking stream of values. A consumer that
// falls behind loses values; the loss is counted in Dropped.
type Subscription[T any] struct {
	ch      chan T
	dropped atomic.Uint64
	hub     *fanout[T]
	once    sync.Once
}

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped returns how many values were discarded because the channel was full.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes the channel. Safe to call repeatedly.
func (s *Subscription[T]) Close() {
	s.hub.remove(s)
}

// fanout delivers values to a set of subscriptions.
type fanout[T any] struct {
	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func newFanout[T any]() *fanout[T] {
	return &fanout[T]{subs: make(map[*Subscription[T]]struct{})}
}

func (f *fanout[T]) subscribe(size int) *Subscription[T] {
	if size < 1 {
		size = 1
	}
	s := &Subscription[T]{ch: make(chan T, size), hub: f}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	f.subs[s] = struct{}{}
	return s
}

// publish sends v to every subscriber without blocking and returns the
// number of subscribers that dropped it.
func (f *fanout[T]) publish(v T) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	dropped := 0
	for s := range f.subs {
		select {
		case s.ch <- v:
		default:
			s.dropped.Add(1)
			dropped++
		}
	}
	return dropped
}

func (f *fanout[T]) remove(s *Subscription[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, s)
	s.once.Do(func() { close(s.ch) })
}

// closeAll ends every subscription. Later subscribes get a closed channel.
func (f *fanout[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		s.once.Do(func() { close(s.ch) })
	}
	clear(f.subs)
	f.closed = true
}

// reopen accepts new subscriptions again after closeAll.
func (f *fanout[T]) reopen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = false
}
