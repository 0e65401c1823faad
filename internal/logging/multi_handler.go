package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// maxSinkFailures is how many writes in a row a sink may fail before the
// MultiHandler stops using it.
const maxSinkFailures = 5

// sinkHealth is shared by a sink and every handler derived from it with
// WithAttrs or WithGroup.
type sinkHealth struct {
	failures atomic.Int32
	muted    atomic.Bool
}

type sink struct {
	handler slog.Handler
	health  *sinkHealth
}

// MultiHandler fans records out to several handlers. A failing handler does
// not keep the others from writing; after maxSinkFailures consecutive
// failures it is muted for the rest of the process, so a vanished journald
// leaves stdout logging intact.
type MultiHandler struct {
	sinks []sink
}

// NewMultiHandler creates a handler that writes to all provided handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	sinks := make([]sink, len(handlers))
	for i, h := range handlers {
		sinks[i] = sink{handler: h, health: &sinkHealth{}}
	}
	return &MultiHandler{sinks: sinks}
}

// Enabled implements slog.Handler.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range m.sinks {
		if !s.health.muted.Load() && s.handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler. It returns the errors of this write only.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range m.sinks {
		if s.health.muted.Load() || !s.handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
			if s.health.failures.Add(1) >= maxSinkFailures && s.health.muted.CompareAndSwap(false, true) {
				fmt.Fprintf(os.Stderr, "logging: disabling %T after %d failed writes: %v\n", s.handler, maxSinkFailures, err)
			}
			continue
		}
		s.health.failures.Store(0)
	}
	return errors.Join(errs...)
}

// WithAttrs implements slog.Handler.
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) derive(fn func(slog.Handler) slog.Handler) *MultiHandler {
	sinks := make([]sink, len(m.sinks))
	for i, s := range m.sinks {
		sinks[i] = sink{handler: fn(s.handler), health: s.health}
	}
	return &MultiHandler{sinks: sinks}
}
