package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// asyncState is shared by an AsyncHandler and every handler derived from it
// via WithAttrs/WithGroup.
type asyncState struct {
	ch      chan slog.Record
	wg      sync.WaitGroup
	dropped atomic.Int64
	mu      sync.RWMutex // guards closed and the send on ch
	closed  bool
}

// AsyncHandler wraps an slog.Handler with a buffered channel and worker pool
// so a burst of bus-handler logging never stalls a world mutation step.
// Records that do not fit in the buffer are dropped and counted.
type AsyncHandler struct {
	inner slog.Handler
	state *asyncState
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and worker count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	st := &asyncState{ch: make(chan slog.Record, chanSize)}
	for range workers {
		st.wg.Add(1)
		go st.drain(inner)
	}
	return &AsyncHandler{inner: inner, state: st}
}

// drain writes records through the root handler. Records from derived
// handlers arrive pre-resolved (see Handle) so the root is sufficient.
func (st *asyncState) drain(root slog.Handler) {
	defer st.wg.Done()
	for rec := range st.ch {
		_ = root.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Drops if the channel is full or closed.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	st := h.state
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		st.dropped.Add(1)
		return nil
	}
	if d, ok := h.inner.(*derived); ok {
		// Attributes bound via WithAttrs must survive the hop to the worker.
		rec = rec.Clone()
		rec.AddAttrs(d.attrs...)
	}
	select {
	case st.ch <- rec:
	default:
		st.dropped.Add(1)
	}
	return nil
}

// derived records attrs added after wrapping so they can be attached to each
// record before it is queued.
type derived struct {
	slog.Handler
	attrs []slog.Attr
}

// WithAttrs returns a handler sharing the same queue that adds attrs to every record.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var prev []slog.Attr
	base := h.inner
	if d, ok := h.inner.(*derived); ok {
		prev, base = d.attrs, d.Handler
	}
	merged := append(append([]slog.Attr{}, prev...), attrs...)
	return &AsyncHandler{inner: &derived{Handler: base, attrs: merged}, state: h.state}
}

// WithGroup is not supported across the queue; groups are flattened.
func (h *AsyncHandler) WithGroup(string) slog.Handler {
	return h
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.state.dropped.Load()
}

// Close stops accepting records and waits for the workers to drain.
// Safe to call more than once.
func (h *AsyncHandler) Close() {
	st := h.state
	st.mu.Lock()
	if !st.closed {
		st.closed = true
		close(st.ch)
	}
	st.mu.Unlock()
	st.wg.Wait()
}
