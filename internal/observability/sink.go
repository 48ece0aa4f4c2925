package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Entry is one log record captured for persistent storage.
type Entry struct {
	Time      time.Time
	Level     string
	Message   string
	Component string
	Fields    string // remaining attributes as a JSON object
}

// StoreFunc persists a batch of captured entries. Implementations must not
// log through a sink-wrapped logger or they will feed themselves.
type StoreFunc func(entries []Entry)

const (
	sinkBufferSize    = 512
	sinkBatchSize     = 64
	sinkFlushInterval = time.Second
)

// SinkHandler is a slog.Handler that forwards records to a wrapped handler
// and tees records at or above a minimum level into a persistent store.
// Persistence is asynchronous; when the buffer is full records are dropped
// rather than blocking the caller.
type SinkHandler struct {
	next  slog.Handler
	min   slog.Level
	attrs []slog.Attr
	ch    chan Entry
	done  chan struct{}
	once  *sync.Once
}

// NewSinkHandler wraps next with persistent capture. Call Close to flush
// buffered entries before shutdown.
func NewSinkHandler(next slog.Handler, min slog.Level, store StoreFunc) *SinkHandler {
	h := &SinkHandler{
		next: next,
		min:  min,
		ch:   make(chan Entry, sinkBufferSize),
		done: make(chan struct{}),
		once: &sync.Once{},
	}
	go h.run(store)
	return h
}

// Enabled implements slog.Handler.
func (h *SinkHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SinkHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.next.Handle(ctx, r)

	if r.Level >= h.min {
		entry := Entry{
			Time:    r.Time,
			Level:   r.Level.String(),
			Message: r.Message,
		}
		fields := make(map[string]any, r.NumAttrs()+len(h.attrs))
		for _, a := range h.attrs {
			h.collect(fields, &entry, a)
		}
		r.Attrs(func(a slog.Attr) bool {
			h.collect(fields, &entry, a)
			return true
		})
		if len(fields) > 0 {
			if b, jsonErr := json.Marshal(fields); jsonErr == nil {
				entry.Fields = string(b)
			}
		}

		select {
		case h.ch <- entry:
		default:
			// Buffer full; drop instead of stalling the hot path.
		}
	}

	return err
}

func (h *SinkHandler) collect(fields map[string]any, entry *Entry, a slog.Attr) {
	if a.Key == "component" {
		entry.Component = a.Value.String()
		return
	}
	fields[a.Key] = a.Value.Any()
}

// WithAttrs implements slog.Handler.
func (h *SinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &SinkHandler{
		next:  h.next.WithAttrs(attrs),
		min:   h.min,
		attrs: merged,
		ch:    h.ch,
		done:  h.done,
		once:  h.once,
	}
}

// WithGroup implements slog.Handler. Grouped attributes are persisted
// without the group prefix; the wrapped handler keeps full fidelity.
func (h *SinkHandler) WithGroup(name string) slog.Handler {
	return &SinkHandler{
		next:  h.next.WithGroup(name),
		min:   h.min,
		attrs: h.attrs,
		ch:    h.ch,
		done:  h.done,
		once:  h.once,
	}
}

// Close stops the background writer after flushing buffered entries.
// Safe to call from any handler derived via WithAttrs or WithGroup.
func (h *SinkHandler) Close() {
	h.once.Do(func() { close(h.done) })
}

func (h *SinkHandler) run(store StoreFunc) {
	ticker := time.NewTicker(sinkFlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, sinkBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		store(batch)
		batch = make([]Entry, 0, sinkBatchSize)
	}

	for {
		select {
		case e := <-h.ch:
			batch = append(batch, e)
			if len(batch) >= sinkBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-h.done:
			for {
				select {
				case e := <-h.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}
