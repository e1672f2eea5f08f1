package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/symbiont/internal/store"
)

// EventType defines the kind of registry event.
type EventType string

const (
	EventAdd    EventType = "add"
	EventStatus EventType = "status"
	EventDelete EventType = "delete"
)

// Event represents a registry change exported to external systems.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	From       string       `json:"from,omitempty"`
	Record     store.Record `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// FromChange converts a committed registry change.
func FromChange(c store.Change) Event {
	e := Event{Type: EventType(c.Kind), OccurredAt: c.At, Record: c.Record}
	if c.Kind != store.ChangeAdd {
		e.From = c.From.String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return e
}

// Recorder fans registry changes out to sinks. Sink failures are logged and
// never block the registry.
type Recorder struct {
	log   *slog.Logger
	mu    sync.RWMutex
	sinks []Sink
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Recorder{log: log, sinks: append([]Sink(nil), sinks...)}
}

// Add appends a sink.
func (r *Recorder) Add(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Len is the number of sinks.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Record sends e to every sink.
func (r *Recorder) Record(ctx context.Context, e Event) {
	r.mu.RLock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			r.log.Warn("history sink failed", "sink", fmt.Sprintf("%T", s), "event", string(e.Type), "pid", e.Record.PID, "error", err)
		}
	}
}

// Hook adapts the recorder to store.Store.OnChange.
func (r *Recorder) Hook() store.Hook {
	return func(ctx context.Context, c store.Change) {
		r.Record(context.WithoutCancel(ctx), FromChange(c))
	}
}

// Close closes every sink that holds resources.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	r.sinks = nil
	return errors.Join(errs...)
}
