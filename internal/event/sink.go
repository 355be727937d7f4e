package event

import (
	"context"
	"log/slog"
	"sync"
)

// Sink receives events after an operation succeeds. Sinks are observational:
// they cannot fail an operation.
type Sink interface {
	Notify(ctx context.Context, ev Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Notify(context.Context, Event) {}

// LogSink writes events to a structured logger at info level.
type LogSink struct {
	Logger *slog.Logger
}

// Notify logs the event with its fields flattened into attributes.
func (s LogSink) Notify(ctx context.Context, ev Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"id", ev.ID,
		"seq", ev.Seq,
		"token", ev.Token,
		"time", ev.Time,
		"treasury", ev.Treasury,
	}
	if ev.Stream != "" {
		attrs = append(attrs, "stream", ev.Stream)
	}
	if len(ev.Fields) > 0 {
		group := make([]any, 0, 2*len(ev.Fields))
		for k, v := range ev.Fields {
			group = append(group, k, v)
		}
		attrs = append(attrs, slog.Group("fields", group...))
	}
	logger.InfoContext(ctx, string(ev.Kind), attrs...)
}

// Recorder keeps every event in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset drops every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Fanout forwards each event to every sink in order.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, ev Event) {
	for _, s := range f {
		s.Notify(ctx, ev)
	}
}
