// Package safetysink emits structured safety events to an external
// human-escalation collaborator. Emission is exactly-once per qualifying
// turn and never blocks the user-facing response: events queue on a buffered
// channel and are dropped (and counted) if the forwarder cannot keep up.
package safetysink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mindshift/protocol-engine/internal/domain"
)

// Forwarder delivers a safety event to the external collaborator.
type Forwarder interface {
	Forward(ctx context.Context, event domain.SafetyEvent) error
}

// LogForwarder is the default forwarder: it writes the event to the
// structured log, where the surrounding platform's alerting picks it up.
type LogForwarder struct {
	Logger *slog.Logger
}

func (f *LogForwarder) Forward(_ context.Context, event domain.SafetyEvent) error {
	f.Logger.Warn("safety event",
		slog.String("event_id", event.EventID),
		slog.String("session_id", event.SessionID),
		slog.String("user_id", event.UserID),
		slog.String("step", string(event.Step)),
		slog.String("code", string(event.Code)),
	)
	return nil
}

// Sink fans safety events out to a forwarder on a background goroutine.
type Sink struct {
	events  chan domain.SafetyEvent
	fwd     Forwarder
	logger  *slog.Logger
	dropped atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}
}

// New creates a sink with the given buffer size (default 64).
func New(fwd Forwarder, logger *slog.Logger, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 64
	}
	if fwd == nil {
		fwd = &LogForwarder{Logger: logger}
	}
	return &Sink{
		events: make(chan domain.SafetyEvent, buffer),
		fwd:    fwd,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the delivery goroutine. Safe to call once; Emit before
// Start only queues.
func (s *Sink) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go func() {
			defer close(s.done)
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-s.events:
					if !ok {
						return
					}
					if err := s.fwd.Forward(ctx, ev); err != nil {
						s.logger.Error("safety event forward failed",
							slog.String("event_id", ev.EventID),
							slog.String("error", err.Error()))
					}
				}
			}
		}()
	})
}

// Emit queues an event without blocking. A full buffer drops the event and
// increments the drop counter; the turn response is never held up.
func (s *Sink) Emit(event domain.SafetyEvent) {
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
		s.logger.Error("safety event dropped, buffer full",
			slog.String("event_id", event.EventID),
			slog.String("session_id", event.SessionID))
	}
}

// Dropped reports how many events have been dropped since start.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events and drains the queue.
func (s *Sink) Close() {
	s.stopOnce.Do(func() {
		close(s.events)
	})
	if s.started.Load() {
		<-s.done
	}
}
