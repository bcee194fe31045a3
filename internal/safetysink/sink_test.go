package safetysink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mindshift/protocol-engine/internal/domain"
)

type captureForwarder struct {
	mu     sync.Mutex
	events []domain.SafetyEvent
	err    error
	block  chan struct{}
}

func (f *captureForwarder) Forward(_ context.Context, event domain.SafetyEvent) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *captureForwarder) received() []domain.SafetyEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SafetyEvent, len(f.events))
	copy(out, f.events)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(id string) domain.SafetyEvent {
	return domain.SafetyEvent{
		EventID:   id,
		SessionID: "sess-1",
		UserID:    "user-1",
		Step:      "problem_capture",
		Indicator: "end it",
		Code:      domain.ReasonSafety,
	}
}

func TestSinkForwardsEvents(t *testing.T) {
	fwd := &captureForwarder{}
	sink := New(fwd, discardLogger(), 8)
	sink.Start(context.Background())

	sink.Emit(testEvent("ev-1"))
	sink.Emit(testEvent("ev-2"))
	sink.Close()

	got := fwd.received()
	if len(got) != 2 {
		t.Fatalf("forwarded %d events, want 2", len(got))
	}
	if got[0].EventID != "ev-1" || got[1].EventID != "ev-2" {
		t.Fatalf("events out of order: %v, %v", got[0].EventID, got[1].EventID)
	}
	if got[0].Indicator != "end it" {
		t.Fatalf("indicator = %q", got[0].Indicator)
	}
}

func TestSinkEmitBeforeStartQueues(t *testing.T) {
	fwd := &captureForwarder{}
	sink := New(fwd, discardLogger(), 8)

	sink.Emit(testEvent("early"))
	sink.Start(context.Background())
	sink.Close()

	if got := fwd.received(); len(got) != 1 || got[0].EventID != "early" {
		t.Fatalf("queued event not delivered: %v", got)
	}
}

func TestSinkDropsWhenFull(t *testing.T) {
	fwd := &captureForwarder{block: make(chan struct{})}
	sink := New(fwd, discardLogger(), 2)
	sink.Start(context.Background())

	// One event is in flight inside the blocked forwarder, two fill the
	// buffer, the rest must drop without blocking Emit.
	for i := 0; i < 6; i++ {
		sink.Emit(testEvent(fmt.Sprintf("ev-%d", i)))
	}

	deadline := time.After(time.Second)
	for sink.Dropped() < 3 {
		select {
		case <-deadline:
			t.Fatalf("dropped = %d, want at least 3", sink.Dropped())
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(fwd.block)
	sink.Close()
}

func TestSinkForwardErrorDoesNotStopDelivery(t *testing.T) {
	fwd := &captureForwarder{err: fmt.Errorf("collaborator unreachable")}
	sink := New(fwd, discardLogger(), 8)
	sink.Start(context.Background())

	sink.Emit(testEvent("ev-1"))
	sink.Emit(testEvent("ev-2"))
	sink.Close()

	if got := fwd.received(); len(got) != 2 {
		t.Fatalf("forwarded %d events, want 2 despite errors", len(got))
	}
}

func TestSinkCloseWithoutStart(t *testing.T) {
	sink := New(&captureForwarder{}, discardLogger(), 4)
	sink.Close() // must not hang or panic
}

func TestNilForwarderDefaultsToLog(t *testing.T) {
	sink := New(nil, discardLogger(), 4)
	sink.Start(context.Background())
	sink.Emit(testEvent("ev-1"))
	sink.Close()
}
