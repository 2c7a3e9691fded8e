package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"userdesk/client/internal/telemetry/domain"
)

// chanEmitter implements EventEmitter and forwards events to a channel.
type chanEmitter struct {
	mu      sync.Mutex
	events  chan *domain.Event
	emitErr error
	sawDone bool
}

func newChanEmitter() *chanEmitter {
	return &chanEmitter{events: make(chan *domain.Event, 32)}
}

func (m *chanEmitter) Emit(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	m.sawDone = ctx.Err() != nil
	m.mu.Unlock()
	m.events <- event
	return m.emitErr
}

func (m *chanEmitter) next(t *testing.T) *domain.Event {
	t.Helper()
	select {
	case ev := <-m.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emitted event")
		return nil
	}
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, zap.NewNop(), &domain.Event{Type: domain.EventLogout})
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := newChanEmitter()
	EmitAsync(emitter, nil, nil)

	select {
	case ev := <-emitter.events:
		t.Errorf("expected no event, got %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := newChanEmitter()
	EmitAsync(emitter, nil, &domain.Event{
		Type:      domain.EventChallengeIssued,
		SessionID: "s-1",
		UserID:    42,
		Email:     "a@b.com",
	})

	ev := emitter.next(t)
	if ev.Type != domain.EventChallengeIssued {
		t.Errorf("event type = %q, want %q", ev.Type, domain.EventChallengeIssued)
	}
	if ev.UserID != 42 {
		t.Errorf("event user id = %d, want 42", ev.UserID)
	}
	if ev.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped")
	}
}

func TestEmitAsync_ContextNotDone(t *testing.T) {
	emitter := newChanEmitter()
	EmitAsync(emitter, nil, &domain.Event{Type: domain.EventLogout})
	emitter.next(t)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if emitter.sawDone {
		t.Error("emit context should not be done while emitting")
	}
}

func TestEmitAsync_ErrorHandling(t *testing.T) {
	emitter := newChanEmitter()
	emitter.emitErr = errors.New("collector down")

	// Should not panic on error
	EmitAsync(emitter, zap.NewNop(), &domain.Event{Type: domain.EventCancel})
	emitter.next(t)
}

func TestEmitAsync_MultipleEvents(t *testing.T) {
	emitter := newChanEmitter()
	for i := 0; i < 5; i++ {
		EmitAsync(emitter, nil, &domain.Event{Type: domain.EventGateDenied})
	}
	for i := 0; i < 5; i++ {
		emitter.next(t)
	}
}
