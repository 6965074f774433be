package goMFA

import (
	"context"
	"sync"
	"testing"
)

// gatedSink blocks inside Emit until released so tests can fill the
// dispatcher buffer deterministically.
type gatedSink struct {
	started chan struct{}
	release chan struct{}
	seen    chan AuditEvent
}

func (s *gatedSink) Emit(_ context.Context, event AuditEvent) {
	s.started <- struct{}{}
	<-s.release
	s.seen <- event
}

type collectSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *collectSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestAuditDispatcherCountsDropsPerMethod(t *testing.T) {
	sink := &gatedSink{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
		seen:    make(chan AuditEvent, 8),
	}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// The worker takes the first event and parks inside the sink.
	d.Emit(context.Background(), AuditEvent{EventType: auditEventMFAFailure, Method: string(MethodTOTP)})
	<-sink.started

	// One slot in the buffer, then everything else is discarded.
	d.Emit(context.Background(), AuditEvent{EventType: auditEventMFAFailure, Method: string(MethodFace)})
	d.Emit(context.Background(), AuditEvent{EventType: auditEventMFAFailure, Method: string(MethodFace)})
	d.Emit(context.Background(), AuditEvent{EventType: auditEventMFAFailure, Method: string(MethodTOTP)})

	if got := d.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped events, got %d", got)
	}
	byMethod := d.DroppedByMethod()
	if byMethod[string(MethodFace)] != 1 || byMethod[string(MethodTOTP)] != 1 {
		t.Fatalf("unexpected per-method drop counts: %v", byMethod)
	}

	close(sink.release)
	d.Close()

	// The parked event and the buffered one both reached the sink.
	if got := len(sink.seen); got != 2 {
		t.Fatalf("expected 2 delivered events, got %d", got)
	}
}

func TestAuditDispatcherDrainsOnClose(t *testing.T) {
	sink := &collectSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16, DropIfFull: true}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventLoginFailure})
	}
	d.Close()

	if got := sink.count(); got != 5 {
		t.Fatalf("expected all 5 events delivered on close, got %d", got)
	}
	if d.Dropped() != 0 {
		t.Fatalf("expected no drops, got %d", d.Dropped())
	}

	// Emit after Close is discarded without counting as a drop.
	d.Emit(context.Background(), AuditEvent{EventType: auditEventLoginFailure})
	if got := sink.count(); got != 5 {
		t.Fatalf("expected post-close emit to be ignored, got %d events", got)
	}
}

func TestAuditDispatcherDisabledReturnsNil(t *testing.T) {
	if d := newAuditDispatcher(AuditConfig{Enabled: false}, &collectSink{}); d != nil {
		t.Fatal("expected nil dispatcher when auditing is disabled")
	}

	// Nil receivers are safe on every method.
	var d *auditDispatcher
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 || d.DroppedByMethod() != nil {
		t.Fatal("expected zero values from nil dispatcher")
	}
}
