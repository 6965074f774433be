package goMFA

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples the authentication hot path from the audit sink.
// Events are handed off through a bounded channel; when the sink cannot keep
// up and DropIfFull is set, events are counted per MFA method and discarded
// so a slow sink can never delay a login decision.
type auditDispatcher struct {
	cfg       AuditConfig
	sink      AuditSink
	ch        chan AuditEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	dropMu       sync.Mutex
	dropByMethod map[string]uint64
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		cfg:          cfg,
		sink:         sink,
		ch:           make(chan AuditEvent, cfg.BufferSize),
		done:         make(chan struct{}),
		dropByMethod: make(map[string]uint64),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			d.drain()
			return
		}
	}
}

// drain flushes everything still buffered at shutdown so the last events of
// a login flow are not lost to a racing Close.
func (d *auditDispatcher) drain() {
	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit hands an event to the dispatch goroutine. With DropIfFull the call
// never blocks; otherwise it waits until the buffer accepts the event, the
// caller's context is cancelled, or the dispatcher closes. Recording never
// fails the authentication decision either way.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.recordDrop(event.Method)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

func (d *auditDispatcher) recordDrop(method string) {
	d.dropped.Add(1)
	d.dropMu.Lock()
	d.dropByMethod[method]++
	d.dropMu.Unlock()
}

// Close stops the dispatcher after draining the buffer. Safe to call more
// than once; Emit calls racing Close are discarded silently.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the buffer was full.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByMethod returns a copy of the per-method drop counters, keyed by
// the Method string of the dropped events (empty for lifecycle events that
// carry no factor).
func (d *auditDispatcher) DroppedByMethod() map[string]uint64 {
	if d == nil {
		return nil
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()

	out := make(map[string]uint64, len(d.dropByMethod))
	for method, count := range d.dropByMethod {
		out[method] = count
	}
	return out
}
