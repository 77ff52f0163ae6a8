package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultQueueSize = 256
	drainTimeout     = 5 * time.Second
)

// Dispatcher wraps a Sink in a bounded async queue. Emit never blocks the
// caller and never returns a sink failure: events are dropped (and logged)
// when the queue is full, and write errors are logged by the worker. Audit
// completeness is best-effort relative to the primary state transition.
type Dispatcher struct {
	sink   Sink
	queue  chan *Event
	done   chan struct{}
	closed sync.Once
}

// NewDispatcher starts a dispatcher with one worker goroutine draining into sink.
func NewDispatcher(sink Sink) *Dispatcher {
	d := &Dispatcher{
		sink:  sink,
		queue: make(chan *Event, defaultQueueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit enqueues the event for background delivery. The error return exists to
// satisfy Sink; it is always nil.
func (d *Dispatcher) Emit(_ context.Context, ev *Event) error {
	select {
	case d.queue <- ev:
	default:
		log.Warn().
			Str("event_type", ev.EventType).
			Str("tenant_id", ev.TenantID).
			Msg("audit_queue_full_event_dropped")
	}
	return nil
}

// run drains the queue until Close. Delivery uses a fresh context per event
// so a cancelled request context never loses its audit record.
func (d *Dispatcher) run() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.done:
			// Drain whatever is already queued, then stop.
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := d.sink.Emit(ctx, ev); err != nil {
		log.Warn().Err(err).
			Str("event_type", ev.EventType).
			Str("tenant_id", ev.TenantID).
			Msg("audit_emit_failed")
	}
}

// Close stops the worker after draining queued events.
func (d *Dispatcher) Close() {
	d.closed.Do(func() { close(d.done) })
}
