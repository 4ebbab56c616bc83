package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/securelog/entries-api/internal/metrics"
)

// DefaultBuffer is the dispatcher queue size used when none is configured.
const DefaultBuffer = 1024

// Sink receives events from the dispatcher loop.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Dispatcher queues events on a bounded channel and delivers them from a
// single goroutine. Emit never blocks: when the queue is full the event is
// dropped and counted.
type Dispatcher struct {
	queue  chan Event
	sinks  []Sink
	source string

	mu      sync.Mutex
	dropped int
}

// NewDispatcher creates a dispatcher with the given queue size. source is
// stamped on every event that does not already carry one.
func NewDispatcher(size int, source string, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &Dispatcher{
		queue:  make(chan Event, size),
		sinks:  sinks,
		source: source,
	}
}

// Emit enqueues ev without blocking.
func (d *Dispatcher) Emit(ev Event) {
	if ev.Source == "" {
		ev.Source = d.source
	}
	select {
	case d.queue <- ev:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		metrics.AuditEvents.WithLabelValues("dropped").Inc()
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Run delivers queued events until ctx is cancelled, then flushes whatever
// is still queued with a background context and returns.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.flush()
			log.Println("[audit] dispatcher stopped")
			return
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(context.Background(), ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, ev); err != nil {
			log.Printf("[audit] deliver %s event for %s: %v", ev.Kind, ev.ClientID, err)
			metrics.AuditEvents.WithLabelValues("failed").Inc()
			continue
		}
		metrics.AuditEvents.WithLabelValues("published").Inc()
	}
}

// Publisher is the subset of the NATS client used by NATSSink.
type Publisher interface {
	PublishAbuseEvent(kind string, data []byte) error
}

// NATSSink publishes events as JSON through a Publisher.
type NATSSink struct {
	pub Publisher
}

// NewNATSSink creates a sink publishing through pub.
func NewNATSSink(pub Publisher) *NATSSink {
	return &NATSSink{pub: pub}
}

// Deliver marshals ev and publishes it under its kind.
func (s *NATSSink) Deliver(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	if err := s.pub.PublishAbuseEvent(string(ev.Kind), data); err != nil {
		return fmt.Errorf("audit: publish: %w", err)
	}
	return nil
}

// LogSink writes one log line per event.
var LogSink = SinkFunc(func(_ context.Context, ev Event) error {
	if ev.BlockedUntil != nil {
		log.Printf("[audit] %s client=%s reason=%q until=%s", ev.Kind, ev.ClientID, ev.Reason, ev.BlockedUntil.Format("2006-01-02T15:04:05.000Z07:00"))
		return nil
	}
	log.Printf("[audit] %s client=%s", ev.Kind, ev.ClientID)
	return nil
})

// Decode parses an event published by NATSSink.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("audit: decode event: %w", err)
	}
	if !ev.Kind.Valid() {
		return Event{}, fmt.Errorf("audit: unknown event kind %q", ev.Kind)
	}
	return ev, nil
}
