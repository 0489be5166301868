package notifications

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"fieldservice-server/models"
)

// Sink delivers notification events to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev models.NotificationEvent) error
}

// drainTimeout bounds delivery of events still queued at shutdown.
const drainTimeout = 5 * time.Second

// Dispatcher is the outbound notification queue. Services enqueue events
// without blocking; Run drains the queue into every sink.
type Dispatcher struct {
	queue   chan models.NotificationEvent
	sinks   []Sink
	dropped atomic.Int64
}

// NewDispatcher creates a Dispatcher with a queue of size events.
func NewDispatcher(size int, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	return &Dispatcher{
		queue: make(chan models.NotificationEvent, size),
		sinks: sinks,
	}
}

// Enqueue queues ev for delivery. A full queue drops the event.
func (d *Dispatcher) Enqueue(ev models.NotificationEvent) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		log.Printf("⚠️ Notification queue full, dropping %s for user %s", ev.Type, ev.UserID)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers queued events until ctx is cancelled, then flushes whatever
// is still queued.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Printf("🚀 Notification dispatcher started with %d sink(s)", len(d.sinks))
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		case <-ctx.Done():
			d.flush()
			log.Println("🛑 Notification dispatcher stopped")
			return
		}
	}
}

func (d *Dispatcher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev models.NotificationEvent) {
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, ev); err != nil {
			log.WithFields(log.Fields{
				"sink":    sink.Name(),
				"type":    ev.Type,
				"user_id": ev.UserID,
			}).Warnf("❌ Notification delivery failed: %v", err)
		}
	}
}
