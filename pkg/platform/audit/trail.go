package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Trail is the emit side of the audit pipeline. Emit never blocks the
// request path: when the buffer is full the event is dropped and counted.
type Trail struct {
	log     *slog.Logger
	inbox   chan Event
	dropped prometheus.Counter
	now     func() time.Time
}

func NewTrail(log *slog.Logger, buffer int, dropped prometheus.Counter) *Trail {
	return &Trail{
		log:     log,
		inbox:   make(chan Event, buffer),
		dropped: dropped,
		now:     time.Now,
	}
}

// Emit stamps and queues an event. Dropping under pressure is preferable to
// stalling a message send on the audit sink.
func (t *Trail) Emit(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = t.now()
	}
	select {
	case t.inbox <- event:
	default:
		t.dropped.Inc()
		t.log.WarnContext(ctx, "audit event dropped", "type", event.Type, "subject", event.Subject)
	}
}

// Events exposes the queue to the consuming worker.
func (t *Trail) Events() <-chan Event {
	return t.inbox
}
