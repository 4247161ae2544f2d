package audit

import (
	"context"
	"log/slog"
)

// Publisher is the sink side of the audit pipeline.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Worker consumes audit events from the trail and hands them to a
// publisher. A publish failure is logged, never propagated back into the
// request path.
type Worker struct {
	log       *slog.Logger
	inbox     <-chan Event
	publisher Publisher
}

func NewWorker(log *slog.Logger, inbox <-chan Event, publisher Publisher) *Worker {
	return &Worker{log: log, inbox: inbox, publisher: publisher}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.publisher.Publish(ctx, event); err != nil {
				w.log.ErrorContext(ctx, "audit publish failed", "type", event.Type, "error", err)
			}
		}
	}
}
