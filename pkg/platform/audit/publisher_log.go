package audit

import (
	"context"
	"log/slog"
)

// LogPublisher writes audit events to the structured log. Used when Kafka is
// not configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.log.InfoContext(ctx, "audit",
		"event_id", event.ID,
		"type", event.Type,
		"actor", event.Actor,
		"subject", event.Subject,
		"detail", event.Detail,
	)
	return nil
}

func (p *LogPublisher) Close() {}
