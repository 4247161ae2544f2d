// Package delivery routes outbound messages to a transport: a live
// persistent session when one exists, a store-and-forward webhook otherwise.
// Batch delivery is windowed and resumable so a time-boxed handler can stop
// and be re-driven without skipping or repeating messages.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sealwire/internal/domain"
	"sealwire/internal/message"
	"sealwire/internal/platform/metrics"
	dErrors "sealwire/pkg/domain-errors"
	"sealwire/pkg/platform/sentinel"
)

// Transport carries message batches to one recipient endpoint.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, recipient domain.Permalink, clientID string, msgs []*domain.Message) error
	Ack(ctx context.Context, clientID string, link domain.Link) error
	Reject(ctx context.Context, clientID string, link domain.Link, reason string) error
}

// SessionSource resolves the live session gate: the most recently
// authenticated and connected session for a permalink.
type SessionSource interface {
	GetLiveSession(ctx context.Context, permalink domain.Permalink) (*domain.Session, error)
}

// WebhookSource resolves a recipient's store-and-forward registration.
type WebhookSource interface {
	Webhook(ctx context.Context, permalink domain.Permalink) (string, error)
}

// PushNotifier pokes an unreachable recipient out of band. Optional.
type PushNotifier interface {
	Notify(ctx context.Context, permalink domain.Permalink) error
}

// Router selects a transport per delivery attempt and performs windowed,
// resumable batch delivery.
type Router struct {
	log      *slog.Logger
	messages message.Store
	sessions SessionSource
	webhooks WebhookSource
	live     Transport
	webhook  Transport
	push     PushNotifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewRouter(log *slog.Logger, messages message.Store, sessions SessionSource, webhooks WebhookSource, live, webhook Transport, push PushNotifier, m *metrics.Metrics) *Router {
	return &Router{
		log:      log,
		messages: messages,
		sessions: sessions,
		webhooks: webhooks,
		live:     live,
		webhook:  webhook,
		push:     push,
		metrics:  m,
		now:      time.Now,
	}
}

// WithClock overrides the router's clock. Test hook.
func (r *Router) WithClock(now func() time.Time) *Router {
	r.now = now
	return r
}

// Result reports how far a delivery run got. When Finished is false the
// returned Range resumes exactly where this run stopped.
type Result struct {
	Finished  bool
	Delivered int
	Range     message.Range
}

// selection is the decision table evaluated per delivery attempt.
func (r *Router) selectTransport(ctx context.Context, recipient domain.Permalink, clientID string) (Transport, string, error) {
	if clientID != "" {
		return r.live, clientID, nil
	}
	url, err := r.webhooks.Webhook(ctx, recipient)
	switch {
	case err == nil && url != "":
		return r.webhook, "", nil
	case err != nil && !errors.Is(err, sentinel.ErrNotFound):
		return nil, "", dErrors.Wrap(err, dErrors.CodeCloudService, "resolve webhook")
	}
	// No webhook capability: a live session is the only remaining route.
	session, err := r.sessions.GetLiveSession(ctx, recipient)
	if err == nil {
		return r.live, session.ClientID, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, "", dErrors.Wrap(err, dErrors.CodeCloudService, "resolve session")
	}
	return nil, "", dErrors.Newf(dErrors.CodeUnreachable, "no transport for %s", recipient)
}

// DeliverMessages fetches up to batchSize messages strictly inside rng,
// delivers them as one batch, advances the cursor to just past the last
// delivered message, and repeats until drained or the time budget is
// exhausted. On exhaustion it returns Finished=false with the resumable
// range so the caller can re-invoke.
func (r *Router) DeliverMessages(ctx context.Context, recipient domain.Permalink, clientID string, rng message.Range, batchSize int, budget time.Duration) (Result, error) {
	deadline := r.now().Add(budget)
	delivered := 0

	for {
		if !r.now().Before(deadline) {
			return Result{Finished: false, Delivered: delivered, Range: rng}, nil
		}

		batch, err := r.messages.ListSent(ctx, recipient, rng, batchSize)
		if err != nil {
			return Result{Delivered: delivered, Range: rng}, dErrors.Wrap(err, dErrors.CodeCloudService, "list pending")
		}
		if len(batch) == 0 {
			return Result{Finished: true, Delivered: delivered, Range: rng}, nil
		}

		transport, cid, err := r.selectTransport(ctx, recipient, clientID)
		if err != nil {
			return Result{Delivered: delivered, Range: rng}, err
		}

		start := r.now()
		if err := transport.Deliver(ctx, recipient, cid, batch); err != nil {
			return Result{Delivered: delivered, Range: rng},
				dErrors.Wrap(err, dErrors.CodeCloudService, transport.Name()+" delivery")
		}
		r.metrics.ObserveDeliveryBatch(r.now().Sub(start))
		r.metrics.Deliveries.WithLabelValues(transport.Name()).Add(float64(len(batch)))

		delivered += len(batch)
		// The cursor only advances contiguously: outbound seqs have no gaps,
		// so past-the-last-delivered is exactly the contiguous run length.
		rng = rng.NextAfter(batch[len(batch)-1].Seq)

		if len(batch) < batchSize {
			return Result{Finished: true, Delivered: delivered, Range: rng}, nil
		}
	}
}

// AttemptLiveDelivery pushes a batch at a recipient right now if any
// transport will take it. "Nobody is listening" is an expected state and is
// logged (with an optional push-notification fallback), never an error; a
// true transport failure is surfaced because a delivery bug must not be
// masked.
func (r *Router) AttemptLiveDelivery(ctx context.Context, recipient domain.Permalink, clientID string, msgs []*domain.Message) error {
	transport, cid, err := r.selectTransport(ctx, recipient, clientID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnreachable) {
			r.notifyUnreachable(ctx, recipient)
			return nil
		}
		return err
	}

	err = transport.Deliver(ctx, recipient, cid, msgs)
	switch {
	case err == nil:
		r.metrics.Deliveries.WithLabelValues(transport.Name()).Add(float64(len(msgs)))
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		r.notifyUnreachable(ctx, recipient)
		return nil
	default:
		return dErrors.Wrap(err, dErrors.CodeCloudService, transport.Name()+" delivery")
	}
}

// Ack forwards a durable-delivery acknowledgment to the live transport.
func (r *Router) Ack(ctx context.Context, clientID string, link domain.Link) error {
	return r.live.Ack(ctx, clientID, link)
}

// Reject notifies the transport that a message was refused, with the
// failure kind, so the peer sees the rejection instead of a silent drop.
func (r *Router) Reject(ctx context.Context, clientID string, link domain.Link, reason string) error {
	return r.live.Reject(ctx, clientID, link, reason)
}

func (r *Router) notifyUnreachable(ctx context.Context, recipient domain.Permalink) {
	r.log.InfoContext(ctx, "no live transport for recipient", "recipient", recipient)
	if r.push == nil {
		return
	}
	if err := r.push.Notify(ctx, recipient); err != nil {
		r.log.WarnContext(ctx, "push notification failed", "recipient", recipient, "error", err)
	}
}
