package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"sealwire/internal/domain"
	"sealwire/pkg/platform/sentinel"
)

// WebhookTransport posts message batches to the recipient's registered
// endpoint. Delivery is considered acknowledged by a 2xx response, so Ack
// and Reject have nothing to carry.
type WebhookTransport struct {
	log      *slog.Logger
	webhooks WebhookSource
	client   *http.Client
}

func NewWebhookTransport(log *slog.Logger, webhooks WebhookSource, timeout time.Duration) *WebhookTransport {
	return &WebhookTransport{
		log:      log,
		webhooks: webhooks,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *WebhookTransport) Name() string { return "webhook" }

func (t *WebhookTransport) Deliver(ctx context.Context, recipient domain.Permalink, _ string, msgs []*domain.Message) error {
	url, err := t.webhooks.Webhook(ctx, recipient)
	if err != nil {
		return err
	}
	if url == "" {
		return sentinel.ErrNotFound
	}

	body, err := json.Marshal(Frame{Type: FrameMessages, Messages: msgs})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	t.log.InfoContext(ctx, "webhook batch delivered", "recipient", recipient, "count", len(msgs))
	return nil
}

func (t *WebhookTransport) Ack(context.Context, string, domain.Link) error { return nil }

func (t *WebhookTransport) Reject(context.Context, string, domain.Link, string) error { return nil }
