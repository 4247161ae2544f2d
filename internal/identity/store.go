// Package identity resolves public keys and permalinks to identity documents
// and validates new identity versions against previous ones.
package identity

import (
	"context"

	"sealwire/internal/domain"
)

// Store persists identity documents, the pubkey reverse index and per-contact
// webhook registrations.
type Store interface {
	PutIdentity(ctx context.Context, id *domain.Identity) error
	GetByPermalink(ctx context.Context, permalink domain.Permalink) (*domain.Identity, error)

	// PutMapping is write-once per key: re-registering the same mapping is a
	// no-op, pointing an existing key at a different identity is a conflict.
	PutMapping(ctx context.Context, m *domain.PubKeyMapping) error
	GetMapping(ctx context.Context, pub string) (*domain.PubKeyMapping, error)

	SetWebhook(ctx context.Context, permalink domain.Permalink, url string) error
	GetWebhook(ctx context.Context, permalink domain.Permalink) (string, error)
}
