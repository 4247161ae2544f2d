package auth

import (
	"context"

	"sealwire/internal/domain"
)

// Store persists handshake sessions, keyed by client ID, with a secondary
// lookup by permalink for the live-delivery gate.
type Store interface {
	// PutSession overwrites the session for its client ID.
	PutSession(ctx context.Context, session *domain.Session) error
	// GetSession returns sentinel.ErrNotFound for an unknown client ID.
	GetSession(ctx context.Context, clientID string) (*domain.Session, error)
	// GetLiveByPermalink returns the most recently updated session for the
	// permalink that is both authenticated and connected, or
	// sentinel.ErrNotFound.
	GetLiveByPermalink(ctx context.Context, permalink domain.Permalink) (*domain.Session, error)
	// DeleteSession removes the session if present.
	DeleteSession(ctx context.Context, clientID string) error
}
