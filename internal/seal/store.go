package seal

import (
	"context"

	"sealwire/internal/domain"
)

// Store persists seal records. Insert is conditional on the link: at most one
// seal record ever exists per link, so a second create for the same payload
// surfaces as sentinel.ErrConflict.
type Store interface {
	Insert(ctx context.Context, s *domain.Seal) error
	Update(ctx context.Context, s *domain.Seal) error
	GetByLink(ctx context.Context, link domain.Link) (*domain.Seal, error)

	// ListUnsealed scans the pending-write index; ListUnconfirmed scans the
	// below-threshold index. Both in insertion order, at most limit.
	ListUnsealed(ctx context.Context, limit int) ([]*domain.Seal, error)
	ListUnconfirmed(ctx context.Context, limit int) ([]*domain.Seal, error)
}
