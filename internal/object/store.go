// Package object is the content-addressed store of immutable signed objects.
// It exclusively owns raw signed bytes; message ordering metadata lives in
// the message store.
package object

import (
	"context"

	"sealwire/internal/domain"
)

// Store is content-addressed get/put/delete keyed by link. Put derives the
// link from the object; it is never supplied by the caller.
type Store interface {
	Get(ctx context.Context, link domain.Link) (*domain.SignedObject, error)
	Put(ctx context.Context, obj *domain.SignedObject) (domain.Link, error)
	Del(ctx context.Context, link domain.Link) error
}
