// Package message persists message envelopes with strict per-counterparty
// sequence semantics. The provider is the only writer; ordering across
// concurrent node instances is enforced by conditional inserts, not locks.
package message

import (
	"context"

	"sealwire/internal/domain"
)

// Range bounds a delivery scan: strictly after After and, when set, strictly
// before Before. Nil means unbounded on that side.
type Range struct {
	After  *uint64
	Before *uint64
}

// NextAfter returns the range resumed just past the given sequence number.
func (r Range) NextAfter(seq uint64) Range {
	s := seq
	return Range{After: &s, Before: r.Before}
}

// Store is the persistence and ordered/query access layer for messages.
//
// Put is conditional: it fails with sentinel.ErrConflict when another writer
// already claimed the same (counterparty, direction, seq) slot or the same
// link. This is the only coordination primitive the sequencer relies on.
type Store interface {
	Put(ctx context.Context, m *domain.Message) error
	GetByLink(ctx context.Context, link domain.Link) (*domain.Message, error)

	// LastSent and LastReceived return the highest-seq outbound message to,
	// and the most recently accepted inbound message from, a counterparty.
	LastSent(ctx context.Context, recipient domain.Permalink) (*domain.Message, error)
	LastReceived(ctx context.Context, author domain.Permalink) (*domain.Message, error)

	// ListSent returns outbound messages to recipient within r in ascending
	// seq order, at most limit.
	ListSent(ctx context.Context, recipient domain.Permalink, r Range, limit int) ([]*domain.Message, error)

	// AttachSeal merges confirmed anchor data onto the stored message whose
	// payload has the given link. sentinel.ErrNotFound when no such message.
	AttachSeal(ctx context.Context, link domain.Link, seal *domain.Seal) error
}
