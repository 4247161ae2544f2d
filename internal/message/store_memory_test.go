package message

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwire/internal/domain"
	"sealwire/pkg/platform/sentinel"
)

const (
	alice = domain.Permalink("permalink-alice")
	bob   = domain.Permalink("permalink-bob")
)

func outbound(recipient domain.Permalink, seq uint64, t int64) *domain.Message {
	link := domain.Link(fmt.Sprintf("link-out-%s-%d", recipient, seq))
	return &domain.Message{
		Type:      domain.TypeMessage,
		Seq:       seq,
		Time:      t,
		Recipient: recipient,
		Link:      link,
		Object: &domain.SignedObject{
			Raw:  []byte(`{"_t":"kyc.Document"}`),
			Link: domain.Link(fmt.Sprintf("payload-%s-%d", recipient, seq)),
		},
	}
}

func inbound(author domain.Permalink, seq uint64, t int64) *domain.Message {
	m := outbound(author, seq, t)
	m.Inbound = true
	m.Author = author
	m.Recipient = ""
	m.Link = domain.Link(fmt.Sprintf("link-in-%s-%d", author, seq))
	return m
}

func TestMemoryStorePut(t *testing.T) {
	ctx := context.Background()

	t.Run("conditional insert rejects a taken slot", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put(ctx, outbound(bob, 0, 100)))

		contender := outbound(bob, 0, 101)
		contender.Link = "link-contender"
		err := store.Put(ctx, contender)
		require.ErrorIs(t, err, sentinel.ErrConflict)

		// The winner is untouched.
		got, err := store.GetByLink(ctx, domain.Link("link-out-permalink-bob-0"))
		require.NoError(t, err)
		assert.EqualValues(t, 100, got.Time)
	})

	t.Run("same seq in opposite directions is fine", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put(ctx, outbound(bob, 0, 100)))
		require.NoError(t, store.Put(ctx, inbound(bob, 0, 101)))
	})

	t.Run("same seq toward another counterparty is fine", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put(ctx, outbound(bob, 0, 100)))
		require.NoError(t, store.Put(ctx, outbound(alice, 0, 101)))
	})

	t.Run("duplicate link is rejected", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put(ctx, outbound(bob, 0, 100)))

		dup := outbound(bob, 1, 101)
		dup.Link = "link-out-permalink-bob-0"
		require.ErrorIs(t, store.Put(ctx, dup), sentinel.ErrConflict)
	})
}

func TestMemoryStoreLast(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.LastSent(ctx, bob)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = store.LastReceived(ctx, bob)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, store.Put(ctx, outbound(bob, 0, 100)))
	require.NoError(t, store.Put(ctx, outbound(bob, 1, 110)))
	require.NoError(t, store.Put(ctx, outbound(alice, 5, 300)))
	// Inbound order is tracked by time, not seq: the peer numbers its own
	// stream.
	require.NoError(t, store.Put(ctx, inbound(bob, 7, 220)))
	require.NoError(t, store.Put(ctx, inbound(bob, 3, 250)))

	t.Run("last sent is the highest outbound seq", func(t *testing.T) {
		last, err := store.LastSent(ctx, bob)
		require.NoError(t, err)
		assert.EqualValues(t, 1, last.Seq)
	})

	t.Run("last received is the latest inbound time", func(t *testing.T) {
		last, err := store.LastReceived(ctx, bob)
		require.NoError(t, err)
		assert.EqualValues(t, 3, last.Seq)
		assert.EqualValues(t, 250, last.Time)
	})

	t.Run("streams are per counterparty", func(t *testing.T) {
		last, err := store.LastSent(ctx, alice)
		require.NoError(t, err)
		assert.EqualValues(t, 5, last.Seq)
	})
}

func TestMemoryStoreListSent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for seq := uint64(0); seq < 10; seq++ {
		require.NoError(t, store.Put(ctx, outbound(bob, seq, int64(100+seq))))
	}

	seqs := func(msgs []*domain.Message) []uint64 {
		out := make([]uint64, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.Seq)
		}
		return out
	}

	t.Run("open range ascending", func(t *testing.T) {
		msgs, err := store.ListSent(ctx, bob, Range{}, 0)
		require.NoError(t, err)
		assert.Equal(t, []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seqs(msgs))
	})

	t.Run("after is exclusive", func(t *testing.T) {
		after := uint64(6)
		msgs, err := store.ListSent(ctx, bob, Range{After: &after}, 0)
		require.NoError(t, err)
		assert.Equal(t, []uint64{7, 8, 9}, seqs(msgs))
	})

	t.Run("before is exclusive", func(t *testing.T) {
		before := uint64(3)
		msgs, err := store.ListSent(ctx, bob, Range{Before: &before}, 0)
		require.NoError(t, err)
		assert.Equal(t, []uint64{0, 1, 2}, seqs(msgs))
	})

	t.Run("limit truncates", func(t *testing.T) {
		after := uint64(2)
		msgs, err := store.ListSent(ctx, bob, Range{After: &after}, 3)
		require.NoError(t, err)
		assert.Equal(t, []uint64{3, 4, 5}, seqs(msgs))
	})

	t.Run("next window resumes past the last batch", func(t *testing.T) {
		after := uint64(2)
		rng := Range{After: &after}
		msgs, err := store.ListSent(ctx, bob, rng, 3)
		require.NoError(t, err)

		rng = rng.NextAfter(msgs[len(msgs)-1].Seq)
		msgs, err = store.ListSent(ctx, bob, rng, 3)
		require.NoError(t, err)
		assert.Equal(t, []uint64{6, 7, 8}, seqs(msgs))
	})

	t.Run("unknown counterparty is empty", func(t *testing.T) {
		msgs, err := store.ListSent(ctx, "permalink-nobody", Range{}, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestMemoryStoreAttachSeal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	msg := outbound(bob, 0, 100)
	require.NoError(t, store.Put(ctx, msg))

	seal := &domain.Seal{
		Link:          msg.Object.Link,
		Blockchain:    "fake",
		Network:       "test",
		TxID:          "tx-1",
		Confirmations: 6,
	}
	require.NoError(t, store.AttachSeal(ctx, msg.Object.Link, seal))

	got := store.SealFor(msg.Object.Link)
	require.NotNil(t, got)
	assert.Equal(t, "tx-1", got.TxID)

	t.Run("unknown payload link", func(t *testing.T) {
		err := store.AttachSeal(ctx, "payload-unknown", seal)
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
