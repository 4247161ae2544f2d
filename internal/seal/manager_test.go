package seal_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwire/internal/domain"
	"sealwire/internal/message"
	"sealwire/internal/platform/metrics"
	"sealwire/internal/seal"
	"sealwire/internal/seal/fakechain"
	dErrors "sealwire/pkg/domain-errors"
	"sealwire/pkg/testutil"
)

const (
	nodeKey = "node-seal-key"
	basePub = "ab01"
)

type fixture struct {
	manager  *seal.Manager
	store    *seal.MemoryStore
	chain    *fakechain.Chain
	messages *message.MemoryStore
	clock    *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    seal.NewMemoryStore(),
		chain:    fakechain.New(seal.Network{Blockchain: "fake", Name: "test", Confirmations: 6}),
		messages: message.NewMemoryStore(),
		clock:    testutil.NewClock(time.UnixMilli(1_700_000_000_000)),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.manager = seal.NewManager(log, f.store, f.chain, f.messages, metrics.NewWith(prometheus.NewRegistry()), nodeKey).
		WithClock(f.clock.Now)
	return f
}

// carrier stores an outbound message carrying the payload link, so confirmed
// anchor data has a record to merge onto.
func (f *fixture) carrier(t *testing.T, link domain.Link) {
	t.Helper()
	err := f.messages.Put(context.Background(), &domain.Message{
		Type:      domain.TypeMessage,
		Time:      f.clock.Now().UnixMilli(),
		Recipient: "permalink-peer",
		Link:      domain.Link("msg-for-" + link),
		Object:    &domain.SignedObject{Raw: []byte(`{"_t":"kyc.Document"}`), Link: link},
	})
	require.NoError(t, err)
}

func TestManagerCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.manager.Create(ctx, basePub, "payload-1")
	require.NoError(t, err)
	assert.True(t, rec.Unsealed)
	assert.True(t, rec.Unconfirmed)
	assert.Equal(t, domain.WatchThis, rec.WatchType)
	assert.Equal(t, "fake", rec.Blockchain)
	assert.Equal(t, "test", rec.Network)
	assert.NotEmpty(t, rec.Address)

	t.Run("duplicate registration", func(t *testing.T) {
		_, err := f.manager.Create(ctx, basePub, "payload-1")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeDuplicate), "got %v", err)
	})

	t.Run("watch is not queued for writing", func(t *testing.T) {
		rec, err := f.manager.Watch(ctx, basePub, "payload-2")
		require.NoError(t, err)
		assert.False(t, rec.Unsealed)
		assert.True(t, rec.Unconfirmed)
	})

	t.Run("next-version watch derives a different address", func(t *testing.T) {
		next, err := f.manager.WatchNextVersion(ctx, basePub, "payload-3")
		require.NoError(t, err)
		assert.Equal(t, domain.WatchNext, next.WatchType)
		assert.NotEqual(t, rec.Address, next.Address)
	})
}

func TestSealPending(t *testing.T) {
	ctx := context.Background()

	t.Run("broadcasts every pending write", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.Create(ctx, basePub, "payload-1")
		require.NoError(t, err)
		_, err = f.manager.Create(ctx, basePub, "payload-2")
		require.NoError(t, err)
		f.chain.Fund(nodeKey, 2)

		written, err := f.manager.SealPending(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, written)

		for _, link := range []domain.Link{"payload-1", "payload-2"} {
			rec, err := f.store.GetByLink(ctx, link)
			require.NoError(t, err)
			assert.False(t, rec.Unsealed)
			assert.NotEmpty(t, rec.TxID)
			assert.NotZero(t, rec.TimeSealed)
		}

		pending, err := f.store.ListUnsealed(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("low funds aborts the batch", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.Create(ctx, basePub, "payload-1")
		require.NoError(t, err)
		_, err = f.manager.Create(ctx, basePub, "payload-2")
		require.NoError(t, err)
		f.chain.Fund(nodeKey, 1)

		written, err := f.manager.SealPending(ctx, 0)
		assert.Equal(t, 1, written)
		require.True(t, dErrors.HasCode(err, dErrors.CodeLowFunds), "got %v", err)

		// The starved record stays queued with the failure recorded.
		rec, err := f.store.GetByLink(ctx, "payload-2")
		require.NoError(t, err)
		assert.True(t, rec.Unsealed)
		assert.Empty(t, rec.TxID)
		require.Len(t, rec.Errors, 1)
	})

	t.Run("transient failure skips only the failing record", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.Create(ctx, basePub, "payload-1")
		require.NoError(t, err)
		_, err = f.manager.Create(ctx, basePub, "payload-2")
		require.NoError(t, err)
		f.chain.Fund(nodeKey, 2)
		f.chain.FailNextWrite(errors.New("broadcast refused"))

		written, err := f.manager.SealPending(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, written)

		pending, err := f.store.ListUnsealed(ctx, 0)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Len(t, pending[0].Errors, 1)
	})

	t.Run("respects the batch limit", func(t *testing.T) {
		f := newFixture(t)
		for _, link := range []domain.Link{"payload-1", "payload-2", "payload-3"} {
			_, err := f.manager.Create(ctx, basePub, link)
			require.NoError(t, err)
		}
		f.chain.Fund(nodeKey, 3)

		written, err := f.manager.SealPending(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, written)
	})
}

func TestSyncUnconfirmed(t *testing.T) {
	ctx := context.Background()

	t.Run("advances confirmations and finalizes at the threshold", func(t *testing.T) {
		f := newFixture(t)
		f.carrier(t, "payload-1")
		_, err := f.manager.Create(ctx, basePub, "payload-1")
		require.NoError(t, err)
		f.chain.Fund(nodeKey, 1)
		_, err = f.manager.SealPending(ctx, 0)
		require.NoError(t, err)

		f.chain.Mine(3)
		updated, err := f.manager.SyncUnconfirmed(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, updated)

		rec, err := f.store.GetByLink(ctx, "payload-1")
		require.NoError(t, err)
		assert.Equal(t, 3, rec.Confirmations)
		assert.True(t, rec.Unconfirmed)
		assert.Nil(t, f.messages.SealFor("payload-1"))

		f.chain.Mine(3)
		updated, err = f.manager.SyncUnconfirmed(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, updated)

		rec, err = f.store.GetByLink(ctx, "payload-1")
		require.NoError(t, err)
		assert.Equal(t, 6, rec.Confirmations)
		assert.False(t, rec.Unconfirmed)

		attached := f.messages.SealFor("payload-1")
		require.NotNil(t, attached)
		assert.Equal(t, rec.TxID, attached.TxID)
		assert.Equal(t, 6, attached.Confirmations)
	})

	t.Run("no progress without new confirmations", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.Create(ctx, basePub, "payload-1")
		require.NoError(t, err)
		f.chain.Fund(nodeKey, 1)
		_, err = f.manager.SealPending(ctx, 0)
		require.NoError(t, err)

		updated, err := f.manager.SyncUnconfirmed(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, updated)
	})

	t.Run("adopts a counterparty transaction on a watch", func(t *testing.T) {
		f := newFixture(t)
		f.carrier(t, "payload-1")
		rec, err := f.manager.Watch(ctx, basePub, "payload-1")
		require.NoError(t, err)

		txID := f.chain.WriteTo(rec.Address)
		f.chain.Mine(6)

		updated, err := f.manager.SyncUnconfirmed(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, updated)

		got, err := f.store.GetByLink(ctx, "payload-1")
		require.NoError(t, err)
		assert.Equal(t, txID, got.TxID)
		assert.False(t, got.Unconfirmed)
		require.NotNil(t, f.messages.SealFor("payload-1"))
	})

	t.Run("confirmed seal without a stored carrier is tolerated", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.Create(ctx, basePub, "payload-unarchived")
		require.NoError(t, err)
		f.chain.Fund(nodeKey, 1)
		_, err = f.manager.SealPending(ctx, 0)
		require.NoError(t, err)
		f.chain.Mine(6)

		updated, err := f.manager.SyncUnconfirmed(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, updated)
	})
}

func TestHandleFailures(t *testing.T) {
	ctx := context.Background()
	const grace = time.Hour

	t.Run("requeues a stalled write", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.Create(ctx, basePub, "payload-1")
		require.NoError(t, err)
		f.chain.Fund(nodeKey, 2)
		_, err = f.manager.SealPending(ctx, 0)
		require.NoError(t, err)

		f.clock.Advance(grace + time.Minute)
		require.NoError(t, f.manager.HandleFailures(ctx, grace))

		rec, err := f.store.GetByLink(ctx, "payload-1")
		require.NoError(t, err)
		assert.True(t, rec.Unsealed)
		assert.Empty(t, rec.TxID)
		assert.Zero(t, rec.TimeSealed)
		require.Len(t, rec.Errors, 1)

		// The requeued record is picked up by the next write sweep.
		written, err := f.manager.SealPending(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, written)
	})

	t.Run("cancels a dead watch", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.Watch(ctx, basePub, "payload-1")
		require.NoError(t, err)

		f.clock.Advance(grace + time.Minute)
		require.NoError(t, f.manager.HandleFailures(ctx, grace))

		rec, err := f.store.GetByLink(ctx, "payload-1")
		require.NoError(t, err)
		assert.True(t, rec.Unwatched)
		assert.False(t, rec.Unconfirmed)

		candidates, err := f.store.ListUnconfirmed(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("leaves young records alone", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.Watch(ctx, basePub, "payload-1")
		require.NoError(t, err)

		require.NoError(t, f.manager.HandleFailures(ctx, grace))

		rec, err := f.store.GetByLink(ctx, "payload-1")
		require.NoError(t, err)
		assert.False(t, rec.Unwatched)
		assert.True(t, rec.Unconfirmed)
	})

	t.Run("pending writes are owned by the write sweep", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.Create(ctx, basePub, "payload-1")
		require.NoError(t, err)

		f.clock.Advance(grace + time.Minute)
		require.NoError(t, f.manager.HandleFailures(ctx, grace))

		rec, err := f.store.GetByLink(ctx, "payload-1")
		require.NoError(t, err)
		assert.True(t, rec.Unsealed)
		assert.False(t, rec.Unwatched)
	})
}
