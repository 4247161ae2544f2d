package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwire/internal/domain"
	"sealwire/pkg/platform/sentinel"
)

func liveSession(clientID string, permalink domain.Permalink) *domain.Session {
	return &domain.Session{
		ClientID:      clientID,
		Permalink:     permalink,
		Authenticated: true,
		Connected:     true,
	}
}

func TestMemoryStoreSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		store := NewMemoryStore()
		session := liveSession("client-1", "permalink-a")
		session.ClientPosition = &domain.Position{Seq: 3}
		require.NoError(t, store.PutSession(ctx, session))

		got, err := store.GetSession(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, session, got)

		// The stored session is a copy, not an alias.
		got.ClientPosition.Seq = 99
		again, err := store.GetSession(ctx, "client-1")
		require.NoError(t, err)
		assert.EqualValues(t, 3, again.ClientPosition.Seq)
	})

	t.Run("missing session", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.GetSession(ctx, "client-unknown")
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.PutSession(ctx, liveSession("client-1", "permalink-a")))
		require.NoError(t, store.DeleteSession(ctx, "client-1"))
		_, err := store.GetSession(ctx, "client-1")
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestMemoryStoreGetLiveByPermalink(t *testing.T) {
	ctx := context.Background()

	t.Run("picks the most recently updated live session", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.PutSession(ctx, liveSession("client-1", "permalink-a")))
		require.NoError(t, store.PutSession(ctx, liveSession("client-2", "permalink-a")))

		got, err := store.GetLiveByPermalink(ctx, "permalink-a")
		require.NoError(t, err)
		assert.Equal(t, "client-2", got.ClientID)

		// Touching the older session makes it the freshest again.
		require.NoError(t, store.PutSession(ctx, liveSession("client-1", "permalink-a")))
		got, err = store.GetLiveByPermalink(ctx, "permalink-a")
		require.NoError(t, err)
		assert.Equal(t, "client-1", got.ClientID)
	})

	t.Run("ignores sessions that are not live", func(t *testing.T) {
		store := NewMemoryStore()
		disconnected := liveSession("client-1", "permalink-a")
		disconnected.Connected = false
		unauthenticated := liveSession("client-2", "permalink-a")
		unauthenticated.Authenticated = false
		require.NoError(t, store.PutSession(ctx, disconnected))
		require.NoError(t, store.PutSession(ctx, unauthenticated))

		_, err := store.GetLiveByPermalink(ctx, "permalink-a")
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("scoped to the permalink", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.PutSession(ctx, liveSession("client-1", "permalink-a")))

		_, err := store.GetLiveByPermalink(ctx, "permalink-b")
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
