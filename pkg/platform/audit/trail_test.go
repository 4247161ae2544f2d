package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrailEmit(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("stamps and queues events", func(t *testing.T) {
		dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "dropped_total"})
		trail := NewTrail(log, 4, dropped)

		trail.Emit(ctx, Event{Type: MessageSent, Actor: "permalink-a", Subject: "link-1"})

		event := <-trail.Events()
		assert.Equal(t, MessageSent, event.Type)
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Time.IsZero())
		assert.Zero(t, promtest.ToFloat64(dropped))
	})

	t.Run("caller-provided identity is kept", func(t *testing.T) {
		dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "dropped_total"})
		trail := NewTrail(log, 1, dropped)

		trail.Emit(ctx, Event{ID: "event-1", Type: SealConfirmed})
		event := <-trail.Events()
		assert.Equal(t, "event-1", event.ID)
	})

	t.Run("drops instead of blocking when the buffer is full", func(t *testing.T) {
		dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "dropped_total"})
		trail := NewTrail(log, 2, dropped)

		for i := 0; i < 5; i++ {
			trail.Emit(ctx, Event{Type: MessageSent})
		}
		assert.EqualValues(t, 3, promtest.ToFloat64(dropped))
		require.Len(t, trail.Events(), 2)
	})
}
