package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "reconciler/pkg/platform/audit"
	"reconciler/pkg/platform/audit/store/memory"
	"reconciler/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("outbox unavailable")
}

func TestPublisher_Emit(t *testing.T) {
	ctx := context.Background()

	t.Run("persists event with derived category and timestamp", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		metrics := NewMetrics(prometheus.NewRegistry())
		pub := New(store, WithMetrics(metrics))

		err := pub.Emit(ctx, audit.Event{
			ContactID:        7,
			PrimaryContactID: 1,
			Action:           string(audit.EventContactLinked),
		})
		require.NoError(t, err)

		events, err := store.ListByContact(ctx, 7)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.CategoryCompliance, events[0].Category)
		assert.False(t, events[0].Timestamp.IsZero())
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EventsEmitted))
	})

	t.Run("fills request id and time from the request context", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		fixed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
		reqCtx := requestcontext.WithTime(requestcontext.WithRequestID(ctx, "req-9"), fixed)

		require.NoError(t, New(store).Emit(reqCtx, audit.Event{
			ContactID:        3,
			PrimaryContactID: 3,
			Action:           string(audit.EventContactCreated),
		}))

		events, err := store.ListByContact(ctx, 3)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "req-9", events[0].RequestID)
		assert.Equal(t, fixed, events[0].Timestamp)
	})

	t.Run("rejects event without contact", func(t *testing.T) {
		pub := New(memory.NewInMemoryStore())
		err := pub.Emit(ctx, audit.Event{Action: string(audit.EventContactCreated)})
		require.Error(t, err)
	})

	t.Run("rejects event without primary", func(t *testing.T) {
		pub := New(memory.NewInMemoryStore())
		err := pub.Emit(ctx, audit.Event{ContactID: 2, Action: string(audit.EventContactLinked)})
		require.Error(t, err)
	})

	t.Run("rejects unknown action", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		err := New(store).Emit(ctx, audit.Event{ContactID: 1, PrimaryContactID: 1, Action: "contact_viewed"})
		require.Error(t, err)

		events, err := store.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("fails closed when store fails", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		pub := New(failingStore{}, WithMetrics(metrics))

		err := pub.Emit(ctx, audit.Event{ContactID: 1, PrimaryContactID: 1, Action: string(audit.EventContactCreated)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outbox unavailable")
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PersistFailures))
	})
}
