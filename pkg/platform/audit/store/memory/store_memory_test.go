package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "reconciler/pkg/domain"
	audit "reconciler/pkg/platform/audit"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)

	store := NewInMemoryStore()
	require.NoError(t, store.Append(ctx, audit.Event{ContactID: 1, Action: string(audit.EventContactCreated), Timestamp: base}))
	require.NoError(t, store.Append(ctx, audit.Event{ContactID: 2, Action: string(audit.EventContactCreated), Timestamp: base.Add(time.Minute)}))
	require.NoError(t, store.Append(ctx, audit.Event{ContactID: 2, Action: string(audit.EventContactLinked), Timestamp: base.Add(2 * time.Minute)}))

	t.Run("list by contact", func(t *testing.T) {
		events, err := store.ListByContact(ctx, id.ContactID(2))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, string(audit.EventContactCreated), events[0].Action)
		assert.Equal(t, string(audit.EventContactLinked), events[1].Action)
	})

	t.Run("list recent is newest first and bounded", func(t *testing.T) {
		events, err := store.ListRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, string(audit.EventContactLinked), events[0].Action)
		assert.Equal(t, id.ContactID(2), events[1].ContactID)
	})

	t.Run("clear", func(t *testing.T) {
		store.Clear()
		events, err := store.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
