package tx

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
)

func TestWith(t *testing.T) {
	t.Run("nil handle leaves context untouched", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, ctx, With[sqlx.Tx](ctx, nil))
		assert.False(t, Active[sqlx.Tx](ctx))
	})

	t.Run("stored handle is returned", func(t *testing.T) {
		stored := &sqlx.Tx{}
		got, ok := From[sqlx.Tx](With(context.Background(), stored))
		assert.True(t, ok)
		assert.Same(t, stored, got)
	})

	t.Run("handle types use separate slots", func(t *testing.T) {
		sqlTx := &sqlx.Tx{}
		txn := &badger.Txn{}
		ctx := With(With(context.Background(), sqlTx), txn)

		gotSQL, ok := From[sqlx.Tx](ctx)
		assert.True(t, ok)
		assert.Same(t, sqlTx, gotSQL)

		gotTxn, ok := From[badger.Txn](ctx)
		assert.True(t, ok)
		assert.Same(t, txn, gotTxn)
	})
}
