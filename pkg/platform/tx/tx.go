// Package tx carries an open storage transaction in a context so that stores
// join the unit of work a transaction runner started. Each handle type has its
// own slot; a *sqlx.Tx and a *badger.Txn never shadow each other.
package tx

import "context"

type key[T any] struct{}

// With stores handle in ctx. A nil handle leaves ctx untouched.
func With[T any](ctx context.Context, handle *T) context.Context {
	if handle == nil {
		return ctx
	}
	return context.WithValue(ctx, key[T]{}, handle)
}

// From returns the handle of type T stored by With.
func From[T any](ctx context.Context) (*T, bool) {
	handle, ok := ctx.Value(key[T]{}).(*T)
	return handle, ok
}

// Active reports whether ctx already carries a handle of type T.
func Active[T any](ctx context.Context) bool {
	_, ok := From[T](ctx)
	return ok
}
