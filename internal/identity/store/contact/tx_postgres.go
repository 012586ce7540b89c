package contact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	dErrors "reconciler/pkg/domain-errors"
	"reconciler/pkg/platform/sentinel"
	txcontext "reconciler/pkg/platform/tx"
)

const (
	defaultTxTimeout  = 5 * time.Second
	defaultMaxRetries = 3

	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// PostgresTx runs a reconciliation inside one SERIALIZABLE transaction and
// takes a transaction-scoped advisory lock per identifier key. Serialization
// failures and deadlocks are retried up to maxRetries times.
type PostgresTx struct {
	db         *sqlx.DB
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger
}

type PostgresTxOption func(*PostgresTx)

func WithTxTimeout(d time.Duration) PostgresTxOption {
	return func(t *PostgresTx) {
		t.timeout = d
	}
}

func WithMaxRetries(n int) PostgresTxOption {
	return func(t *PostgresTx) {
		t.maxRetries = n
	}
}

func WithTxLogger(logger *slog.Logger) PostgresTxOption {
	return func(t *PostgresTx) {
		t.logger = logger
	}
}

func NewPostgresTx(db *sqlx.DB, opts ...PostgresTxOption) *PostgresTx {
	t := &PostgresTx{
		db:         db,
		timeout:    defaultTxTimeout,
		maxRetries: defaultMaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *PostgresTx) RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	// Nested scopes join the outer transaction.
	if txcontext.Active[sqlx.Tx](ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var err error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		err = t.runOnce(ctx, keys, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		t.logger.WarnContext(ctx, "retrying serialization failure",
			"attempt", attempt+1,
			"error", err,
		)
	}
	return fmt.Errorf("%w: %v", sentinel.ErrConflict, err)
}

func (t *PostgresTx) runOnce(ctx context.Context, keys []string, fn func(ctx context.Context) error) (err error) {
	tx, err := t.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, key := range keys {
		if _, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			return fmt.Errorf("acquire identifier lock: %w", err)
		}
	}

	if err = fn(txcontext.With(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}
