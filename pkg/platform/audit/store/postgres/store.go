package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	audit "reconciler/pkg/platform/audit"
	txcontext "reconciler/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by the relay.
type Store struct {
	db *sqlx.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From[sqlx.Tx](ctx); ok {
		return tx
	}
	return s.db
}

// Payload is the JSON structure published to Kafka.
type Payload struct {
	ID               string `json:"id"`
	Category         string `json:"category"`
	Timestamp        string `json:"timestamp"`
	ContactID        int64  `json:"contactId"`
	PrimaryContactID int64  `json:"primaryContactId,omitempty"`
	Action           string `json:"action"`
	Reason           string `json:"reason,omitempty"`
	RequestID        string `json:"requestId,omitempty"`
}

// Entry is an outbox row awaiting publication.
type Entry struct {
	ID            uuid.UUID `db:"id"`
	AggregateType string    `db:"aggregate_type"`
	AggregateID   string    `db:"aggregate_id"`
	EventType     string    `db:"event_type"`
	Payload       []byte    `db:"payload"`
	CreatedAt     time.Time `db:"created_at"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	category := event.Category
	if category == "" {
		category, _ = audit.AuditEvent(event.Action).Category()
	}

	payload := Payload{
		ID:               eventID.String(),
		Category:         string(category),
		Timestamp:        event.Timestamp.Format(time.RFC3339Nano),
		ContactID:        event.ContactID.Int64(),
		PrimaryContactID: event.PrimaryContactID.Int64(),
		Action:           event.Action,
		Reason:           event.Reason,
		RequestID:        event.RequestID,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	// Aggregate on the component root so a consumer sees one identity's history in order.
	aggregateID := event.PrimaryContactID
	if aggregateID.IsNil() {
		aggregateID = event.ContactID
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		"identity",
		strconv.FormatInt(aggregateID.Int64(), 10),
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit unpublished entries, oldest first.
// Must run inside a transaction (see WithinTx); rows stay locked until it ends.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	var entries []Entry
	if err := s.execer(ctx).SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps entries as published.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, eid := range ids {
		raw[i] = eid.String()
	}
	query := `UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`
	if _, err := s.execer(ctx).ExecContext(ctx, query, at, pq.Array(raw)); err != nil {
		return fmt.Errorf("mark outbox entries published: %w", err)
	}
	return nil
}

// WithinTx runs fn in a transaction carried by the context.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(txcontext.With(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox tx: %w", err)
	}
	return nil
}
