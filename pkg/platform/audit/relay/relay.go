// Package relay moves committed outbox entries onto the audit Kafka topic.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"reconciler/pkg/platform/audit/store/postgres"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Outbox is the slice of the outbox store the relay needs.
type Outbox interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	ClaimPending(ctx context.Context, limit int) ([]postgres.Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Producer publishes a record synchronously.
type Producer interface {
	Publish(ctx context.Context, key, value []byte, headers map[string]string) error
}

// Relay polls the outbox and publishes entries at least once.
type Relay struct {
	outbox       Outbox
	producer     Producer
	logger       *slog.Logger
	metrics      *Metrics
	batchSize    int
	pollInterval time.Duration
	now          func() time.Time
}

// Option configures the Relay.
type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func New(outbox Outbox, producer Producer, opts ...Option) *Relay {
	r := &Relay{
		outbox:       outbox,
		producer:     producer,
		logger:       slog.Default(),
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled. Batch failures are logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "outbox relay started",
		"poll_interval", r.pollInterval.String(),
		"batch_size", r.batchSize,
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "outbox relay stopped")
			return nil
		case <-ticker.C:
			for {
				n, err := r.RelayBatch(ctx)
				if err != nil {
					r.logger.ErrorContext(ctx, "outbox relay batch failed", "error", err)
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}

// RelayBatch publishes one batch of pending entries and marks them published.
// A failed publish rolls back the batch so every entry in it is retried.
func (r *Relay) RelayBatch(ctx context.Context) (int, error) {
	var published int
	err := r.outbox.WithinTx(ctx, func(txCtx context.Context) error {
		entries, err := r.outbox.ClaimPending(txCtx, r.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			headers := map[string]string{
				"event_type":     e.EventType,
				"aggregate_type": e.AggregateType,
				"outbox_id":      e.ID.String(),
			}
			if err := r.producer.Publish(txCtx, []byte(e.AggregateID), e.Payload, headers); err != nil {
				if r.metrics != nil {
					r.metrics.PublishFailures.Inc()
				}
				return fmt.Errorf("publish outbox entry %s: %w", e.ID, err)
			}
			ids = append(ids, e.ID)
		}

		if err := r.outbox.MarkPublished(txCtx, ids, r.now()); err != nil {
			return err
		}
		published = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if r.metrics != nil && published > 0 {
		r.metrics.Published.Add(float64(published))
	}
	return published, nil
}
