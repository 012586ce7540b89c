// Package compliance provides a fail-closed audit publisher for identity graph changes.
//
// Events are written to the audit store and the caller blocks until the write
// succeeds. When the store is outbox-backed and the context carries the identify
// transaction, a failed write aborts the whole reconciliation.
//
// Use for: contact_created, contact_linked, identity_consolidated, contact_deleted
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "reconciler/pkg/platform/audit"
	"reconciler/pkg/requestcontext"
)

// Publisher emits compliance events with fail-closed semantics.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a compliance publisher.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit writes event to the audit store and blocks until it is persisted.
// A returned error means the caller's transaction must not commit.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	start := time.Now()

	category, err := validate(event)
	if err != nil {
		return err
	}
	event.Category = category
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		if p.metrics != nil {
			p.metrics.IncPersistFailures()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "compliance audit write failed",
				"action", event.Action,
				"contact_id", event.ContactID,
				"primary_contact_id", event.PrimaryContactID,
				"request_id", event.RequestID,
				"error", err,
			)
		}
		return fmt.Errorf("persist %s audit for contact %d: %w", event.Action, event.ContactID, err)
	}

	if p.metrics != nil {
		p.metrics.ObservePersistDuration(time.Since(start).Seconds())
		p.metrics.IncEventsEmitted()
	}
	return nil
}

func validate(event audit.Event) (audit.EventCategory, error) {
	if event.ContactID.IsNil() {
		return "", errors.New("compliance event requires a contact")
	}
	if event.PrimaryContactID.IsNil() {
		return "", fmt.Errorf("%s event for contact %d has no primary", event.Action, event.ContactID)
	}
	category, ok := audit.AuditEvent(event.Action).Category()
	if !ok {
		return "", fmt.Errorf("unknown audit action %q", event.Action)
	}
	return category, nil
}
