package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"reconciler/internal/identity/metrics"
	"reconciler/internal/identity/models"
	id "reconciler/pkg/domain"
	dErrors "reconciler/pkg/domain-errors"
	audit "reconciler/pkg/platform/audit"
	"reconciler/pkg/platform/sentinel"
	"reconciler/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,StoreTx,AuditPublisher

// Store is the persistence port for contacts. Every query excludes soft-deleted rows.
type Store interface {
	// FindByIdentifiers returns contacts whose email equals email or whose phone
	// number equals phone, ordered by CreatedAt then ID. Nil arguments match nothing.
	FindByIdentifiers(ctx context.Context, email, phone *string) ([]*models.Contact, error)
	// FindByRootOrID returns the contact rootID and every contact linked to it.
	FindByRootOrID(ctx context.Context, rootID id.ContactID) ([]*models.Contact, error)
	// FindByID returns sentinel.ErrNotFound when the contact is absent or deleted.
	FindByID(ctx context.Context, contactID id.ContactID) (*models.Contact, error)
	Create(ctx context.Context, contact models.NewContact) (*models.Contact, error)
	Update(ctx context.Context, contactID id.ContactID, update models.ContactUpdate) error
	// RewriteLinks re-points every contact linked to oldRootID at newRootID.
	RewriteLinks(ctx context.Context, oldRootID, newRootID id.ContactID, now time.Time) (int64, error)
	SoftDelete(ctx context.Context, contactID id.ContactID, now time.Time) error
}

// StoreTx serializes read-modify-write sequences over a set of identifier keys.
// Implementations may wrap a database transaction or, in-memory, sharded locks.
type StoreTx interface {
	RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service reconciles contact identifiers into consolidated identities.
type Service struct {
	store          Store
	tx             StoreTx
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	txTimeout      time.Duration
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithStoreTx replaces the default in-process sharded lock.
func WithStoreTx(tx StoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

// WithTxTimeout bounds the default in-process transaction.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.txTimeout = d
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("reconciler/internal/identity/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = &shardedTx{timeout: s.txTimeout}
	}
	return s
}

// Outcomes reported on the identify outcome counter.
const (
	outcomeNewIdentity = "new_identity"
	outcomeExtended    = "extended"
	outcomeMatched     = "matched"
	outcomeMerged      = "merged"
	outcomeError       = "error"
)

// Identify reconciles the request's identifiers with the stored contacts and
// returns the consolidated identity they belong to. It creates at most one
// contact and merges every identity the request bridges. The whole sequence
// runs inside one StoreTx scope keyed by the requested identifiers.
func (s *Service) Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentityView, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "identity.Identify", trace.WithAttributes(
		attribute.Bool("identify.has_email", req.Email != nil),
		attribute.Bool("identify.has_phone", req.PhoneNumber != nil),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		view    *models.IdentityView
		outcome string
	)
	err := s.tx.RunInTx(ctx, req.LockKeys(), func(txCtx context.Context) error {
		var err error
		view, outcome, err = s.reconcile(txCtx, req)
		return err
	})
	if s.metrics != nil {
		s.metrics.ObserveIdentify(start)
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncOutcome(outcomeError)
		}
		err = s.translateError(err, "failed to identify contact")
		s.logFailure(ctx, "identify failed", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncOutcome(outcome)
		s.metrics.ObserveComponentSize(1 + len(view.SecondaryContactIDs))
	}
	span.SetAttributes(
		attribute.String("identify.outcome", outcome),
		attribute.Int64("identify.primary_contact_id", view.PrimaryContactID.Int64()),
	)
	s.logger.InfoContext(ctx, "identity reconciled",
		"request_id", requestcontext.RequestID(ctx),
		"outcome", outcome,
		"primary_contact_id", view.PrimaryContactID,
		"secondary_count", len(view.SecondaryContactIDs),
	)
	return view, nil
}

// reconcile is the body of Identify; it must run inside a StoreTx scope.
func (s *Service) reconcile(ctx context.Context, req models.IdentifyRequest) (*models.IdentityView, string, error) {
	now := requestcontext.Now(ctx)

	matches, err := s.match(ctx, req.Email, req.PhoneNumber)
	if err != nil {
		return nil, "", err
	}

	if len(matches) == 0 {
		root, err := s.createRoot(ctx, req.Email, req.PhoneNumber, now)
		if err != nil {
			return nil, "", err
		}
		view, err := formatView([]*models.Contact{root})
		return view, outcomeNewIdentity, err
	}

	set, err := s.resolve(ctx, matches)
	if err != nil {
		return nil, "", err
	}

	outcome := outcomeMatched
	if needsSecondary(set, req.Email, req.PhoneNumber) {
		root := oldestRoot(set)
		if root == nil {
			return nil, "", dErrors.New(dErrors.CodeDataIntegrity, "resolved component has no primary contact")
		}
		linked, err := s.createLinked(ctx, req.Email, req.PhoneNumber, root.ID, now)
		if err != nil {
			return nil, "", err
		}
		set = append(set, linked)
		outcome = outcomeExtended
	}

	set, merged, err := s.consolidate(ctx, set, now)
	if err != nil {
		return nil, "", err
	}
	if merged {
		outcome = outcomeMerged
	}

	view, err := formatView(set)
	return view, outcome, err
}

// Lookup returns the identity containing contactID without modifying anything.
func (s *Service) Lookup(ctx context.Context, contactID id.ContactID) (*models.IdentityView, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "identity.Lookup", trace.WithAttributes(
		attribute.Int64("contact.id", contactID.Int64()),
	))
	defer span.End()
	if s.metrics != nil {
		defer s.metrics.ObserveLookup(start)
	}

	seed, err := s.store.FindByID(ctx, contactID)
	if err != nil {
		return nil, s.translateError(err, "failed to load contact")
	}

	var view *models.IdentityView
	err = s.tx.RunInTx(ctx, models.IdentifierKeys(seed.Email, seed.PhoneNumber), func(txCtx context.Context) error {
		seed, err := s.store.FindByID(txCtx, contactID)
		if err != nil {
			return err
		}
		if err := seed.Validate(); err != nil {
			return err
		}
		set, err := s.resolve(txCtx, []*models.Contact{seed})
		if err != nil {
			return err
		}
		view, err = formatView(set)
		return err
	})
	if err != nil {
		err = s.translateError(err, "failed to look up identity")
		s.logFailure(ctx, "lookup failed", err, "contact_id", contactID)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	return view, nil
}

// SoftDelete marks a contact deleted. A primary contact that still has live
// secondaries cannot be deleted; deleting it would orphan them.
func (s *Service) SoftDelete(ctx context.Context, contactID id.ContactID) error {
	ctx, span := s.tracer.Start(ctx, "identity.SoftDelete", trace.WithAttributes(
		attribute.Int64("contact.id", contactID.Int64()),
	))
	defer span.End()

	current, err := s.store.FindByID(ctx, contactID)
	if err != nil {
		return s.translateError(err, "failed to load contact")
	}

	err = s.tx.RunInTx(ctx, models.IdentifierKeys(current.Email, current.PhoneNumber), func(txCtx context.Context) error {
		c, err := s.store.FindByID(txCtx, contactID)
		if err != nil {
			return err
		}
		if c.IsRoot() {
			members, err := s.store.FindByRootOrID(txCtx, c.ID)
			if err != nil {
				return err
			}
			if len(members) > 1 {
				return dErrors.New(dErrors.CodeConflict, "contact is the primary of linked contacts")
			}
		}
		now := requestcontext.Now(txCtx)
		if err := s.store.SoftDelete(txCtx, c.ID, now); err != nil {
			return err
		}
		return s.emitAudit(txCtx, audit.Event{
			Timestamp:        now,
			ContactID:        c.ID,
			PrimaryContactID: c.RootID(),
			Action:           string(audit.EventContactDeleted),
		})
	})
	if err != nil {
		err = s.translateError(err, "failed to delete contact")
		s.logFailure(ctx, "soft delete failed", err, "contact_id", contactID)
		span.RecordError(err)
		return err
	}
	return nil
}

// translateError keeps coded domain errors and maps infrastructure sentinels.
// Anything else becomes an internal error with msg.
func (s *Service) translateError(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "contact not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent update, retry the request")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "contact store unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	args := append([]any{
		"request_id", requestcontext.RequestID(ctx),
		"code", string(dErrors.CodeOf(err)),
		"error", err,
	}, attrs...)
	if dErrors.CodeOf(err).IsClientError() {
		s.logger.WarnContext(ctx, msg, args...)
		return
	}
	s.logger.ErrorContext(ctx, msg, args...)
}

// emitAudit logs the event and hands it to the publisher. Publisher failures
// abort the surrounding transaction.
func (s *Service) emitAudit(ctx context.Context, event audit.Event) error {
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	s.logger.InfoContext(ctx, event.Action,
		"log_type", "audit",
		"contact_id", event.ContactID,
		"primary_contact_id", event.PrimaryContactID,
		"request_id", event.RequestID,
	)
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, event)
}
