package service

import (
	"context"
	"time"

	"reconciler/internal/identity/models"
	id "reconciler/pkg/domain"
	dErrors "reconciler/pkg/domain-errors"
	audit "reconciler/pkg/platform/audit"
)

func (s *Service) createRoot(ctx context.Context, email, phone *string, now time.Time) (*models.Contact, error) {
	c, err := s.create(ctx, models.NewContact{
		Email:       email,
		PhoneNumber: phone,
		Role:        models.RolePrimary,
	})
	if err != nil {
		return nil, err
	}
	if err := s.emitAudit(ctx, audit.Event{
		Timestamp:        now,
		ContactID:        c.ID,
		PrimaryContactID: c.ID,
		Action:           string(audit.EventContactCreated),
		Reason:           "no matching contact",
	}); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) createLinked(ctx context.Context, email, phone *string, rootID id.ContactID, now time.Time) (*models.Contact, error) {
	c, err := s.create(ctx, models.NewContact{
		Email:       email,
		PhoneNumber: phone,
		LinkedID:    &rootID,
		Role:        models.RoleSecondary,
	})
	if err != nil {
		return nil, err
	}
	if err := s.emitAudit(ctx, audit.Event{
		Timestamp:        now,
		ContactID:        c.ID,
		PrimaryContactID: rootID,
		Action:           string(audit.EventContactCreated),
		Reason:           "new identifier for existing identity",
	}); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) create(ctx context.Context, nc models.NewContact) (*models.Contact, error) {
	if err := nc.Validate(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "refusing to create invalid contact")
	}
	c, err := s.store.Create(ctx, nc)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncContactCreated(string(nc.Role))
	}
	return c, nil
}
