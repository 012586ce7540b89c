package service

import (
	"context"
	"time"

	"reconciler/internal/identity/models"
	id "reconciler/pkg/domain"
	dErrors "reconciler/pkg/domain-errors"
	audit "reconciler/pkg/platform/audit"
)

// maxConsolidationPasses bounds merge passes. Every pass demotes at least one
// primary and demotion is one-way, so a correct store converges in one or two.
const maxConsolidationPasses = 8

// consolidate merges every primary in set under the oldest one and points
// every secondary directly at it. After each pass the component is
// re-resolved from the surviving root's identifiers, which may surface more
// primaries; passes repeat until a single flat component remains. It
// reports whether any primary was demoted.
func (s *Service) consolidate(ctx context.Context, set []*models.Contact, now time.Time) ([]*models.Contact, bool, error) {
	merged := false
	for pass := 0; ; pass++ {
		canonical := oldestRoot(set)
		if canonical == nil {
			return nil, merged, dErrors.New(dErrors.CodeDataIntegrity, "resolved component has no primary contact")
		}

		var redundant, stray []*models.Contact
		demoted := make(map[id.ContactID]struct{})
		for _, c := range set {
			if c.ID != canonical.ID && c.IsRoot() {
				redundant = append(redundant, c)
				demoted[c.ID] = struct{}{}
			}
		}
		for _, c := range set {
			if !c.IsLinked() || c.RootID() == canonical.ID {
				continue
			}
			// Dependents of a demoted root are handled by RewriteLinks.
			if _, ok := demoted[c.RootID()]; ok {
				continue
			}
			stray = append(stray, c)
		}
		if len(redundant) == 0 && len(stray) == 0 {
			return set, merged, nil
		}
		if pass == maxConsolidationPasses {
			return nil, merged, dErrors.New(dErrors.CodeDataIntegrity, "consolidation did not converge")
		}

		var rewritten int64
		for _, r := range redundant {
			n, err := s.demote(ctx, r, canonical, now)
			if err != nil {
				return nil, merged, err
			}
			rewritten += n
		}
		for _, c := range stray {
			if err := s.relink(ctx, c, canonical, now); err != nil {
				return nil, merged, err
			}
			rewritten++
		}
		if len(redundant) > 0 {
			merged = true
		}
		if s.metrics != nil {
			s.metrics.ObserveConsolidation(len(redundant), rewritten)
		}

		seeds, err := s.match(ctx, canonical.Email, canonical.PhoneNumber)
		if err != nil {
			return nil, merged, err
		}
		set, err = s.resolve(ctx, append(seeds, canonical))
		if err != nil {
			return nil, merged, err
		}
	}
}

// demote turns root r into a secondary of canonical and re-points r's dependents.
func (s *Service) demote(ctx context.Context, r, canonical *models.Contact, now time.Time) (int64, error) {
	if err := r.CanDemote(canonical.ID); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeDataIntegrity, "cannot demote contact")
	}
	r.ApplyDemotion(canonical.ID, now)
	if err := s.store.Update(ctx, r.ID, models.ContactUpdate{
		LinkedID:  r.LinkedID,
		Role:      r.Role,
		UpdatedAt: now,
	}); err != nil {
		return 0, err
	}
	n, err := s.store.RewriteLinks(ctx, r.ID, canonical.ID, now)
	if err != nil {
		return 0, err
	}

	if err := s.emitAudit(ctx, audit.Event{
		Timestamp:        now,
		ContactID:        r.ID,
		PrimaryContactID: canonical.ID,
		Action:           string(audit.EventIdentityConsolidated),
		Reason:           "identifiers bridge two identities",
	}); err != nil {
		return 0, err
	}
	return n, nil
}

// relink points a secondary that skipped a level directly at canonical.
func (s *Service) relink(ctx context.Context, c, canonical *models.Contact, now time.Time) error {
	c.ApplyRelink(canonical.ID, now)
	if err := s.store.Update(ctx, c.ID, models.ContactUpdate{
		LinkedID:  c.LinkedID,
		Role:      c.Role,
		UpdatedAt: now,
	}); err != nil {
		return err
	}
	return s.emitAudit(ctx, audit.Event{
		Timestamp:        now,
		ContactID:        c.ID,
		PrimaryContactID: canonical.ID,
		Action:           string(audit.EventContactLinked),
		Reason:           "flattened link chain",
	})
}
