package service

import (
	"context"
	"errors"

	"reconciler/internal/identity/models"
	id "reconciler/pkg/domain"
	dErrors "reconciler/pkg/domain-errors"
	"reconciler/pkg/platform/sentinel"
)

// resolve expands seed contacts into the full membership of every component
// they touch. Every member is climbed to its root and has its direct
// dependents fetched, so chains left by an unfinished consolidation are
// found from any entry point. Visited sets make inconsistent or cyclic links
// terminate. The result is deduplicated and ordered by age.
func (s *Service) resolve(ctx context.Context, seeds []*models.Contact) ([]*models.Contact, error) {
	members := make(map[id.ContactID]*models.Contact, len(seeds))
	expanded := make(map[id.ContactID]struct{})
	var queue []*models.Contact

	discover := func(c *models.Contact) {
		if _, seen := members[c.ID]; !seen {
			members[c.ID] = c
			queue = append(queue, c)
		}
	}
	// expand queues everything linked directly to contactID.
	expand := func(contactID id.ContactID) error {
		if _, done := expanded[contactID]; done {
			return nil
		}
		expanded[contactID] = struct{}{}

		group, err := s.store.FindByRootOrID(ctx, contactID)
		if err != nil {
			return err
		}
		for _, c := range group {
			if c.IsDeleted() {
				continue
			}
			if err := c.Validate(); err != nil {
				return err
			}
			discover(c)
		}
		return nil
	}

	for _, c := range seeds {
		discover(c)
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		root, path, err := s.climb(ctx, current, members)
		if err != nil {
			return nil, err
		}
		for _, c := range path {
			discover(c)
		}
		if err := expand(root.ID); err != nil {
			return nil, err
		}
		if !current.IsRoot() {
			if err := expand(current.ID); err != nil {
				return nil, err
			}
		}
	}

	out := make([]*models.Contact, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	sortByAge(out)
	return out, nil
}

// climb follows links upward from c until it reaches a primary contact.
// It returns that root and the intermediate contacts fetched on the way.
func (s *Service) climb(ctx context.Context, c *models.Contact, known map[id.ContactID]*models.Contact) (*models.Contact, []*models.Contact, error) {
	var path []*models.Contact
	visited := map[id.ContactID]struct{}{c.ID: {}}

	for !c.IsRoot() {
		next := c.RootID()
		if _, loop := visited[next]; loop {
			return nil, nil, dErrors.New(dErrors.CodeDataIntegrity, "contact links form a cycle")
		}
		visited[next] = struct{}{}

		parent, ok := known[next]
		if !ok {
			fetched, err := s.store.FindByID(ctx, next)
			if err != nil {
				if errors.Is(err, sentinel.ErrNotFound) {
					return nil, nil, dErrors.Wrap(err, dErrors.CodeDataIntegrity, "contact links to a missing contact")
				}
				return nil, nil, err
			}
			if err := fetched.Validate(); err != nil {
				return nil, nil, err
			}
			parent = fetched
			path = append(path, parent)
		}
		c = parent
	}
	return c, path, nil
}
