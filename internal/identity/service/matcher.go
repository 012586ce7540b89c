package service

import (
	"context"
	"slices"

	"reconciler/internal/identity/models"
)

// match returns live contacts sharing the requested email or phone number,
// oldest first. An empty result means the identifiers are unknown.
func (s *Service) match(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	if email == nil && phone == nil {
		return nil, nil
	}
	found, err := s.store.FindByIdentifiers(ctx, email, phone)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Contact, 0, len(found))
	for _, c := range found {
		if c.IsDeleted() {
			continue
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sortByAge(out)
	return out, nil
}

// sortByAge orders contacts by CreatedAt then ID.
func sortByAge(contacts []*models.Contact) {
	slices.SortStableFunc(contacts, func(a, b *models.Contact) int {
		switch {
		case a.OlderThan(b):
			return -1
		case b.OlderThan(a):
			return 1
		default:
			return 0
		}
	})
}
