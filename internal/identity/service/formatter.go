package service

import (
	"slices"

	"reconciler/internal/identity/models"
	id "reconciler/pkg/domain"
	dErrors "reconciler/pkg/domain-errors"
	"reconciler/pkg/platform/strings"
)

// formatView reduces a consolidated component to its external view.
// Anything other than exactly one primary is a consolidation bug.
func formatView(set []*models.Contact) (*models.IdentityView, error) {
	var (
		primary     *models.Contact
		roots       int
		emails      []string
		phones      []string
		secondaries = make([]id.ContactID, 0, len(set))
	)
	for _, c := range set {
		if c.IsDeleted() {
			continue
		}
		if c.Email != nil {
			emails = append(emails, *c.Email)
		}
		if c.PhoneNumber != nil {
			phones = append(phones, *c.PhoneNumber)
		}
		if c.IsRoot() {
			roots++
			primary = c
			continue
		}
		secondaries = append(secondaries, c.ID)
	}
	if roots != 1 {
		return nil, dErrors.New(dErrors.CodeDataIntegrity, "identity component must have exactly one primary contact")
	}

	slices.Sort(secondaries)
	return &models.IdentityView{
		PrimaryContactID:    primary.ID,
		Emails:              strings.SortedUnique(emails),
		PhoneNumbers:        strings.SortedUnique(phones),
		SecondaryContactIDs: slices.Compact(secondaries),
	}, nil
}
