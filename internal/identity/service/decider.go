package service

import "reconciler/internal/identity/models"

// needsSecondary reports whether the request carries an identifier the
// resolved set does not already hold.
func needsSecondary(set []*models.Contact, email, phone *string) bool {
	hasEmail, hasPhone := false, false
	for _, c := range set {
		if email != nil && c.HasEmail(*email) {
			hasEmail = true
		}
		if phone != nil && c.HasPhoneNumber(*phone) {
			hasPhone = true
		}
	}

	switch {
	case email != nil && phone != nil:
		return !hasEmail || !hasPhone
	case email != nil:
		return !hasEmail
	case phone != nil:
		return !hasPhone
	default:
		return false
	}
}

// oldestRoot returns the earliest-created primary in set, or nil.
func oldestRoot(set []*models.Contact) *models.Contact {
	var oldest *models.Contact
	for _, c := range set {
		if !c.IsRoot() {
			continue
		}
		if oldest == nil || c.OlderThan(oldest) {
			oldest = c
		}
	}
	return oldest
}
