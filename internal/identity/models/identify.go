package models

import (
	"sort"

	id "reconciler/pkg/domain"
	dErrors "reconciler/pkg/domain-errors"
)

// IdentifyRequest carries the identifiers of one identify call.
// Values are compared exactly as given; nil means absent.
type IdentifyRequest struct {
	Email       *string
	PhoneNumber *string
}

func (r IdentifyRequest) Validate() error {
	if r.Email == nil && r.PhoneNumber == nil {
		return dErrors.New(dErrors.CodeValidation, "Either email or phoneNumber must be provided")
	}
	return nil
}

// LockKeys names the identifiers the request reads and may write, sorted.
func (r IdentifyRequest) LockKeys() []string {
	return IdentifierKeys(r.Email, r.PhoneNumber)
}

// IdentifierKeys builds sorted lock keys for a pair of optional identifiers.
func IdentifierKeys(email, phone *string) []string {
	keys := make([]string, 0, 2)
	if email != nil {
		keys = append(keys, "email:"+*email)
	}
	if phone != nil {
		keys = append(keys, "phone:"+*phone)
	}
	sort.Strings(keys)
	return keys
}

// IdentityView is the consolidated identity of one component.
type IdentityView struct {
	PrimaryContactID    id.ContactID
	Emails              []string
	PhoneNumbers        []string
	SecondaryContactIDs []id.ContactID
}
