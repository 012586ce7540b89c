package models

import (
	"time"

	id "reconciler/pkg/domain"
	dErrors "reconciler/pkg/domain-errors"
)

// Role is a contact's position in its identity component.
// Stored and wire values use the linkPrecedence vocabulary ("primary", "secondary").
type Role string

const (
	// RolePrimary marks the root of a component.
	RolePrimary Role = "primary"
	// RoleSecondary marks a contact linked to a root.
	RoleSecondary Role = "secondary"
)

func (r Role) IsValid() bool {
	return r == RolePrimary || r == RoleSecondary
}

// CanTransitionTo reports whether r may move to target.
// The only transition is primary -> secondary.
func (r Role) CanTransitionTo(target Role) bool {
	return r == RolePrimary && target == RoleSecondary
}

// ParseRole converts a stored value into a Role.
// Unknown values mean the store holds data this service never writes.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeDataIntegrity, "unrecognized contact role")
	}
	return r, nil
}

// Contact is one observation of a person's identifiers.
//
// Invariants:
//   - At least one of Email and PhoneNumber is set
//   - A primary contact has no LinkedID
//   - A secondary contact has a LinkedID, which after consolidation names the component's primary
//   - Role moves primary -> secondary only, never back
type Contact struct {
	ID          id.ContactID  `json:"id"`
	Email       *string       `json:"email"`
	PhoneNumber *string       `json:"phoneNumber"`
	LinkedID    *id.ContactID `json:"linkedId"`
	Role        Role          `json:"linkPrecedence"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	DeletedAt   *time.Time    `json:"deletedAt"`
}

func (c *Contact) IsRoot() bool {
	return c.Role == RolePrimary
}

func (c *Contact) IsLinked() bool {
	return c.Role == RoleSecondary
}

func (c *Contact) IsDeleted() bool {
	return c.DeletedAt != nil
}

// RootID returns the ID of the contact this one defers to: its link for
// secondaries, itself for primaries.
func (c *Contact) RootID() id.ContactID {
	if c.LinkedID != nil {
		return *c.LinkedID
	}
	return c.ID
}

// HasEmail reports whether the contact carries exactly this email.
func (c *Contact) HasEmail(email string) bool {
	return c.Email != nil && *c.Email == email
}

// HasPhoneNumber reports whether the contact carries exactly this phone number.
func (c *Contact) HasPhoneNumber(phone string) bool {
	return c.PhoneNumber != nil && *c.PhoneNumber == phone
}

// OlderThan orders contacts by creation time, then ID.
func (c *Contact) OlderThan(other *Contact) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// Validate checks the structural invariants of a persisted contact.
func (c *Contact) Validate() error {
	if !c.Role.IsValid() {
		return dErrors.New(dErrors.CodeDataIntegrity, "unrecognized contact role")
	}
	if c.Email == nil && c.PhoneNumber == nil {
		return dErrors.New(dErrors.CodeDataIntegrity, "contact has no identifiers")
	}
	if c.IsRoot() && c.LinkedID != nil {
		return dErrors.New(dErrors.CodeDataIntegrity, "primary contact has a link")
	}
	if c.IsLinked() && c.LinkedID == nil {
		return dErrors.New(dErrors.CodeDataIntegrity, "secondary contact has no link")
	}
	return nil
}

// CanDemote checks if the contact can become a secondary of another root.
// Use with ApplyDemotion.
func (c *Contact) CanDemote(rootID id.ContactID) error {
	if !c.Role.CanTransitionTo(RoleSecondary) {
		return dErrors.New(dErrors.CodeInvariantViolation, "contact is already secondary")
	}
	if rootID == c.ID {
		return dErrors.New(dErrors.CodeInvariantViolation, "contact cannot link to itself")
	}
	return nil
}

// ApplyDemotion links the contact under rootID.
// Call CanDemote first.
func (c *Contact) ApplyDemotion(rootID id.ContactID, now time.Time) {
	c.Role = RoleSecondary
	c.LinkedID = &rootID
	c.UpdatedAt = now
}

// ApplyRelink points an already secondary contact at rootID.
func (c *Contact) ApplyRelink(rootID id.ContactID, now time.Time) {
	c.LinkedID = &rootID
	c.UpdatedAt = now
}

// NewContact is the input for creating a contact. The store assigns ID.
type NewContact struct {
	Email       *string
	PhoneNumber *string
	LinkedID    *id.ContactID
	Role        Role
	// CreatedAt is left zero by the service; the store stamps insert time so
	// CreatedAt order follows ID order. Fixtures and imports may set it.
	CreatedAt time.Time
}

// Validate checks the new record would satisfy Contact invariants.
func (n NewContact) Validate() error {
	if n.Email == nil && n.PhoneNumber == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "contact requires an email or phone number")
	}
	switch n.Role {
	case RolePrimary:
		if n.LinkedID != nil {
			return dErrors.New(dErrors.CodeInvariantViolation, "primary contact cannot have a link")
		}
	case RoleSecondary:
		if n.LinkedID == nil || n.LinkedID.IsNil() {
			return dErrors.New(dErrors.CodeInvariantViolation, "secondary contact requires a link")
		}
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown contact role")
	}
	return nil
}

// Build materializes the persisted form once the store has assigned an ID.
func (n NewContact) Build(contactID id.ContactID) *Contact {
	return &Contact{
		ID:          contactID,
		Email:       n.Email,
		PhoneNumber: n.PhoneNumber,
		LinkedID:    n.LinkedID,
		Role:        n.Role,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.CreatedAt,
	}
}

// ContactUpdate carries the mutable fields of a contact. The store bumps UpdatedAt.
type ContactUpdate struct {
	LinkedID  *id.ContactID
	Role      Role
	UpdatedAt time.Time
}
