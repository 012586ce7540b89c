package audit

import (
	"context"
	"time"

	id "reconciler/pkg/domain"
)

// EventCategory routes events downstream of the outbox.
type EventCategory string

// CategoryCompliance covers every change to the persisted identity graph.
const CategoryCompliance EventCategory = "compliance"

// AuditEvent names an auditable action.
type AuditEvent string

const (
	EventContactCreated       AuditEvent = "contact_created"
	EventContactLinked        AuditEvent = "contact_linked"
	EventIdentityConsolidated AuditEvent = "identity_consolidated"
	EventContactDeleted       AuditEvent = "contact_deleted"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventContactCreated:       CategoryCompliance,
	EventContactLinked:        CategoryCompliance,
	EventIdentityConsolidated: CategoryCompliance,
	EventContactDeleted:       CategoryCompliance,
}

// Category reports the category of a known action.
func (e AuditEvent) Category() (EventCategory, bool) {
	cat, ok := eventCategories[e]
	return cat, ok
}

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// ContactID is the contact the action was applied to.
	ContactID id.ContactID
	// PrimaryContactID is the root of the component after the action.
	PrimaryContactID id.ContactID
	Action           string
	Reason           string
	RequestID        string
}

// Store persists audit events. Implementations must honour a transaction
// carried in the context so events commit atomically with the change they describe.
type Store interface {
	Append(ctx context.Context, event Event) error
}
