// Package contact holds the contact store adapters: in-memory, Postgres and Badger.
package contact

import (
	"context"
	"slices"
	"sync"
	"time"

	"reconciler/internal/identity/models"
	id "reconciler/pkg/domain"
	"reconciler/pkg/platform/sentinel"
)

// InMemory is a process-local contact store. Returned contacts are copies.
type InMemory struct {
	mu       sync.RWMutex
	contacts map[id.ContactID]*models.Contact
	lastID   id.ContactID

	// lastCreated keeps CreatedAt in ID order when the wall clock steps back.
	lastCreated time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{contacts: make(map[id.ContactID]*models.Contact)}
}

func (s *InMemory) FindByIdentifiers(_ context.Context, email, phone *string) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Contact
	for _, c := range s.contacts {
		if c.IsDeleted() {
			continue
		}
		if (email != nil && c.HasEmail(*email)) || (phone != nil && c.HasPhoneNumber(*phone)) {
			out = append(out, clone(c))
		}
	}
	sortContacts(out)
	return out, nil
}

func (s *InMemory) FindByRootOrID(_ context.Context, rootID id.ContactID) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Contact
	for _, c := range s.contacts {
		if c.IsDeleted() {
			continue
		}
		if c.ID == rootID || (c.LinkedID != nil && *c.LinkedID == rootID) {
			out = append(out, clone(c))
		}
	}
	sortContacts(out)
	return out, nil
}

func (s *InMemory) FindByID(_ context.Context, contactID id.ContactID) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[contactID]
	if !ok || c.IsDeleted() {
		return nil, sentinel.ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemory) Create(_ context.Context, nc models.NewContact) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nc.CreatedAt.IsZero() {
		nc.CreatedAt = time.Now()
		if nc.CreatedAt.Before(s.lastCreated) {
			nc.CreatedAt = s.lastCreated
		}
		s.lastCreated = nc.CreatedAt
	}
	s.lastID++
	c := nc.Build(s.lastID)
	s.contacts[c.ID] = clone(c)
	return c, nil
}

func (s *InMemory) Update(_ context.Context, contactID id.ContactID, update models.ContactUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[contactID]
	if !ok || c.IsDeleted() {
		return sentinel.ErrNotFound
	}
	c.LinkedID = cloneID(update.LinkedID)
	c.Role = update.Role
	c.UpdatedAt = stamp(update.UpdatedAt)
	return nil
}

func (s *InMemory) RewriteLinks(_ context.Context, oldRootID, newRootID id.ContactID, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, c := range s.contacts {
		if c.IsDeleted() || c.LinkedID == nil || *c.LinkedID != oldRootID {
			continue
		}
		c.LinkedID = cloneID(&newRootID)
		c.UpdatedAt = stamp(now)
		n++
	}
	return n, nil
}

func (s *InMemory) SoftDelete(_ context.Context, contactID id.ContactID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[contactID]
	if !ok || c.IsDeleted() {
		return sentinel.ErrNotFound
	}
	deletedAt := stamp(now)
	c.DeletedAt = &deletedAt
	c.UpdatedAt = deletedAt
	return nil
}

// Put stores c as given, bypassing invariants. Used to seed fixtures,
// including deliberately inconsistent ones.
func (s *InMemory) Put(c *models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contacts[c.ID] = clone(c)
	if c.ID > s.lastID {
		s.lastID = c.ID
	}
}

// All returns every stored contact including deleted ones, ordered by ID.
func (s *InMemory) All() []*models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, clone(c))
	}
	slices.SortFunc(out, func(a, b *models.Contact) int { return int(a.ID - b.ID) })
	return out
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func sortContacts(contacts []*models.Contact) {
	slices.SortStableFunc(contacts, func(a, b *models.Contact) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
}

func clone(c *models.Contact) *models.Contact {
	cp := *c
	cp.Email = cloneString(c.Email)
	cp.PhoneNumber = cloneString(c.PhoneNumber)
	cp.LinkedID = cloneID(c.LinkedID)
	if c.DeletedAt != nil {
		d := *c.DeletedAt
		cp.DeletedAt = &d
	}
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneID(v *id.ContactID) *id.ContactID {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
