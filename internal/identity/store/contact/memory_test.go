package contact

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"reconciler/internal/identity/models"
	id "reconciler/pkg/domain"
	"reconciler/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	base  time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.base = time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
}

func strPtr(v string) *string { return &v }

func idPtr(v id.ContactID) *id.ContactID { return &v }

func (s *InMemoryStoreSuite) create(email, phone *string, linked *id.ContactID, offset time.Duration) *models.Contact {
	role := models.RolePrimary
	if linked != nil {
		role = models.RoleSecondary
	}
	c, err := s.store.Create(s.ctx, models.NewContact{
		Email:       email,
		PhoneNumber: phone,
		LinkedID:    linked,
		Role:        role,
		CreatedAt:   s.base.Add(offset),
	})
	s.Require().NoError(err)
	return c
}

func (s *InMemoryStoreSuite) TestCreateAssignsMonotonicIDs() {
	a := s.create(strPtr("a@x.com"), nil, nil, 0)
	b := s.create(nil, strPtr("123"), idPtr(a.ID), time.Minute)

	s.Equal(id.ContactID(1), a.ID)
	s.Equal(id.ContactID(2), b.ID)
	s.Equal(a.CreatedAt, a.UpdatedAt)
}

func (s *InMemoryStoreSuite) TestCreateStampsInsertTimeInIDOrder() {
	var prev *models.Contact
	for i := range 20 {
		c, err := s.store.Create(s.ctx, models.NewContact{
			Email: strPtr(fmt.Sprintf("c%d@x.com", i)),
			Role:  models.RolePrimary,
		})
		s.Require().NoError(err)
		s.False(c.CreatedAt.IsZero())
		if prev != nil {
			s.Greater(c.ID, prev.ID)
			s.False(c.CreatedAt.Before(prev.CreatedAt))
		}
		prev = c
	}
}

func (s *InMemoryStoreSuite) TestFindByIdentifiers() {
	a := s.create(strPtr("a@x.com"), nil, nil, time.Minute)
	b := s.create(strPtr("b@y.com"), strPtr("123"), nil, 0)
	s.create(strPtr("c@z.com"), nil, nil, 2*time.Minute)

	s.Run("matches either identifier, oldest first", func() {
		found, err := s.store.FindByIdentifiers(s.ctx, strPtr("a@x.com"), strPtr("123"))
		s.Require().NoError(err)
		s.Require().Len(found, 2)
		s.Equal(b.ID, found[0].ID)
		s.Equal(a.ID, found[1].ID)
	})

	s.Run("nil identifiers match nothing", func() {
		found, err := s.store.FindByIdentifiers(s.ctx, nil, nil)
		s.Require().NoError(err)
		s.Empty(found)
	})

	s.Run("soft deleted contacts are excluded", func() {
		s.Require().NoError(s.store.SoftDelete(s.ctx, a.ID, s.base))
		found, err := s.store.FindByIdentifiers(s.ctx, strPtr("a@x.com"), nil)
		s.Require().NoError(err)
		s.Empty(found)
	})
}

func (s *InMemoryStoreSuite) TestFindByRootOrID() {
	root := s.create(strPtr("a@x.com"), nil, nil, 0)
	linked := s.create(nil, strPtr("123"), idPtr(root.ID), time.Minute)
	s.create(strPtr("other@x.com"), nil, nil, 2*time.Minute)

	found, err := s.store.FindByRootOrID(s.ctx, root.ID)
	s.Require().NoError(err)
	s.Require().Len(found, 2)
	s.Equal(root.ID, found[0].ID)
	s.Equal(linked.ID, found[1].ID)
}

func (s *InMemoryStoreSuite) TestUpdateAndRewriteLinks() {
	older := s.create(strPtr("a@x.com"), nil, nil, 0)
	newer := s.create(strPtr("b@y.com"), nil, nil, time.Minute)
	dep := s.create(nil, strPtr("456"), idPtr(newer.ID), 2*time.Minute)

	now := s.base.Add(time.Hour)
	s.Require().NoError(s.store.Update(s.ctx, newer.ID, models.ContactUpdate{
		LinkedID:  idPtr(older.ID),
		Role:      models.RoleSecondary,
		UpdatedAt: now,
	}))
	n, err := s.store.RewriteLinks(s.ctx, newer.ID, older.ID, now)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	got, err := s.store.FindByID(s.ctx, dep.ID)
	s.Require().NoError(err)
	s.Equal(older.ID, *got.LinkedID)
	s.Equal(now, got.UpdatedAt)

	demoted, err := s.store.FindByID(s.ctx, newer.ID)
	s.Require().NoError(err)
	s.True(demoted.IsLinked())
	s.Equal(older.ID, demoted.RootID())
}

func (s *InMemoryStoreSuite) TestNotFound() {
	_, err := s.store.FindByID(s.ctx, 99)
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.store.Update(s.ctx, 99, models.ContactUpdate{Role: models.RolePrimary})
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.store.SoftDelete(s.ctx, 99, s.base)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestReturnedContactsAreCopies() {
	c := s.create(strPtr("a@x.com"), nil, nil, 0)
	*c.Email = "mutated@x.com"

	got, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal("a@x.com", *got.Email)
}
