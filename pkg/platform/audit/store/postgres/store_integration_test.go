//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	audit "reconciler/pkg/platform/audit"
	"reconciler/pkg/platform/audit/store/postgres"
	"reconciler/pkg/testutil/containers"
)

type OutboxStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestOutboxStoreSuite(t *testing.T) {
	suite.Run(t, new(OutboxStoreSuite))
}

func (s *OutboxStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *OutboxStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "outbox"))
}

func (s *OutboxStoreSuite) TestAppendClaimAndMark() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		ContactID:        2,
		PrimaryContactID: 1,
		Action:           string(audit.EventContactLinked),
		Timestamp:        time.Now(),
	}))

	var claimed []postgres.Entry
	err := s.store.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		claimed, err = s.store.ClaimPending(txCtx, 10)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(claimed))
		for _, e := range claimed {
			ids = append(ids, e.ID)
		}
		return s.store.MarkPublished(txCtx, ids, time.Now())
	})
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)
	s.Equal("1", claimed[0].AggregateID)
	s.Equal(string(audit.EventContactLinked), claimed[0].EventType)

	err = s.store.WithinTx(ctx, func(txCtx context.Context) error {
		again, err := s.store.ClaimPending(txCtx, 10)
		s.Empty(again)
		return err
	})
	s.Require().NoError(err)
}

func (s *OutboxStoreSuite) TestAppendRollsBackWithTransaction() {
	ctx := context.Background()
	err := s.store.WithinTx(ctx, func(txCtx context.Context) error {
		if err := s.store.Append(txCtx, audit.Event{ContactID: 5, Action: string(audit.EventContactCreated)}); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Require().ErrorIs(err, context.Canceled)

	err = s.store.WithinTx(ctx, func(txCtx context.Context) error {
		pending, err := s.store.ClaimPending(txCtx, 10)
		s.Empty(pending)
		return err
	})
	s.Require().NoError(err)
}
