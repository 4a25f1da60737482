//go:build integration

package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"residuechain/internal/notify"
	"residuechain/internal/notify/outbox"
	id "residuechain/pkg/domain"
	"residuechain/pkg/testutil/containers"
	txcontext "residuechain/pkg/platform/tx"
)

type OutboxStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *outbox.PostgresStore
}

func TestOutboxStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OutboxStoreSuite))
}

func (s *OutboxStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = outbox.NewPostgresStore(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *OutboxStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "notification_outbox"))
}

func (s *OutboxStoreSuite) newNotification() notify.Notification {
	return notify.Notification{
		UserID:    id.UserID(uuid.New()),
		Category:  notify.CategoryInfo,
		Subtype:   notify.SubtypeSampleCollected,
		Message:   "sample collected",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *OutboxStoreSuite) TestEnqueueAndListPending() {
	ctx := context.Background()
	n := s.newNotification()

	s.Require().NoError(s.store.Enqueue(ctx, n))

	pending, err := s.store.ListPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(n.UserID, pending[0].Notification.UserID)
	s.Equal(n.Message, pending[0].Notification.Message)
	s.Equal(outbox.StatusPending, pending[0].Status)
}

func (s *OutboxStoreSuite) TestListPendingOldestFirst() {
	ctx := context.Background()

	first := s.newNotification()
	first.Message = "first"
	s.Require().NoError(s.store.Enqueue(ctx, first))
	time.Sleep(5 * time.Millisecond)
	second := s.newNotification()
	second.Message = "second"
	s.Require().NoError(s.store.Enqueue(ctx, second))

	pending, err := s.store.ListPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal("first", pending[0].Notification.Message)
	s.Equal("second", pending[1].Notification.Message)
}

func (s *OutboxStoreSuite) TestMarkPublishedRemovesFromPending() {
	ctx := context.Background()
	s.Require().NoError(s.store.Enqueue(ctx, s.newNotification()))

	pending, err := s.store.ListPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	s.Require().NoError(s.store.MarkPublished(ctx, pending[0].ID))

	pending, err = s.store.ListPending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *OutboxStoreSuite) TestMarkFailedParksAfterMaxAttempts() {
	ctx := context.Background()
	s.Require().NoError(s.store.Enqueue(ctx, s.newNotification()))

	pending, err := s.store.ListPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	entryID := pending[0].ID

	for attempt := 1; attempt <= 9; attempt++ {
		s.Require().NoError(s.store.MarkFailed(ctx, entryID, attempt, "broker unreachable"))
		pending, err = s.store.ListPending(ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(pending, 1, "attempt %d should keep the entry pending", attempt)
	}

	s.Require().NoError(s.store.MarkFailed(ctx, entryID, 10, "broker unreachable"))
	pending, err = s.store.ListPending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *OutboxStoreSuite) TestEnqueueJoinsTransaction() {
	ctx := context.Background()

	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Enqueue(txcontext.WithTx(ctx, tx), s.newNotification()))
	s.Require().NoError(tx.Rollback())

	pending, err := s.store.ListPending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending, "rolled back enqueue must not surface")
}
