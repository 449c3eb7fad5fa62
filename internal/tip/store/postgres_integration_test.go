//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tipline/internal/tip/models"
	"tipline/internal/tip/store"
	id "tipline/pkg/domain"
	"tipline/pkg/sentinel"
	"tipline/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(s.ctx))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "tips", "receipts"))
}

func (s *PostgresStoreSuite) newTip(recipients ...id.RecipientID) *models.Tip {
	tip := &models.Tip{
		ID:        id.NewTipID(),
		State:     models.StateOpen,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		ExpiresAt: time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond),
		ContentFields: []models.ContentField{
			{StepID: 1, FieldID: "content", Value: "body"},
			{StepID: 1, FieldID: "location", Value: "warehouse"},
		},
		AssignedRecipients: make(map[id.RecipientID]struct{}),
	}
	for _, r := range recipients {
		tip.AssignedRecipients[r] = struct{}{}
	}
	return tip
}

func (s *PostgresStoreSuite) TestCreateRoundtrip() {
	rid := id.NewRecipientID()
	tip := s.newTip(rid)
	tip.Attachments = []models.AttachmentRef{{
		ID:         id.NewAttachmentID(),
		Name:       "evidence.pdf",
		StorageKey: "k1",
		UploadedAt: time.Now().UTC().Truncate(time.Microsecond),
	}}
	s.Require().NoError(s.store.Create(s.ctx, tip, "1111222233334444"))

	got, err := s.store.Get(s.ctx, tip.ID)
	s.Require().NoError(err)
	s.Equal(tip.State, got.State)
	s.Equal(tip.ContentFields, got.ContentFields)
	s.Require().Len(got.Attachments, 1)
	s.Equal("evidence.pdf", got.Attachments[0].Name)
	s.Contains(got.AssignedRecipients, rid)

	resolved, err := s.store.ResolveReceipt(s.ctx, "1111222233334444")
	s.Require().NoError(err)
	s.Equal(tip.ID, resolved)

	ok, err := s.store.ReceiptExists(s.ctx, "1111222233334444")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *PostgresStoreSuite) TestDuplicateReceiptConflicts() {
	s.Require().NoError(s.store.Create(s.ctx, s.newTip(), "1111222233334444"))

	err := s.store.Create(s.ctx, s.newTip(), "1111222233334444")
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	// The conflicting transaction rolled back whole.
	tips, err := s.store.ListExpired(s.ctx, time.Now().Add(2*time.Hour))
	s.Require().NoError(err)
	s.Len(tips, 1)
}

func (s *PostgresStoreSuite) TestUnknownLookups() {
	_, err := s.store.Get(s.ctx, id.NewTipID())
	s.Require().ErrorIs(err, store.ErrNotFound)

	_, err = s.store.ResolveReceipt(s.ctx, "9999999999999999")
	s.Require().ErrorIs(err, store.ErrNotFound)

	ok, err := s.store.ReceiptExists(s.ctx, "9999999999999999")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *PostgresStoreSuite) TestCommentSequence() {
	tip := s.newTip()
	s.Require().NoError(s.store.Create(s.ctx, tip, "1111222233334444"))

	for i, body := range []string{"first", "second", "third"} {
		c, err := s.store.AppendComment(s.ctx, tip.ID, &models.Comment{
			ID:         id.NewCommentID(),
			AuthorRole: models.RoleWhistleblower,
			Body:       body,
			CreatedAt:  time.Now().UTC(),
		})
		s.Require().NoError(err)
		s.Equal(i, c.Seq)
	}

	comments, err := s.store.ListComments(s.ctx, tip.ID)
	s.Require().NoError(err)
	s.Require().Len(comments, 3)
	s.Equal("first", comments[0].Body)
	s.Equal("third", comments[2].Body)
}

func (s *PostgresStoreSuite) TestConcurrentCommentsGetUniqueSequence() {
	tip := s.newTip()
	s.Require().NoError(s.store.Create(s.ctx, tip, "1111222233334444"))

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.AppendComment(s.ctx, tip.ID, &models.Comment{
				ID:         id.NewCommentID(),
				AuthorRole: models.RoleRecipient,
				Body:       "race",
				CreatedAt:  time.Now().UTC(),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	comments, err := s.store.ListComments(s.ctx, tip.ID)
	s.Require().NoError(err)
	s.Require().Len(comments, writers)
	seen := map[int]bool{}
	for _, c := range comments {
		s.False(seen[c.Seq], "seq %d assigned twice", c.Seq)
		seen[c.Seq] = true
	}
}

func (s *PostgresStoreSuite) TestCommentOnDeletedTip() {
	tip := s.newTip()
	s.Require().NoError(s.store.Create(s.ctx, tip, "1111222233334444"))
	s.Require().NoError(s.store.UpdateState(s.ctx, tip.ID, models.StateDeleted, time.Time{}))

	_, err := s.store.AppendComment(s.ctx, tip.ID, &models.Comment{
		ID:         id.NewCommentID(),
		AuthorRole: models.RoleWhistleblower,
		Body:       "too late",
		CreatedAt:  time.Now().UTC(),
	})
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *PostgresStoreSuite) TestListFor() {
	rid := id.NewRecipientID()
	mine := s.newTip(rid)
	s.Require().NoError(s.store.Create(s.ctx, mine, "1111222233334444"))
	s.Require().NoError(s.store.Create(s.ctx, s.newTip(id.NewRecipientID()), "2222333344445555"))

	deleted := s.newTip(rid)
	s.Require().NoError(s.store.Create(s.ctx, deleted, "3333444455556666"))
	s.Require().NoError(s.store.UpdateState(s.ctx, deleted.ID, models.StateDeleted, time.Time{}))

	tips, err := s.store.ListFor(s.ctx, rid)
	s.Require().NoError(err)
	s.Require().Len(tips, 1)
	s.Equal(mine.ID, tips[0].ID)
}

func (s *PostgresStoreSuite) TestExpiryAndPurge() {
	tip := s.newTip()
	s.Require().NoError(s.store.Create(s.ctx, tip, "1111222233334444"))

	expired, err := s.store.ListExpired(s.ctx, time.Now().Add(2*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(tip.ID, expired[0])

	s.Require().NoError(s.store.UpdateState(s.ctx, tip.ID, models.StateDeleted, time.Time{}))
	deleted, err := s.store.ListDeleted(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(deleted, 1)

	s.Require().NoError(s.store.Purge(s.ctx, tip.ID))

	_, err = s.store.Get(s.ctx, tip.ID)
	s.Require().ErrorIs(err, store.ErrNotFound)
	_, err = s.store.ResolveReceipt(s.ctx, "1111222233334444")
	s.Require().ErrorIs(err, store.ErrNotFound, "receipt binding removed with the tip")

	s.Require().ErrorIs(s.store.Purge(s.ctx, tip.ID), store.ErrNotFound)
}
