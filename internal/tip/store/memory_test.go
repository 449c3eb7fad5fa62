package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tipline/internal/tip/models"
	id "tipline/pkg/domain"
	"tipline/pkg/sentinel"
)

type InMemorySuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *InMemorySuite) newTip(recipients ...id.RecipientID) *models.Tip {
	tip := &models.Tip{
		ID:                 id.NewTipID(),
		State:              models.StateOpen,
		CreatedAt:          time.Now().UTC(),
		ExpiresAt:          time.Now().UTC().Add(time.Hour),
		ContentFields:      []models.ContentField{{StepID: 1, FieldID: "content", Value: "body"}},
		AssignedRecipients: make(map[id.RecipientID]struct{}),
	}
	for _, r := range recipients {
		tip.AssignedRecipients[r] = struct{}{}
	}
	return tip
}

func (s *InMemorySuite) TestCreateAndResolve() {
	tip := s.newTip()
	s.Require().NoError(s.store.Create(s.ctx, tip, "1111222233334444"))

	s.Run("receipt resolves to tip", func() {
		got, err := s.store.ResolveReceipt(s.ctx, "1111222233334444")
		s.Require().NoError(err)
		s.Equal(tip.ID, got)
	})

	s.Run("receipt exists", func() {
		ok, err := s.store.ReceiptExists(s.ctx, "1111222233334444")
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("duplicate receipt conflicts", func() {
		err := s.store.Create(s.ctx, s.newTip(), "1111222233334444")
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("unknown receipt misses", func() {
		_, err := s.store.ResolveReceipt(s.ctx, "9999999999999999")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("stored tip is isolated from caller mutation", func() {
		tip.ContentFields[0].Value = "mutated"
		got, err := s.store.Get(s.ctx, tip.ID)
		s.Require().NoError(err)
		s.Equal("body", got.ContentFields[0].Value)
	})
}

func (s *InMemorySuite) TestComments() {
	tip := s.newTip()
	s.Require().NoError(s.store.Create(s.ctx, tip, "1111222233334444"))

	s.Run("sequence numbers are dense and ordered", func() {
		for i := range 3 {
			stored, err := s.store.AppendComment(s.ctx, tip.ID, &models.Comment{
				ID:         id.NewCommentID(),
				AuthorRole: models.RoleWhistleblower,
				Body:       "comment",
				CreatedAt:  time.Now().UTC(),
			})
			s.Require().NoError(err)
			s.Equal(i, stored.Seq)
		}

		comments, err := s.store.ListComments(s.ctx, tip.ID)
		s.Require().NoError(err)
		s.Require().Len(comments, 3)
		for i, c := range comments {
			s.Equal(i, c.Seq)
		}
	})

	s.Run("concurrent appends never share a seq", func() {
		other := s.newTip()
		s.Require().NoError(s.store.Create(s.ctx, other, "5555666677778888"))

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.store.AppendComment(s.ctx, other.ID, &models.Comment{
					ID:         id.NewCommentID(),
					AuthorRole: models.RoleRecipient,
					Body:       "concurrent",
					CreatedAt:  time.Now().UTC(),
				})
				s.NoError(err)
			}()
		}
		wg.Wait()

		comments, err := s.store.ListComments(s.ctx, other.ID)
		s.Require().NoError(err)
		s.Require().Len(comments, 20)
		seen := make(map[int]bool)
		for _, c := range comments {
			s.False(seen[c.Seq])
			seen[c.Seq] = true
		}
	})

	s.Run("append on deleted tip fails", func() {
		s.Require().NoError(s.store.UpdateState(s.ctx, tip.ID, models.StateDeleted, tip.ExpiresAt))
		_, err := s.store.AppendComment(s.ctx, tip.ID, &models.Comment{ID: id.NewCommentID(), Body: "late"})
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *InMemorySuite) TestAttachments() {
	tip := s.newTip()
	s.Require().NoError(s.store.Create(s.ctx, tip, "1111222233334444"))

	ref := models.AttachmentRef{ID: id.NewAttachmentID(), Name: "doc.pdf", StorageKey: "k1"}
	s.Require().NoError(s.store.AppendAttachment(s.ctx, tip.ID, ref))

	got, err := s.store.Get(s.ctx, tip.ID)
	s.Require().NoError(err)
	s.Require().Len(got.Attachments, 1)
	s.Equal("doc.pdf", got.Attachments[0].Name)

	s.Require().NoError(s.store.UpdateState(s.ctx, tip.ID, models.StateDeleted, tip.ExpiresAt))
	err = s.store.AppendAttachment(s.ctx, tip.ID, ref)
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *InMemorySuite) TestListFor() {
	recipient := id.NewRecipientID()

	older := s.newTip(recipient)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := s.newTip(recipient)
	unrelated := s.newTip()
	deleted := s.newTip(recipient)

	s.Require().NoError(s.store.Create(s.ctx, older, "1111111111111111"))
	s.Require().NoError(s.store.Create(s.ctx, newer, "2222222222222222"))
	s.Require().NoError(s.store.Create(s.ctx, unrelated, "3333333333333333"))
	s.Require().NoError(s.store.Create(s.ctx, deleted, "4444444444444444"))
	s.Require().NoError(s.store.UpdateState(s.ctx, deleted.ID, models.StateDeleted, deleted.ExpiresAt))

	tips, err := s.store.ListFor(s.ctx, recipient)
	s.Require().NoError(err)
	s.Require().Len(tips, 2)
	s.Equal(newer.ID, tips[0].ID)
	s.Equal(older.ID, tips[1].ID)
}

func (s *InMemorySuite) TestLifecycleQueries() {
	now := time.Now().UTC()

	expired := s.newTip()
	expired.ExpiresAt = now.Add(-time.Minute)
	live := s.newTip()
	live.ExpiresAt = now.Add(time.Hour)
	gone := s.newTip()

	s.Require().NoError(s.store.Create(s.ctx, expired, "1111111111111111"))
	s.Require().NoError(s.store.Create(s.ctx, live, "2222222222222222"))
	s.Require().NoError(s.store.Create(s.ctx, gone, "3333333333333333"))
	s.Require().NoError(s.store.UpdateState(s.ctx, gone.ID, models.StateDeleted, gone.ExpiresAt))

	s.Run("expired lists only past-deadline live tips", func() {
		ids, err := s.store.ListExpired(s.ctx, now)
		s.Require().NoError(err)
		s.Require().Len(ids, 1)
		s.Equal(expired.ID, ids[0])
	})

	s.Run("deleted lists only deleted tips", func() {
		ids, err := s.store.ListDeleted(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(ids, 1)
		s.Equal(gone.ID, ids[0])
	})

	s.Run("purge removes tip and receipt binding", func() {
		s.Require().NoError(s.store.Purge(s.ctx, gone.ID))

		_, err := s.store.Get(s.ctx, gone.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
		ok, err := s.store.ReceiptExists(s.ctx, "3333333333333333")
		s.Require().NoError(err)
		s.False(ok)

		s.Require().ErrorIs(s.store.Purge(s.ctx, gone.ID), sentinel.ErrNotFound)
	})
}
