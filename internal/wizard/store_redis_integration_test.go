//go:build integration

package wizard_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tipline/internal/tip/models"
	"tipline/internal/wizard"
	id "tipline/pkg/domain"
	"tipline/pkg/sentinel"
	"tipline/pkg/testutil/containers"
)

type RedisSessionStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *wizard.RedisSessionStore
	ctx   context.Context
}

func TestRedisSessionStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisSessionStoreSuite))
}

func (s *RedisSessionStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.NewRedisContainer(s.T())
	s.store = wizard.NewRedisSessionStore(s.redis.Client, time.Hour)
}

func (s *RedisSessionStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisSessionStoreSuite) newSession() *wizard.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &wizard.Session{
		ID:   id.NewWizardID(),
		Step: wizard.StepContent,
		Recorded: map[int]wizard.StepInput{
			wizard.StepRecipients: {Recipients: []id.RecipientID{id.NewRecipientID()}},
			wizard.StepContent: {Fields: []models.ContentField{
				{StepID: 1, FieldID: "content", Value: "what I saw"},
			}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *RedisSessionStoreSuite) TestSaveAndFind() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))

	got, err := s.store.Find(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(sess.Step, got.Step)
	s.Equal(sess.Recorded[wizard.StepRecipients].Recipients, got.Recorded[wizard.StepRecipients].Recipients)
	s.Equal("what I saw", got.Recorded[wizard.StepContent].Fields[0].Value)
	s.True(sess.UpdatedAt.Equal(got.UpdatedAt))
}

func (s *RedisSessionStoreSuite) TestFindUnknown() {
	_, err := s.store.Find(s.ctx, id.NewWizardID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisSessionStoreSuite) TestSaveOverwrites() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))

	sess.Step = wizard.StepConfirm
	sess.Committed = true
	sess.Receipt = "1111222233334444"
	s.Require().NoError(s.store.Save(s.ctx, sess))

	got, err := s.store.Find(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(wizard.StepConfirm, got.Step)
	s.True(got.Committed)
	s.Equal("1111222233334444", got.Receipt)
}

func (s *RedisSessionStoreSuite) TestDelete() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))
	s.Require().NoError(s.store.Delete(s.ctx, sess.ID))

	_, err := s.store.Find(s.ctx, sess.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	s.Run("delete is idempotent", func() {
		s.Require().NoError(s.store.Delete(s.ctx, sess.ID))
	})
}

func (s *RedisSessionStoreSuite) TestKeyExpiry() {
	short := wizard.NewRedisSessionStore(s.redis.Client, time.Second)
	sess := s.newSession()
	s.Require().NoError(short.Save(s.ctx, sess))

	s.Require().Eventually(func() bool {
		_, err := short.Find(s.ctx, sess.ID)
		return err != nil
	}, 5*time.Second, 250*time.Millisecond, "session should expire with the key TTL")
}
