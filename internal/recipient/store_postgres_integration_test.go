//go:build integration

package recipient_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tipline/internal/recipient"
	id "tipline/pkg/domain"
	"tipline/pkg/sentinel"
	"tipline/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *recipient.PostgresStore
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
	s.store = recipient.NewPostgresStore(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(s.ctx))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "recipients"))
}

func (s *PostgresStoreSuite) newAccount(username string) *recipient.Account {
	return &recipient.Account{
		ID:             id.NewRecipientID(),
		Username:       username,
		CredentialHash: "$2a$10$hash",
		Contexts:       []string{"procurement", "hr"},
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestSaveAndFind() {
	account := s.newAccount("receiver")
	s.Require().NoError(s.store.Save(s.ctx, account))

	s.Run("by id", func() {
		got, err := s.store.FindByID(s.ctx, account.ID)
		s.Require().NoError(err)
		s.Equal(account.Username, got.Username)
		s.Equal(account.Contexts, got.Contexts)
	})

	s.Run("by username is case-insensitive", func() {
		got, err := s.store.FindByUsername(s.ctx, "RECEIVER")
		s.Require().NoError(err)
		s.Equal(account.ID, got.ID)
	})

	s.Run("unknown misses", func() {
		_, err := s.store.FindByID(s.ctx, id.NewRecipientID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestUsernameUniqueness() {
	s.Require().NoError(s.store.Save(s.ctx, s.newAccount("receiver")))

	err := s.store.Save(s.ctx, s.newAccount("Receiver"))
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestSaveUpdatesExisting() {
	account := s.newAccount("receiver")
	s.Require().NoError(s.store.Save(s.ctx, account))

	account.Contexts = []string{"finance"}
	s.Require().NoError(s.store.Save(s.ctx, account))

	got, err := s.store.FindByID(s.ctx, account.ID)
	s.Require().NoError(err)
	s.Equal([]string{"finance"}, got.Contexts)
}

func (s *PostgresStoreSuite) TestListOrdersByUsername() {
	s.Require().NoError(s.store.Save(s.ctx, s.newAccount("zoe")))
	s.Require().NoError(s.store.Save(s.ctx, s.newAccount("adam")))

	accounts, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(accounts, 2)
	s.Equal("adam", accounts[0].Username)
	s.Equal("zoe", accounts[1].Username)
}
