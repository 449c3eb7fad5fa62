package recipient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tipline/internal/token"
	dErrors "tipline/pkg/domainerrors"
)

type ServiceSuite struct {
	suite.Suite
	store *InMemoryStore
	svc   *Service
	ctx   context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	tokens := token.NewService("test-signing-key", "tipline", "tipline")
	s.svc = NewService(s.store, tokens, time.Hour)
	s.ctx = context.Background()
}

func (s *ServiceSuite) TestRegister() {
	s.Run("creates the account", func() {
		account, err := s.svc.Register(s.ctx, "receiver-one", "a long enough password", []string{"default"})
		s.Require().NoError(err)
		s.False(account.ID.IsNil())
		s.NotEqual("a long enough password", account.CredentialHash)
	})

	s.Run("rejects short passwords", func() {
		_, err := s.svc.Register(s.ctx, "receiver-two", "short", nil)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejects duplicate usernames case-insensitively", func() {
		_, err := s.svc.Register(s.ctx, "Receiver-One", "another long password", nil)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestLogin() {
	_, err := s.svc.Register(s.ctx, "receiver", "correct horse battery", nil)
	s.Require().NoError(err)

	s.Run("valid credential issues a token", func() {
		res, err := s.svc.Login(s.ctx, "receiver", "correct horse battery")
		s.Require().NoError(err)
		s.NotEmpty(res.AccessToken)
		s.Equal(3600, res.ExpiresIn)
	})

	s.Run("wrong password and unknown user fail identically", func() {
		_, wrongPw := s.svc.Login(s.ctx, "receiver", "wrong password here")
		_, unknown := s.svc.Login(s.ctx, "nobody", "wrong password here")
		s.Require().Error(wrongPw)
		s.Require().Error(unknown)
		s.True(dErrors.Is(wrongPw, dErrors.CodeUnauthorized))
		s.True(dErrors.Is(unknown, dErrors.CodeUnauthorized))
		s.Equal(wrongPw.Error(), unknown.Error())
	})

	s.Run("empty credentials are rejected", func() {
		_, err := s.svc.Login(s.ctx, "", "")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestListPublic() {
	_, err := s.svc.Register(s.ctx, "receiver", "correct horse battery", []string{"default"})
	s.Require().NoError(err)

	list, err := s.svc.ListPublic(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("receiver", list[0].Username)
}
