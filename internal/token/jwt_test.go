package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
)

type JWTSuite struct {
	suite.Suite
	svc *Service
}

func TestJWTSuite(t *testing.T) {
	suite.Run(t, new(JWTSuite))
}

func (s *JWTSuite) SetupTest() {
	s.svc = NewService("test-signing-key", "tipline", "tipline")
}

func (s *JWTSuite) TestRoundTrip() {
	rid := id.NewRecipientID()
	tok, err := s.svc.Generate(rid, time.Hour)
	s.Require().NoError(err)

	got, err := s.svc.Validate(tok)
	s.Require().NoError(err)
	s.Equal(rid, got)
}

func (s *JWTSuite) TestExpired() {
	tok, err := s.svc.Generate(id.NewRecipientID(), -time.Minute)
	s.Require().NoError(err)

	_, err = s.svc.Validate(tok)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
}

func (s *JWTSuite) TestWrongKey() {
	other := NewService("different-key", "tipline", "tipline")
	tok, err := other.Generate(id.NewRecipientID(), time.Hour)
	s.Require().NoError(err)

	_, err = s.svc.Validate(tok)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
}

func (s *JWTSuite) TestGarbage() {
	_, err := s.svc.Validate("not-a-token")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
}
