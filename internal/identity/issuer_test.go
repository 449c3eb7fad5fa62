package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
	"tipline/pkg/sentinel"
)

// fakeIndex is a receipt index backed by a plain map.
type fakeIndex struct {
	codes map[string]id.TipID
}

func (f *fakeIndex) ReceiptExists(_ context.Context, receipt string) (bool, error) {
	_, ok := f.codes[receipt]
	return ok, nil
}

func (f *fakeIndex) ResolveReceipt(_ context.Context, receipt string) (id.TipID, error) {
	tipID, ok := f.codes[receipt]
	if !ok {
		return id.TipID{}, sentinel.ErrNotFound
	}
	return tipID, nil
}

type IssuerSuite struct {
	suite.Suite
	index  *fakeIndex
	issuer *Issuer
	ctx    context.Context
}

func TestIssuerSuite(t *testing.T) {
	suite.Run(t, new(IssuerSuite))
}

func (s *IssuerSuite) SetupTest() {
	s.index = &fakeIndex{codes: make(map[string]id.TipID)}
	s.issuer = NewIssuer(s.index)
	s.ctx = context.Background()
}

func (s *IssuerSuite) TestIssue() {
	s.Run("code is sixteen decimal digits", func() {
		code, err := s.issuer.Issue(s.ctx)
		s.Require().NoError(err)
		s.Len(code, 16)
		for _, r := range code {
			s.True(r >= '0' && r <= '9')
		}
	})

	s.Run("codes are distinct across issues", func() {
		seen := make(map[string]bool)
		for range 50 {
			code, err := s.issuer.Issue(s.ctx)
			s.Require().NoError(err)
			s.False(seen[code])
			seen[code] = true
		}
	})
}

func (s *IssuerSuite) TestResolve() {
	tipID := id.NewTipID()
	s.index.codes["1234567890123456"] = tipID

	s.Run("exact code resolves", func() {
		got, err := s.issuer.Resolve(s.ctx, "1234567890123456")
		s.Require().NoError(err)
		s.Equal(tipID, got)
	})

	s.Run("display grouping is stripped", func() {
		got, err := s.issuer.Resolve(s.ctx, "1234 5678 9012 3456")
		s.Require().NoError(err)
		s.Equal(tipID, got)
	})

	s.Run("hyphens are stripped", func() {
		got, err := s.issuer.Resolve(s.ctx, "1234-5678-9012-3456")
		s.Require().NoError(err)
		s.Equal(tipID, got)
	})

	s.Run("unknown code fails uniformly", func() {
		_, err := s.issuer.Resolve(s.ctx, "0000000000000000")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeInvalidReceipt))
	})

	s.Run("malformed code fails identically to unknown", func() {
		_, unknownErr := s.issuer.Resolve(s.ctx, "0000000000000000")
		for _, presented := range []string{"", "short", "abcdefghijklmnop", "12345678901234567"} {
			_, err := s.issuer.Resolve(s.ctx, presented)
			s.Require().Error(err)
			s.Equal(unknownErr.Error(), err.Error())
			s.Equal(dErrors.CodeOf(unknownErr), dErrors.CodeOf(err))
		}
	})
}

func (s *IssuerSuite) TestFormat() {
	s.Equal("1234 5678 9012 3456", Format("1234567890123456"))
	s.Equal("1234567890123456", Normalize(Format("1234567890123456")))
}
