package access

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"tipline/internal/tip/models"
	id "tipline/pkg/domain"
)

type PolicySuite struct {
	suite.Suite
	assigned   id.RecipientID
	unassigned id.RecipientID
}

func TestPolicySuite(t *testing.T) {
	suite.Run(t, new(PolicySuite))
}

func (s *PolicySuite) SetupSuite() {
	s.assigned = id.NewRecipientID()
	s.unassigned = id.NewRecipientID()
}

func (s *PolicySuite) tip(state models.State) *models.Tip {
	return &models.Tip{
		ID:    id.NewTipID(),
		State: state,
		AssignedRecipients: map[id.RecipientID]struct{}{
			s.assigned: {},
		},
	}
}

func (s *PolicySuite) TestWhistleblower() {
	tip := s.tip(models.StateOpen)
	wb := Whistleblower(tip.ID)

	s.Run("full matrix on own open tip", func() {
		for action, want := range map[Action]bool{
			ActionRead:     true,
			ActionComment:  true,
			ActionAttach:   true,
			ActionExport:   false,
			ActionPostpone: false,
			ActionDelete:   false,
		} {
			d := Authorize(wb, tip, action)
			s.Equal(want, d.Allowed, string(action))
		}
	})

	s.Run("wrong tip denies everything", func() {
		other := Whistleblower(id.NewTipID())
		for _, action := range []Action{ActionRead, ActionComment, ActionAttach} {
			s.False(Authorize(other, tip, action).Allowed, string(action))
		}
	})

	s.Run("postponed tip still accepts collaboration", func() {
		postponed := s.tip(models.StatePostponed)
		wb := Whistleblower(postponed.ID)
		s.True(Authorize(wb, postponed, ActionRead).Allowed)
		s.True(Authorize(wb, postponed, ActionComment).Allowed)
		s.True(Authorize(wb, postponed, ActionAttach).Allowed)
	})

	s.Run("deleted tip denies everything", func() {
		deleted := s.tip(models.StateDeleted)
		wb := Whistleblower(deleted.ID)
		for _, action := range []Action{ActionRead, ActionComment, ActionAttach} {
			s.False(Authorize(wb, deleted, action).Allowed, string(action))
		}
	})
}

func (s *PolicySuite) TestRecipient() {
	s.Run("assigned recipient matrix on open tip", func() {
		tip := s.tip(models.StateOpen)
		actor := Recipient(s.assigned)
		for action, want := range map[Action]bool{
			ActionRead:     true,
			ActionComment:  true,
			ActionExport:   true,
			ActionPostpone: true,
			ActionDelete:   true,
			ActionAttach:   false,
		} {
			d := Authorize(actor, tip, action)
			s.Equal(want, d.Allowed, string(action))
		}
	})

	s.Run("unassigned recipient denied everything", func() {
		tip := s.tip(models.StateOpen)
		actor := Recipient(s.unassigned)
		for _, action := range []Action{ActionRead, ActionComment, ActionExport, ActionPostpone, ActionDelete, ActionAttach} {
			s.False(Authorize(actor, tip, action).Allowed, string(action))
		}
	})

	s.Run("deleted tip denies reads but not lifecycle actions", func() {
		tip := s.tip(models.StateDeleted)
		actor := Recipient(s.assigned)
		s.False(Authorize(actor, tip, ActionRead).Allowed)
		s.False(Authorize(actor, tip, ActionComment).Allowed)
		s.False(Authorize(actor, tip, ActionExport).Allowed)
		s.True(Authorize(actor, tip, ActionPostpone).Allowed)
		s.True(Authorize(actor, tip, ActionDelete).Allowed)
	})
}

func (s *PolicySuite) TestDenyByDefault() {
	tip := s.tip(models.StateOpen)

	s.Run("nil tip denies", func() {
		s.False(Authorize(Recipient(s.assigned), nil, ActionRead).Allowed)
	})

	s.Run("unknown action denies", func() {
		s.False(Authorize(Recipient(s.assigned), tip, Action("transfer")).Allowed)
	})

	s.Run("unknown role denies", func() {
		actor := Actor{Role: models.AuthorRole("admin"), RecipientID: s.assigned}
		s.False(Authorize(actor, tip, ActionRead).Allowed)
	})
}
