package wizard

import (
	"time"

	"tipline/internal/tip/models"
	id "tipline/pkg/domain"
)

// Step indices of the submission flow. Confirm sits after the last input step;
// Submit is only legal from there.
const (
	StepRecipients  = 0
	StepContent     = 1
	StepAttachments = 2
	StepConfirm     = 3
)

// StepInput carries the payload for one wizard step. Only the slice matching
// the step being advanced is read; the rest stay empty.
type StepInput struct {
	Recipients  []id.RecipientID       `json:"recipients,omitempty"`
	Fields      []models.ContentField  `json:"fields,omitempty"`
	Attachments []models.AttachmentRef `json:"attachments,omitempty"`
}

// Session is the ephemeral state of one in-progress submission. It is owned
// exclusively by the originating client session and never shared; nothing
// durable exists until Submit commits.
type Session struct {
	ID        id.WizardID            `json:"id"`
	Step      int                    `json:"step"`
	Recorded  map[int]StepInput      `json:"recorded"`
	Committed bool                   `json:"committed"`
	Receipt   string                 `json:"receipt,omitempty"`
	TipID     id.TipID               `json:"tip_id,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// recipients flattens the recorded recipient selection.
func (s *Session) recipients() []id.RecipientID {
	return s.Recorded[StepRecipients].Recipients
}

func (s *Session) fields() []models.ContentField {
	return s.Recorded[StepContent].Fields
}

func (s *Session) attachments() []models.AttachmentRef {
	return s.Recorded[StepAttachments].Attachments
}
