package models

import (
	"time"

	id "tipline/pkg/domain"
)

// State is the tip lifecycle state. Transitions happen only through the
// lifecycle manager; stores persist whatever state they are handed.
type State string

const (
	StateOpen      State = "open"
	StatePostponed State = "postponed"
	StateDeleted   State = "deleted"
)

// IsValid checks the state against the supported enum values.
func (s State) IsValid() bool {
	switch s {
	case StateOpen, StatePostponed, StateDeleted:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// ContentField is one answered form field from the submission wizard. The
// triple (StepID, FieldID) preserves the original step layout so a tip view can
// be rendered in submission order.
type ContentField struct {
	StepID  int
	FieldID string
	Value   string
}

// AttachmentRef is an opaque reference into the file storage collaborator.
// Tip records never hold file bytes.
type AttachmentRef struct {
	ID         id.AttachmentID
	Name       string
	StorageKey string
	UploadedAt time.Time
}

// Tip is the internal case record created from one anonymous submission.
//
// Invariants:
//   - ContentFields are immutable after the submission transaction commits.
//   - Attachments is append-only; whistleblower attach actions only add entries.
//   - State changes only via the lifecycle manager.
type Tip struct {
	ID                 id.TipID
	State              State
	CreatedAt          time.Time
	ExpiresAt          time.Time
	ContentFields      []ContentField
	Attachments        []AttachmentRef
	AssignedRecipients map[id.RecipientID]struct{}
}

// IsAssigned reports whether the recipient is on the tip's distribution list.
func (t *Tip) IsAssigned(r id.RecipientID) bool {
	_, ok := t.AssignedRecipients[r]
	return ok
}

// Active reports whether the tip still accepts collaboration (comments,
// attachments).
func (t *Tip) Active() bool {
	return t.State == StateOpen || t.State == StatePostponed
}

// Clone returns a deep copy so in-memory store reads never alias store-owned
// slices and maps.
func (t *Tip) Clone() *Tip {
	cp := *t
	cp.ContentFields = append([]ContentField(nil), t.ContentFields...)
	cp.Attachments = append([]AttachmentRef(nil), t.Attachments...)
	cp.AssignedRecipients = make(map[id.RecipientID]struct{}, len(t.AssignedRecipients))
	for r := range t.AssignedRecipients {
		cp.AssignedRecipients[r] = struct{}{}
	}
	return &cp
}
