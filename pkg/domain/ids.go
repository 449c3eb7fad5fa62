package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Typed IDs keep tip, recipient, and session identifiers from being mixed up at
// call sites. Construct via New*, or Parse* at trust boundaries.

type TipID uuid.UUID

type RecipientID uuid.UUID

type CommentID uuid.UUID

type AttachmentID uuid.UUID

// WizardID identifies an in-progress submission session. It is ephemeral and
// never stored on a committed tip.
type WizardID uuid.UUID

func NewTipID() TipID               { return TipID(uuid.New()) }
func NewRecipientID() RecipientID   { return RecipientID(uuid.New()) }
func NewCommentID() CommentID       { return CommentID(uuid.New()) }
func NewAttachmentID() AttachmentID { return AttachmentID(uuid.New()) }
func NewWizardID() WizardID         { return WizardID(uuid.New()) }

func (id TipID) String() string        { return uuid.UUID(id).String() }
func (id RecipientID) String() string  { return uuid.UUID(id).String() }
func (id CommentID) String() string    { return uuid.UUID(id).String() }
func (id AttachmentID) String() string { return uuid.UUID(id).String() }
func (id WizardID) String() string     { return uuid.UUID(id).String() }

func (id TipID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id RecipientID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id AttachmentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id WizardID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// Text marshaling keeps the ids human-readable in JSON and Redis payloads;
// defined types do not inherit uuid.UUID's marshalers.

func (id TipID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id RecipientID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id CommentID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id AttachmentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id WizardID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *TipID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = TipID(u)
	return nil
}

func (id *RecipientID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = RecipientID(u)
	return nil
}

func (id *CommentID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = CommentID(u)
	return nil
}

func (id *AttachmentID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = AttachmentID(u)
	return nil
}

func (id *WizardID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = WizardID(u)
	return nil
}

// ParseTipID validates external input as a tip identifier.
func ParseTipID(s string) (TipID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TipID{}, fmt.Errorf("parse tip id: %w", err)
	}
	return TipID(u), nil
}

func ParseRecipientID(s string) (RecipientID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RecipientID{}, fmt.Errorf("parse recipient id: %w", err)
	}
	return RecipientID(u), nil
}

func ParseWizardID(s string) (WizardID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return WizardID{}, fmt.Errorf("parse wizard id: %w", err)
	}
	return WizardID(u), nil
}
