package models

import (
	"time"

	id "tipline/pkg/domain"
)

// AuthorRole distinguishes the two actor classes that may write to a tip's
// comment thread.
type AuthorRole string

const (
	RoleWhistleblower AuthorRole = "whistleblower"
	RoleRecipient     AuthorRole = "recipient"
)

func (r AuthorRole) IsValid() bool {
	return r == RoleWhistleblower || r == RoleRecipient
}

// Comment is one append-only entry in a tip's collaboration thread.
//
// Ordering is by CreatedAt with ties broken by Seq, the store-assigned
// insertion sequence. Seq is total per tip, so two comments written in the same
// clock tick still have a stable order.
type Comment struct {
	ID         id.CommentID
	TipID      id.TipID
	AuthorRole AuthorRole
	Body       string
	CreatedAt  time.Time
	Seq        int
}
