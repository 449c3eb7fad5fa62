package recipient

import (
	"time"

	id "tipline/pkg/domain"
)

// Account is an authenticated reviewer. It authorizes access to tips whose
// assigned recipient set includes it; credential storage is a bcrypt hash,
// never the password.
type Account struct {
	ID             id.RecipientID
	Username       string
	CredentialHash string
	// Contexts are the submission contexts this recipient can be selected
	// for at the wizard's first step.
	Contexts  []string
	CreatedAt time.Time
}

// Public is the account shape safe to show to an anonymous submitter picking
// recipients: no credential material, no timestamps.
type Public struct {
	ID       id.RecipientID `json:"id"`
	Username string         `json:"username"`
}

func (a *Account) Public() Public {
	return Public{ID: a.ID, Username: a.Username}
}
