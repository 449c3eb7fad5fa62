package access

import (
	"tipline/internal/tip/models"
	id "tipline/pkg/domain"
)

// Action is an operation an actor may attempt on a tip.
type Action string

const (
	ActionRead     Action = "read"
	ActionComment  Action = "comment"
	ActionAttach   Action = "attach"
	ActionExport   Action = "export"
	ActionPostpone Action = "postpone"
	ActionDelete   Action = "delete"
)

// Actor identifies who is attempting an action. Whistleblowers carry the tip
// id their receipt resolved to; they have no account. Recipients carry their
// account id.
type Actor struct {
	Role        models.AuthorRole
	TipID       id.TipID       // set for whistleblowers
	RecipientID id.RecipientID // set for recipients
}

func Whistleblower(tipID id.TipID) Actor {
	return Actor{Role: models.RoleWhistleblower, TipID: tipID}
}

func Recipient(rid id.RecipientID) Actor {
	return Actor{Role: models.RoleRecipient, RecipientID: rid}
}

// Decision is the outcome of an authorization check. Reason is for logs and
// recipient-facing errors; the whistleblower path must collapse every denial
// into not-found before it leaves the service layer.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

// rule evaluates one cell of the policy table.
type rule func(actor Actor, tip *models.Tip) Decision

type policyKey struct {
	role   models.AuthorRole
	action Action
}

// policy is the entire permission surface as one auditable artifact. Anything
// not in this table is denied.
var policy = map[policyKey]rule{
	{models.RoleWhistleblower, ActionRead}:    wbOwnTip,
	{models.RoleWhistleblower, ActionComment}: wbActiveTip,
	{models.RoleWhistleblower, ActionAttach}:  wbActiveTip,

	{models.RoleRecipient, ActionRead}:    assignedNotDeleted,
	{models.RoleRecipient, ActionComment}: assignedNotDeleted,
	{models.RoleRecipient, ActionExport}:  assignedNotDeleted,

	// Postpone and delete require assignment only; a deleted tip simply no
	// longer resolves for these through normal surfaces.
	{models.RoleRecipient, ActionPostpone}: assigned,
	{models.RoleRecipient, ActionDelete}:   assigned,
}

// Authorize evaluates the policy table for (actor, tip, action). Deny by
// default: unknown roles, unknown actions and unlisted combinations all fail.
func Authorize(actor Actor, tip *models.Tip, action Action) Decision {
	if tip == nil {
		return deny("no tip")
	}
	r, ok := policy[policyKey{actor.Role, action}]
	if !ok {
		return deny("action not permitted for role")
	}
	return r(actor, tip)
}

func wbOwnTip(actor Actor, tip *models.Tip) Decision {
	if actor.TipID != tip.ID {
		return deny("receipt does not resolve to tip")
	}
	if tip.State == models.StateDeleted {
		return deny("tip deleted")
	}
	return allow()
}

func wbActiveTip(actor Actor, tip *models.Tip) Decision {
	if d := wbOwnTip(actor, tip); !d.Allowed {
		return d
	}
	if !tip.Active() {
		return deny("tip not accepting changes")
	}
	return allow()
}

func assigned(actor Actor, tip *models.Tip) Decision {
	if !tip.IsAssigned(actor.RecipientID) {
		return deny("recipient not assigned")
	}
	return allow()
}

func assignedNotDeleted(actor Actor, tip *models.Tip) Decision {
	if d := assigned(actor, tip); !d.Allowed {
		return d
	}
	if tip.State == models.StateDeleted {
		return deny("tip deleted")
	}
	return allow()
}
