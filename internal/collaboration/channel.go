package collaboration

import (
	"context"
	"errors"
	"strings"
	"time"

	"tipline/internal/access"
	"tipline/internal/tip/models"
	"tipline/internal/tip/store"
	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
	"tipline/pkg/sentinel"
)

// maxCommentLength bounds a single comment body.
const maxCommentLength = 1 << 16

// Channel is the append-only comment thread shared by the whistleblower and
// the assigned recipients of a tip. Every operation authorizes against the
// tip's current state before touching the store.
type Channel struct {
	tips  store.Store
	clock func() time.Time
}

func NewChannel(tips store.Store) *Channel {
	return &Channel{tips: tips, clock: time.Now}
}

// WithClock overrides the clock, for ordering tests.
func (c *Channel) WithClock(clock func() time.Time) *Channel {
	c.clock = clock
	return c
}

// PostComment appends a comment for the actor, returning the stored comment
// with its total order position assigned.
func (c *Channel) PostComment(ctx context.Context, tipID id.TipID, actor access.Actor, body string) (*models.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "comment body is empty")
	}
	if len(body) > maxCommentLength {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "comment body too long")
	}

	tip, err := c.tips.Get(ctx, tipID)
	if err != nil {
		return nil, translateLookup(actor, err)
	}
	if d := access.Authorize(actor, tip, access.ActionComment); !d.Allowed {
		return nil, denyError(actor, tip, d)
	}

	comment := &models.Comment{
		ID:         id.NewCommentID(),
		TipID:      tipID,
		AuthorRole: actor.Role,
		Body:       body,
		CreatedAt:  c.clock().UTC(),
	}
	stored, err := c.tips.AppendComment(ctx, tipID, comment)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeInvalidState, "tip no longer accepts comments")
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, translateLookup(actor, err)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not store comment")
	}
	return stored, nil
}

// ListComments returns the ordered thread, gated by read authorization.
func (c *Channel) ListComments(ctx context.Context, tipID id.TipID, actor access.Actor) ([]models.Comment, error) {
	tip, err := c.tips.Get(ctx, tipID)
	if err != nil {
		return nil, translateLookup(actor, err)
	}
	if d := access.Authorize(actor, tip, access.ActionRead); !d.Allowed {
		return nil, denyError(actor, tip, d)
	}
	comments, err := c.tips.ListComments(ctx, tipID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, translateLookup(actor, err)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not load comments")
	}
	return comments, nil
}

// translateLookup converts a store miss into the actor-appropriate error. The
// whistleblower path must never learn more than "invalid receipt".
func translateLookup(actor access.Actor, err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		if actor.Role == models.RoleWhistleblower {
			return dErrors.New(dErrors.CodeInvalidReceipt, "invalid receipt")
		}
		return dErrors.New(dErrors.CodeNotFound, "tip not found")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "tip lookup failed")
}

// denyError maps an authorization denial per actor class: recipients may see
// forbidden, whistleblowers only ever see the uniform invalid-receipt shape.
func denyError(actor access.Actor, tip *models.Tip, d access.Decision) error {
	if actor.Role == models.RoleWhistleblower {
		return dErrors.New(dErrors.CodeInvalidReceipt, "invalid receipt")
	}
	if tip != nil && tip.State == models.StateDeleted {
		return dErrors.New(dErrors.CodeNotFound, "tip not found")
	}
	return dErrors.New(dErrors.CodeForbidden, d.Reason)
}
