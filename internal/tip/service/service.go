package service

import (
	"context"
	"errors"
	"time"

	"tipline/internal/access"
	"tipline/internal/identity"
	"tipline/internal/tip/models"
	"tipline/internal/tip/store"
	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
	"tipline/pkg/sentinel"
)

// View is a tip as an authorized actor sees it: the committed content, the
// append-only attachment list, and the comment thread.
type View struct {
	Tip      *models.Tip
	Comments []models.Comment
}

// Service mediates tip reads and whistleblower attach actions. All paths pass
// through the access policy before touching the store.
type Service struct {
	tips   store.Store
	issuer *identity.Issuer
	clock  func() time.Time
}

func New(tips store.Store, issuer *identity.Issuer) *Service {
	return &Service{tips: tips, issuer: issuer, clock: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// ViewByReceipt resolves a receipt and returns the whistleblower's view of
// their tip. Every failure mode (malformed code, unknown code, deleted tip,
// lost authorization) collapses into the same invalid-receipt error so the
// endpoint reveals nothing about why.
func (s *Service) ViewByReceipt(ctx context.Context, receipt string) (*View, error) {
	tipID, err := s.issuer.Resolve(ctx, receipt)
	if err != nil {
		return nil, err
	}
	tip, err := s.tips.Get(ctx, tipID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, identity.ErrInvalidReceipt
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "tip lookup failed")
	}
	actor := access.Whistleblower(tipID)
	if d := access.Authorize(actor, tip, access.ActionRead); !d.Allowed {
		return nil, identity.ErrInvalidReceipt
	}
	comments, err := s.tips.ListComments(ctx, tipID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not load comments")
	}
	return &View{Tip: tip, Comments: comments}, nil
}

// ResolveReceipt exposes receipt resolution for callers that need the actor
// identity but not the view (comment, attach).
func (s *Service) ResolveReceipt(ctx context.Context, receipt string) (id.TipID, error) {
	return s.issuer.Resolve(ctx, receipt)
}

// AttachByReceipt appends a new attachment reference on behalf of the
// whistleblower. Content fields stay immutable; this is the only
// post-commit mutation a whistleblower can make besides commenting.
func (s *Service) AttachByReceipt(ctx context.Context, receipt, name, storageKey string) (*models.AttachmentRef, error) {
	if storageKey == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "attachment missing storage reference")
	}
	tipID, err := s.issuer.Resolve(ctx, receipt)
	if err != nil {
		return nil, err
	}
	tip, err := s.tips.Get(ctx, tipID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, identity.ErrInvalidReceipt
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "tip lookup failed")
	}
	actor := access.Whistleblower(tipID)
	if d := access.Authorize(actor, tip, access.ActionAttach); !d.Allowed {
		if tip.State == models.StateDeleted {
			return nil, identity.ErrInvalidReceipt
		}
		return nil, dErrors.New(dErrors.CodeInvalidState, "tip no longer accepts attachments")
	}
	ref := models.AttachmentRef{
		ID:         id.NewAttachmentID(),
		Name:       name,
		StorageKey: storageKey,
		UploadedAt: s.clock().UTC(),
	}
	if err := s.tips.AppendAttachment(ctx, tipID, ref); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeInvalidState, "tip no longer accepts attachments")
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, identity.ErrInvalidReceipt
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not store attachment")
	}
	return &ref, nil
}

// ListFor returns the recipient's queue: assigned, non-deleted tips, newest
// first.
func (s *Service) ListFor(ctx context.Context, recipient id.RecipientID) ([]*models.Tip, error) {
	tips, err := s.tips.ListFor(ctx, recipient)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not list tips")
	}
	return tips, nil
}

// GetForRecipient returns one tip with its thread for an assigned recipient.
func (s *Service) GetForRecipient(ctx context.Context, recipient id.RecipientID, tipID id.TipID) (*View, error) {
	tip, err := s.tips.Get(ctx, tipID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "tip not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "tip lookup failed")
	}
	actor := access.Recipient(recipient)
	if d := access.Authorize(actor, tip, access.ActionRead); !d.Allowed {
		if tip.State == models.StateDeleted {
			return nil, dErrors.New(dErrors.CodeNotFound, "tip not found")
		}
		return nil, dErrors.New(dErrors.CodeForbidden, d.Reason)
	}
	comments, err := s.tips.ListComments(ctx, tipID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not load comments")
	}
	return &View{Tip: tip, Comments: comments}, nil
}
