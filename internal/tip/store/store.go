package store

import (
	"context"
	"time"

	"tipline/internal/tip/models"
	id "tipline/pkg/domain"
	"tipline/pkg/sentinel"
)

// ErrNotFound keeps storage-specific misses consistent across in-memory and
// Postgres implementations.
var ErrNotFound = sentinel.ErrNotFound

// Store is the persistent record of tips, their comments, attachment references
// and the receipt index. Implementations must serialize mutations per tip id;
// reads may proceed concurrently and are never blocked by unrelated tips.
//
// The receipt index is kept apart from the tip records (separate map/table) so
// one cannot be derived from the other by scanning storage order.
type Store interface {
	// Create persists a committed tip together with its receipt binding in one
	// atomic step. No reader observes the tip before Create returns. Returns
	// sentinel.ErrConflict when the receipt code is already bound.
	Create(ctx context.Context, tip *models.Tip, receipt string) error

	// Get returns a snapshot of the tip, including deleted ones; callers decide
	// what deleted means for their actor.
	Get(ctx context.Context, tipID id.TipID) (*models.Tip, error)

	// ResolveReceipt maps a normalized receipt code to its tip id.
	ResolveReceipt(ctx context.Context, receipt string) (id.TipID, error)

	// ReceiptExists reports whether a receipt code is already bound. Used for
	// collision checking at issue time.
	ReceiptExists(ctx context.Context, receipt string) (bool, error)

	// ListFor returns tips assigned to the recipient, excluding deleted ones,
	// newest first.
	ListFor(ctx context.Context, recipient id.RecipientID) ([]*models.Tip, error)

	// AppendAttachment adds an attachment reference. Content fields are never
	// touched after commit; attachments only grow.
	AppendAttachment(ctx context.Context, tipID id.TipID, ref models.AttachmentRef) error

	// AppendComment stores the comment, assigning its per-tip insertion
	// sequence, and returns the stored value.
	AppendComment(ctx context.Context, tipID id.TipID, comment *models.Comment) (*models.Comment, error)

	// ListComments returns the thread ordered by CreatedAt, ties broken by
	// insertion sequence.
	ListComments(ctx context.Context, tipID id.TipID) ([]models.Comment, error)

	// UpdateState applies a lifecycle transition. Last committed transition
	// wins; concurrent writers observe the applied state afterwards.
	UpdateState(ctx context.Context, tipID id.TipID, state models.State, expiresAt time.Time) error

	// ListExpired returns ids of non-deleted tips whose ExpiresAt has passed.
	ListExpired(ctx context.Context, now time.Time) ([]id.TipID, error)

	// ListDeleted returns ids of tips in the deleted state awaiting purge.
	ListDeleted(ctx context.Context) ([]id.TipID, error)

	// Purge hard-deletes the tip, its comments, attachment references and
	// receipt binding. Irreversible.
	Purge(ctx context.Context, tipID id.TipID) error
}
