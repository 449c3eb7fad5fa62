package export

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"tipline/internal/access"
	"tipline/internal/tip/models"
	tipservice "tipline/internal/tip/service"
	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
)

// Service produces the downloadable archive of a tip for an authorized
// recipient. The archive carries the committed content, the comment thread,
// and one placeholder entry per attachment reference; file bytes live with
// the storage collaborator and are not part of this core.
type Service struct {
	tips *tipservice.Service
}

func New(tips *tipservice.Service) *Service {
	return &Service{tips: tips}
}

// Archive builds the zip for the recipient. Export authorization follows the
// same rule as read plus the export action.
func (s *Service) Archive(ctx context.Context, recipient id.RecipientID, tipID id.TipID) ([]byte, error) {
	view, err := s.tips.GetForRecipient(ctx, recipient, tipID)
	if err != nil {
		return nil, err
	}
	if d := access.Authorize(access.Recipient(recipient), view.Tip, access.ActionExport); !d.Allowed {
		return nil, dErrors.New(dErrors.CodeForbidden, d.Reason)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeEntry(zw, "tip.txt", renderTip(view.Tip)); err != nil {
		return nil, err
	}
	if err := writeEntry(zw, "comments.txt", renderComments(view.Comments)); err != nil {
		return nil, err
	}
	for i, a := range view.Tip.Attachments {
		name := fmt.Sprintf("attachments/%03d_%s.ref", i, sanitize(a.Name))
		if err := writeEntry(zw, name, renderAttachment(a)); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not finalize archive")
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name, body string) error {
	w, err := zw.Create(name)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not create archive entry")
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not write archive entry")
	}
	return nil
}

func renderTip(tip *models.Tip) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tip %s\n", tip.ID)
	fmt.Fprintf(&b, "State: %s\n", tip.State)
	fmt.Fprintf(&b, "Created: %s\n\n", tip.CreatedAt.Format(time.RFC3339))
	for _, f := range tip.ContentFields {
		fmt.Fprintf(&b, "[step %d] %s: %s\n", f.StepID, f.FieldID, f.Value)
	}
	return b.String()
}

func renderComments(comments []models.Comment) string {
	var b strings.Builder
	for _, c := range comments {
		fmt.Fprintf(&b, "%s [%s]\n%s\n\n", c.CreatedAt.Format(time.RFC3339), c.AuthorRole, c.Body)
	}
	return b.String()
}

func renderAttachment(a models.AttachmentRef) string {
	return fmt.Sprintf("name: %s\nstorage_key: %s\nuploaded: %s\n",
		a.Name, a.StorageKey, a.UploadedAt.Format(time.RFC3339))
}

// sanitize keeps archive entry names flat and printable.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
