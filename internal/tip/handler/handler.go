package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tipline/internal/access"
	"tipline/internal/identity"
	"tipline/internal/platform/metrics"
	"tipline/internal/platform/middleware"
	"tipline/internal/tip/models"
	tipservice "tipline/internal/tip/service"
	"tipline/internal/transport/http/shared"
	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
)

// TipService is the receipt-scoped read surface.
type TipService interface {
	ViewByReceipt(ctx context.Context, receipt string) (*tipservice.View, error)
	ResolveReceipt(ctx context.Context, receipt string) (id.TipID, error)
	AttachByReceipt(ctx context.Context, receipt, name, storageKey string) (*models.AttachmentRef, error)
}

// CommentService is the append-only thread surface.
type CommentService interface {
	PostComment(ctx context.Context, tipID id.TipID, actor access.Actor, body string) (*models.Comment, error)
}

// Handler exposes the whistleblower surface. Every route takes the receipt in
// the POST body so it never lands in URLs, access logs, or referrers, and
// every failure is the same invalid-receipt response.
type Handler struct {
	logger   *slog.Logger
	tips     TipService
	comments CommentService
	metrics  *metrics.Metrics
}

func New(tips TipService, comments CommentService, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{logger: logger, tips: tips, comments: comments, metrics: metrics}
}

// Register registers the whistleblower routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(tr chi.Router) {
		tr.Use(middleware.Recovery(h.logger))
		tr.Use(middleware.RequestID)
		tr.Use(middleware.Logger(h.logger))
		tr.Use(middleware.Timeout(30 * time.Second))
		tr.Use(middleware.ContentTypeJSON)
		tr.Use(middleware.LatencyMiddleware(h.metrics))
		tr.Post("/tip/view", h.handleView)
		tr.Post("/tip/comment", h.handleComment)
		tr.Post("/tip/attach", h.handleAttach)
	})
}

type receiptRequest struct {
	Receipt string `json:"receipt"`
}

type commentResponse struct {
	ID         id.CommentID      `json:"id"`
	AuthorRole models.AuthorRole `json:"author_role"`
	Body       string            `json:"body"`
	CreatedAt  time.Time         `json:"created_at"`
}

type viewResponse struct {
	TipID       id.TipID               `json:"tip_id"`
	State       models.State           `json:"state"`
	CreatedAt   time.Time              `json:"created_at"`
	ExpiresAt   time.Time              `json:"expires_at"`
	Fields      []models.ContentField  `json:"fields"`
	Attachments []models.AttachmentRef `json:"attachments"`
	Comments    []commentResponse      `json:"comments"`
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req receiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	view, err := h.tips.ViewByReceipt(ctx, req.Receipt)
	if err != nil {
		h.writeReceiptError(ctx, w, "view", err)
		return
	}
	h.metrics.ReceiptsResolved.Inc()

	resp := viewResponse{
		TipID:       view.Tip.ID,
		State:       view.Tip.State,
		CreatedAt:   view.Tip.CreatedAt,
		ExpiresAt:   view.Tip.ExpiresAt,
		Fields:      view.Tip.ContentFields,
		Attachments: view.Tip.Attachments,
		Comments:    make([]commentResponse, 0, len(view.Comments)),
	}
	for _, c := range view.Comments {
		resp.Comments = append(resp.Comments, commentResponse{
			ID:         c.ID,
			AuthorRole: c.AuthorRole,
			Body:       c.Body,
			CreatedAt:  c.CreatedAt,
		})
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

type tipCommentRequest struct {
	Receipt string `json:"receipt"`
	Body    string `json:"body"`
}

func (h *Handler) handleComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req tipCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	tipID, err := h.tips.ResolveReceipt(ctx, req.Receipt)
	if err != nil {
		h.writeReceiptError(ctx, w, "comment", err)
		return
	}
	h.metrics.ReceiptsResolved.Inc()

	comment, err := h.comments.PostComment(ctx, tipID, access.Whistleblower(tipID), req.Body)
	if err != nil {
		h.writeReceiptError(ctx, w, "comment", err)
		return
	}

	h.metrics.CommentsPosted.WithLabelValues(string(models.RoleWhistleblower)).Inc()
	shared.WriteJSON(w, http.StatusCreated, commentResponse{
		ID:         comment.ID,
		AuthorRole: comment.AuthorRole,
		Body:       comment.Body,
		CreatedAt:  comment.CreatedAt,
	})
}

type attachRequest struct {
	Receipt    string `json:"receipt"`
	Name       string `json:"name"`
	StorageKey string `json:"storage_key"`
}

func (h *Handler) handleAttach(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req attachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	ref, err := h.tips.AttachByReceipt(ctx, req.Receipt, req.Name, req.StorageKey)
	if err != nil {
		h.writeReceiptError(ctx, w, "attach", err)
		return
	}
	h.metrics.ReceiptsResolved.Inc()

	shared.WriteJSON(w, http.StatusCreated, ref)
}

// writeReceiptError keeps the whistleblower error surface flat. Invalid
// receipts and policy denials already arrive collapsed from the service
// layer; anything else is logged and reported as internal.
func (h *Handler) writeReceiptError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInvalidReceipt:
		h.metrics.ReceiptsRejected.Inc()
		shared.WriteError(w, identity.ErrInvalidReceipt)
	case dErrors.CodeInvalidState, dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		shared.WriteError(w, err)
	default:
		h.logger.ErrorContext(ctx, "tip operation failed",
			"op", op,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "tip access failure"))
	}
}
