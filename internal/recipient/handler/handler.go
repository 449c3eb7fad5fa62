package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	"tipline/internal/access"
	"tipline/internal/lifecycle"
	"tipline/internal/platform/metrics"
	"tipline/internal/platform/middleware"
	"tipline/internal/recipient"
	"tipline/internal/tip/models"
	tipservice "tipline/internal/tip/service"
	"tipline/internal/transport/http/shared"
	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
)

// AccountService authenticates recipients and lists the public roster.
type AccountService interface {
	Login(ctx context.Context, username, password string) (*recipient.LoginResult, error)
	ListPublic(ctx context.Context) ([]recipient.Public, error)
}

// TipService is the recipient-side read surface.
type TipService interface {
	ListFor(ctx context.Context, rid id.RecipientID) ([]*models.Tip, error)
	GetForRecipient(ctx context.Context, rid id.RecipientID, tipID id.TipID) (*tipservice.View, error)
}

// CommentService posts into a tip's thread.
type CommentService interface {
	PostComment(ctx context.Context, tipID id.TipID, actor access.Actor, body string) (*models.Comment, error)
}

// LifecycleService drives retention transitions.
type LifecycleService interface {
	Postpone(ctx context.Context, tipID id.TipID, actor id.RecipientID) error
	PostponeBatch(ctx context.Context, tipIDs []id.TipID, actor id.RecipientID) ([]lifecycle.BatchOutcome, error)
	Delete(ctx context.Context, tipID id.TipID, actor id.RecipientID) error
}

// ExportService renders a tip as a downloadable archive.
type ExportService interface {
	Archive(ctx context.Context, rid id.RecipientID, tipID id.TipID) ([]byte, error)
}

// Handler exposes the recipient surface: login is open, everything under
// /recipient requires a bearer token.
type Handler struct {
	logger    *slog.Logger
	accounts  AccountService
	tips      TipService
	comments  CommentService
	lifecycle LifecycleService
	exports   ExportService
	metrics   *metrics.Metrics
	validator middleware.TokenValidator
}

func New(
	accounts AccountService,
	tips TipService,
	comments CommentService,
	lifecycle LifecycleService,
	exports ExportService,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:    logger,
		accounts:  accounts,
		tips:      tips,
		comments:  comments,
		lifecycle: lifecycle,
		exports:   exports,
		metrics:   metrics,
		validator: validator,
	}
}

// Register registers the auth and recipient routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(open chi.Router) {
		open.Use(middleware.Recovery(h.logger))
		open.Use(middleware.RequestID)
		open.Use(middleware.Logger(h.logger))
		open.Use(middleware.Timeout(10 * time.Second))
		open.Use(middleware.ContentTypeJSON)
		open.Use(middleware.LatencyMiddleware(h.metrics))
		open.Post("/auth/login", h.handleLogin)
		open.Get("/recipients", h.handleListRecipients)
	})

	r.Route("/recipient", func(authed chi.Router) {
		authed.Use(middleware.Recovery(h.logger))
		authed.Use(middleware.RequestID)
		authed.Use(middleware.Logger(h.logger))
		authed.Use(middleware.Timeout(30 * time.Second))
		authed.Use(middleware.ContentTypeJSON)
		authed.Use(middleware.LatencyMiddleware(h.metrics))
		authed.Use(middleware.RequireAuth(h.validator, h.logger))
		authed.Get("/tips", h.handleListTips)
		authed.Get("/tips/{tipID}", h.handleGetTip)
		authed.Post("/tips/{tipID}/comment", h.handleComment)
		authed.Get("/tips/{tipID}/export", h.handleExport)
		authed.Post("/tips/{tipID}/postpone", h.handlePostpone)
		authed.Post("/tips/postpone", h.handlePostponeBatch)
		authed.Delete("/tips/{tipID}", h.handleDelete)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	RecipientID id.RecipientID `json:"recipient_id"`
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int            `json:"expires_in"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if !govalidator.StringLength(req.Username, "1", "255") || !govalidator.StringLength(req.Password, "1", "1024") {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "username and password are required"))
		return
	}

	res, err := h.accounts.Login(ctx, req.Username, req.Password)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeUnauthorized) {
			h.logger.WarnContext(ctx, "login rejected",
				"request_id", middleware.GetRequestID(ctx),
			)
			shared.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "login failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "login failure"))
		return
	}

	shared.WriteJSON(w, http.StatusOK, loginResponse{
		RecipientID: res.RecipientID,
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   res.ExpiresIn,
	})
}

type recipientPublic struct {
	ID       id.RecipientID `json:"id"`
	Username string         `json:"username"`
}

func (h *Handler) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	list, err := h.accounts.ListPublic(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list recipients",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to list recipients"))
		return
	}

	out := make([]recipientPublic, 0, len(list))
	for _, p := range list {
		out = append(out, recipientPublic{ID: p.ID, Username: p.Username})
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

type tipSummary struct {
	ID          id.TipID     `json:"id"`
	State       models.State `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Attachments int          `json:"attachments"`
}

func (h *Handler) handleListTips(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rid := middleware.GetRecipientID(ctx)

	tips, err := h.tips.ListFor(ctx, rid)
	if err != nil {
		h.writeRecipientError(ctx, w, "list", err)
		return
	}

	out := make([]tipSummary, 0, len(tips))
	for _, t := range tips {
		out = append(out, tipSummary{
			ID:          t.ID,
			State:       t.State,
			CreatedAt:   t.CreatedAt,
			ExpiresAt:   t.ExpiresAt,
			Attachments: len(t.Attachments),
		})
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

type commentResponse struct {
	ID         id.CommentID      `json:"id"`
	AuthorRole models.AuthorRole `json:"author_role"`
	Body       string            `json:"body"`
	CreatedAt  time.Time         `json:"created_at"`
}

type tipDetail struct {
	ID          id.TipID               `json:"id"`
	State       models.State           `json:"state"`
	CreatedAt   time.Time              `json:"created_at"`
	ExpiresAt   time.Time              `json:"expires_at"`
	Fields      []models.ContentField  `json:"fields"`
	Attachments []models.AttachmentRef `json:"attachments"`
	Comments    []commentResponse      `json:"comments"`
}

func (h *Handler) handleGetTip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rid := middleware.GetRecipientID(ctx)

	tipID, ok := h.tipIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.tips.GetForRecipient(ctx, rid, tipID)
	if err != nil {
		h.writeRecipientError(ctx, w, "get", err)
		return
	}

	detail := tipDetail{
		ID:          view.Tip.ID,
		State:       view.Tip.State,
		CreatedAt:   view.Tip.CreatedAt,
		ExpiresAt:   view.Tip.ExpiresAt,
		Fields:      view.Tip.ContentFields,
		Attachments: view.Tip.Attachments,
		Comments:    make([]commentResponse, 0, len(view.Comments)),
	}
	for _, c := range view.Comments {
		detail.Comments = append(detail.Comments, commentResponse{
			ID:         c.ID,
			AuthorRole: c.AuthorRole,
			Body:       c.Body,
			CreatedAt:  c.CreatedAt,
		})
	}
	shared.WriteJSON(w, http.StatusOK, detail)
}

type commentRequest struct {
	Body string `json:"body"`
}

func (h *Handler) handleComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rid := middleware.GetRecipientID(ctx)

	tipID, ok := h.tipIDParam(w, r)
	if !ok {
		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	comment, err := h.comments.PostComment(ctx, tipID, access.Recipient(rid), req.Body)
	if err != nil {
		h.writeRecipientError(ctx, w, "comment", err)
		return
	}

	h.metrics.CommentsPosted.WithLabelValues(string(models.RoleRecipient)).Inc()
	shared.WriteJSON(w, http.StatusCreated, commentResponse{
		ID:         comment.ID,
		AuthorRole: comment.AuthorRole,
		Body:       comment.Body,
		CreatedAt:  comment.CreatedAt,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rid := middleware.GetRecipientID(ctx)

	tipID, ok := h.tipIDParam(w, r)
	if !ok {
		return
	}

	archive, err := h.exports.Archive(ctx, rid, tipID)
	if err != nil {
		h.writeRecipientError(ctx, w, "export", err)
		return
	}

	h.metrics.ExportsServed.Inc()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "tip-"+tipID.String()+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (h *Handler) handlePostpone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rid := middleware.GetRecipientID(ctx)

	tipID, ok := h.tipIDParam(w, r)
	if !ok {
		return
	}

	if err := h.lifecycle.Postpone(ctx, tipID, rid); err != nil {
		h.writeRecipientError(ctx, w, "postpone", err)
		return
	}

	h.metrics.TipsPostponed.Inc()
	w.WriteHeader(http.StatusNoContent)
}

type postponeBatchRequest struct {
	TipIDs []id.TipID `json:"tip_ids"`
}

type batchOutcomeResponse struct {
	TipID id.TipID `json:"tip_id"`
	Error string   `json:"error,omitempty"`
}

type postponeBatchResponse struct {
	Outcomes []batchOutcomeResponse `json:"outcomes"`
}

func (h *Handler) handlePostponeBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rid := middleware.GetRecipientID(ctx)

	var req postponeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if len(req.TipIDs) == 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "tip_ids is required"))
		return
	}

	outcomes, err := h.lifecycle.PostponeBatch(ctx, req.TipIDs, rid)
	if err != nil && !dErrors.Is(err, dErrors.CodePartialBatchFailure) {
		h.writeRecipientError(ctx, w, "postpone_batch", err)
		return
	}

	resp := postponeBatchResponse{Outcomes: make([]batchOutcomeResponse, 0, len(outcomes))}
	succeeded := 0
	for _, o := range outcomes {
		out := batchOutcomeResponse{TipID: o.TipID}
		if o.Err != nil {
			out.Error = string(dErrors.CodeOf(o.Err))
		} else {
			succeeded++
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}
	h.metrics.TipsPostponed.Add(float64(succeeded))

	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	shared.WriteJSON(w, status, resp)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rid := middleware.GetRecipientID(ctx)

	tipID, ok := h.tipIDParam(w, r)
	if !ok {
		return
	}

	if err := h.lifecycle.Delete(ctx, tipID, rid); err != nil {
		h.writeRecipientError(ctx, w, "delete", err)
		return
	}

	h.metrics.TipsDeleted.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) tipIDParam(w http.ResponseWriter, r *http.Request) (id.TipID, bool) {
	tipID, err := id.ParseTipID(chi.URLParam(r, "tipID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid tip id"))
		return id.TipID{}, false
	}
	return tipID, true
}

func (h *Handler) writeRecipientError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound, dErrors.CodeForbidden, dErrors.CodeInvalidState, dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		shared.WriteError(w, err)
	default:
		h.logger.ErrorContext(ctx, "recipient operation failed",
			"op", op,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "recipient operation failure"))
	}
}
