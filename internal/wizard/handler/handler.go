package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tipline/internal/platform/metrics"
	"tipline/internal/platform/middleware"
	"tipline/internal/transport/http/shared"
	"tipline/internal/wizard"
	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
)

// Service is the submission wizard surface this handler delegates to.
type Service interface {
	Begin(ctx context.Context) (*wizard.Session, error)
	Advance(ctx context.Context, wid id.WizardID, fromStep int, input wizard.StepInput) (*wizard.Session, error)
	Back(ctx context.Context, wid id.WizardID) (*wizard.Session, error)
	Submit(ctx context.Context, wid id.WizardID) (*wizard.SubmitResult, error)
	Abandon(ctx context.Context, wid id.WizardID) error
}

// Handler exposes the anonymous submission wizard. None of these routes carry
// authentication; the wizard id alone scopes the session.
type Handler struct {
	logger  *slog.Logger
	wizard  Service
	metrics *metrics.Metrics
}

func New(wizard Service, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{logger: logger, wizard: wizard, metrics: metrics}
}

// Register registers the wizard routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(wr chi.Router) {
		wr.Use(middleware.Recovery(h.logger))
		wr.Use(middleware.RequestID)
		wr.Use(middleware.Logger(h.logger))
		wr.Use(middleware.Timeout(30 * time.Second))
		wr.Use(middleware.ContentTypeJSON)
		wr.Use(middleware.LatencyMiddleware(h.metrics))
		wr.Post("/wizard", h.handleBegin)
		wr.Post("/wizard/advance", h.handleAdvance)
		wr.Post("/wizard/back", h.handleBack)
		wr.Post("/wizard/submit", h.handleSubmit)
		wr.Post("/wizard/abandon", h.handleAbandon)
	})
}

type sessionResponse struct {
	WizardID id.WizardID `json:"wizard_id"`
	Step     int         `json:"step"`
}

func toSessionResponse(s *wizard.Session) sessionResponse {
	return sessionResponse{WizardID: s.ID, Step: s.Step}
}

func (h *Handler) handleBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := h.wizard.Begin(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to begin wizard session",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to begin submission"))
		return
	}

	shared.WriteJSON(w, http.StatusCreated, toSessionResponse(sess))
}

type advanceRequest struct {
	WizardID id.WizardID      `json:"wizard_id"`
	FromStep int              `json:"from_step"`
	Input    wizard.StepInput `json:"input"`
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	sess, err := h.wizard.Advance(ctx, req.WizardID, req.FromStep, req.Input)
	if err != nil {
		h.writeWizardError(ctx, w, "advance", err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

type sessionRequest struct {
	WizardID id.WizardID `json:"wizard_id"`
}

func (h *Handler) handleBack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	sess, err := h.wizard.Back(ctx, req.WizardID)
	if err != nil {
		h.writeWizardError(ctx, w, "back", err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

type submitResponse struct {
	Receipt          string `json:"receipt"`
	FormattedReceipt string `json:"formatted_receipt"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	res, err := h.wizard.Submit(ctx, req.WizardID)
	if err != nil {
		// A duplicate submit is not a client failure: the original receipt
		// comes back so a flaky connection never strands the whistleblower.
		if dErrors.Is(err, dErrors.CodeAlreadySubmitted) && res != nil {
			shared.WriteJSON(w, http.StatusOK, submitResponse{
				Receipt:          res.Receipt,
				FormattedReceipt: res.FormattedReceipt,
			})
			return
		}
		h.writeWizardError(ctx, w, "submit", err)
		return
	}

	h.metrics.TipsSubmitted.Inc()
	shared.WriteJSON(w, http.StatusCreated, submitResponse{
		Receipt:          res.Receipt,
		FormattedReceipt: res.FormattedReceipt,
	})
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.wizard.Abandon(ctx, req.WizardID); err != nil {
		h.writeWizardError(ctx, w, "abandon", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeWizardError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound, dErrors.CodeInvalidState, dErrors.CodeAlreadySubmitted, dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		shared.WriteError(w, err)
	default:
		h.logger.ErrorContext(ctx, "wizard operation failed",
			"op", op,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "submission wizard failure"))
	}
}
