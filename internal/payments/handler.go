package payments

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/clinic-billing/internal/platform/httpx"
	"github.com/odyssey-erp/clinic-billing/internal/shared"
)

// PaymentProcessor is the write side used by Handler.
type PaymentProcessor interface {
	Process(ctx context.Context, in Input) (Payment, error)
}

// Handler exposes payment recording over HTTP.
type Handler struct {
	logger     *slog.Logger
	reconciler PaymentProcessor
}

// NewHandler constructs the payments handler.
func NewHandler(logger *slog.Logger, reconciler PaymentProcessor) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reconciler: reconciler}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Put("/{id}", h.handleAmend)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, 0, http.StatusCreated)
}

func (h *Handler) handleAmend(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment id")
		return
	}
	h.process(w, r, id, http.StatusOK)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request, id int64, status int) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	in.ID = id
	pay, err := h.reconciler.Process(r.Context(), in)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		if _, ok := shared.AsValidationErrors(err); !ok {
			h.logger.Error("process payment", slog.Any("error", err), slog.Int64("payment_id", id))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, status, pay)
}
