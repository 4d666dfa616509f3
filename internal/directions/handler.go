package directions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/clinic-billing/internal/platform/httpx"
)

// OrderProcessor is the write side used by Handler.
type OrderProcessor interface {
	Process(ctx context.Context, in Input) (Direction, error)
}

// Handler exposes order recording over HTTP.
type Handler struct {
	logger    *slog.Logger
	processor OrderProcessor
}

// NewHandler constructs the directions handler.
func NewHandler(logger *slog.Logger, processor OrderProcessor) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, processor: processor}
}

// MountRoutes registers direction routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	dir, err := h.processor.Process(r.Context(), in)
	if err != nil {
		if rej, ok := AsRejection(err); ok {
			httpx.ValidationProblem(w, "rejected at "+string(rej.Stage), rej.Errors)
			return
		}
		if !errors.Is(err, ErrAlreadyProcessed) {
			h.logger.Error("process direction", slog.Any("error", err), slog.Int64("clinic_id", in.ClinicID), slog.Int64("doctor_id", in.DoctorID))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, dir)
}
