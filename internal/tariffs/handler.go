package tariffs

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/clinic-billing/internal/platform/httpx"
)

// CurrentResolver is the read side used by Handler.
type CurrentResolver interface {
	Current(ctx context.Context, subject Subject, subjectID int64) (Contract, bool, error)
}

// PriceListRefresher invalidates cached price lists.
type PriceListRefresher interface {
	Refresh(ctx context.Context) (int64, error)
}

// Handler exposes tariff lookups over HTTP.
type Handler struct {
	logger    *slog.Logger
	resolver  CurrentResolver
	refresher PriceListRefresher
}

// NewHandler constructs the tariff handler.
func NewHandler(logger *slog.Logger, resolver CurrentResolver, refresher PriceListRefresher) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolver: resolver, refresher: refresher}
}

// MountRoutes registers tariff routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{subject}/{id}/current", h.handleCurrent)
	r.Post("/price-lists/refresh", h.handleRefresh)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	subject := Subject(chi.URLParam(r, "subject"))
	if !subject.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "subject must be clinic or doctor")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	contract, ok, err := h.resolver.Current(r.Context(), subject, id)
	if err != nil {
		h.logger.Error("resolve current tariff", slog.Any("error", err), slog.String("subject", string(subject)), slog.Int64("subject_id", id))
		httpx.RespondError(w, err)
		return
	}
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no current tariff")
		return
	}
	httpx.JSON(w, http.StatusOK, contract)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	version, err := h.refresher.Refresh(r.Context())
	if err != nil {
		h.logger.Error("refresh price lists", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("price list cache bumped", slog.Int64("version", version))
	w.WriteHeader(http.StatusNoContent)
}
