package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/clinic-billing/internal/directions"
	"github.com/odyssey-erp/clinic-billing/internal/observability"
	"github.com/odyssey-erp/clinic-billing/internal/payments"
	"github.com/odyssey-erp/clinic-billing/internal/platform/httpx"
	"github.com/odyssey-erp/clinic-billing/internal/tariffs"
	"github.com/odyssey-erp/clinic-billing/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	DirectionsHandler *directions.Handler
	PaymentsHandler   *payments.Handler
	TariffsHandler    *tariffs.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with billing defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.DirectionsHandler != nil {
		r.Route("/directions", params.DirectionsHandler.MountRoutes)
	}
	if params.PaymentsHandler != nil {
		r.Route("/payments", params.PaymentsHandler.MountRoutes)
	}
	if params.TariffsHandler != nil {
		r.Route("/tariffs", params.TariffsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
