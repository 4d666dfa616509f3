package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/clinic-billing/internal/jobs"
)

// Metrics collects the Prometheus metrics of the billing service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	directions      *prometheus.CounterVec
	payments        *prometheus.CounterVec
	locksLost       prometheus.Counter
	jobs            *jobmetrics.Metrics
}

// NewMetrics initialises the registry with HTTP, billing and job collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	directions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_directions_total",
		Help: "Processed service orders by outcome and last stage reached.",
	}, []string{"outcome", "stage"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_payments_total",
		Help: "Reconciled payments by outcome and whether a ledger row was credited.",
	}, []string{"outcome", "credited"})
	locksLost := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_ledger_locks_lost_total",
		Help: "Ledger locks that expired before their holder released them.",
	})
	registry.MustRegister(requests, duration, directions, payments, locksLost)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		directions:      directions,
		payments:        payments,
		locksLost:       locksLost,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and duration of every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RecordDirection counts one processed service order.
func (m *Metrics) RecordDirection(outcome, stage string) {
	if m == nil {
		return
	}
	m.directions.WithLabelValues(outcome, stage).Inc()
}

// RecordPayment counts one reconciled payment.
func (m *Metrics) RecordPayment(outcome string, credited bool) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(outcome, strconv.FormatBool(credited)).Inc()
}

// LockLost counts a ledger lock that expired while held.
func (m *Metrics) LockLost(string) {
	if m == nil {
		return
	}
	m.locksLost.Inc()
}

// Jobs returns the job collectors sharing this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
