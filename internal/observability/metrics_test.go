package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesBillingAndJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordDirection("processed", "persisted")
	metrics.RecordPayment("recorded", true)
	metrics.Jobs().Track("ledger_integrity").End(nil)

	body := scrape(t, metrics)
	require.Contains(t, body, `billing_directions_total{outcome="processed",stage="persisted"} 1`)
	require.Contains(t, body, `billing_payments_total{credited="true",outcome="recorded"} 1`)
	require.Contains(t, body, `billing_jobs_total{job="ledger_integrity",status="success"} 1`)
	require.Contains(t, body, "billing_ledger_locks_lost_total 0")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.True(t, strings.Contains(body, `billing_http_requests_total{code="418",route="/test"} 1`), body)
	require.Contains(t, body, `billing_http_request_duration_seconds_bucket{route="/test"`)
}

func TestLockLostCounter(t *testing.T) {
	metrics := NewMetrics()
	metrics.LockLost("billing:accrual:clinic:2:2:9:lock")
	metrics.LockLost("billing:accrual:clinic:2:2:9:lock")
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.locksLost))

	var nilMetrics *Metrics
	nilMetrics.LockLost("k")
	nilMetrics.RecordDirection("processed", "persisted")
	require.Nil(t, nilMetrics.Jobs())
}
