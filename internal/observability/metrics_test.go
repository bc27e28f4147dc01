package observability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
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
	require.Contains(t, body, `odyssey_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `odyssey_http_request_duration_seconds_bucket{route="/test"`)
}

func TestObserveOperationCountsOutcomes(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveOperation("transfers.complete", nil)
	metrics.ObserveOperation("transfers.complete", shared.Conflictf("transfer already completed"))
	metrics.ObserveOperation("transfers.complete", shared.Conflictf("transfer already completed"))

	body := scrape(t, metrics)
	require.Contains(t, body, `odyssey_ledger_operations_total{operation="transfers.complete",outcome="ok"} 1`)
	require.Contains(t, body, `odyssey_ledger_operations_total{operation="transfers.complete",outcome="conflict"} 2`)
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"ok":                 nil,
		"validation":         shared.Validationf("bad"),
		"not_found":          shared.NotFoundf("missing"),
		"conflict":           shared.Conflictf("state"),
		"unauthorized":       fmt.Errorf("wrap: %w", shared.ErrUnauthorized),
		"insufficient_stock": &shared.InsufficientStockError{ProductID: 1, BranchID: 2},
		"persistence":        fmt.Errorf("boom"),
	}
	for want, err := range cases {
		require.Equal(t, want, Outcome(err))
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveOperation("inventory.create_movement", nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	require.NotNil(t, metrics.Middleware(next))
}
