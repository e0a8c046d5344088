package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotsales/lotsales/internal/observability"
	"github.com/lotsales/lotsales/internal/sales"
	"github.com/lotsales/lotsales/jobs"
)

func TestRouterHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	h := NewRouter(RouterParams{
		Logger:       NewLogger(&Config{LogFormat: "json"}),
		Config:       &Config{AppEnv: "production", AppRateLimit: 100},
		SalesHandler: sales.NewHandler(nil, sales.NewService(nil, sales.ServiceConfig{})),
		JobHandler:   jobs.NewHandler(nil, nil),
		Metrics:      metrics,
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Ratelimit-Limit"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/jobs/health", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `lotsales_http_requests_total{code="200",route="/healthz"} 1`))
}

func TestRouterProblemForUnknownRoute(t *testing.T) {
	h := NewRouter(RouterParams{Logger: NewLogger(nil)})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sales/1/payments", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterRedirectsPlainHTTPInProduction(t *testing.T) {
	h := NewRouter(RouterParams{Logger: NewLogger(nil), Config: &Config{AppEnv: "production"}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://api.example.com/healthz", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
}
