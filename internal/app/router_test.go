package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-payables/internal/dashboard"
	"github.com/odyssey-erp/odyssey-payables/internal/observability"
	"github.com/odyssey-erp/odyssey-payables/internal/rbac"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
	"github.com/odyssey-erp/odyssey-payables/jobs"
)

type staticPermissions []string

func (p staticPermissions) PermissionsFor(context.Context, int64, string) ([]string, error) {
	return p, nil
}

type emptySnapshot struct{}

func (emptySnapshot) Snapshot() map[dashboard.Counter]dashboard.Reading {
	return map[dashboard.Counter]dashboard.Reading{}
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &Config{AppEnv: "test", AppRequestTimeout: time.Second, RateLimitPerMinute: 3}
	mw := rbac.Middleware{Permissions: staticPermissions{shared.PermPayablesDashboardView}}
	return NewRouter(RouterParams{
		Config:             cfg,
		Logger:             NewLogger(cfg),
		RBACMiddleware:     mw,
		DashboardHandler:   dashboard.NewHandler(emptySnapshot{}, mw),
		PermissionsHandler: rbac.NewPermissionsHandler(nil, rbac.DefaultTable(), mw),
		JobHandler:         jobs.NewHandler(nil, nil),
		Metrics:            observability.NewMetrics(),
	})
}

func TestRouterMountsPayablesAPI(t *testing.T) {
	h := testRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	req := httptest.NewRequest(http.MethodGet, APIPrefix+"/dashboard/counts", nil)
	req.Header.Set(rbac.HeaderActorID, "7")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRateLimits(t *testing.T) {
	h := testRouter(t)
	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.9:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{200, 200, 200, http.StatusTooManyRequests}, codes)
}

func TestConfigValidation(t *testing.T) {
	cfg := Config{PGDSN: "postgres://x", PollInterval: 10 * time.Second, RateLimitPerMinute: 60}
	require.NoError(t, cfg.validate())

	cfg.PollInterval = time.Millisecond
	require.Error(t, cfg.validate())

	cfg.PollInterval = time.Second
	cfg.RateLimitPerMinute = 0
	require.Error(t, cfg.validate())
}
