package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-audit-trail/internal/config"
	"go-audit-trail/internal/event"
	"go-audit-trail/internal/handler"
	"go-audit-trail/internal/metrics"
	"go-audit-trail/internal/middleware"
	"go-audit-trail/internal/repository"
	"go-audit-trail/internal/service"
	"go-audit-trail/internal/websocket"
)

func newTestRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *service.AuthService, *service.AuditService) {
	t.Helper()

	cfg := &config.Config{
		RequestTimeout:      5 * time.Second,
		CORSOrigins:         []string{"*"},
		RateLimitRPM:        1000,
		RecoverRateLimitRPM: 1000,
	}

	auth, err := service.NewAuthService("router-test-secret", time.Minute)
	require.NoError(t, err)

	m := metrics.New()
	bus := event.NewBus()
	svc := service.NewAuditService(repository.NewMemoryAuditRepository(), nil, bus, m)

	h := New(cfg, middleware.NewAuthMiddleware(auth), Handlers{
		Audit:   handler.NewAuditHandler(svc),
		Docs:    handler.NewDocsHandler(),
		Stream:  websocket.NewHandler(websocket.NewHub(bus), cfg.CORSOrigins),
		Metrics: m.Handler(),
	}, checks)

	return h, auth, svc
}

func TestRouter_Health(t *testing.T) {
	h, _, _ := newTestRouter(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_HealthReportsFailures(t *testing.T) {
	h, _, _ := newTestRouter(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
}

func TestRouter_MetricsAreUnauthenticated(t *testing.T) {
	h, auth, svc := newTestRouter(t, nil)
	svc.SoftDelete(context.Background(), "Product", 1, map[string]any{"name": "Widget"}, 7)

	token, err := auth.IssueAccessToken(7, "Jane", "editor")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-trail?type=deleted", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `audit_entries_written_total{action="DELETE"} 1`)
}

func TestRouter_AuditRoutesRequireToken(t *testing.T) {
	h, _, _ := newTestRouter(t, nil)

	for _, target := range []string{
		"/api/v1/audit-trail",
		"/api/v1/audit-trail/deleted-ids?entity=Product",
		"/api/v1/audit-trail/stream",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
}

func TestRouter_ServesDocs(t *testing.T) {
	h, _, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Audit Trail API")
}
