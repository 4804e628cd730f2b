//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-audit-trail/internal/config"
	"go-audit-trail/internal/database"
	"go-audit-trail/internal/event"
	"go-audit-trail/internal/handler"
	"go-audit-trail/internal/metrics"
	"go-audit-trail/internal/middleware"
	"go-audit-trail/internal/repository"
	"go-audit-trail/internal/router"
	"go-audit-trail/internal/service"
	"go-audit-trail/internal/websocket"
)

const testJWTSecret = "integration-secret"

// openTestDB connects to TEST_DATABASE_URL, applies the schema and empties
// the log. Tests using it must not run in parallel.
func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, url, 10, 1)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.EnsureSchema(ctx))

	// TRUNCATE bypasses the row-level append-only trigger.
	_, err = db.Pool.Exec(ctx, `TRUNCATE audit_log RESTART IDENTITY`)
	require.NoError(t, err)

	_, err = db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id    BIGINT PRIMARY KEY,
			name  TEXT,
			email TEXT
		)`)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, `TRUNCATE users`)
	require.NoError(t, err)

	return db
}

func newAuditService(db *database.DB, bus event.Bus) *service.AuditService {
	return service.NewAuditService(
		repository.NewAuditRepository(db.Pool),
		repository.NewUserRepository(db.Pool),
		bus,
		metrics.New(),
	)
}

func newAuthedServer(t *testing.T, db *database.DB) (*httptest.Server, *service.AuditService, *service.AuthService) {
	t.Helper()

	authService, err := service.NewAuthService(testJWTSecret, 15*time.Minute)
	require.NoError(t, err)

	bus := event.NewBus()
	m := metrics.New()
	auditService := service.NewAuditService(
		repository.NewAuditRepository(db.Pool),
		repository.NewUserRepository(db.Pool),
		bus,
		m,
	)

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub(bus)
	go hub.Run(ctx)

	cfg := &config.Config{
		RequestTimeout:      10 * time.Second,
		CORSOrigins:         []string{"*"},
		RateLimitRPM:        1000,
		RecoverRateLimitRPM: 1000,
	}

	server := httptest.NewServer(router.New(cfg, middleware.NewAuthMiddleware(authService), router.Handlers{
		Audit:   handler.NewAuditHandler(auditService),
		Docs:    handler.NewDocsHandler(),
		Stream:  websocket.NewHandler(hub, cfg.CORSOrigins),
		Metrics: m.Handler(),
	}, map[string]router.HealthCheck{"database": db.Health}))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return server, auditService, authService
}

func doAuthJSONRequest(t *testing.T, method string, url string, payload any, accessToken string) *http.Response {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}

	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}
