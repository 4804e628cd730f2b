//go:build integration

package integration

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditTrailHTTP_RecycleBinFlow(t *testing.T) {
	db := openTestDB(t)
	server, auditService, authService := newAuthedServer(t, db)
	ctx := context.Background()

	accessToken, err := authService.IssueAccessToken(7, "Jane", "editor")
	require.NoError(t, err)

	auditService.SoftDelete(ctx, "Customer", 55, map[string]any{"name": "Acme"}, 7)

	resp := doAuthJSONRequest(t, http.MethodGet, server.URL+"/api/v1/audit-trail?type=deleted&entity=Customer", nil, accessToken)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeResponse(t, resp)
	require.Equal(t, float64(1), listed["total"])
	logID := listed["items"].([]any)[0].(map[string]any)["logId"]

	recoverResp := doAuthJSONRequest(t, http.MethodPost, server.URL+"/api/v1/audit-trail/recover", map[string]any{"logId": logID}, accessToken)
	t.Cleanup(func() { _ = recoverResp.Body.Close() })
	require.Equal(t, http.StatusOK, recoverResp.StatusCode)
	assert.Equal(t, true, decodeResponse(t, recoverResp)["success"])

	missingResp := doAuthJSONRequest(t, http.MethodPost, server.URL+"/api/v1/audit-trail/recover", map[string]any{"logId": 999999}, accessToken)
	t.Cleanup(func() { _ = missingResp.Body.Close() })
	require.Equal(t, http.StatusNotFound, missingResp.StatusCode)

	idsResp := doAuthJSONRequest(t, http.MethodGet, server.URL+"/api/v1/audit-trail/deleted-ids?entity=Customer", nil, accessToken)
	t.Cleanup(func() { _ = idsResp.Body.Close() })
	require.Equal(t, http.StatusOK, idsResp.StatusCode)
	assert.Empty(t, decodeResponse(t, idsResp)["data"].(map[string]any)["ids"])
}

func TestAuditTrailHTTP_Unauthenticated(t *testing.T) {
	db := openTestDB(t)
	server, _, _ := newAuthedServer(t, db)

	resp := doAuthJSONRequest(t, http.MethodPost, server.URL+"/api/v1/audit-trail/recover", map[string]any{"logId": 1}, "")
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuditTrailHTTP_StreamDeliversDeletes(t *testing.T) {
	db := openTestDB(t)
	server, auditService, authService := newAuthedServer(t, db)

	accessToken, err := authService.IssueAccessToken(7, "Jane", "viewer")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/audit-trail/stream?entity=Product&access_token=" + accessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// Registration with the hub is asynchronous; keep deleting fresh entities
	// until one arrives.
	deadline := time.Now().Add(3 * time.Second)
	received := make(chan map[string]any, 1)
	go func() {
		var body map[string]any
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&body); err == nil {
			received <- body
		}
		close(received)
	}()

	var body map[string]any
	for id := int64(1); body == nil && time.Now().Before(deadline); id++ {
		auditService.SoftDelete(context.Background(), "Product", id, map[string]any{"n": id}, 7)
		select {
		case body = <-received:
		case <-time.After(100 * time.Millisecond):
		}
	}

	require.NotNil(t, body, "no event received")
	assert.Equal(t, "audit.deleted", body["type"])
	assert.Equal(t, "Product", body["entity_type"])
}

func TestHealthEndpoint(t *testing.T) {
	db := openTestDB(t)
	server, _, _ := newAuthedServer(t, db)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
