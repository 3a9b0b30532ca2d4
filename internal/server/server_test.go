// Package server_test provides unit tests for the HTTP server package.
package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/scrypster/aide/internal/config"
	"github.com/scrypster/aide/internal/server"
	"github.com/scrypster/aide/internal/services"
	"github.com/scrypster/aide/internal/session"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/internal/storage/sqlite"
	"github.com/scrypster/aide/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAgent satisfies handlers.TurnSubmitter without reaching an LLM.
type stubAgent struct{}

func (stubAgent) SubmitTurn(ctx context.Context, conversationID, input string) (*types.TurnResult, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("%w: turn input is required", storage.ErrInvalidInput)
	}
	if conversationID == "" {
		conversationID = types.NewConversationID()
	}
	return &types.TurnResult{
		TurnID:         "turn:stub",
		ConversationID: conversationID,
		Response:       "noted",
		Intent:         types.IntentGeneral,
		Elapsed:        5 * time.Millisecond,
	}, nil
}

// startTestServer starts a server over an in-memory SQLite store and a stub
// agent. It returns the base URL and registers cleanup with t.Cleanup.
func startTestServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err, "failed to create in-memory SQLite store")

	sessions := session.NewManager(store, session.DefaultConfig())
	profiles := services.NewProfileService(store, "Tester")

	ctx, cancel := context.WithCancel(context.Background())

	addr, _, err := server.Start(ctx, cfg, stubAgent{}, store, nil, profiles, sessions)
	if err != nil {
		cancel()
		_ = store.Close()
	}
	require.NoError(t, err, "failed to start server")

	t.Cleanup(func() {
		cancel()
		time.Sleep(100 * time.Millisecond) // Give server time to shut down
		_ = store.Close()
	})

	return "http://" + addr
}

// TestServer_StartsOnRandomPort verifies that the server can start on a random
// port (port 0) and returns a valid, non-zero address.
func TestServer_StartsOnRandomPort(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0, // Request random port
		},
	}

	baseURL := startTestServer(t, cfg)

	assert.NotEmpty(t, baseURL, "baseURL should not be empty")
	assert.True(t, strings.HasPrefix(baseURL, "http://"), "baseURL should have http:// prefix")

	parts := strings.Split(baseURL, "://")
	require.Len(t, parts, 2)
	addr := parts[1]

	host, port, err := net.SplitHostPort(addr)
	assert.NoError(t, err, "address should be valid host:port format")
	assert.NotEmpty(t, host, "host should not be empty")
	assert.NotEqual(t, "0", port, "port should not be 0 in actual address")
}

// TestServer_HealthEndpoint verifies the health endpoint returns 200 with JSON content.
func TestServer_HealthEndpoint(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}

	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err, "failed to GET /api/health")
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode, "health endpoint should return 200")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"), "health endpoint should return JSON")

	var healthResp map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&healthResp)
	require.NoError(t, err, "failed to decode health response JSON")

	status, ok := healthResp["status"]
	assert.True(t, ok, "health response should have 'status' field")
	assert.Equal(t, "healthy", status, "status should be 'healthy'")
	assert.Contains(t, healthResp, "version", "health response should have 'version' field")
}

// TestServer_SecurityHeaders verifies all security headers are present in responses.
func TestServer_SecurityHeaders(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}

	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err, "failed to GET /api/health")
	defer func() { _ = resp.Body.Close() }()

	expectedHeaders := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}

	for headerName, expectedValue := range expectedHeaders {
		actualValue := resp.Header.Get(headerName)
		assert.Equal(t, expectedValue, actualValue,
			"header %q should be %q but got %q", headerName, expectedValue, actualValue)
	}
}

// TestServer_RouteRegistration verifies core API routes are registered and accessible.
func TestServer_RouteRegistration(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}

	baseURL := startTestServer(t, cfg)

	apiPaths := []string{
		"/api/health",
		"/api/turns",
		"/api/memories",
		"/api/tasks",
		"/api/conversations",
		"/api/profile",
		"/api/stats",
		"/api/config",
	}

	for _, path := range apiPaths {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(baseURL + path)
			require.NoError(t, err, "failed to GET %s", path)
			defer func() { _ = resp.Body.Close() }()

			assert.NotEqual(t, http.StatusNotFound, resp.StatusCode,
				"route %s should be registered (got 404)", path)
			assert.True(t, resp.StatusCode < 500,
				"route %s should not return 5xx (got %d)", path, resp.StatusCode)
		})
	}
}

// TestServer_SubmitTurn verifies the turn endpoint round-trips through the
// full middleware stack.
func TestServer_SubmitTurn(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}

	baseURL := startTestServer(t, cfg)

	t.Run("valid_input", func(t *testing.T) {
		body := bytes.NewReader([]byte(`{"input":"remind me to water the plants"}`))
		resp, err := http.Post(baseURL+"/api/turns", "application/json", body)
		require.NoError(t, err, "failed to POST /api/turns")
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode, "valid turn should return 200")

		var result types.TurnResult
		err = json.NewDecoder(resp.Body).Decode(&result)
		require.NoError(t, err, "failed to decode turn result")
		assert.Equal(t, "turn:stub", result.TurnID)
		assert.Equal(t, "noted", result.Response)
		assert.NotEmpty(t, result.ConversationID, "a fresh conversation ID should be allocated")
	})

	t.Run("blank_input", func(t *testing.T) {
		body := bytes.NewReader([]byte(`{"input":"   "}`))
		resp, err := http.Post(baseURL+"/api/turns", "application/json", body)
		require.NoError(t, err, "failed to POST /api/turns")
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "blank input should return 400")
	})
}

// TestServer_QueryWithoutMemory verifies the query endpoint reports retrieval
// as unavailable when no memory store is wired in.
func TestServer_QueryWithoutMemory(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}

	baseURL := startTestServer(t, cfg)

	body := bytes.NewReader([]byte(`{"query":"coffee preferences"}`))
	resp, err := http.Post(baseURL+"/api/query", "application/json", body)
	require.NoError(t, err, "failed to POST /api/query")
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode,
		"query without a memory store should return 503")
}

// TestServer_GracefulShutdown verifies the server shuts down gracefully when
// context is cancelled.
func TestServer_GracefulShutdown(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	sessions := session.NewManager(store, session.DefaultConfig())
	profiles := services.NewProfileService(store, "Tester")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, _, err := server.Start(ctx, cfg, stubAgent{}, store, nil, profiles, sessions)
	require.NoError(t, err, "failed to start server")
	baseURL := "http://" + addr

	// Verify server is responding
	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err, "server should be responding before shutdown")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Cancel context to trigger graceful shutdown
	cancel()
	time.Sleep(200 * time.Millisecond)

	shutdownCheckCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()

	done := make(chan bool)
	go func() {
		req, _ := http.NewRequestWithContext(shutdownCheckCtx, "GET", baseURL+"/api/health", nil)
		_, err := http.DefaultClient.Do(req)
		done <- err != nil // true if error (connection refused)
	}()

	select {
	case isDown := <-done:
		assert.True(t, isDown, "server should stop responding after shutdown")
	case <-time.After(3 * time.Second):
		t.Fatal("server shutdown check timed out")
	}
}

// TestServer_NoTokenNoAuth verifies API endpoints are open when no token is
// configured.
func TestServer_NoTokenNoAuth(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:     "127.0.0.1",
			Port:     0,
			APIToken: "",
		},
	}

	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/api/memories")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode,
		"without a configured token, /api/memories should be accessible without auth")
}

// TestServer_TokenRequiresAuth verifies API endpoints require a bearer token
// when one is configured.
func TestServer_TokenRequiresAuth(t *testing.T) {
	testToken := "test-secret-token-xyz123"
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:     "127.0.0.1",
			Port:     0,
			APIToken: testToken,
		},
	}

	baseURL := startTestServer(t, cfg)

	t.Run("without_auth_header", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/memories")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode,
			"with a configured token and no auth, /api/memories should return 401")
	})

	t.Run("with_valid_auth_header", func(t *testing.T) {
		req, err := http.NewRequest("GET", baseURL+"/api/memories", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+testToken)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode,
			"with valid auth, /api/memories should return 200")
	})

	t.Run("with_invalid_auth_header", func(t *testing.T) {
		req, err := http.NewRequest("GET", baseURL+"/api/memories", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer wrong-token")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode,
			"with invalid auth, /api/memories should return 401")
	})
}

// TestServer_HealthEndpointNoAuth verifies the health endpoint stays open when
// a token is configured.
func TestServer_HealthEndpointNoAuth(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:     "127.0.0.1",
			Port:     0,
			APIToken: "test-token",
		},
	}

	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode,
		"/api/health should be accessible without auth even with a token configured")
}

// TestServer_HTTPMethods verifies correct HTTP method handling.
func TestServer_HTTPMethods(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}

	baseURL := startTestServer(t, cfg)

	tests := []struct {
		method   string
		path     string
		body     string
		expectOK bool // true if we expect 2xx or 4xx, false if we expect method not allowed
	}{
		{"POST", "/api/health", "", false},
		{"DELETE", "/api/health", "", false},
		{"DELETE", "/api/turns", "", false},
		{"PUT", "/api/memories", "", false},
		{"GET", "/api/query", "", false},
		{"GET", "/api/turns", "", true},
		{"POST", "/api/turns", `{"input":"hello"}`, true},
		{"GET", "/api/profile", "", true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.method, tt.path), func(t *testing.T) {
			req, err := http.NewRequest(tt.method, baseURL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			if tt.expectOK {
				assert.NotEqual(t, http.StatusMethodNotAllowed, resp.StatusCode,
					"%s %s should be allowed", tt.method, tt.path)
			} else {
				assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode,
					"%s %s should not be allowed", tt.method, tt.path)
			}
		})
	}
}

// TestServer_NotFoundHandling verifies 404 behavior for non-existent routes.
func TestServer_NotFoundHandling(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}

	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/nonexistent/route")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode,
		"non-existent route should return 404")
}

// TestServer_MetricsEndpoint verifies the Prometheus endpoint follows the
// MetricsEnabled flag.
func TestServer_MetricsEndpoint(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		cfg := &config.Config{
			Server: config.ServerConfig{
				Host:           "127.0.0.1",
				Port:           0,
				MetricsEnabled: true,
			},
		}

		baseURL := startTestServer(t, cfg)

		resp, err := http.Get(baseURL + "/metrics")
		require.NoError(t, err, "failed to GET /metrics")
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode, "/metrics should return 200 when enabled")
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := &config.Config{
			Server: config.ServerConfig{
				Host:           "127.0.0.1",
				Port:           0,
				MetricsEnabled: false,
			},
		}

		baseURL := startTestServer(t, cfg)

		resp, err := http.Get(baseURL + "/metrics")
		require.NoError(t, err, "failed to GET /metrics")
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "/metrics should return 404 when disabled")
	})
}
