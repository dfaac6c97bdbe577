package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-fib-server/internal/config"
	"github.com/sha1n/mcp-fib-server/internal/metrics"
)

func newTestMCPServer() *mcp.Server {
	return mcp.NewServer(&mcp.Implementation{Name: "test", Version: "1.0"}, nil)
}

func basicAuthSettings(port int) *config.Settings {
	return &config.Settings{
		Host: "localhost",
		Port: port,
		Auth: config.AuthSettings{
			Type: config.AuthTypeBasic,
			Basic: config.BasicAuthSettings{
				Username: "admin",
				Password: "secret",
			},
		},
	}
}

func TestNewSSEServer_NoAuth(t *testing.T) {
	settings := &config.Settings{
		Host: "localhost",
		Port: 8080,
		Auth: config.AuthSettings{Type: config.AuthTypeNone},
	}

	srv, err := NewSSEServer(newTestMCPServer(), settings, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if srv == nil {
		t.Fatal("Expected server to be created")
	}
	if srv.Addr != "localhost:8080" {
		t.Errorf("Expected addr 'localhost:8080', got '%s'", srv.Addr)
	}
}

func TestNewSSEServer_APIKeyAuth(t *testing.T) {
	settings := &config.Settings{
		Host: "localhost",
		Port: 9090,
		Auth: config.AuthSettings{
			Type:    config.AuthTypeAPIKey,
			APIKeys: []string{"key1", "key2"},
		},
	}

	srv, err := NewSSEServer(newTestMCPServer(), settings, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/sse", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for /sse without key, got %d", rec.Code)
	}
}

func TestNewSSEServer_InvalidAuth(t *testing.T) {
	settings := &config.Settings{
		Host: "localhost",
		Port: 9090,
		Auth: config.AuthSettings{Type: config.AuthTypeBasic},
	}

	if _, err := NewSSEServer(newTestMCPServer(), settings, nil); err == nil {
		t.Error("Expected error for invalid auth settings")
	}
}

func TestNewSSEServer_HealthEndpoint(t *testing.T) {
	srv, err := NewSSEServer(newTestMCPServer(), basicAuthSettings(8080), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for /health without auth, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("Expected body 'ok', got '%s'", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Errorf("Expected Content-Type 'text/plain; charset=utf-8', got '%s'", rec.Header().Get("Content-Type"))
	}
}

func TestNewSSEServer_MetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ToolCall("find_in_blueprints", nil)

	srv, err := NewSSEServer(newTestMCPServer(), basicAuthSettings(8080), m)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fib_tool_calls_total") {
		t.Errorf("Expected tool call counter in metrics output, got:\n%s", rec.Body.String())
	}
}

func TestNewSSEServer_MetricsDisabled(t *testing.T) {
	srv, err := NewSSEServer(newTestMCPServer(), &config.Settings{Host: "localhost", Port: 8080}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 without metrics, got %d", rec.Code)
	}
}

func TestNewSSEServer_SSEEndpointRequiresAuth(t *testing.T) {
	srv, err := NewSSEServer(newTestMCPServer(), basicAuthSettings(8080), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/sse", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for /sse without auth, got %d", rec.Code)
	}
}

func TestStartSSEServer_StopsOnCancel(t *testing.T) {
	settings := &config.Settings{
		Host: "127.0.0.1",
		Port: 0,
		Auth: config.AuthSettings{Type: config.AuthTypeNone},
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- StartSSEServer(ctx, newTestMCPServer(), settings, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StartSSEServer did not return after cancel")
	}
}

func TestStartSSEServer_InvalidAuth(t *testing.T) {
	settings := &config.Settings{Host: "127.0.0.1", Auth: config.AuthSettings{Type: "oauth"}}
	if err := StartSSEServer(context.Background(), newTestMCPServer(), settings, nil); err == nil {
		t.Error("Expected error for unknown auth type")
	}
}
