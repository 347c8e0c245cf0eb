package gwapi

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidmcp/gateway/internal/config"
	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/mcpproc"
	"github.com/fluidmcp/gateway/internal/oauthbroker"
	"github.com/fluidmcp/gateway/internal/registry"
	"github.com/fluidmcp/gateway/internal/toolcache"
)

func newTestGateway(t *testing.T, cfg config.Config) (*Gateway, registry.Store) {
	t.Helper()
	store := registry.NewMemStore()
	sup := mcpproc.NewSupervisor(slog.Default())
	cache := toolcache.New()
	broker := oauthbroker.New("http://localhost:8099", slog.Default())
	t.Cleanup(broker.Close)
	llmMgr := llm.NewManager(sup, slog.Default())
	return New(cfg, store, sup, cache, broker, llmMgr, slog.Default()), store
}

func TestAdminServerCRUD(t *testing.T) {
	g, _ := newTestGateway(t, config.Default())

	body := `{"id":"echo","name":"Echo Server","command":"node","args":["echo.js"],"enabled":true}`
	req := httptest.NewRequest("POST", "/api/servers", strings.NewReader(body))
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	require.Equal(t, 201, w.Code)

	var created registry.ServerConfig
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, "echo", created.ID)
	assert.True(t, created.AutoStart)

	req = httptest.NewRequest("GET", "/api/servers/echo", nil)
	w = httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)

	req = httptest.NewRequest("GET", "/api/servers", nil)
	w = httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
	var views []serverView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, "echo", views[0].ID)

	req = httptest.NewRequest("DELETE", "/api/servers/echo", nil)
	w = httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 204, w.Code)

	req = httptest.NewRequest("GET", "/api/servers/echo", nil)
	w = httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 404, w.Code)
}

func TestAdminCreateRejectsDisallowedCommand(t *testing.T) {
	g, _ := newTestGateway(t, config.Default())

	body := `{"id":"bad","name":"Bad","command":"rm","enabled":true}`
	req := httptest.NewRequest("POST", "/api/servers", strings.NewReader(body))
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 400, w.Code)

	var envelope errorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	assert.Equal(t, "command-denied", envelope.Error.Kind)
}

func TestAdminRequiresBearerTokenWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.BearerToken = "s3cret"
	g, _ := newTestGateway(t, cfg)

	req := httptest.NewRequest("GET", "/api/servers", nil)
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 400, w.Code)

	req = httptest.NewRequest("GET", "/api/servers", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
}

func TestAdminUpdateRejectsImmutableFields(t *testing.T) {
	g, store := newTestGateway(t, config.Default())
	_, err := store.Create(registry.ServerConfig{ID: "svc", Name: "Svc", Command: "node", Enabled: true})
	require.NoError(t, err)

	body := `{"id":"other-id"}`
	req := httptest.NewRequest("PUT", "/api/servers/svc", strings.NewReader(body))
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 409, w.Code)
}

func TestAdminCORSEchoesAllowedOriginAndAnswersPreflight(t *testing.T) {
	cfg := config.Default()
	cfg.AdminCORSOrigins = []string{"https://dash.example.com"}
	g, _ := newTestGateway(t, cfg)

	req := httptest.NewRequest("OPTIONS", "/api/servers", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "https://dash.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/api/servers", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminGetEnvRoundTrips(t *testing.T) {
	g, store := newTestGateway(t, config.Default())
	_, err := store.Create(registry.ServerConfig{
		ID: "svc", Name: "Svc", Command: "node", Enabled: true,
		Env: map[string]string{"FOO": "bar"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/servers/svc/instance/env", nil)
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)

	var env map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	assert.Equal(t, "bar", env["FOO"])
}
