package gwapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidmcp/gateway/internal/config"
	"github.com/fluidmcp/gateway/internal/registry"
)

func TestMCPProxyReturnsNotRunningWithoutAutoStart(t *testing.T) {
	g, store := newTestGateway(t, config.Default())
	_, err := store.Create(registry.ServerConfig{
		ID: "svc", Name: "Svc", Command: "node", Enabled: true, AutoStart: false,
	})
	require.NoError(t, err)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req := httptest.NewRequest("POST", "/svc/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	assert.Equal(t, 503, w.Code)
	var envelope errorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	assert.Equal(t, "not-running", envelope.Error.Kind)
}

func TestMCPProxyUnknownServer(t *testing.T) {
	g, _ := newTestGateway(t, config.Default())

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req := httptest.NewRequest("POST", "/missing/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	assert.Equal(t, 404, w.Code)
}

func TestMCPProxyRejectsBadJSON(t *testing.T) {
	g, store := newTestGateway(t, config.Default())
	_, err := store.Create(registry.ServerConfig{ID: "svc", Name: "Svc", Command: "node", Enabled: true})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/svc/mcp", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	assert.Equal(t, 400, w.Code)
}
