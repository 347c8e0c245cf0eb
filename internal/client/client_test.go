package client_test

import (
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidmcp/gateway/internal/client"
	"github.com/fluidmcp/gateway/internal/config"
	"github.com/fluidmcp/gateway/internal/gwapi"
	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/mcpproc"
	"github.com/fluidmcp/gateway/internal/oauthbroker"
	"github.com/fluidmcp/gateway/internal/registry"
	"github.com/fluidmcp/gateway/internal/toolcache"
)

func newTestServer(t *testing.T) (*httptest.Server, registry.Store) {
	t.Helper()
	store := registry.NewMemStore()
	sup := mcpproc.NewSupervisor(slog.Default())
	cache := toolcache.New()
	broker := oauthbroker.New("http://localhost", slog.Default())
	t.Cleanup(broker.Close)
	llmMgr := llm.NewManager(sup, slog.Default())
	g := gwapi.New(config.Default(), store, sup, cache, broker, llmMgr, slog.Default())
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return srv, store
}

func TestClientCreateListDelete(t *testing.T) {
	srv, _ := newTestServer(t)
	c := client.New(srv.URL, "", 5*time.Second)

	created, err := c.CreateServer(registry.ServerConfig{
		ID: "svc", Name: "Svc", Command: "node", Enabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "svc", created.ID)

	views, err := c.ListServers(false, false)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "svc", views[0].ID)

	require.NoError(t, c.DeleteServer("svc"))

	_, err = c.GetServer("svc")
	assert.Error(t, err)
}

func TestClientEnvRoundTrip(t *testing.T) {
	srv, store := newTestServer(t)
	c := client.New(srv.URL, "", 5*time.Second)

	_, err := store.Create(registry.ServerConfig{
		ID: "svc", Name: "Svc", Command: "node", Enabled: true,
		Env: map[string]string{"A": "1"},
	})
	require.NoError(t, err)

	env, err := c.GetEnv("svc")
	require.NoError(t, err)
	assert.Equal(t, "1", env["A"])
}
