package gwapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/mcp"
	"github.com/fluidmcp/gateway/internal/mcpproc"
	"github.com/fluidmcp/gateway/internal/registry"
)

const (
	defaultProxyTimeout    = 60 * time.Second
	defaultReadinessWindow = 15 * time.Second
)

// envelope is the client-facing JSON-RPC request/response shape for
// POST /{S}/mcp, per spec.md §4.6: only method and params are forwarded
// through C2; the result is re-wrapped with the client's original id.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type envelopeResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcp.RPCError   `json:"error,omitempty"`
}

// handleMCPProxy implements POST /{S}/mcp.
func (g *Gateway) handleMCPProxy(w http.ResponseWriter, r *http.Request, id string) {
	var env envelope
	if err := readJSONBody(r, &env); err != nil {
		writeError(w, err)
		return
	}

	cfg, err := g.store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := g.ensureRunning(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}

	if env.Method == "tools/call" {
		var params struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(env.Params, &params)
		if params.Name != "" {
			if err := g.cache.CheckKnown(id, params.Name); err != nil {
				// One refresh-and-retry before trusting the 404, per
				// spec.md §4.5's "first tools/call after invalidation".
				if refreshErr := g.refreshTools(r.Context(), id); refreshErr == nil {
					err = g.cache.CheckKnown(id, params.Name)
				}
				if err != nil {
					writeError(w, err)
					return
				}
			}
		}
	}

	timeout := defaultProxyTimeout
	if v := r.URL.Query().Get("timeout_ms"); v != "" {
		if ms, perr := time.ParseDuration(v + "ms"); perr == nil {
			timeout = ms
		}
	}

	result, callErr := g.sup.Call(r.Context(), id, env.Method, env.Params, timeout)
	if callErr != nil {
		if rpcErr, ok := mcpproc.RPCError(callErr); ok {
			// spec.md §9's open-question resolution: the child's JSON-RPC
			// error object passes through verbatim under result.error
			// within a 200 response; HTTP error codes are reserved for
			// gateway-level failures.
			errResult, _ := json.Marshal(map[string]any{"error": rpcErr})
			writeJSON(w, http.StatusOK, envelopeResponse{JSONRPC: "2.0", ID: env.ID, Result: errResult})
			return
		}
		writeError(w, callErr)
		return
	}

	writeJSON(w, http.StatusOK, envelopeResponse{JSONRPC: "2.0", ID: env.ID, Result: result})
}

// ensureRunning starts cfg's child if it is not already running and
// AutoStart is set, waiting up to the readiness window, per spec.md
// §4.6. Otherwise it returns errs.NotRunning.
func (g *Gateway) ensureRunning(ctx context.Context, cfg registry.ServerConfig) error {
	snap, err := g.sup.Status(cfg.ID)
	if err == nil && snap.State == mcpproc.StateRunning {
		return nil
	}
	if !cfg.AutoStart {
		return errs.New(errs.NotRunning, cfg.ID)
	}

	startCtx, cancel := context.WithTimeout(ctx, defaultReadinessWindow)
	defer cancel()

	spec := mcpproc.LaunchSpec{Command: cfg.Command, Args: cfg.Args, Env: cfg.Env, Cwd: cfg.Cwd}
	onReady := func(id string, tools []mcp.ToolDescriptor) {
		g.cache.Refresh(id, tools)
		_ = g.store.SetTools(id, tools)
	}
	return g.sup.Start(startCtx, cfg.ID, spec, mcpproc.StartOptions{}, onReady, nil)
}

// refreshTools forces a tools/list round-trip and updates the cache.
func (g *Gateway) refreshTools(ctx context.Context, id string) error {
	raw, err := g.sup.Call(ctx, id, "tools/list", json.RawMessage(`{}`), defaultProxyTimeout)
	if err != nil {
		return err
	}
	var result mcp.ToolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return errs.Wrap(errs.MCPProtocol, err, "parse tools/list result")
	}
	g.cache.Refresh(id, result.Tools)
	return g.store.SetTools(id, result.Tools)
}

// handleAuthLoginFor returns a handler bound to a specific server's auth
// config, for GET /{S}/auth/login.
func (g *Gateway) handleAuthLoginFor(auth registry.AuthConfig) func(w http.ResponseWriter, r *http.Request, id string) {
	return func(w http.ResponseWriter, r *http.Request, id string) {
		redirectURL, err := g.broker.LoginURL(id, auth)
		if err != nil {
			writeError(w, err)
			return
		}
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}

// handleAuthCallback implements GET /{S}/auth/callback.
func (g *Gateway) handleAuthCallback(w http.ResponseWriter, r *http.Request, id string) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if state == "" {
		writeError(w, errs.New(errs.InvalidState, "missing state"))
		return
	}
	tokenJSON, err := g.broker.Callback(r.Context(), id, state, code)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(tokenJSON)
}
