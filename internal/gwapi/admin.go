package gwapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/mcp"
	"github.com/fluidmcp/gateway/internal/mcpproc"
	"github.com/fluidmcp/gateway/internal/registry"
)

// registerAdminRoutes mounts the static /api/servers/... surface, per
// spec.md §4.6/§4.10, adapted from the teacher's ControlServer.routes()
// method-pattern registration style. These routes are static (not
// rebuilt per server) and are always present in every routing-table swap.
func (g *Gateway) registerAdminRoutes(mux *http.ServeMux) {
	authed := g.requireBearer

	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("GET /api/servers", authed(g.handleListServers))
	mux.HandleFunc("POST /api/servers", authed(g.handleCreateServer))
	mux.HandleFunc("GET /api/servers/{id}", authed(g.handleGetServer))
	mux.HandleFunc("PUT /api/servers/{id}", authed(g.handleUpdateServer))
	mux.HandleFunc("DELETE /api/servers/{id}", authed(g.handleDeleteServer))
	mux.HandleFunc("POST /api/servers/{id}/start", authed(g.handleStart))
	mux.HandleFunc("POST /api/servers/{id}/stop", authed(g.handleStop))
	mux.HandleFunc("POST /api/servers/{id}/restart", authed(g.handleRestart))
	mux.HandleFunc("GET /api/servers/{id}/status", authed(g.handleStatus))
	mux.HandleFunc("GET /api/servers/{id}/logs", authed(g.handleLogs))
	mux.HandleFunc("GET /api/servers/{id}/tools", authed(g.handleListTools))
	mux.HandleFunc("POST /api/servers/{id}/tools/{tool}/run", authed(g.handleRunTool))
	mux.HandleFunc("GET /api/servers/{id}/instance/env", authed(g.handleGetEnv))
	mux.HandleFunc("PUT /api/servers/{id}/instance/env", authed(g.handleSetEnv))
}

// requireBearer wraps a handler with the admin-surface bearer-token check
// from spec.md §4.6; when no token is configured the surface is open.
func (g *Gateway) requireBearer(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.RequiresAdminAuth() {
			hdr := r.Header.Get("Authorization")
			if hdr != "Bearer "+g.cfg.BearerToken {
				writeError(w, errs.New(errs.BadInput, "missing or invalid bearer token"))
				return
			}
		}
		h(w, r)
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type serverView struct {
	registry.ServerConfig
	Status *mcpproc.Snapshot `json:"status,omitempty"`
}

func (g *Gateway) handleListServers(w http.ResponseWriter, r *http.Request) {
	opts := registry.ListOptions{
		EnabledOnly:    r.URL.Query().Get("enabled_only") == "true",
		IncludeDeleted: r.URL.Query().Get("include_deleted") == "true",
	}
	rows, err := g.store.List(opts)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]serverView, len(rows))
	// Fan out live status lookups across all servers concurrently, grounded
	// in RevittCo-mcplexer's errgroup-based ListAllTools pattern.
	group, _ := errgroup.WithContext(r.Context())
	for i, cfg := range rows {
		i, cfg := i, cfg
		views[i] = serverView{ServerConfig: cfg}
		group.Go(func() error {
			if snap, err := g.sup.Status(cfg.ID); err == nil {
				views[i].Status = &snap
			}
			return nil
		})
	}
	_ = group.Wait()

	writeJSON(w, http.StatusOK, views)
}

func (g *Gateway) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var cfg registry.ServerConfig
	if err := readJSONBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	cfg.AutoStart = true
	created, err := g.store.Create(cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	g.Rebuild()
	writeJSON(w, http.StatusCreated, created)
}

func (g *Gateway) handleGetServer(w http.ResponseWriter, r *http.Request) {
	cfg, err := g.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (g *Gateway) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		ID          *string              `json:"id"`
		CreatedAt   *time.Time           `json:"created_at"`
		Name        *string              `json:"name"`
		Description *string              `json:"description"`
		Command     *string              `json:"command"`
		Args        []string             `json:"args"`
		Env         map[string]string    `json:"env"`
		Cwd         *string              `json:"cwd"`
		Auth        *registry.AuthConfig `json:"auth"`
	}
	if err := readJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if (body.ID != nil && *body.ID != id) || body.CreatedAt != nil {
		writeError(w, errs.New(errs.ImmutableField, "id and created_at cannot be changed"))
		return
	}

	if snap, err := g.sup.Status(id); err == nil && snap.State != mcpproc.StateStopped && snap.State != mcpproc.StateFailed {
		writeError(w, errs.New(errs.AlreadyRunning, "server must be stopped or failed before updating"))
		return
	}

	updated, err := g.store.Update(id, registry.Patch{
		Name: body.Name, Description: body.Description, Command: body.Command,
		Args: body.Args, Env: body.Env, Cwd: body.Cwd, Auth: body.Auth,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	g.Rebuild()
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteServer implements spec.md §8 scenario 4: stop the child
// first (if running), then soft-delete, then unmount its routes.
func (g *Gateway) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := g.store.Get(id); err != nil {
		writeError(w, err)
		return
	}

	if snap, err := g.sup.Status(id); err == nil && snap.State == mcpproc.StateRunning {
		_ = g.sup.Stop(id, false)
	}
	g.inflight.Drain(r.Context(), id, 5*time.Second)

	if err := g.store.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	g.sup.Remove(id)
	g.cache.Invalidate(id)
	g.Rebuild()
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cfg, err := g.store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := g.ensureRunning(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	snap, _ := g.sup.Status(id)
	writeJSON(w, http.StatusOK, snap)
}

func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	force := r.URL.Query().Get("force") == "true"
	if err := g.sup.Stop(id, force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleRestart implements spec.md §8 scenario 6: stop, then start again
// with the launch spec (command, args, env) the child was last started
// with, which changes the PID. Registry edits made since that start are
// not picked up.
func (g *Gateway) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.sup.Restart(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	snap, _ := g.sup.Status(id)
	writeJSON(w, http.StatusOK, snap)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := g.sup.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (g *Gateway) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	lines := 100
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}
	records, err := g.sup.Logs(id, lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if tools, ok := g.cache.List(id); ok {
		writeJSON(w, http.StatusOK, mcp.ToolsListResult{Tools: tools})
		return
	}
	if err := g.refreshTools(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	tools, _ := g.cache.List(id)
	writeJSON(w, http.StatusOK, mcp.ToolsListResult{Tools: tools})
}

func (g *Gateway) handleRunTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tool := r.PathValue("tool")

	if err := g.cache.CheckKnown(id, tool); err != nil {
		writeError(w, err)
		return
	}

	var args json.RawMessage
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeError(w, errs.Wrap(errs.BadInput, err, "invalid tool arguments"))
			return
		}
	}
	params, _ := json.Marshal(map[string]any{"name": tool, "arguments": json.RawMessage(args)})

	result, err := g.sup.Call(r.Context(), id, "tools/call", params, defaultProxyTimeout)
	if err != nil {
		if rpcErr, ok := mcpproc.RPCError(err); ok {
			writeJSON(w, http.StatusOK, map[string]any{"error": rpcErr})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(result))
}

func (g *Gateway) handleGetEnv(w http.ResponseWriter, r *http.Request) {
	cfg, err := g.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg.Env)
}

// handleSetEnv implements spec.md §8 scenario 6: edit env while running
// forces a restart (running -> terminating -> stopped -> starting ->
// running), changing the PID.
func (g *Gateway) handleSetEnv(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var env map[string]string
	if err := readJSONBody(r, &env); err != nil {
		writeError(w, err)
		return
	}
	if err := registryValidateEnv(env); err != nil {
		writeError(w, err)
		return
	}

	cfg, err := g.store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	merged := map[string]string{}
	for k, v := range cfg.Env {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}
	if _, err := g.store.Update(id, registry.Patch{Env: merged}); err != nil {
		writeError(w, err)
		return
	}

	if snap, err := g.sup.Status(id); err == nil && snap.State == mcpproc.StateRunning {
		if err := g.sup.Restart(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
	}
	snap, _ := g.sup.Status(id)
	writeJSON(w, http.StatusOK, snap)
}

func registryValidateEnv(env map[string]string) error {
	return registry.ValidateEnv(env)
}
