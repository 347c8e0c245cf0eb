// Package gwapi implements the HTTP Multiplexer (C6) and Admin API (C10),
// adapted from the teacher's internal/api.ControlServer (http.ServeMux
// method-pattern route registration, JSON in/out, http.Error on failure).
package gwapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fluidmcp/gateway/internal/config"
	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/mcpproc"
	"github.com/fluidmcp/gateway/internal/oauthbroker"
	"github.com/fluidmcp/gateway/internal/registry"
	"github.com/fluidmcp/gateway/internal/toolcache"
)

// Gateway owns the dynamic routing table and every component the admin
// and proxy handlers translate over.
type Gateway struct {
	cfg    config.Config
	store  registry.Store
	sup    *mcpproc.Supervisor
	cache  *toolcache.Cache
	broker *oauthbroker.Broker
	llmMgr *llm.Manager
	log    *slog.Logger

	routeTable atomic.Pointer[http.ServeMux]

	inflight *drainTracker
}

// New builds a Gateway and mounts its initial (admin-only) route table.
func New(cfg config.Config, store registry.Store, sup *mcpproc.Supervisor, cache *toolcache.Cache, broker *oauthbroker.Broker, llmMgr *llm.Manager, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		cfg: cfg, store: store, sup: sup, cache: cache, broker: broker, llmMgr: llmMgr, log: log,
		inflight: newDrainTracker(),
	}
	g.Rebuild()
	return g
}

// ServeHTTP applies CORS headers (for browser-based admin UIs configured
// via cfg.AdminCORSOrigins), answers preflight requests directly, then
// delegates to the current routing table. Concurrent readers always see
// either the fully-old or fully-new table, never a half-installed state,
// because Rebuild swaps one atomic pointer. CORS is handled here rather
// than per-route because http.ServeMux's method-qualified patterns
// ("GET /api/servers") never match an OPTIONS preflight request, so a
// per-handler wrapper would never run for it.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && corsOriginAllowed(g.cfg.AdminCORSOrigins, origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	g.routeTable.Load().ServeHTTP(w, r)
}

func corsOriginAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// Rebuild constructs a brand new *http.ServeMux from the current registry
// contents and swaps it in atomically, per spec.md §4.6's "dynamic
// mounting ... must be safe against concurrent requests". Call this after
// any registry mutation that adds/removes a server or its auth block.
func (g *Gateway) Rebuild() {
	mux := http.NewServeMux()
	g.registerAdminRoutes(mux)
	g.registerLLMRoutes(mux)

	rows, err := g.store.List(registry.ListOptions{IncludeDeleted: false})
	if err != nil {
		g.log.Error("gwapi: rebuild failed to list registry", "error", err)
		g.routeTable.Store(mux)
		return
	}
	for _, cfg := range rows {
		id := cfg.ID
		mux.HandleFunc("POST /"+id+"/mcp", g.withID(id, g.handleMCPProxy))
		if cfg.Auth != nil {
			auth := *cfg.Auth
			mux.HandleFunc("GET /"+id+"/auth/login", g.withID(id, g.handleAuthLoginFor(auth)))
			mux.HandleFunc("GET /"+id+"/auth/callback", g.withID(id, g.handleAuthCallback))
		}
	}
	g.routeTable.Store(mux)
}

// withID closes over a fixed server-id so dynamically-registered handlers
// don't need to re-derive it from the URL: each per-server route is
// mounted under its literal id, so the pattern carries no {id} wildcard.
func (g *Gateway) withID(id string, h func(w http.ResponseWriter, r *http.Request, id string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.inflight.enter(id)
		defer g.inflight.leave(id)
		h(w, r, id)
	}
}

// drainTracker counts in-flight requests per server-id so an unmount can
// wait (bounded by a grace timeout) for them to finish, per spec.md §5:
// "serializes with in-flight proxy requests by draining before unmount".
type drainTracker struct {
	counts map[string]*atomic.Int64
	mu     chan struct{} // binary semaphore guarding map structure changes
}

func newDrainTracker() *drainTracker {
	return &drainTracker{counts: make(map[string]*atomic.Int64), mu: make(chan struct{}, 1)}
}

func (d *drainTracker) counter(id string) *atomic.Int64 {
	d.mu <- struct{}{}
	defer func() { <-d.mu }()
	c, ok := d.counts[id]
	if !ok {
		c = &atomic.Int64{}
		d.counts[id] = c
	}
	return c
}

func (d *drainTracker) enter(id string) { d.counter(id).Add(1) }
func (d *drainTracker) leave(id string) { d.counter(id).Add(-1) }

// Drain waits until id's in-flight count reaches zero or the grace
// timeout elapses.
func (d *drainTracker) Drain(ctx context.Context, id string, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for d.counter(id).Load() > 0 {
		if time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}
