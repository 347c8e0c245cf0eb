package gwapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/llm"
)

// registerLLMRoutes mounts the LLM Backend Manager's admin surface
// (C8's uniform list/get/invoke/restart/stop/health_check/logs operations,
// spec.md §4.8), translated the same thin way as the server routes in
// admin.go per §4.10's "every admin handler is a thin translator" rule.
func (g *Gateway) registerLLMRoutes(mux *http.ServeMux) {
	authed := g.requireBearer

	mux.HandleFunc("GET /api/models", authed(g.handleListModels))
	mux.HandleFunc("POST /api/models", authed(g.handleCreateModel))
	mux.HandleFunc("GET /api/models/{id}", authed(g.handleGetModel))
	mux.HandleFunc("PUT /api/models/{id}", authed(g.handleUpdateModel))
	mux.HandleFunc("POST /api/models/{id}/invoke", authed(g.handleInvokeModel))
	mux.HandleFunc("POST /api/models/{id}/restart", authed(g.handleRestartModel))
	mux.HandleFunc("POST /api/models/{id}/stop", authed(g.handleStopModel))
	mux.HandleFunc("GET /api/models/{id}/health", authed(g.handleModelHealth))
	mux.HandleFunc("GET /api/models/{id}/logs", authed(g.handleModelLogs))
}

func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.llmMgr.List())
}

func (g *Gateway) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var model llm.Model
	if err := readJSONBody(r, &model); err != nil {
		writeError(w, err)
		return
	}
	if err := g.llmMgr.Create(r.Context(), model); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, model)
}

func (g *Gateway) handleGetModel(w http.ResponseWriter, r *http.Request) {
	model, err := g.llmMgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

// handleUpdateModel implements spec.md §4.8's CRUD rule: only the
// Replicate variant's default_params/timeout/max_retries are mutable
// after create.
func (g *Gateway) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		DefaultParams json.RawMessage `json:"default_params"`
		TimeoutMS     int             `json:"timeout_ms"`
		MaxRetries    int             `json:"max_retries"`
	}
	if err := readJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := g.llmMgr.UpdateReplicateParams(id, json.RawMessage(body.DefaultParams), time.Duration(body.TimeoutMS)*time.Millisecond, body.MaxRetries); err != nil {
		writeError(w, err)
		return
	}
	model, err := g.llmMgr.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (g *Gateway) handleInvokeModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var payload []byte
	if r.ContentLength != 0 {
		var err error
		payload, err = readRawBody(r)
		if err != nil {
			writeError(w, errs.Wrap(errs.BadInput, err, "invalid invoke payload"))
			return
		}
	}
	result, err := g.llmMgr.Invoke(r.Context(), id, payload, defaultProxyTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

func (g *Gateway) handleRestartModel(w http.ResponseWriter, r *http.Request) {
	if err := g.llmMgr.Restart(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

func (g *Gateway) handleStopModel(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if err := g.llmMgr.Stop(r.PathValue("id"), force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (g *Gateway) handleModelHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := g.llmMgr.HealthCheck(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func readRawBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func (g *Gateway) handleModelLogs(w http.ResponseWriter, r *http.Request) {
	lines := 100
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}
	records, err := g.llmMgr.Logs(r.PathValue("id"), lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
