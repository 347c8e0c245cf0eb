package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/mcp"
	"github.com/fluidmcp/gateway/internal/mcpproc"
)

// startProcess spawns a process-backed model through the shared
// Supervisor, wiring its restart policy per spec.md §4.8.
func (m *Manager) startProcess(ctx context.Context, model *Model) error {
	spec := mcpproc.LaunchSpec{Command: model.Command, Args: model.Args, Env: model.Env}
	opts := mcpproc.StartOptions{
		AutoRestart: model.RestartPolicy == PolicyOnFailure || model.RestartPolicy == PolicyAlways,
		MaxRestarts: model.MaxRestarts,
	}
	onReady := func(id string, tools []mcp.ToolDescriptor) {
		m.log.Info("llm: process model ready", "model_id", id, "tools", len(tools))
	}
	onExit := func(id string, info mcpproc.ExitInfo, state mcpproc.State) {
		m.log.Warn("llm: process model exited", "model_id", id, "state", state, "exit", info)
	}
	return m.sup.Start(ctx, model.ID, spec, opts, onReady, onExit)
}

// invokeProcess proxies an inference request to the model's local
// inference endpoint, which is the HealthEndpoint URL itself. The exact
// process-local inference wire format is a gateway-side design choice
// (spec.md leaves it to "the model's own contract"); here invoke is a
// plain HTTP POST of payload, matching the health-check transport.
func (m *Manager) invokeProcess(ctx context.Context, model *Model, payload json.RawMessage, deadline time.Duration) (json.RawMessage, error) {
	snap, err := m.sup.Status(model.ID)
	if err != nil || snap.State != mcpproc.StateRunning {
		return nil, errs.New(errs.NotRunning, model.ID)
	}
	if model.HealthEndpoint == "" {
		return nil, errs.New(errs.BadInput, "process model has no invoke endpoint configured")
	}
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, model.HealthEndpoint, jsonReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "build invoke request")
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: deadline}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.MCPTimeout, err, "process model invoke failed")
	}
	defer resp.Body.Close()
	return readJSONBody(resp)
}

// healthLoop polls a process model's health endpoint on a fixed interval,
// per spec.md §4.8: failure increments consecutive_health_failures;
// crossing the threshold marks is_healthy=false and, under on-failure
// policy, triggers a restart.
func (m *Manager) healthLoop(id string, stop chan struct{}) {
	ticker := time.NewTicker(defaultHealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.runHealthCheck(id)
		}
	}
}

func (m *Manager) runHealthCheck(id string) {
	model, err := m.get(id)
	if err != nil {
		return
	}
	if model.HealthEndpoint == "" {
		return
	}

	healthy := true
	var lastErr string
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(model.HealthEndpoint)
	if err != nil {
		healthy = false
		lastErr = err.Error()
	} else {
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			healthy = false
			lastErr = fmt.Sprintf("health endpoint returned %d", resp.StatusCode)
		}
	}

	var hasCUDAOOM bool
	if logs, err := m.sup.Logs(id, 50); err == nil {
		for _, l := range logs {
			if l.Stream == mcpproc.StreamStderr && matchesCUDAOOM(model.CUDAOOMPattern, l.Line) {
				hasCUDAOOM = true
				break
			}
		}
	}

	m.mu.Lock()
	h, ok := m.health[id]
	if !ok {
		h = &HealthSnapshot{ModelID: id}
		m.health[id] = h
	}
	h.LastCheck = time.Now()
	h.HasCUDAOOM = hasCUDAOOM
	if healthy {
		h.ConsecutiveFailures = 0
		h.IsHealthy = true
		h.LastError = ""
	} else {
		h.ConsecutiveFailures++
		h.LastError = lastErr
		if h.ConsecutiveFailures >= defaultFailureThresh {
			h.IsHealthy = false
		}
	}
	shouldRestart := !h.IsHealthy && model.RestartPolicy == PolicyOnFailure
	m.mu.Unlock()

	if shouldRestart {
		m.log.Warn("llm: health threshold crossed, restarting", "model_id", id)
		_ = m.sup.Restart(context.Background(), id)
	}
}
