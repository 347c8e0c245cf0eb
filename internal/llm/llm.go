// Package llm implements the LLM Backend Manager (C8): a uniform registry
// of LLM endpoints, some process-backed (reusing internal/mcpproc's
// Supervisor), some cloud/Replicate-backed (HTTP prediction polling), and
// some WASM-embedded for sandboxed local inference. Grounded in
// Bigsy-mcpmu's Supervisor health/retry cadence, RevittCo-mcplexer's
// HTTPInstance.doRPC HTTP client shape, and the teacher's
// discovery/wasm.go WASM worker.
package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/mcpproc"
)

// Kind discriminates the LLMModel union, per spec.md §3. Wasm is an
// additive third variant per SPEC_FULL.md §4.8's supplement.
type Kind string

const (
	KindProcess   Kind = "process"
	KindReplicate Kind = "replicate"
	KindWasm      Kind = "wasm"
)

// RestartPolicy mirrors spec.md §3's process-variant restart_policy.
type RestartPolicy string

const (
	PolicyOnFailure RestartPolicy = "on-failure"
	PolicyAlways    RestartPolicy = "always"
	PolicyNever     RestartPolicy = "never"
)

// Model is the discriminated-union LLMModel described in spec.md §3.
type Model struct {
	ID   string `json:"id"`
	Type Kind   `json:"type"`

	// Process variant fields.
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	HealthEndpoint string            `json:"health_endpoint,omitempty"`
	RestartPolicy  RestartPolicy     `json:"restart_policy,omitempty"`
	MaxRestarts    int               `json:"max_restarts,omitempty"`
	CUDAOOMPattern string            `json:"cuda_oom_pattern,omitempty"` // stderr pattern marking has_cuda_oom

	// WASM variant field (shares the process variant's restart/health
	// fields; spawning differs).
	WasmPath string `json:"wasm_path,omitempty"`

	// Replicate variant fields.
	ReplicateModel string          `json:"replicate_model,omitempty"`
	APIKeyRef      string          `json:"api_key_ref,omitempty"` // "${NAME}" env reference, resolved at startup
	DefaultParams  json.RawMessage `json:"default_params,omitempty"`
	Timeout        time.Duration   `json:"timeout,omitempty"`
	MaxRetries     int             `json:"max_retries,omitempty"`
	Endpoint       string          `json:"endpoint,omitempty"`
}

// HealthSnapshot, per SPEC_FULL.md §3.
type HealthSnapshot struct {
	ModelID             string    `json:"model_id"`
	IsHealthy           bool      `json:"is_healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheck           time.Time `json:"last_check"`
	LastError           string    `json:"last_error,omitempty"`
	HasCUDAOOM          bool      `json:"has_cuda_oom"`
}

const (
	defaultHealthInterval = 10 * time.Second
	defaultFailureThresh  = 3
	defaultPollInterval   = 2 * time.Second
)

// Manager implements C8's uniform operations over all three variants.
type Manager struct {
	log *slog.Logger
	sup *mcpproc.Supervisor

	mu     sync.RWMutex
	models map[string]*Model
	health map[string]*HealthSnapshot
	wasm   map[string]*wasmBackend
	stop   map[string]chan struct{}
}

// NewManager builds a Manager. sup is shared with the Server Registry's
// process supervision so process-backed models and MCP servers use one
// restart/backoff implementation, per SPEC_FULL.md §4.8.
func NewManager(sup *mcpproc.Supervisor, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log: log, sup: sup,
		models: make(map[string]*Model),
		health: make(map[string]*HealthSnapshot),
		wasm:   make(map[string]*wasmBackend),
		stop:   make(map[string]chan struct{}),
	}
}

// Create registers a model and, for the process/wasm variants, starts it
// and its health-check loop.
func (m *Manager) Create(ctx context.Context, model Model) error {
	if model.APIKeyRef != "" {
		if _, err := resolveEnvRef(model.APIKeyRef); err != nil {
			return errs.Wrap(errs.MissingCredential, err, "resolve api_key_ref for "+model.ID)
		}
	}

	m.mu.Lock()
	if _, exists := m.models[model.ID]; exists {
		m.mu.Unlock()
		return errs.New(errs.Conflict, "model id already exists: "+model.ID)
	}
	m.models[model.ID] = &model
	m.health[model.ID] = &HealthSnapshot{ModelID: model.ID, IsHealthy: true}
	stopCh := make(chan struct{})
	m.stop[model.ID] = stopCh
	m.mu.Unlock()

	switch model.Type {
	case KindProcess:
		if err := m.startProcess(ctx, &model); err != nil {
			m.forget(model.ID)
			return err
		}
		go m.healthLoop(model.ID, stopCh)
	case KindWasm:
		if err := m.startWasm(ctx, &model); err != nil {
			m.forget(model.ID)
			return err
		}
	case KindReplicate:
		// Nothing to spawn; invoke is a per-request HTTP call.
	}
	return nil
}

// forget removes a model that failed to start during Create, so a failed
// create is not left half-registered.
func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.models, id)
	delete(m.health, id)
	if stopCh, ok := m.stop[id]; ok {
		close(stopCh)
		delete(m.stop, id)
	}
}

func (m *Manager) get(id string) (*Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	model, ok := m.models[id]
	if !ok {
		return nil, errs.New(errs.UnknownServer, id)
	}
	return model, nil
}

// List returns all registered models.
func (m *Manager) List() []Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Model, 0, len(m.models))
	for _, model := range m.models {
		out = append(out, *model)
	}
	return out
}

// Get returns one model by id.
func (m *Manager) Get(id string) (Model, error) {
	model, err := m.get(id)
	if err != nil {
		return Model{}, err
	}
	return *model, nil
}

// Invoke dispatches to the variant-specific invocation path.
func (m *Manager) Invoke(ctx context.Context, id string, payload json.RawMessage, deadline time.Duration) (json.RawMessage, error) {
	model, err := m.get(id)
	if err != nil {
		return nil, err
	}
	switch model.Type {
	case KindProcess:
		return m.invokeProcess(ctx, model, payload, deadline)
	case KindWasm:
		return m.invokeWasm(ctx, model, payload)
	case KindReplicate:
		return m.invokeReplicate(ctx, model, payload)
	default:
		return nil, errs.New(errs.Internal, "unknown model type")
	}
}

// Restart stops and restarts a process/wasm model; a no-op error for
// replicate (stateless, nothing to restart).
func (m *Manager) Restart(ctx context.Context, id string) error {
	model, err := m.get(id)
	if err != nil {
		return err
	}
	switch model.Type {
	case KindProcess:
		return m.sup.Restart(ctx, id)
	case KindWasm:
		m.stopWasm(id)
		return m.startWasm(ctx, model)
	default:
		return errs.New(errs.BadInput, "replicate models cannot be restarted")
	}
}

// Stop stops a process/wasm model.
func (m *Manager) Stop(id string, force bool) error {
	model, err := m.get(id)
	if err != nil {
		return err
	}
	switch model.Type {
	case KindProcess:
		return m.sup.Stop(id, force)
	case KindWasm:
		m.stopWasm(id)
		return nil
	default:
		return nil
	}
}

// HealthCheck returns the current HealthSnapshot for id.
func (m *Manager) HealthCheck(id string) (HealthSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[id]
	if !ok {
		return HealthSnapshot{}, errs.New(errs.UnknownServer, id)
	}
	return *h, nil
}

// Logs returns recent log lines for a process-backed model; other model
// types are rejected with kind=bad-input.
func (m *Manager) Logs(id string, lines int) ([]mcpproc.LogRecord, error) {
	model, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if model.Type != KindProcess {
		return nil, errs.New(errs.BadInput, "logs are only available for process-backed models")
	}
	return m.sup.Logs(id, lines)
}

// UpdateReplicateParams allows mutating only default_params/timeout/
// max_retries on a Replicate model after create, per spec.md §4.8's CRUD
// rule; other fields are immutable (delete+create).
func (m *Manager) UpdateReplicateParams(id string, defaultParams json.RawMessage, timeout time.Duration, maxRetries int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok {
		return errs.New(errs.UnknownServer, id)
	}
	if model.Type != KindReplicate {
		return errs.New(errs.BadInput, "only replicate models support partial update")
	}
	if defaultParams != nil {
		model.DefaultParams = defaultParams
	}
	if timeout > 0 {
		model.Timeout = timeout
	}
	if maxRetries >= 0 {
		model.MaxRetries = maxRetries
	}
	return nil
}

var cudaOOMDefaultPattern = regexp.MustCompile(`(?i)cuda.*out of memory|CUDA_ERROR_OUT_OF_MEMORY`)

func matchesCUDAOOM(pattern, line string) bool {
	if pattern == "" {
		return cudaOOMDefaultPattern.MatchString(line)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(line)
}
