package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/fluidmcp/gateway/internal/errs"
)

// wasmBackend runs a single WASM-embedded model, adapted from the
// teacher's discovery.WASMWorker: a wazero runtime hosting one compiled
// module, instantiated per invocation against a fresh stdin/stdout pipe
// pair so concurrent invokes don't interleave on shared WASI fds.
type wasmBackend struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	module  wazero.CompiledModule
	env     map[string]string
}

func newWasmBackend(ctx context.Context, path string, env map[string]string) (*wasmBackend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	mod, err := rt.CompileModule(ctx, data)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("compile wasm module: %w", err)
	}
	return &wasmBackend{runtime: rt, module: mod, env: env}, nil
}

// invoke feeds payload to the module's stdin and captures stdout as the
// result; instantiation itself is the execution for a single-shot MCP
// tool call, matching the teacher's Execute() semantics.
func (w *wasmBackend) invoke(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var stdout bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(payload)).
		WithStdout(&stdout).
		WithStderr(os.Stderr).
		WithArgs("mcp-tool")
	for k, v := range w.env {
		cfg = cfg.WithEnv(k, v)
	}

	mod, err := w.runtime.InstantiateModule(ctx, w.module, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate wasm module: %w", err)
	}
	defer mod.Close(ctx)

	return json.RawMessage(stdout.Bytes()), nil
}

func (w *wasmBackend) close(ctx context.Context) {
	w.runtime.Close(ctx)
}

func (m *Manager) startWasm(ctx context.Context, model *Model) error {
	if model.WasmPath == "" {
		return errs.New(errs.BadInput, "wasm model requires wasm_path")
	}
	backend, err := newWasmBackend(ctx, model.WasmPath, model.Env)
	if err != nil {
		return errs.Wrap(errs.ChildSpawn, err, "start wasm model "+model.ID)
	}
	m.mu.Lock()
	m.wasm[model.ID] = backend
	m.mu.Unlock()
	return nil
}

func (m *Manager) stopWasm(id string) {
	m.mu.Lock()
	backend, ok := m.wasm[id]
	delete(m.wasm, id)
	m.mu.Unlock()
	if ok {
		backend.close(context.Background())
	}
}

func (m *Manager) invokeWasm(ctx context.Context, model *Model, payload json.RawMessage) (json.RawMessage, error) {
	m.mu.RLock()
	backend, ok := m.wasm[model.ID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.NotRunning, model.ID)
	}
	return backend.invoke(ctx, payload)
}
