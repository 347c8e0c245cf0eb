package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/mcp"
)

// Store is the Server Registry's persistence contract, per spec.md §4.4.
type Store interface {
	Create(cfg ServerConfig) (ServerConfig, error)
	Get(id string) (ServerConfig, error)
	List(opts ListOptions) ([]ServerConfig, error)
	Update(id string, p Patch) (ServerConfig, error)
	Delete(id string) error
	SetEnabled(id string, enabled bool) (ServerConfig, error)
	SetTools(id string, tools []mcp.ToolDescriptor) error
}

// MemStore is the process-local, non-persistent fallback Store, used when
// no document store / file path is configured (spec.md §4.4: "otherwise a
// process-local map is used and its loss on restart is acceptable").
type MemStore struct {
	mu   sync.Mutex
	rows map[string]ServerConfig
}

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]ServerConfig)}
}

func (m *MemStore) Create(cfg ServerConfig) (ServerConfig, error) {
	if err := Validate(cfg); err != nil {
		return ServerConfig{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[cfg.ID]; ok && !existing.IsDeleted() {
		return ServerConfig{}, errs.New(errs.Conflict, "server id already exists: "+cfg.ID)
	}
	now := time.Now()
	cfg.CreatedAt, cfg.UpdatedAt = now, now
	m.rows[cfg.ID] = cfg
	return cfg, nil
}

func (m *MemStore) Get(id string) (ServerConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.rows[id]
	if !ok || cfg.IsDeleted() {
		return ServerConfig{}, errs.New(errs.UnknownServer, id)
	}
	return cfg, nil
}

func (m *MemStore) List(opts ListOptions) ([]ServerConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ServerConfig
	for _, cfg := range m.rows {
		if cfg.IsDeleted() && !opts.IncludeDeleted {
			continue
		}
		if opts.EnabledOnly && !cfg.Enabled {
			continue
		}
		out = append(out, cfg)
	}
	// Deterministic ordering (sorted by id) for cursor stability, per
	// spec.md §4.4.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) Update(id string, p Patch) (ServerConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.rows[id]
	if !ok || cfg.IsDeleted() {
		return ServerConfig{}, errs.New(errs.UnknownServer, id)
	}
	if p.Name != nil {
		cfg.Name = *p.Name
	}
	if p.Description != nil {
		cfg.Description = *p.Description
	}
	if p.Command != nil {
		if err := ValidateCommand(*p.Command); err != nil {
			return ServerConfig{}, err
		}
		cfg.Command = *p.Command
	}
	if p.Args != nil {
		cfg.Args = p.Args
	}
	if p.Env != nil {
		if err := ValidateEnv(p.Env); err != nil {
			return ServerConfig{}, err
		}
		cfg.Env = p.Env
	}
	if p.Cwd != nil {
		cfg.Cwd = *p.Cwd
	}
	if p.Auth != nil {
		cfg.Auth = p.Auth
	}
	cfg.UpdatedAt = time.Now()
	m.rows[id] = cfg
	return cfg, nil
}

func (m *MemStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.rows[id]
	if !ok || cfg.IsDeleted() {
		return errs.New(errs.UnknownServer, id)
	}
	now := time.Now()
	cfg.DeletedAt = &now
	cfg.UpdatedAt = now
	m.rows[id] = cfg
	return nil
}

func (m *MemStore) SetEnabled(id string, enabled bool) (ServerConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.rows[id]
	if !ok || cfg.IsDeleted() {
		return ServerConfig{}, errs.New(errs.UnknownServer, id)
	}
	cfg.Enabled = enabled
	cfg.UpdatedAt = time.Now()
	m.rows[id] = cfg
	return cfg, nil
}

func (m *MemStore) SetTools(id string, tools []mcp.ToolDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.rows[id]
	if !ok {
		return errs.New(errs.UnknownServer, id)
	}
	cfg.Tools = tools
	cfg.ToolsVersion++
	cfg.UpdatedAt = time.Now()
	m.rows[id] = cfg
	return nil
}

// FileStore wraps a MemStore with YAML file persistence, grounded in the
// teacher's internal/domain/profile.Store (Load/Save against a single
// YAML file). Every mutation is flushed to disk before returning, per
// spec.md §4.4: "if a document store is available, each mutation is
// durable before the API returns."
type FileStore struct {
	path string
	mem  *MemStore
	mu   sync.Mutex
}

type fileDoc struct {
	Servers []ServerConfig `yaml:"servers"`
}

// NewFileStore loads path if it exists (a missing file starts empty).
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, mem: NewMemStore()}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("registry: read store file: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("registry: parse store file: %w", err)
	}
	for _, cfg := range doc.Servers {
		fs.mem.rows[cfg.ID] = cfg
	}
	return nil
}

func (fs *FileStore) save() error {
	rows, _ := fs.mem.List(ListOptions{IncludeDeleted: true})
	doc := fileDoc{Servers: rows}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("registry: marshal store file: %w", err)
	}
	if dir := filepath.Dir(fs.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("registry: create store dir: %w", err)
		}
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("registry: write store file: %w", err)
	}
	return os.Rename(tmp, fs.path)
}

func (fs *FileStore) Create(cfg ServerConfig) (ServerConfig, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out, err := fs.mem.Create(cfg)
	if err != nil {
		return out, err
	}
	if err := fs.save(); err != nil {
		return ServerConfig{}, err
	}
	return out, nil
}

func (fs *FileStore) Get(id string) (ServerConfig, error) { return fs.mem.Get(id) }

func (fs *FileStore) List(opts ListOptions) ([]ServerConfig, error) { return fs.mem.List(opts) }

func (fs *FileStore) Update(id string, p Patch) (ServerConfig, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out, err := fs.mem.Update(id, p)
	if err != nil {
		return out, err
	}
	if err := fs.save(); err != nil {
		return ServerConfig{}, err
	}
	return out, nil
}

func (fs *FileStore) Delete(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.mem.Delete(id); err != nil {
		return err
	}
	return fs.save()
}

func (fs *FileStore) SetEnabled(id string, enabled bool) (ServerConfig, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out, err := fs.mem.SetEnabled(id, enabled)
	if err != nil {
		return out, err
	}
	if err := fs.save(); err != nil {
		return ServerConfig{}, err
	}
	return out, nil
}

func (fs *FileStore) SetTools(id string, tools []mcp.ToolDescriptor) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.mem.SetTools(id, tools); err != nil {
		return err
	}
	return fs.save()
}
