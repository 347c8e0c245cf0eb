// Package toolcache implements the Tool Cache (C5): a per-server cache of
// the tools/list result, gating tools/call dispatch so unknown tool names
// are rejected locally without a round-trip to the child. Generalized
// from the teacher's discovery.DiscoveryEngine.toolToServer bookkeeping
// into a standalone, versioned cache.
package toolcache

import (
	"sync"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/mcp"
)

type entry struct {
	tools   []mcp.ToolDescriptor
	byName  map[string]mcp.ToolDescriptor
	version int
}

// Cache holds one entry per server-id.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Refresh replaces the tool set for id and bumps its version. Triggered
// by: a Supervisor transition into ready-for-RPC, an explicit admin call,
// or a first tools/call after invalidation (spec.md §4.5).
func (c *Cache) Refresh(id string, tools []mcp.ToolDescriptor) int {
	byName := make(map[string]mcp.ToolDescriptor, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{}
		c.entries[id] = e
	}
	e.tools = tools
	e.byName = byName
	e.version++
	return e.version
}

// Invalidate drops the cached entry for id (e.g. on a non-ready transition).
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// List returns the cached tool set for id.
func (c *Cache) List(id string) ([]mcp.ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return e.tools, true
}

// CheckKnown returns errs.UnknownTool if name is not in id's cached tool
// set. A cache miss for id itself (never refreshed) is treated as unknown
// too, forcing callers through the slow path at least once.
func (c *Cache) CheckKnown(id, name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return errs.New(errs.UnknownTool, "no cached tool list for "+id)
	}
	if _, ok := e.byName[name]; !ok {
		return errs.New(errs.UnknownTool, name)
	}
	return nil
}

// Version reports the current cache version for id (0 if absent).
func (c *Cache) Version(id string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[id]; ok {
		return e.version
	}
	return 0
}
