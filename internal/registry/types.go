// Package registry implements the Server Registry (C4): the authoritative,
// persisted store of ServerConfig rows, adapted from the teacher's
// internal/domain/registry (types.go, validate.go) and
// internal/domain/profile (store.go, the YAML persistence pattern).
package registry

import (
	"time"

	"github.com/fluidmcp/gateway/internal/mcp"
)

// AuthConfig describes an OAuth provider for a server, per spec.md §3.
type AuthConfig struct {
	AuthorizationURL string   `yaml:"authorization_url" json:"authorization_url"`
	TokenURL         string   `yaml:"token_url" json:"token_url"`
	Scopes           []string `yaml:"scopes" json:"scopes"`
	ClientIDEnv      string   `yaml:"client_id_env" json:"client_id_env"`
	ClientSecretEnv  string   `yaml:"client_secret_env,omitempty" json:"client_secret_env,omitempty"`
	RedirectPath     string   `yaml:"redirect_path" json:"redirect_path"`
}

// ServerConfig is the authoritative, persisted description of a server,
// per spec.md §3.
type ServerConfig struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Cwd         string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	Enabled     bool              `yaml:"enabled" json:"enabled"`
	AutoStart   bool              `yaml:"auto_start" json:"auto_start"`
	DeletedAt   *time.Time        `yaml:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	Auth        *AuthConfig       `yaml:"auth,omitempty" json:"auth,omitempty"`

	Tools        []mcp.ToolDescriptor `yaml:"tools,omitempty" json:"tools,omitempty"`
	ToolsVersion int                  `yaml:"tools_version" json:"tools_version"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// IsDeleted reports whether this row has been soft-deleted.
func (c ServerConfig) IsDeleted() bool { return c.DeletedAt != nil }

// ListOptions filters List(), per spec.md §4.4's admin GET /api/servers
// query params.
type ListOptions struct {
	EnabledOnly    bool
	IncludeDeleted bool
}

// Patch carries the mutable subset of fields for Update, per spec.md §3:
// id and created_at are immutable after create.
type Patch struct {
	Name        *string
	Description *string
	Command     *string
	Args        []string
	Env         map[string]string
	Cwd         *string
	Auth        *AuthConfig
}
