// Package client implements the Admin Client (C14), a typed Go wrapper
// over the Admin API (C10), generalized from the teacher's
// internal/cli/client.ControlClient get/post helpers.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fluidmcp/gateway/internal/mcp"
	"github.com/fluidmcp/gateway/internal/mcpproc"
	"github.com/fluidmcp/gateway/internal/registry"
)

// Client talks to a running gateway's Admin API over HTTP.
type Client struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
}

// New builds a Client. timeout <= 0 uses the http.Client zero value (no
// timeout), matching the teacher's ControlClient constructor.
func New(baseURL, bearerToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// ServerView mirrors gwapi.serverView: a ServerConfig with its live
// supervisor snapshot attached.
type ServerView struct {
	registry.ServerConfig
	Status *mcpproc.Snapshot `json:"status,omitempty"`
}

func (c *Client) ListServers(enabledOnly, includeDeleted bool) ([]ServerView, error) {
	q := url.Values{}
	if enabledOnly {
		q.Set("enabled_only", "true")
	}
	if includeDeleted {
		q.Set("include_deleted", "true")
	}
	var views []ServerView
	err := c.get("/api/servers?"+q.Encode(), &views)
	return views, err
}

func (c *Client) CreateServer(cfg registry.ServerConfig) (registry.ServerConfig, error) {
	var created registry.ServerConfig
	err := c.post("/api/servers", cfg, &created)
	return created, err
}

func (c *Client) GetServer(id string) (registry.ServerConfig, error) {
	var cfg registry.ServerConfig
	err := c.get("/api/servers/"+id, &cfg)
	return cfg, err
}

func (c *Client) UpdateServer(id string, patch registry.Patch) (registry.ServerConfig, error) {
	var updated registry.ServerConfig
	err := c.put("/api/servers/"+id, patch, &updated)
	return updated, err
}

func (c *Client) DeleteServer(id string) error {
	return c.delete("/api/servers/" + id)
}

func (c *Client) StartServer(id string) (mcpproc.Snapshot, error) {
	var snap mcpproc.Snapshot
	err := c.post("/api/servers/"+id+"/start", nil, &snap)
	return snap, err
}

func (c *Client) StopServer(id string, force bool) error {
	path := "/api/servers/" + id + "/stop"
	if force {
		path += "?force=true"
	}
	return c.post(path, nil, nil)
}

func (c *Client) RestartServer(id string) (mcpproc.Snapshot, error) {
	var snap mcpproc.Snapshot
	err := c.post("/api/servers/"+id+"/restart", nil, &snap)
	return snap, err
}

func (c *Client) Status(id string) (mcpproc.Snapshot, error) {
	var snap mcpproc.Snapshot
	err := c.get("/api/servers/"+id+"/status", &snap)
	return snap, err
}

func (c *Client) Logs(id string, lines int) ([]mcpproc.LogRecord, error) {
	var records []mcpproc.LogRecord
	path := "/api/servers/" + id + "/logs"
	if lines > 0 {
		path += "?lines=" + strconv.Itoa(lines)
	}
	err := c.get(path, &records)
	return records, err
}

func (c *Client) ListTools(id string) ([]mcp.ToolDescriptor, error) {
	var result mcp.ToolsListResult
	err := c.get("/api/servers/"+id+"/tools", &result)
	return result.Tools, err
}

func (c *Client) RunTool(id, tool string, args json.RawMessage) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.postRaw("/api/servers/"+id+"/tools/"+tool+"/run", args, &raw)
	return raw, err
}

func (c *Client) GetEnv(id string) (map[string]string, error) {
	var env map[string]string
	err := c.get("/api/servers/"+id+"/instance/env", &env)
	return env, err
}

func (c *Client) SetEnv(id string, env map[string]string) (mcpproc.Snapshot, error) {
	var snap mcpproc.Snapshot
	err := c.put("/api/servers/"+id+"/instance/env", env, &snap)
	return snap, err
}

func (c *Client) authorize(req *http.Request) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
}

func (c *Client) get(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	return c.do(req, v)
}

func (c *Client) post(path string, body, v any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.postRaw(path, data, v)
}

func (c *Client) postRaw(path string, data []byte, v any) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req, v)
}

func (c *Client) put(path string, body, v any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPut, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req, v)
}

func (c *Client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	return c.do(req, nil)
}

// apiError mirrors gwapi's errorEnvelope wire shape.
type apiError struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if decErr := json.NewDecoder(resp.Body).Decode(&apiErr); decErr == nil && apiErr.Error.Kind != "" {
			return fmt.Errorf("gateway error (%s): %s", apiErr.Error.Kind, apiErr.Error.Message)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
