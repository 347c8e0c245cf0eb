// Command fluidmcpd runs the FluidMCP gateway daemon: it owns the
// Process Supervisor, Server Registry, Tool Cache, OAuth Flow Broker,
// LLM Backend Manager, and the HTTP Multiplexer/Admin API that sit on
// top of them. Structure is adapted from the teacher's cmd/scooter/main.go
// run() function and internal/cli/commands/root.go's cobra wiring.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluidmcp/gateway/internal/config"
	"github.com/fluidmcp/gateway/internal/gwapi"
	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/logging"
	"github.com/fluidmcp/gateway/internal/mcp"
	"github.com/fluidmcp/gateway/internal/mcpproc"
	"github.com/fluidmcp/gateway/internal/oauthbroker"
	"github.com/fluidmcp/gateway/internal/registry"
	"github.com/fluidmcp/gateway/internal/toolcache"
)

// version is stamped at build time via -ldflags, matching the teacher's
// cmd/scooter-cli version reporting convention; "dev" is the fallback for
// local builds.
var version = "dev"

var (
	configPath string
	storePath  string
	baseURL    string
)

func main() {
	root := &cobra.Command{
		Use:   "fluidmcpd",
		Short: "FluidMCP gateway daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional TOML config file")
	root.PersistentFlags().StringVar(&storePath, "registry-file", "", "YAML registry file (default: in-memory, process-local)")
	root.PersistentFlags().StringVar(&baseURL, "base-url", "", "externally-visible base URL, used to build OAuth redirect URIs (default: derived from listen_addr)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run the gateway daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(slog.NewJSONHandler(os.Stdout, nil))
	log.Info("fluidmcpd starting", "version", version, "listen_addr", cfg.ListenAddr)

	var store registry.Store
	if storePath != "" {
		if err := os.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
		fs, err := registry.NewFileStore(storePath)
		if err != nil {
			return fmt.Errorf("open registry file: %w", err)
		}
		store = fs
	} else {
		log.Warn("no --registry-file given; server definitions are process-local and will not survive a restart")
		store = registry.NewMemStore()
	}

	sup := mcpproc.NewSupervisor(log)
	cache := toolcache.New()

	effectiveBaseURL := baseURL
	if effectiveBaseURL == "" {
		effectiveBaseURL = "http://localhost" + cfg.ListenAddr
	}
	broker := oauthbroker.New(effectiveBaseURL, log)
	defer broker.Close()

	llmMgr := llm.NewManager(sup, log)

	gw := gwapi.New(cfg, store, sup, cache, broker, llmMgr, log)

	if err := autoStartEnabled(ctx, store, sup, cache); err != nil {
		log.Error("auto-start sweep failed", "error", err)
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: gw}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}

	for _, id := range sup.RunningIDs() {
		_ = sup.Stop(id, false)
	}
	return nil
}

// autoStartEnabled starts every enabled, auto-start server at daemon boot,
// per spec.md §4.6's "auto-start is enabled for S" precondition applying
// equally to the initial sweep as to on-demand proxy starts.
func autoStartEnabled(ctx context.Context, store registry.Store, sup *mcpproc.Supervisor, cache *toolcache.Cache) error {
	rows, err := store.List(registry.ListOptions{EnabledOnly: true})
	if err != nil {
		return err
	}
	for _, cfg := range rows {
		if !cfg.AutoStart {
			continue
		}
		spec := mcpproc.LaunchSpec{Command: cfg.Command, Args: cfg.Args, Env: cfg.Env, Cwd: cfg.Cwd}
		startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		id := cfg.ID
		err := sup.Start(startCtx, id, spec, mcpproc.StartOptions{}, func(gotID string, tools []mcp.ToolDescriptor) {
			cache.Refresh(gotID, tools)
			_ = store.SetTools(gotID, tools)
		}, nil)
		cancel()
		if err != nil {
			return fmt.Errorf("auto-start %s: %w", id, err)
		}
	}
	return nil
}
