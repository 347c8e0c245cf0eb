// Command fluidmcpctl is a thin operator CLI over the Admin API, adapted
// from the teacher's cmd/scooter-cli + internal/cli/commands package
// (one cobra command per admin operation, a shared --json flag, colorized
// text output by default).
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluidmcp/gateway/internal/client"
	"github.com/fluidmcp/gateway/internal/cliout"
	"github.com/fluidmcp/gateway/internal/registry"
)

var (
	daemonURL   string
	bearerToken string
	jsonOutput  bool
	timeoutMS   int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fluidmcpctl",
		Short: "FluidMCP gateway operator CLI",
	}
	root.PersistentFlags().StringVar(&daemonURL, "daemon", "http://localhost:8099", "gateway admin base URL")
	root.PersistentFlags().StringVar(&bearerToken, "token", os.Getenv("FLUIDMCP_BEARER_TOKEN"), "admin bearer token")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	root.PersistentFlags().IntVar(&timeoutMS, "timeout", 30000, "request timeout in milliseconds")

	root.AddCommand(
		listCmd(), getCmd(), createCmd(), deleteCmd(),
		startCmd(), stopCmd(), restartCmd(),
		logsCmd(), toolsCmd(), callCmd(),
		envGetCmd(), envSetCmd(),
	)
	return root
}

func newClient() *client.Client {
	return client.New(daemonURL, bearerToken, time.Duration(timeoutMS)*time.Millisecond)
}

func newFormatter() *cliout.Formatter {
	format := cliout.FormatText
	if jsonOutput {
		format = cliout.FormatJSON
	}
	return cliout.NewFormatter(format, !jsonOutput)
}

func fail(f *cliout.Formatter, err error) {
	f.PrintError(err)
	os.Exit(1)
}

func listCmd() *cobra.Command {
	var enabledOnly, includeDeleted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list registered servers",
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			views, err := newClient().ListServers(enabledOnly, includeDeleted)
			if err != nil {
				fail(f, err)
			}
			f.PrintServers(views)
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled-only", false, "only list enabled servers")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include soft-deleted servers")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <server-id>",
		Short: "show a server's registry entry",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			cfg, err := newClient().GetServer(args[0])
			if err != nil {
				fail(f, err)
			}
			f.PrintJSON(cfg)
		},
	}
}

func createCmd() *cobra.Command {
	var name, command, envFlag string
	var argsFlag []string
	cmd := &cobra.Command{
		Use:   "create <server-id>",
		Short: "register a new server",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			cfg := registry.ServerConfig{
				ID: args[0], Name: name, Command: command, Args: argsFlag,
				Enabled: true, Env: parseEnvFlag(envFlag),
			}
			created, err := newClient().CreateServer(cfg)
			if err != nil {
				fail(f, err)
			}
			f.PrintJSON(created)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&command, "command", "", "launch command (must be on the allow-list)")
	cmd.Flags().StringArrayVar(&argsFlag, "arg", nil, "launch argument (repeatable)")
	cmd.Flags().StringVar(&envFlag, "env", "", "comma-separated KEY=VALUE pairs")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <server-id>",
		Short: "soft-delete a server, stopping it first if running",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			if err := newClient().DeleteServer(args[0]); err != nil {
				fail(f, err)
			}
			f.PrintStatus("deleted")
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <server-id>",
		Short: "start a server's child process",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			snap, err := newClient().StartServer(args[0])
			if err != nil {
				fail(f, err)
			}
			f.PrintJSON(snap)
		},
	}
}

func stopCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop <server-id>",
		Short: "stop a server's child process",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			if err := newClient().StopServer(args[0], force); err != nil {
				fail(f, err)
			}
			f.PrintStatus("stopped")
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "SIGKILL immediately instead of a graceful SIGTERM")
	return cmd
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <server-id>",
		Short: "restart a server's child process",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			snap, err := newClient().RestartServer(args[0])
			if err != nil {
				fail(f, err)
			}
			f.PrintJSON(snap)
		},
	}
}

func logsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs <server-id>",
		Short: "show a server's recent stderr lines",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			records, err := newClient().Logs(args[0], lines)
			if err != nil {
				fail(f, err)
			}
			if jsonOutput {
				f.PrintJSON(records)
				return
			}
			for _, r := range records {
				fmt.Printf("[%s] %s\n", r.Stream, r.Line)
			}
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 100, "number of trailing lines to show")
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools <server-id>",
		Short: "list a server's discovered tools",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			tools, err := newClient().ListTools(args[0])
			if err != nil {
				fail(f, err)
			}
			f.PrintTools(tools)
		},
	}
}

func callCmd() *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:   "call <server-id> <tool>",
		Short: "invoke a tool and print its result",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			payload := json.RawMessage(argsJSON)
			if argsJSON == "" {
				payload = json.RawMessage(`{}`)
			}
			result, err := newClient().RunTool(args[0], args[1], payload)
			if err != nil {
				fail(f, err)
			}
			if jsonOutput {
				fmt.Println(string(result))
				return
			}
			fmt.Println(string(result))
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "JSON-encoded tool arguments")
	return cmd
}

func envGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env-get <server-id>",
		Short: "show a server's environment overlay",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			env, err := newClient().GetEnv(args[0])
			if err != nil {
				fail(f, err)
			}
			f.PrintJSON(env)
		},
	}
}

func envSetCmd() *cobra.Command {
	var envFlag string
	cmd := &cobra.Command{
		Use:   "env-set <server-id>",
		Short: "merge environment variables into a server, restarting it if running",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := newFormatter()
			snap, err := newClient().SetEnv(args[0], parseEnvFlag(envFlag))
			if err != nil {
				fail(f, err)
			}
			f.PrintJSON(snap)
		},
	}
	cmd.Flags().StringVar(&envFlag, "env", "", "comma-separated KEY=VALUE pairs")
	return cmd
}

func parseEnvFlag(s string) map[string]string {
	env := map[string]string{}
	if s == "" {
		return env
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		env[strings.TrimSpace(k)] = v
	}
	return env
}
