// Command switchboard is a minimal daemon runner: it loads a YAML
// config, builds the configured adapters and state backend, and serves
// the kernel until interrupted. Deliberately thin — registering
// handlers is a library operation, not a CLI one.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/duskrail/switchboard/internal/config"
	"github.com/duskrail/switchboard/internal/registry"
	"github.com/duskrail/switchboard/internal/runtime"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switchboard",
		Short: "switchboard — a multi-platform chat-bot runtime kernel",
	}
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "switchboard %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a config file and start the kernel with its configured adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			// This CLI registers no handlers and no periodic task bodies:
			// both are library operations. Embedders call runtime.Build
			// directly from their own main, passing real registrations.
			rt, err := runtime.Build(cfg, func(r *registry.Registry) {}, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return rt.Run(ctx, cfg.HTTP.Addr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "switchboard.yaml", "path to the YAML configuration file")
	return cmd
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
