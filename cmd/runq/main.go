package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veldtlabs/runq/cmd/runq/commands"
	"github.com/veldtlabs/runq/config"
	"github.com/veldtlabs/runq/logger"
)

var rootCmd = &cobra.Command{
	Use:   "runq",
	Short: "runq - in-process job queue service over HTTP",
	Long: `runq - single-node control plane for short-lived background work.

Clients submit commands over HTTP, observe their progress, enumerate
queued or historical jobs, and cancel outstanding work. All state is
held in memory.

Available commands:
  serve   - Start the job queue HTTP server
  config  - Show the effective configuration
  version - Print version information

Examples:
  runq serve                 # Start on the configured port (default 4000)
  runq serve --port 8080     # Override the listen port
  runq config show           # Show effective configuration`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func main() {
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)

	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
