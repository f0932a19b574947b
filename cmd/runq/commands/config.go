package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veldtlabs/runq/config"
)

// ConfigCmd groups configuration subcommands
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect runq configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// configShowCmd prints the effective configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Printf("server.port                = %d\n", cfg.Server.Port)
		fmt.Printf("server.allowed_origins     = %v\n", cfg.Server.AllowedOrigins)
		fmt.Printf("queue.max_workers          = %d\n", cfg.Queue.MaxWorkers)
		fmt.Printf("queue.min_workers          = %d\n", cfg.Queue.MinWorkers)
		fmt.Printf("queue.default_timeout_ms   = %d\n", cfg.Queue.DefaultTimeoutMS)
		fmt.Printf("queue.default_max_retries  = %d\n", cfg.Queue.DefaultMaxRetries)
		fmt.Printf("queue.capacity             = %d\n", cfg.Queue.Capacity)
		fmt.Printf("log.json                   = %v\n", cfg.Log.JSON)
		return nil
	},
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
}
