// Package commands holds the runq CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veldtlabs/runq/config"
	"github.com/veldtlabs/runq/logger"
	"github.com/veldtlabs/runq/queue"
	"github.com/veldtlabs/runq/server"
)

// ServeCmd starts the job queue HTTP server
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job queue HTTP server",
	Long: `Start the runq server in foreground mode.

The server will:
- Accept job submissions over HTTP and queue them by priority
- Run commands on a dynamic worker pool with per-job timeouts
- Retry failed jobs up to their retry budget
- Stream job updates to WebSocket clients
- Run until interrupted (Ctrl+C)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}
		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			cfg.Queue.MaxWorkers = workers
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		svc := queue.NewService(queue.ServiceConfig{
			MaxWorkers:        cfg.Queue.MaxWorkers,
			MinWorkers:        cfg.Queue.MinWorkers,
			DefaultTimeoutMS:  cfg.Queue.DefaultTimeoutMS,
			DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
			Capacity:          cfg.Queue.Capacity,
		}, queue.NewShellExecutor(), logger.Logger)

		svc.CheckMemoryPressure()
		svc.Start(ctx)

		srv := server.NewServer(cfg, svc, logger.Logger)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(ctx)
		}()

		fmt.Printf("runq server started\n")
		fmt.Printf("  Port: %d\n", cfg.Server.Port)
		fmt.Printf("  Workers: %d (min %d)\n", cfg.Queue.MaxWorkers, cfg.Queue.MinWorkers)
		fmt.Printf("  Default timeout: %d ms\n", cfg.Queue.DefaultTimeoutMS)
		fmt.Printf("  Default retries: %d\n", cfg.Queue.DefaultMaxRetries)
		fmt.Printf("\nPress Ctrl+C to shut down\n\n")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			svc.Stop()
			return err
		case <-sigChan:
		}

		fmt.Printf("\nShutting down...\n")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), server.ShutdownTimeout())
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("Server shutdown failed", "error", err)
		}
		svc.Stop()

		fmt.Printf("runq server stopped\n")
		return nil
	},
}

func init() {
	ServeCmd.Flags().Int("port", 0, "HTTP listen port (overrides config)")
	ServeCmd.Flags().Int("workers", 0, "maximum concurrent workers (overrides config)")
}
