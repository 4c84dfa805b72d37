package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pybox/internal/gateway"
	"pybox/internal/storage"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pybox gateway server",
		Long: `Start the HTTP gateway server.

The server exposes the execution pipeline over REST:
- POST /api/v1/execute runs code through the sandbox
- GET /api/v1/executions lists execution history
- GET /api/v1/health reports server status

The server listens on the configured host and port (default: 127.0.0.1:8080).`,
		Example: `  # Start server with default configuration
  pybox serve

  # Start server with custom port
  pybox serve --port 9090`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	cfg := cliCtx.Config
	log := cliCtx.Log()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8080
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}

	executor, err := cliCtx.BuildExecutor()
	if err != nil {
		return err
	}
	defer executor.Cleanup()

	var db *storage.DB
	if cfg.Exec.EnableHistory {
		db, err = cliCtx.GetStorage()
		if err != nil {
			return fmt.Errorf("open history storage: %w", err)
		}
	}

	srv := gateway.NewServer(cfg, executor, db, Version)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	return srv.Shutdown(context.Background())
}
