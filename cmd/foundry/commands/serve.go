package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/foundry/internal/api"
)

var serveAddr string

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the foundry engine behind an HTTP API.

Endpoints:
  GET  /health                      Store connectivity
  GET  /metrics                     Prometheus metrics
  GET  /api/sessions                List session IDs
  POST /api/sessions                Create a session and start it
  GET  /api/sessions/:id            Latest checkpoint
  GET  /api/sessions/:id/stream     Server-sent progress events
  GET  /api/sessions/:id/history    Every checkpoint, oldest first
  POST /api/sessions/:id/approve    Approve the current draft
  POST /api/sessions/:id/halt       Stop a session for human review

Sessions interrupted by a previous shutdown are resumed at startup.
Run one serve process per instance.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, true, stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	engine := rt.newEngine()
	defer engine.Close()

	server, err := api.NewServer(engine, rt.logger, cfg.Server.Addr)
	if err != nil {
		return err
	}

	rt.logger.Info("foundry_starting",
		zap.String("instance", cfg.Instance),
		zap.String("store", cfg.Store.Backend),
		zap.String("bus", cfg.Bus.Backend),
		zap.String("addr", cfg.Server.Addr),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		if _, err := engine.RecoverSessions(gctx); err != nil {
			// Serving existing checkpoints is still useful
			rt.logger.Warn("recovery_failed", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		rt.logger.Info("shutdown_signal_received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Error("server_error", zap.Error(err))
		return err
	}

	rt.logger.Info("foundry_stopped")
	return nil
}
