package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control-plane migration, reconcile running subscriptions, and serve the HTTP/WebSocket API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe mirrors the teacher's main.go shape: connect, migrate,
// start every background pipeline, serve HTTP in a goroutine, then
// block on SIGINT/SIGTERM before a bounded graceful shutdown.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.cp.Migrate(ctx); err != nil {
		return err
	}
	if err := a.supervisor.Reconcile(ctx); err != nil {
		a.logger.Error().Err(err).Msg("[serve] initial reconcile failed")
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info().Int("port", a.cfg.APIPort).Msg("[serve] starting API server")
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		a.logger.Info().Msg("[serve] shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("[serve] HTTP shutdown error")
	}
	a.supervisor.Shutdown(10 * time.Second)
	return nil
}
