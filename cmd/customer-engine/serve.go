package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/customer-engine/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker pool behind an HTTP API",
	Long: `Serve starts the orchestrator workers and exposes them over HTTP:

  POST /jobs       submit {"subject_name": "...", "max_results": 20}
  GET  /jobs/{id}  poll status, progress, partial and final results

Jobs still queued on shutdown are marked failed.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	cfg, err := loadConfig(viper.GetViper(), loadedSecrets)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.orch.Start(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(eng.orch, eng.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		eng.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		stop()
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = srv.Shutdown(shutdownCtx)
		cancel()
	}
	eng.orch.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
