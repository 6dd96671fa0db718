package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/taskloop/comms"
	"github.com/GoCodeAlone/taskloop/internal/backend"
	"github.com/GoCodeAlone/taskloop/internal/version"
	"github.com/GoCodeAlone/taskloop/server"
	"github.com/GoCodeAlone/taskloop/server/api"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and SSE run events",
	RunE:  runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger.Info("starting taskloop server",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	bus := comms.NewInMemoryBus()
	orch, err := backend.New(cfg, backend.Options{Bus: bus, Store: store, Logger: logger})
	if err != nil {
		return err
	}
	runs := api.NewManager(orch, cfg.Server.MaxConcurrentRuns, logger)

	srv := server.New(*cfg, version.Version, logger)
	srv.SetRunLauncher(runs)
	srv.SetStore(store)
	srv.SetBus(bus)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-sigCh:
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("server stop", slog.Any("err", err))
	}
	if err := runs.Shutdown(ctx); err != nil {
		logger.Error("runs did not stop in time", slog.Any("err", err))
	}
	logger.Info("shutdown complete")
	return nil
}
