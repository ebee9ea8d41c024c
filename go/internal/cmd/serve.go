package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator",
		Long: `Run the HTTP API, WebSocket sync and (when enabled) the NATS ingest
consumer. Persisted sessions are restored before the server accepts traffic.
SIGHUP reloads the token catalog for sessions created afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg := opts.Config
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	// The relay outlives the signal so it can flush on shutdown.
	if err := services.Relay.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start outbox relay: %w", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := reloadCatalog(ctx, cfg, services.Sessions); err != nil {
					log.Error().Err(err).Msg("keeping current catalog")
				}
			}
		}
	}()

	if services.Ingest != nil {
		go func() {
			if err := services.Ingest.Start(ctx); err != nil {
				log.Error().Err(err).Msg("ingest consumer failed")
			}
		}()
	}

	server := setupServer(cfg, services)
	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("store", cfg.Store.Driver).
			Bool("nats", cfg.NATS.Enabled).
			Str("paused_policy", cfg.Session.PausedPolicy).
			Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		stop()
		services.Relay.Stop(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	services.Connections.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := services.Relay.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("outbox relay did not flush")
	}

	log.Info().Msg("shutdown complete")
	return nil
}
