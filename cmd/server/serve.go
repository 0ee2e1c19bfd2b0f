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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/team-exchange/internal/api"
	"github.com/atmx/team-exchange/internal/auth"
	"github.com/atmx/team-exchange/internal/feed"
	"github.com/atmx/team-exchange/internal/ingest"
	"github.com/atmx/team-exchange/internal/ledger"
	"github.com/atmx/team-exchange/internal/trade"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ingestion loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				slog.Error("startup failed", "err", err)
				os.Exit(1)
			}
			defer a.close()

			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	hub := feed.NewHub(nil)

	client := a.steamClient()
	pipeline := ingest.NewPipeline(client, a.registry, a.settings, hub, a.cfg.IngestMaxPages, nil)
	runner := ingest.NewRunner(pipeline, a.settings, nil)

	coord := trade.NewCoordinator(ledger.New(a.store, nil), hub, nil)
	gw := auth.New(a.store, auth.Config{StartingBalance: a.cfg.StartingBalance}, nil)

	srv := api.New(api.Options{CORSEnabled: a.cfg.CORSEnabled}, nil, a.registry, a.store, gw, coord, hub)
	httpSrv := &http.Server{
		Addr:         a.cfg.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("team-exchange listening", "addr", a.cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("shutting down team-exchange...")
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("team-exchange stopped")
	return nil
}
