package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/atmx/team-exchange/internal/config"
	"github.com/atmx/team-exchange/internal/model"
	"github.com/atmx/team-exchange/internal/registry"
	"github.com/atmx/team-exchange/internal/settings"
	"github.com/atmx/team-exchange/internal/steam"
	"github.com/atmx/team-exchange/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:          "team-exchange",
		Short:        "Play-money exchange for esports team shares",
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newSettingsCmd(),
		newTeamCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// app holds the components every command shares.
type app struct {
	cfg      config.Config
	store    store.Store
	registry *registry.Registry
	settings *settings.Store
	cleanup  []func()

	persistent bool
}

// errNotPersistent is returned by commands whose writes would be lost with
// the in-memory store.
var errNotPersistent = errors.New("DATABASE_URL is not set; changes would not persist")

// openApp loads the configuration and connects the store: PostgreSQL when
// DATABASE_URL is set, optionally behind a Redis cache, otherwise memory.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	if cfg.DatabaseURL != "" {
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.cleanup = append(a.cleanup, pool.Close)
		a.store = store.NewPostgresStore(pool)
		a.persistent = true
		slog.Info("connected to PostgreSQL")

		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				a.close()
				return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			a.cleanup = append(a.cleanup, func() { rdb.Close() })
			a.store = store.NewCachedStore(a.store, rdb, cfg.RedisCacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.RedisCacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		a.store = store.NewMemoryStore()
	}

	a.registry = registry.New(a.store, nil)
	a.settings = settings.New(a.store, model.Settings{
		PollInterval: cfg.PollInterval,
		LeagueID:     cfg.LeagueID,
	}, nil)
	return a, nil
}

// requirePersistent rejects commands that only make sense against the
// database.
func (a *app) requirePersistent() error {
	if !a.persistent {
		return errNotPersistent
	}
	return nil
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

func (a *app) steamClient() *steam.Client {
	return steam.NewClient(steam.Config{
		BaseURL:    a.cfg.SteamBaseURL,
		APIKey:     a.cfg.SteamAPIKey,
		Timeout:    a.cfg.SteamTimeout,
		MaxRetries: a.cfg.SteamMaxRetries,
	}, nil)
}
