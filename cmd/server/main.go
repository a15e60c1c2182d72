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

	"github.com/spf13/pflag"

	"github.com/example/ride-client/internal/api"
	"github.com/example/ride-client/internal/clock"
	"github.com/example/ride-client/internal/config"
	"github.com/example/ride-client/internal/dispatch"
	"github.com/example/ride-client/internal/draft"
	"github.com/example/ride-client/internal/events"
	"github.com/example/ride-client/internal/geocode"
	"github.com/example/ride-client/internal/history"
	httpapi "github.com/example/ride-client/internal/http"
	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/navigator"
	"github.com/example/ride-client/internal/route"
	"github.com/example/ride-client/internal/session"
	"github.com/example/ride-client/internal/storage"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file")
	addr := pflag.String("addr", "", "listen address, overrides HTTP_ADDR")
	pflag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	kv, closeKV, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	client, err := api.NewClient(api.Config{
		BaseURL:     cfg.APIBaseURL,
		AuthBaseURL: cfg.AuthBaseURL,
		HTTPClient:  &http.Client{Timeout: cfg.RemoteTimeout},
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	clk := clock.Real()
	sess := session.NewManager(kv, client, clk, cfg.SessionWindow, logger)
	client.Tokens = sess

	geo := geocode.NewCache(geocode.NewPhotonClient(cfg.GeocoderURL, cfg.RemoteTimeout), cfg.GeocodeCacheTTL, clk.Now)
	drafts := draft.New(draft.Options{KV: kv, Rides: client, Geocoder: geo, Logger: logger})
	reconciler := history.New(history.Options{
		Backend:     client,
		Geocoder:    geo,
		Concurrency: cfg.HistoryConcurrency,
		Clock:       clk,
		Logger:      logger,
	})

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		logger.Info("publishing ride events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	hub := dispatch.NewHub(logger)
	nav := navigator.New(navigator.Options{
		Session:     sess,
		Drafts:      drafts,
		History:     reconciler,
		Rides:       client,
		Router:      route.NewOSRMClient(cfg.RouterURL, cfg.RemoteTimeout),
		Notifier:    hub,
		Events:      publisher,
		Clock:       clk,
		Logger:      logger,
		RecentLimit: cfg.RecentRidesLimit,
		Concurrency: cfg.HistoryConcurrency,
	})
	defer nav.Close()

	if nav.Resume(ctx) {
		logger.Info("resumed stored session")
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(nav, hub, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-client listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore builds the durable key-value store selected by STORE_BACKEND.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rs := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.StorePrefix)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			rs.Close()
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	case config.BackendPostgres:
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN, cfg.StorePrefix)
		if err != nil {
			return nil, nil, err
		}
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				ps.Close()
				return nil, nil, err
			}
			logger.Info("migration applied", "table", "kv_entries")
		}
		return ps, func() { _ = ps.Close() }, nil
	default:
		return storage.NewMemoryStore(), func() {}, nil
	}
}
