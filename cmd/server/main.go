package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/mali-ride/internal/commission"
	"github.com/example/mali-ride/internal/config"
	"github.com/example/mali-ride/internal/dispatch"
	"github.com/example/mali-ride/internal/drivers"
	"github.com/example/mali-ride/internal/geo"
	httpapi "github.com/example/mali-ride/internal/http"
	"github.com/example/mali-ride/internal/ingest"
	"github.com/example/mali-ride/internal/logging"
	"github.com/example/mali-ride/internal/matcher"
	"github.com/example/mali-ride/internal/payments"
	"github.com/example/mali-ride/internal/pricing"
	"github.com/example/mali-ride/internal/rides"
	"github.com/example/mali-ride/internal/routing"
	"github.com/example/mali-ride/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	ready := map[string]httpapi.Checker{}

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("schema applied")
		}
		store = pg
		ready["postgres"] = pg.Ping
	} else {
		logger.Warn("PG_DSN not set, trips and drivers live in memory only")
		store = storage.NewMemoryStore()
	}

	var (
		index geo.Index     = geo.NewMemoryIndex()
		cache routing.Cache = routing.NewMemoryCache()
		rc    *redis.Client
	)
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		index = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		cache = routing.NewRedisCache(rc, "route:")
		ready["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	provider, err := routing.NewProviderFromConfig(cfg.Routing)
	if err != nil {
		return err
	}
	resolver := routing.NewResolver(cfg.Routing, provider, cache, logger)
	logger.Info("distance source", "source", resolver.Source())

	var publisher ingest.Publisher = ingest.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic, cfg.KafkaTripTopic)
		defer kp.Close()
		publisher = kp
	}

	var gateway payments.Gateway = payments.NopGateway{}
	if cfg.StripeAPIKey != "" {
		gateway = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	wsReg := dispatch.NewWSRegistry(logger)
	var fallback dispatch.Notifier
	if cfg.WebhookURL != "" {
		fallback = dispatch.NewWebhookNotifier(cfg.WebhookURL)
	}
	notifier := dispatch.NewPushDispatcher(wsReg, fallback)

	engine, err := commission.NewEngine(cfg.Schedule)
	if err != nil {
		return err
	}
	m := &matcher.Service{Resolver: resolver, Geo: index, RadiusMiles: cfg.MatchRadiusMiles, Logger: logger}
	rideSvc, err := rides.NewService(store, resolver, m, rides.Config{
		Calculator:   pricing.NewCalculator(cfg.Rates, cfg.FareFloor),
		Commission:   engine,
		Policy:       cfg.Cancellation,
		WeeklyWindow: cfg.WeeklyWindow,
	}, logger,
		rides.WithPayments(gateway),
		rides.WithPublisher(publisher),
		rides.WithNotifier(notifier),
	)
	if err != nil {
		return err
	}
	driverSvc := drivers.NewService(store, logger,
		drivers.WithGeoIndex(index),
		drivers.WithPublisher(publisher),
	)

	// the index may be empty (fresh memory index) or behind the store (lost Redis key)
	if n, err := driverSvc.SyncIndex(ctx); err != nil {
		logger.Warn("geo index rebuild incomplete", "indexed", n, "error", err)
	} else {
		logger.Info("geo index rebuilt", "indexed", n)
	}
	go driverSvc.KeepIndexSynced(ctx, cfg.IndexResync)

	api := httpapi.NewServer(driverSvc, rideSvc, store, wsReg, logger)
	for name, check := range ready {
		api.Ready[name] = check
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("mali-ride listening", "addr", cfg.HTTPAddr, "schedule", engine.Schedule.Name)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
