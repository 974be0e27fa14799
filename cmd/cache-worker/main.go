package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/cache"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/cron"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/config"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/db"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/metrics"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/migrate"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cache-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cache-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cache-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	builder, err := cache.NewBuilder(cache.BuilderParams{
		Store:  directory.NewSQLStore(dbClient.DB()),
		BaseDN: cfg.Directory.BaseDN,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cache builder", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create rebuild lock", err)
		os.Exit(1)
	}

	rebuildJob, err := cron.NewCacheRebuildJob(cron.CacheRebuildJobParams{
		Logger:    logg,
		Builder:   builder,
		CacheFile: cfg.Cache.File,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cache rebuild job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	registry.Register(rebuildJob)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"cacheFile":   cfg.Cache.File,
	})
	logg.Info(ctx, "starting cache worker")

	go serveMetrics(ctx, logg)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cache worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cache worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cache-worker:" + env
}

func serveMetrics(ctx context.Context, logg *logger.Logger) {
	addr := os.Getenv("BILDUNGSLOGIN_METRICS_ADDR")
	if addr == "" {
		addr = ":9109"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "metrics endpoint stopped", err)
	}
}
