package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/routes"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/assignments"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/cache"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/licenses"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/metadata"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/config"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/db"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	store := directory.NewSQLStore(dbClient.DB())

	// The API mutates the directory, so its cache repository carries a
	// builder and writes per-license delta files for reader processes.
	builder, err := cache.NewBuilder(cache.BuilderParams{Store: store, BaseDN: cfg.Directory.BaseDN})
	if err != nil {
		logg.Error(context.Background(), "failed to create cache builder", err)
		os.Exit(1)
	}
	repository, err := cache.NewRepository(cache.RepositoryParams{
		CacheFile:   cfg.Cache.File,
		DeltaDir:    cfg.Cache.DeltaDir,
		SearchLimit: cfg.Cache.SearchLimit,
		Builder:     builder,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cache repository", err)
		os.Exit(1)
	}

	licenseService, err := licenses.NewService(licenses.ServiceParams{
		Store:       store,
		Mirror:      repository,
		BaseDN:      cfg.Directory.BaseDN,
		SearchLimit: cfg.Cache.SearchLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create license service", err)
		os.Exit(1)
	}
	assignmentService, err := assignments.NewService(assignments.ServiceParams{
		Store:  store,
		Mirror: repository,
		BaseDN: cfg.Directory.BaseDN,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create assignment service", err)
		os.Exit(1)
	}
	metadataService, err := metadata.NewService(metadata.ServiceParams{
		Store:  store,
		BaseDN: cfg.Directory.BaseDN,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create metadata service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	router := routes.NewRouter(routes.RouterParams{
		Logger:      logg,
		DB:          dbClient,
		Licenses:    licenseService,
		Searcher:    repository,
		Assignments: assignmentService,
		MetaData:    metadataService,
	})
	server := api.NewServer(addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
