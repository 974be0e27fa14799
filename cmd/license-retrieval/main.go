package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/cache"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/imports"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/licenses"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/provider"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/config"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/db"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "license-retrieval"})

	_ = godotenv.Load()

	pickupNumber := flag.String("pickup-number", "", "license package pickup number")
	school := flag.String("school", "", "school (OU) the licenses belong to")
	flag.Parse()

	if *pickupNumber == "" || *school == "" {
		fmt.Fprintln(os.Stderr, "usage: license-retrieval --pickup-number <id> --school <ou>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := cfg.Provider.Validate(); err != nil {
		logg.Error(context.Background(), "provider configuration incomplete", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "license-retrieval",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := logg.WithFields(context.Background(), map[string]any{
		"pickup_number": *pickupNumber,
		"school":        *school,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	store := directory.NewSQLStore(dbClient.DB())
	builder, err := cache.NewBuilder(cache.BuilderParams{Store: store, BaseDN: cfg.Directory.BaseDN})
	if err != nil {
		logg.Error(ctx, "failed to create cache builder", err)
		os.Exit(1)
	}
	repository, err := cache.NewRepository(cache.RepositoryParams{
		CacheFile:   cfg.Cache.File,
		DeltaDir:    cfg.Cache.DeltaDir,
		SearchLimit: cfg.Cache.SearchLimit,
		Builder:     builder,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cache repository", err)
		os.Exit(1)
	}

	licenseService, err := licenses.NewService(licenses.ServiceParams{
		Store:  store,
		Mirror: repository,
		BaseDN: cfg.Directory.BaseDN,
	})
	if err != nil {
		logg.Error(ctx, "failed to create license service", err)
		os.Exit(1)
	}

	providerClient, err := provider.NewClient(ctx, cfg.Provider, logg)
	if err != nil {
		logg.Error(ctx, "failed to create provider client", err)
		os.Exit(1)
	}

	fileImporter, err := imports.NewLicenseImporter(licenseService, logg)
	if err != nil {
		logg.Error(ctx, "failed to create license importer", err)
		os.Exit(1)
	}
	retrieval, err := imports.NewRetrievalImporter(providerClient, fileImporter, logg)
	if err != nil {
		logg.Error(ctx, "failed to create retrieval importer", err)
		os.Exit(1)
	}

	report, err := retrieval.Run(ctx, *pickupNumber, *school)
	if report != nil {
		fmt.Printf("imported: %d, skipped: %d, failed: %d\n", report.Imported, report.Skipped, report.Failed)
	}
	if err != nil {
		logg.Error(ctx, "license retrieval finished with failures", err)
		os.Exit(1)
	}
}
