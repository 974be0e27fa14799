package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/imports"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/metadata"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/provider"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/config"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/db"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "media-import"})

	_ = godotenv.Load()

	flag.Parse()
	productIDs := flag.Args()
	if len(productIDs) == 0 {
		fmt.Fprintln(os.Stderr, "usage: media-import <product-id> [<product-id> ...]")
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
		ServiceName: "media-import",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := logg.WithField(context.Background(), "products", len(productIDs))

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

	metadataService, err := metadata.NewService(metadata.ServiceParams{
		Store:  directory.NewSQLStore(dbClient.DB()),
		BaseDN: cfg.Directory.BaseDN,
	})
	if err != nil {
		logg.Error(ctx, "failed to create metadata service", err)
		os.Exit(1)
	}

	providerClient, err := provider.NewClient(ctx, cfg.Provider, logg)
	if err != nil {
		logg.Error(ctx, "failed to create provider client", err)
		os.Exit(1)
	}

	importer, err := imports.NewMediaImporter(providerClient, metadataService, logg)
	if err != nil {
		logg.Error(ctx, "failed to create media importer", err)
		os.Exit(1)
	}

	report, err := importer.Import(ctx, productIDs)
	if report != nil {
		fmt.Printf("imported: %d, failed: %d\n", report.Imported, report.Failed)
	}
	if err != nil {
		logg.Error(ctx, "media import finished with failures", err)
		os.Exit(1)
	}
}
