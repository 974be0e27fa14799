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
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/config"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/db"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "license-import"})

	_ = godotenv.Load()

	licenseFile := flag.String("license-file", "", "path to a provider-format license JSON file")
	school := flag.String("school", "", "school (OU) the licenses belong to")
	flag.Parse()

	if *licenseFile == "" || *school == "" {
		fmt.Fprintln(os.Stderr, "usage: license-import --license-file <path> --school <ou>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "license-import",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := logg.WithFields(context.Background(), map[string]any{
		"school": *school,
		"file":   *licenseFile,
	})

	importer, closeFn, err := newImporter(cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap importer", err)
		os.Exit(1)
	}
	defer closeFn()

	report, err := importer.ImportFile(ctx, *licenseFile, *school)
	if report != nil {
		fmt.Printf("imported: %d, skipped: %d, failed: %d\n", report.Imported, report.Skipped, report.Failed)
	}
	if err != nil {
		logg.Error(ctx, "license import finished with failures", err)
		os.Exit(1)
	}
}

// newImporter wires the directory-backed license service with a delta-writing
// cache mirror, so reader processes pick the new licenses up without waiting
// for the next full rebuild.
func newImporter(cfg *config.Config, logg *logger.Logger) (*imports.LicenseImporter, func(), error) {
	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap database: %w", err)
	}
	closeFn := func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}

	store := directory.NewSQLStore(dbClient.DB())
	builder, err := cache.NewBuilder(cache.BuilderParams{Store: store, BaseDN: cfg.Directory.BaseDN})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	repository, err := cache.NewRepository(cache.RepositoryParams{
		CacheFile:   cfg.Cache.File,
		DeltaDir:    cfg.Cache.DeltaDir,
		SearchLimit: cfg.Cache.SearchLimit,
		Builder:     builder,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	licenseService, err := licenses.NewService(licenses.ServiceParams{
		Store:  store,
		Mirror: repository,
		BaseDN: cfg.Directory.BaseDN,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	importer, err := imports.NewLicenseImporter(licenseService, logg)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return importer, closeFn, nil
}
