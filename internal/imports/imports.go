// Package imports drives the CLI-facing import flows: license files handed
// over out-of-band, package retrieval from the provider, and product
// metadata updates. All flows report per-item results and never roll back
// items that already succeeded.
package imports

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/provider"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

// LicenseCreator is the slice of the license service the importers need.
type LicenseCreator interface {
	Create(ctx context.Context, license *directory.License) (string, error)
}

// MetaDataSaver is the slice of the metadata service the media import needs.
type MetaDataSaver interface {
	Save(ctx context.Context, record *directory.MetaData) error
}

// PackageSource is the provider surface the retrieval import consumes.
type PackageSource interface {
	RetrieveLicensePackage(ctx context.Context, pickupNumber string) (*provider.LicensePackage, error)
	ConfirmLicensePackage(ctx context.Context, pickupNumber string) (bool, error)
}

// MediaSource is the provider surface the media import consumes.
type MediaSource interface {
	RetrieveMedia(ctx context.Context, productIDs []string) ([]*provider.MediaResult, error)
}

// Report sums up one import run. Skipped counts licenses that already existed;
// re-running an import is expected and must not fail on its own output.
type Report struct {
	Imported int
	Skipped  int
	Failed   int
}

// LicenseImporter imports provider-format license files for one school.
type LicenseImporter struct {
	licenses LicenseCreator
	logger   *logger.Logger
	now      func() time.Time
}

// NewLicenseImporter builds the file importer.
func NewLicenseImporter(creator LicenseCreator, logg *logger.Logger) (*LicenseImporter, error) {
	if creator == nil {
		return nil, fmt.Errorf("license creator required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &LicenseImporter{licenses: creator, logger: logg, now: time.Now}, nil
}

// ImportFile reads a provider-format license file (a JSON array of license
// records) and creates every license it holds for the school.
func (i *LicenseImporter) ImportFile(ctx context.Context, path, school string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read license file")
	}
	var records []*provider.License
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode license file")
	}
	return i.importRecords(ctx, records, school)
}

func (i *LicenseImporter) importRecords(ctx context.Context, records []*provider.License, school string) (*Report, error) {
	report := &Report{}
	var errs error
	delivery := i.now()
	for _, record := range records {
		if err := record.Validate(); err != nil {
			report.Failed++
			errs = multierr.Append(errs, err)
			continue
		}
		license, err := record.ToRecord(school, delivery)
		if err != nil {
			report.Failed++
			errs = multierr.Append(errs, err)
			continue
		}
		if _, err := i.licenses.Create(ctx, license); err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
				report.Skipped++
				continue
			}
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("license %q: %w", record.Lizenzcode, err))
			continue
		}
		report.Imported++
	}
	i.logger.Info(i.logger.WithFields(ctx, map[string]any{
		"school":   school,
		"imported": report.Imported,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
	}), "license import finished")
	return report, errs
}

// RetrievalImporter runs the pickup-number flow: retrieve the package from
// the provider, create its licenses, then confirm the package. Confirmation
// only happens when every license landed, so a failed run can be repeated.
type RetrievalImporter struct {
	source   PackageSource
	importer *LicenseImporter
	logger   *logger.Logger
}

// NewRetrievalImporter builds the retrieval importer.
func NewRetrievalImporter(source PackageSource, importer *LicenseImporter, logg *logger.Logger) (*RetrievalImporter, error) {
	if source == nil {
		return nil, fmt.Errorf("package source required")
	}
	if importer == nil {
		return nil, fmt.Errorf("license importer required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &RetrievalImporter{source: source, importer: importer, logger: logg}, nil
}

// Run executes the retrieval flow for one pickup number and school.
func (r *RetrievalImporter) Run(ctx context.Context, pickupNumber, school string) (*Report, error) {
	pkg, err := r.source.RetrieveLicensePackage(ctx, pickupNumber)
	if err != nil {
		return nil, err
	}
	report, importErr := r.importer.importRecords(ctx, pkg.Licenses, school)
	if report.Failed > 0 {
		// leave the package unconfirmed; the next run picks it up again
		return report, importErr
	}
	alreadyConfirmed, err := r.source.ConfirmLicensePackage(ctx, pickupNumber)
	if err != nil {
		return report, multierr.Append(importErr, err)
	}
	r.logger.Info(r.logger.WithFields(ctx, map[string]any{
		"pickup_number":     pickupNumber,
		"already_confirmed": alreadyConfirmed,
	}), "license package confirmed")
	return report, importErr
}

// MediaImporter fetches product metadata from the provider and upserts it.
type MediaImporter struct {
	source MediaSource
	saver  MetaDataSaver
	logger *logger.Logger
}

// NewMediaImporter builds the media importer.
func NewMediaImporter(source MediaSource, saver MetaDataSaver, logg *logger.Logger) (*MediaImporter, error) {
	if source == nil {
		return nil, fmt.Errorf("media source required")
	}
	if saver == nil {
		return nil, fmt.Errorf("metadata saver required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &MediaImporter{source: source, saver: saver, logger: logg}, nil
}

// Import queries the provider for the product ids and upserts every record it
// returns. Products the provider does not know are reported per item.
func (m *MediaImporter) Import(ctx context.Context, productIDs []string) (*Report, error) {
	results, err := m.source.RetrieveMedia(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	var errs error
	for _, result := range results {
		if result.Status != 200 || result.Data == nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("product %q: provider answered %d", result.Query.ID, result.Status))
			continue
		}
		if err := m.saver.Save(ctx, result.Data.ToRecord()); err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("product %q: %w", result.Query.ID, err))
			continue
		}
		report.Imported++
	}
	m.logger.Info(m.logger.WithFields(ctx, map[string]any{
		"imported": report.Imported,
		"failed":   report.Failed,
	}), "media import finished")
	return report, errs
}
