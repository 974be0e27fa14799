package imports

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/provider"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
}

type creatorStub struct {
	created  []*directory.License
	existing map[string]bool
	fail     map[string]error
}

func (c *creatorStub) Create(_ context.Context, license *directory.License) (string, error) {
	if err := c.fail[license.Code]; err != nil {
		return "", err
	}
	if c.existing[license.Code] {
		return "", pkgerrors.New(pkgerrors.CodeConflict, "exists")
	}
	c.created = append(c.created, license)
	return "uuid-" + license.Code, nil
}

type packageSourceStub struct {
	pkg       *provider.LicensePackage
	retrieved int
	confirmed int
}

func (p *packageSourceStub) RetrieveLicensePackage(context.Context, string) (*provider.LicensePackage, error) {
	p.retrieved++
	return p.pkg, nil
}

func (p *packageSourceStub) ConfirmLicensePackage(context.Context, string) (bool, error) {
	p.confirmed++
	return p.confirmed > 1, nil
}

func licenseFileJSON() string {
	return `[
		{"lizenzcode":"VHT-1","product_id":"urn:bilo:1","lizenzanzahl":5,"lizenzgeber":"VHT","lizenztyp":"VOLUME"},
		{"lizenzcode":"VHT-2","product_id":"urn:bilo:2","lizenzanzahl":1,"lizenzgeber":"VHT"}
	]`
}

func TestImportFileCreatesLicenses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "licenses.json")
	if err := os.WriteFile(path, []byte(licenseFileJSON()), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	creator := &creatorStub{}
	importer, err := NewLicenseImporter(creator, testLogger())
	if err != nil {
		t.Fatalf("new importer: %v", err)
	}

	report, err := importer.ImportFile(context.Background(), path, "demoschool")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 2 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(creator.created) != 2 || creator.created[0].School != "demoschool" {
		t.Fatalf("licenses not created for the school: %+v", creator.created)
	}
}

func TestImportFileSkipsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "licenses.json")
	if err := os.WriteFile(path, []byte(licenseFileJSON()), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	creator := &creatorStub{existing: map[string]bool{"VHT-1": true}}
	importer, err := NewLicenseImporter(creator, testLogger())
	if err != nil {
		t.Fatalf("new importer: %v", err)
	}

	report, err := importer.ImportFile(context.Background(), path, "demoschool")
	if err != nil {
		t.Fatalf("re-running an import must not fail on duplicates: %v", err)
	}
	if report.Imported != 1 || report.Skipped != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestImportFileReportsInvalidRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "licenses.json")
	body := `[
		{"lizenzcode":"","product_id":"urn:bilo:1","lizenzanzahl":5,"lizenzgeber":"VHT"},
		{"lizenzcode":"VHT-OK","product_id":"urn:bilo:2","lizenzanzahl":1,"lizenzgeber":"VHT"}
	]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	creator := &creatorStub{}
	importer, err := NewLicenseImporter(creator, testLogger())
	if err != nil {
		t.Fatalf("new importer: %v", err)
	}

	report, err := importer.ImportFile(context.Background(), path, "demoschool")
	if err == nil {
		t.Fatalf("invalid record should surface in the aggregated error")
	}
	if report.Imported != 1 || report.Failed != 1 {
		t.Fatalf("valid records must still be imported: %+v", report)
	}
}

func TestRetrievalImportConfirmsOnlyCompleteRuns(t *testing.T) {
	source := &packageSourceStub{pkg: &provider.LicensePackage{
		PickupNumber: "VHT-123",
		Licenses: []*provider.License{
			{Lizenzcode: "VHT-1", ProductID: "urn:bilo:1", Lizenzanzahl: 2, Lizenzgeber: "VHT"},
		},
	}}
	creator := &creatorStub{fail: map[string]error{
		"VHT-1": pkgerrors.New(pkgerrors.CodeDependency, "directory down"),
	}}
	fileImporter, err := NewLicenseImporter(creator, testLogger())
	if err != nil {
		t.Fatalf("new importer: %v", err)
	}
	retrieval, err := NewRetrievalImporter(source, fileImporter, testLogger())
	if err != nil {
		t.Fatalf("new retrieval importer: %v", err)
	}

	if _, err := retrieval.Run(context.Background(), "VHT-123", "demoschool"); err == nil {
		t.Fatalf("failed create should surface")
	}
	if source.confirmed != 0 {
		t.Fatalf("package must not be confirmed after a failed run")
	}

	// next run succeeds and confirms
	creator.fail = nil
	report, err := retrieval.Run(context.Background(), "VHT-123", "demoschool")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Imported != 1 || source.confirmed != 1 {
		t.Fatalf("second run should import and confirm: %+v confirmed=%d", report, source.confirmed)
	}
}

type mediaSourceStub struct {
	results []*provider.MediaResult
}

func (m *mediaSourceStub) RetrieveMedia(context.Context, []string) ([]*provider.MediaResult, error) {
	return m.results, nil
}

type saverStub struct {
	saved []*directory.MetaData
}

func (s *saverStub) Save(_ context.Context, record *directory.MetaData) error {
	s.saved = append(s.saved, record)
	return nil
}

func TestMediaImportReportsUnknownProducts(t *testing.T) {
	known := &provider.MediaResult{Status: 200, Data: &provider.Media{
		ProductID: "urn:bilo:1", Title: "Mathematik 7", Publisher: "Westermann",
	}}
	unknown := &provider.MediaResult{Status: 404}
	unknown.Query.ID = "urn:bilo:gone"

	saver := &saverStub{}
	importer, err := NewMediaImporter(&mediaSourceStub{results: []*provider.MediaResult{known, unknown}}, saver, testLogger())
	if err != nil {
		t.Fatalf("new media importer: %v", err)
	}

	report, err := importer.Import(context.Background(), []string{"urn:bilo:1", "urn:bilo:gone"})
	if err == nil {
		t.Fatalf("unknown product should surface in the aggregated error")
	}
	if report.Imported != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(saver.saved) != 1 || saver.saved[0].Title != "Mathematik 7" {
		t.Fatalf("known product should be upserted: %+v", saver.saved)
	}
}
