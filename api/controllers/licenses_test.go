package controllers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/middleware"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/licenses"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/search"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
}

type licenseServiceStub struct {
	created       *directory.License
	ignored       map[string]bool
	ignoreBlocked bool
	deleted       []string
	counts        *licenses.Counts
	validStart    *time.Time
	validEnd      *time.Time
}

func (s *licenseServiceStub) Create(_ context.Context, license *directory.License) (string, error) {
	s.created = license
	return "uuid-" + license.Code, nil
}

func (s *licenseServiceStub) Counts(context.Context, string) (*licenses.Counts, error) {
	return s.counts, nil
}

func (s *licenseServiceStub) SetIgnore(_ context.Context, code string, ignored bool) (bool, error) {
	if s.ignoreBlocked {
		return false, nil
	}
	if s.ignored == nil {
		s.ignored = map[string]bool{}
	}
	s.ignored[code] = ignored
	return true, nil
}

func (s *licenseServiceStub) UpdateValidity(_ context.Context, _ string, start, end *time.Time) error {
	s.validStart, s.validEnd = start, end
	return nil
}

func (s *licenseServiceStub) Delete(_ context.Context, code string) error {
	s.deleted = append(s.deleted, code)
	return nil
}

type searcherStub struct {
	views   []search.LicenseView
	updated int
}

func (s *searcherStub) Update(context.Context) error { s.updated++; return nil }

func (s *searcherStub) FilterLicenses(query search.Query) ([]search.LicenseView, error) {
	var out []search.LicenseView
	for _, view := range s.views {
		if query.Matches(view) {
			out = append(out, view)
		}
	}
	return out, nil
}

func licenseRouter(svc LicenseService, searcher LicenseSearcher) http.Handler {
	logg := testLogger()
	r := chi.NewRouter()
	r.Use(middleware.SchoolContext(logg))
	r.Post("/licenses", LicenseCreate(svc, logg))
	r.Post("/licenses/search", LicenseSearch(searcher, logg))
	r.Get("/licenses/{licenseCode}/counts", LicenseCounts(svc, logg))
	r.Patch("/licenses/{licenseCode}/ignore", LicenseIgnore(svc, logg))
	r.Patch("/licenses/{licenseCode}/validity", LicenseValidity(svc, logg))
	r.Delete("/licenses/{licenseCode}", LicenseDelete(svc, logg))
	return r
}

func TestLicenseCreateMapsRequest(t *testing.T) {
	svc := &licenseServiceStub{}
	router := licenseRouter(svc, &searcherStub{})

	body := `{
		"licenseCode": "WES-CCB-0001",
		"productId": "urn:bilo:medium:A0023",
		"quantity": 10,
		"licenseProvider": "Westermann",
		"licenseType": "VOLUME",
		"specialType": "Lehrkraft",
		"school": "demoschool",
		"validityEnd": "2027-07-31"
	}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/licenses", strings.NewReader(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	if svc.created == nil || svc.created.LicenseType != enums.LicenseTypeVolume {
		t.Fatalf("license type not mapped: %+v", svc.created)
	}
	if !svc.created.SpecialType.IsTeacherOnly() {
		t.Fatalf("special type not mapped: %+v", svc.created)
	}
	if svc.created.ValidityEnd == nil || svc.created.ValidityEnd.Format("2006-01-02") != "2027-07-31" {
		t.Fatalf("validity end not parsed: %+v", svc.created.ValidityEnd)
	}
}

func TestLicenseCreateRejectsUnknownType(t *testing.T) {
	svc := &licenseServiceStub{}
	router := licenseRouter(svc, &searcherStub{})

	body := `{"licenseCode":"X","productId":"p","quantity":1,"licenseProvider":"v","licenseType":"SITE","school":"s"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/licenses", strings.NewReader(body)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if svc.created != nil {
		t.Fatalf("service must not be called on invalid input")
	}
}

func TestLicenseSearchScopesToSchool(t *testing.T) {
	searcher := &searcherStub{views: []search.LicenseView{
		{Code: "WES-1", Title: "Mathematik 7", School: "DEMOSCHOOL"},
		{Code: "WES-2", Title: "Mathematik 8", School: "otherschool"},
	}}
	router := licenseRouter(&licenseServiceStub{}, searcher)

	body := `{"simple":{"pattern":"Mathematik*"}}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/licenses/search?school=demoschool", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if searcher.updated != 1 {
		t.Fatalf("search must refresh the cache first")
	}
	payload := w.Body.String()
	if !strings.Contains(payload, "WES-1") || strings.Contains(payload, "WES-2") {
		t.Fatalf("school scope not applied: %s", payload)
	}
}

func TestLicenseSearchRejectsAmbiguousQuery(t *testing.T) {
	router := licenseRouter(&licenseServiceStub{}, &searcherStub{})

	body := `{"simple":{"pattern":"x"},"advanced":{"publisher":"y"}}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/licenses/search", strings.NewReader(body)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLicenseIgnoreRequiresFlag(t *testing.T) {
	svc := &licenseServiceStub{}
	router := licenseRouter(svc, &searcherStub{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/licenses/WES-1/ignore", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing flag, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/licenses/WES-1/ignore", strings.NewReader(`{"ignoredForDisplay":false}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if got, ok := svc.ignored["WES-1"]; !ok || got {
		t.Fatalf("explicit false must reach the service: %+v", svc.ignored)
	}
}

func TestLicenseIgnoreBlockedAnswersSoftly(t *testing.T) {
	svc := &licenseServiceStub{ignoreBlocked: true}
	router := licenseRouter(svc, &searcherStub{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/licenses/WES-1/ignore", strings.NewReader(`{"ignoredForDisplay":true}`)))

	// a license with active assignments can't be hidden, but that is not an
	// error condition; the client reads applied=false out of a 200
	if w.Code != http.StatusOK {
		t.Fatalf("blocked toggle must answer 200, got %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"applied":false`) {
		t.Fatalf("response must report the refused toggle: %s", w.Body.String())
	}
}

func TestLicenseDelete(t *testing.T) {
	svc := &licenseServiceStub{}
	router := licenseRouter(svc, &searcherStub{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/licenses/WES-9", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(svc.deleted) != 1 || svc.deleted[0] != "WES-9" {
		t.Fatalf("delete not delegated: %+v", svc.deleted)
	}
}
