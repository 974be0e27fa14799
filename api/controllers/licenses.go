package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/middleware"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/responses"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/validators"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/licenses"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/search"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

const dateLayout = "2006-01-02"

// LicenseService is the slice of the license handler the controllers use.
type LicenseService interface {
	Create(ctx context.Context, license *directory.License) (string, error)
	Counts(ctx context.Context, code string) (*licenses.Counts, error)
	SetIgnore(ctx context.Context, code string, ignored bool) (bool, error)
	UpdateValidity(ctx context.Context, code string, start, end *time.Time) error
	Delete(ctx context.Context, code string) error
}

// LicenseSearcher is the cache-backed read model the search endpoint runs on.
type LicenseSearcher interface {
	Update(ctx context.Context) error
	FilterLicenses(query search.Query) ([]search.LicenseView, error)
}

type createLicenseRequest struct {
	LicenseCode         string `json:"licenseCode" validate:"required"`
	ProductID           string `json:"productId" validate:"required"`
	Quantity            int    `json:"quantity" validate:"gte=0"`
	LicenseProvider     string `json:"licenseProvider" validate:"required"`
	LicenseType         string `json:"licenseType" validate:"required"`
	SpecialType         string `json:"specialType"`
	School              string `json:"school" validate:"required"`
	PurchasingReference string `json:"purchasingReference"`
	UtilizationSystems  string `json:"utilizationSystems"`
	ValidityStart       string `json:"validityStart"`
	ValidityEnd         string `json:"validityEnd"`
	ValidityDuration    string `json:"validityDuration"`
	DeliveryDate        string `json:"deliveryDate"`
	IgnoredForDisplay   bool   `json:"ignoredForDisplay"`
}

func LicenseCreate(svc LicenseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createLicenseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		license, err := req.toRecord()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryUUID, err := svc.Create(r.Context(), license)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{
			"licenseCode": license.Code,
			"entryUuid":   entryUUID,
		})
	}
}

func (req *createLicenseRequest) toRecord() (*directory.License, error) {
	licenseType, err := enums.ParseLicenseType(req.LicenseType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid license type").
			WithDetails(map[string]any{"field": "licenseType"})
	}
	specialType := enums.SpecialType(req.SpecialType)
	if specialType != enums.SpecialTypeNone && !specialType.IsTeacherOnly() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid special type").
			WithDetails(map[string]any{"field": "specialType"})
	}
	start, err := parseDate(req.ValidityStart, "validityStart")
	if err != nil {
		return nil, err
	}
	end, err := parseDate(req.ValidityEnd, "validityEnd")
	if err != nil {
		return nil, err
	}
	delivery, err := parseDate(req.DeliveryDate, "deliveryDate")
	if err != nil {
		return nil, err
	}
	return &directory.License{
		Code:                req.LicenseCode,
		ProductID:           req.ProductID,
		Quantity:            req.Quantity,
		Provider:            req.LicenseProvider,
		PurchasingReference: req.PurchasingReference,
		UtilizationSystems:  req.UtilizationSystems,
		ValidityStart:       start,
		ValidityEnd:         end,
		ValidityDuration:    req.ValidityDuration,
		SpecialType:         specialType,
		LicenseType:         licenseType,
		IgnoredForDisplay:   req.IgnoredForDisplay,
		DeliveryDate:        delivery,
		School:              req.School,
	}, nil
}

type searchSimpleRequest struct {
	Pattern string `json:"pattern" validate:"required"`
	Fuzzy   bool   `json:"fuzzy"`
}

type searchAdvancedRequest struct {
	Publisher       string   `json:"publisher"`
	ProductID       string   `json:"productId"`
	Title           string   `json:"title"`
	LicenseCode     string   `json:"licenseCode"`
	GroupName       string   `json:"groupName"`
	Assignee        string   `json:"assignee"`
	LicenseTypes    []string `json:"licenseTypes"`
	OnlyAvailable   bool     `json:"onlyAvailable"`
	Validity        string   `json:"validity"`
	Usage           string   `json:"usage"`
	DeliveryFrom    string   `json:"deliveryFrom"`
	DeliveryTo      string   `json:"deliveryTo"`
	ValidityEndFrom string   `json:"validityEndFrom"`
	ValidityEndTo   string   `json:"validityEndTo"`
}

type searchLicensesRequest struct {
	Simple   *searchSimpleRequest   `json:"simple"`
	Advanced *searchAdvancedRequest `json:"advanced"`
}

type licenseResult struct {
	LicenseCode       string   `json:"licenseCode"`
	ProductID         string   `json:"productId"`
	Title             string   `json:"title"`
	Publisher         string   `json:"publisher"`
	LicenseType       string   `json:"licenseType"`
	School            string   `json:"school"`
	DeliveryDate      string   `json:"deliveryDate,omitempty"`
	ValidityEnd       string   `json:"validityEndDate,omitempty"`
	IgnoredForDisplay bool     `json:"ignoredForDisplay"`
	QuantityAvailable int      `json:"quantityAvailable"`
	QuantityAssigned  int      `json:"quantityAssigned"`
	IsExpired         bool     `json:"isExpired"`
	UserStrings       []string `json:"userStrings,omitempty"`
	Groups            []string `json:"groups,omitempty"`
}

// LicenseSearch answers from the file-backed cache. The repository refreshes
// itself from the cache file and delta directory before filtering, so a
// reader process sees writer updates without a directory round trip.
func LicenseSearch(searcher LicenseSearcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchLicensesRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query, err := req.toQuery()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := searcher.Update(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views, err := searcher.FilterLicenses(query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		school := middleware.SchoolFromContext(r.Context())
		results := make([]licenseResult, 0, len(views))
		for _, view := range views {
			if school != "" && !strings.EqualFold(view.School, school) {
				continue
			}
			results = append(results, toLicenseResult(view))
		}
		responses.WriteSuccess(w, map[string]any{
			"results": results,
			"count":   len(results),
		})
	}
}

func (req *searchLicensesRequest) toQuery() (search.Query, error) {
	switch {
	case req.Simple != nil && req.Advanced != nil:
		return search.Query{}, pkgerrors.New(pkgerrors.CodeValidation, "simple and advanced search are mutually exclusive")
	case req.Simple != nil:
		return search.Query{Simple: &search.Simple{Pattern: req.Simple.Pattern, Fuzzy: req.Simple.Fuzzy}}, nil
	case req.Advanced != nil:
		return req.Advanced.toQuery()
	default:
		return search.Query{}, pkgerrors.New(pkgerrors.CodeValidation, "either simple or advanced search is required")
	}
}

func (req *searchAdvancedRequest) toQuery() (search.Query, error) {
	advanced := &search.Advanced{
		Publisher:       req.Publisher,
		ProductID:       req.ProductID,
		Title:           req.Title,
		Code:            req.LicenseCode,
		GroupName:       req.GroupName,
		AssigneePattern: req.Assignee,
		OnlyAvailable:   req.OnlyAvailable,
		Validity:        search.ValidityStatus(req.Validity),
		Usage:           search.UsageStatus(req.Usage),
	}
	for _, raw := range req.LicenseTypes {
		licenseType, err := enums.ParseLicenseType(raw)
		if err != nil {
			return search.Query{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid license type").
				WithDetails(map[string]any{"field": "licenseTypes"})
		}
		advanced.LicenseTypes = append(advanced.LicenseTypes, licenseType)
	}
	var err error
	if advanced.DeliveryFrom, err = parseDate(req.DeliveryFrom, "deliveryFrom"); err != nil {
		return search.Query{}, err
	}
	if advanced.DeliveryTo, err = parseDate(req.DeliveryTo, "deliveryTo"); err != nil {
		return search.Query{}, err
	}
	if advanced.ValidityFrom, err = parseDate(req.ValidityEndFrom, "validityEndFrom"); err != nil {
		return search.Query{}, err
	}
	if advanced.ValidityTo, err = parseDate(req.ValidityEndTo, "validityEndTo"); err != nil {
		return search.Query{}, err
	}
	return search.Query{Advanced: advanced}, nil
}

func toLicenseResult(view search.LicenseView) licenseResult {
	result := licenseResult{
		LicenseCode:       view.Code,
		ProductID:         view.ProductID,
		Title:             view.Title,
		Publisher:         view.Publisher,
		LicenseType:       view.LicenseType.String(),
		School:            view.School,
		IgnoredForDisplay: view.IgnoredForDisplay,
		QuantityAvailable: view.QuantityAvailable,
		QuantityAssigned:  view.QuantityAssigned,
		IsExpired:         view.IsExpired,
		UserStrings:       view.UserStrings,
		Groups:            view.Groups,
	}
	if view.DeliveryDate != nil {
		result.DeliveryDate = view.DeliveryDate.Format(dateLayout)
	}
	if view.ValidityEnd != nil {
		result.ValidityEnd = view.ValidityEnd.Format(dateLayout)
	}
	return result
}

func LicenseCounts(svc LicenseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := svc.Counts(r.Context(), chi.URLParam(r, "licenseCode"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, counts)
	}
}

type ignoreLicenseRequest struct {
	IgnoredForDisplay *bool `json:"ignoredForDisplay" validate:"required"`
}

func LicenseIgnore(svc LicenseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ignoreLicenseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		code := chi.URLParam(r, "licenseCode")
		// applied stays false when active assignments block hiding; the
		// client reads the flag out of the response, not an error
		applied, err := svc.SetIgnore(r.Context(), code, *req.IgnoredForDisplay)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"licenseCode":       code,
			"ignoredForDisplay": *req.IgnoredForDisplay,
			"applied":           applied,
		})
	}
}

type validityUpdateRequest struct {
	ValidityStart string `json:"validityStart"`
	ValidityEnd   string `json:"validityEnd"`
}

func LicenseValidity(svc LicenseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validityUpdateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		start, err := parseDate(req.ValidityStart, "validityStart")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		end, err := parseDate(req.ValidityEnd, "validityEnd")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		code := chi.URLParam(r, "licenseCode")
		if err := svc.UpdateValidity(r.Context(), code, start, end); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"licenseCode": code})
	}
}

func LicenseDelete(svc LicenseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "licenseCode")
		if err := svc.Delete(r.Context(), code); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"licenseCode": code})
	}
}

func parseDate(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid date").
			WithDetails(map[string]any{"field": field, "expected": dateLayout})
	}
	return &parsed, nil
}

