// Package licenses owns the license inventory: creation with slot
// pre-allocation, lifecycle flags, counters and directory-backed search.
package licenses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/search"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
	"github.com/google/uuid"
)

// Mirror receives change notifications for the file-backed license cache.
type Mirror interface {
	LicenseChanged(ctx context.Context, licenseUUID string) error
	LicenseDeleted(ctx context.Context, licenseUUID string) error
}

// ServiceParams configure the license service.
type ServiceParams struct {
	Store  directory.Store
	Mirror Mirror
	BaseDN string
	Now    func() time.Time
	// SearchLimit caps directory-backed search results; zero disables the cap.
	SearchLimit int
}

// Service is the license inventory handler.
type Service struct {
	store       directory.Store
	mirror      Mirror
	base        string
	now         func() time.Time
	searchLimit int
}

// NewService builds the license service. Mirror is optional.
func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("directory store required")
	}
	base := params.BaseDN
	if base == "" {
		base = directory.DefaultBaseDN
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       params.Store,
		mirror:      params.Mirror,
		base:        base,
		now:         now,
		searchLimit: params.SearchLimit,
	}, nil
}

// Create registers the license and pre-allocates its assignment slots, one
// AVAILABLE slot per seat. License codes are unique case-insensitively. A
// partially created slot set is reported, not rolled back; the import jobs
// retry idempotently.
func (s *Service) Create(ctx context.Context, license *directory.License) (string, error) {
	if license.Code == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "license code required")
	}
	if !license.LicenseType.IsValid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid license type %q", license.LicenseType))
	}
	if license.Quantity < 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "license quantity must not be negative")
	}
	if license.School == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "license school required")
	}

	existing, err := s.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassLicense),
		directory.Eq(directory.AttrLicenseCode, license.Code),
	), s.base)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search license")
	}
	if len(existing) > 0 {
		return "", pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("license with code %q already exists", license.Code))
	}

	entry := &directory.Entry{
		DN:     directory.LicenseDN(s.base, license.School, license.Code),
		Object: license,
	}
	if err := s.store.New(ctx, entry); err != nil {
		if errors.Is(err, directory.ErrExists) {
			return "", pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("license with code %q already exists", license.Code))
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create license")
	}

	var slotErrs error
	for i := 0; i < license.SlotCount(); i++ {
		slot := &directory.Entry{
			DN:     directory.AssignmentDN(entry.DN, uuid.NewString()),
			Object: &directory.Assignment{Status: enums.AssignmentStatusAvailable},
		}
		if err := s.store.New(ctx, slot); err != nil {
			slotErrs = multierr.Append(slotErrs, fmt.Errorf("slot %d: %w", i, err))
		}
	}
	if slotErrs != nil {
		return entry.UUID, pkgerrors.Wrap(pkgerrors.CodeDependency, slotErrs,
			fmt.Sprintf("license %q created with incomplete slot set", license.Code))
	}

	if s.mirror != nil {
		if err := s.mirror.LicenseChanged(ctx, entry.UUID); err != nil {
			return entry.UUID, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "patch license cache")
		}
	}
	return entry.UUID, nil
}

// Get returns the license entry stored under the code.
func (s *Service) Get(ctx context.Context, code string) (*directory.Entry, *directory.License, error) {
	entries, err := s.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassLicense),
		directory.Eq(directory.AttrLicenseCode, code),
	), s.base)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search license")
	}
	if len(entries) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("license %q not found", code))
	}
	license, ok := entries[0].Object.(*directory.License)
	if !ok {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "entry is not a license")
	}
	return entries[0], license, nil
}

// Counts is the slot breakdown of one license. Available, Assigned and
// Expired always sum to Total.
type Counts struct {
	Total     int `json:"countAquired"`
	Available int `json:"countAvailable"`
	Assigned  int `json:"countAssigned"`
	Expired   int `json:"countExpired"`
}

// Counts computes the slot counters from the live slot set. Free seats of an
// expired license count as expired, never as available.
func (s *Service) Counts(ctx context.Context, code string) (*Counts, error) {
	entry, license, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	slots, err := s.slots(ctx, entry.DN)
	if err != nil {
		return nil, err
	}
	return countSlots(license, slots, s.now()), nil
}

func countSlots(license *directory.License, slots []*directory.Entry, now time.Time) *Counts {
	counts := &Counts{Total: len(slots)}
	for _, slotEntry := range slots {
		slot, ok := slotEntry.Object.(*directory.Assignment)
		if !ok {
			continue
		}
		if slot.Status.Consumed() {
			counts.Assigned++
		}
	}
	free := counts.Total - counts.Assigned
	if license.ExpiredAt(now) {
		counts.Expired = free
	} else {
		counts.Available = free
	}
	return counts
}

// SetIgnore flips the ignored-for-display flag and reports whether the flag
// was applied. Hiding a license is a soft operation: while any of its slots is
// consumed the call returns false without raising. The check runs against the
// live slot set, not a cached view.
func (s *Service) SetIgnore(ctx context.Context, code string, ignored bool) (bool, error) {
	entry, license, err := s.Get(ctx, code)
	if err != nil {
		return false, err
	}
	if ignored {
		slots, err := s.slots(ctx, entry.DN)
		if err != nil {
			return false, err
		}
		for _, slotEntry := range slots {
			if slot, ok := slotEntry.Object.(*directory.Assignment); ok && slot.Status.Consumed() {
				return false, nil
			}
		}
	}
	license.IgnoredForDisplay = ignored
	if err := s.store.Save(ctx, entry); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save license")
	}
	if err := s.notifyChanged(ctx, entry.UUID); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateValidity rewrites the validity window. Expiry is a license-level
// property; slots are untouched.
func (s *Service) UpdateValidity(ctx context.Context, code string, start, end *time.Time) error {
	entry, license, err := s.Get(ctx, code)
	if err != nil {
		return err
	}
	license.ValidityStart = start
	license.ValidityEnd = end
	if err := s.store.Save(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save license")
	}
	return s.notifyChanged(ctx, entry.UUID)
}

// Delete removes the license and all of its slots.
func (s *Service) Delete(ctx context.Context, code string) error {
	entry, _, err := s.Get(ctx, code)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, entry.DN, true); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete license")
	}
	if s.mirror != nil {
		if err := s.mirror.LicenseDeleted(ctx, entry.UUID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "patch license cache")
		}
	}
	return nil
}

// Search runs a query against the live directory, scoped to one school when
// ou is set. Result sets above the configured limit are refused rather than
// truncated, so clients narrow the filter instead of paging a misleading
// subset.
func (s *Service) Search(ctx context.Context, ou string, query search.Query) ([]search.LicenseView, error) {
	filter := directory.Filter(directory.Eq(directory.AttrObjectClass, directory.ClassLicense))
	if ou != "" {
		filter = directory.And(filter, directory.Eq(directory.AttrLicenseSchool, ou))
	}
	entries, err := s.store.Search(ctx, filter, s.base)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search licenses")
	}

	var views []search.LicenseView
	for _, entry := range entries {
		license, ok := entry.Object.(*directory.License)
		if !ok {
			continue
		}
		view, err := s.buildView(ctx, entry, license)
		if err != nil {
			return nil, err
		}
		if !query.Matches(*view) {
			continue
		}
		views = append(views, *view)
		if s.searchLimit > 0 && len(views) > s.searchLimit {
			return nil, pkgerrors.New(pkgerrors.CodeSearchLimit,
				fmt.Sprintf("search matched more than %d licenses", s.searchLimit)).
				WithDetails(map[string]any{"limit": s.searchLimit})
		}
	}
	return views, nil
}

func (s *Service) slots(ctx context.Context, licenseDN string) ([]*directory.Entry, error) {
	slots, err := s.store.Search(ctx, directory.Eq(directory.AttrObjectClass, directory.ClassAssignment), licenseDN)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search slots")
	}
	return slots, nil
}

func (s *Service) notifyChanged(ctx context.Context, licenseUUID string) error {
	if s.mirror == nil {
		return nil
	}
	if err := s.mirror.LicenseChanged(ctx, licenseUUID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "patch license cache")
	}
	return nil
}
