// Package metadata owns product metadata records and the per-product license
// counters shown in the media overview.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
)

// ServiceParams configure the metadata service.
type ServiceParams struct {
	Store  directory.Store
	BaseDN string
	Now    func() time.Time
}

// Service reads and writes product metadata and aggregates license counters
// per product.
type Service struct {
	store directory.Store
	base  string
	now   func() time.Time
}

// NewService builds the metadata service.
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
	return &Service{store: params.Store, base: base, now: now}, nil
}

// Save upserts the metadata record keyed by product id. Product ids are
// matched case-insensitively, the way licenses reference them.
func (s *Service) Save(ctx context.Context, record *directory.MetaData) error {
	if record.ProductID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	dn := directory.MetaDataDN(s.base, record.ProductID)
	entry, err := s.store.Get(ctx, dn)
	switch {
	case err == nil:
		entry.Object = record
		if err := s.store.Save(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save metadata")
		}
		return nil
	case errors.Is(err, directory.ErrNotFound):
		if err := s.store.New(ctx, &directory.Entry{DN: dn, Object: record}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create metadata")
		}
		return nil
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load metadata")
	}
}

// Get returns the metadata record for the product id.
func (s *Service) Get(ctx context.Context, productID string) (*directory.MetaData, error) {
	entry, err := s.store.Get(ctx, directory.MetaDataDN(s.base, productID))
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %q not found", productID))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load metadata")
	}
	record, ok := entry.Object.(*directory.MetaData)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entry is not a metadata record")
	}
	return record, nil
}

// ProductCounts aggregates the slot counters of every license for one
// product. Licenses flagged ignored-for-display are excluded.
type ProductCounts struct {
	ProductID string `json:"productId"`
	Licenses  int    `json:"countLicenses"`
	Total     int    `json:"countAquired"`
	Available int    `json:"countAvailable"`
	Assigned  int    `json:"countAssigned"`
	Expired   int    `json:"countExpired"`
}

// Counts sums the slot counters over all non-ignored licenses of the product,
// scoped to one school when ou is set. School names compare
// case-insensitively.
func (s *Service) Counts(ctx context.Context, productID, ou string) (*ProductCounts, error) {
	entries, err := s.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassLicense),
		directory.Eq(directory.AttrProductID, productID),
	), s.base)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search licenses")
	}

	now := s.now()
	counts := &ProductCounts{ProductID: productID}
	for _, entry := range entries {
		license, ok := entry.Object.(*directory.License)
		if !ok || license.IgnoredForDisplay {
			continue
		}
		if ou != "" && !strings.EqualFold(license.School, ou) {
			continue
		}
		slots, err := s.store.Search(ctx,
			directory.Eq(directory.AttrObjectClass, directory.ClassAssignment), entry.DN)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search slots")
		}

		counts.Licenses++
		counts.Total += len(slots)
		assigned := 0
		for _, slotEntry := range slots {
			if slot, ok := slotEntry.Object.(*directory.Assignment); ok && slot.Status.Consumed() {
				assigned++
			}
		}
		counts.Assigned += assigned
		free := len(slots) - assigned
		if license.ExpiredAt(now) {
			counts.Expired += free
		} else {
			counts.Available += free
		}
	}
	return counts, nil
}
