package provider

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

const dateLayout = "2006-01-02"

var validate = validator.New()

// License is one license record as delivered by the provider. Field names
// follow the provider's wire schema.
type License struct {
	Lizenzcode         string `json:"lizenzcode" validate:"required"`
	ProductID          string `json:"product_id" validate:"required"`
	Lizenzanzahl       int    `json:"lizenzanzahl" validate:"gte=0"`
	Lizenzgeber        string `json:"lizenzgeber" validate:"required"`
	Kaufreferenz       string `json:"kaufreferenz"`
	Nutzungssysteme    string `json:"nutzungssysteme"`
	Gueltigkeitsbeginn string `json:"gueltigkeitsbeginn"`
	Gueltigkeitsende   string `json:"gueltigkeitsende"`
	Gueltigkeitsdauer  string `json:"gueltigkeitsdauer"`
	Sonderlizenz       string `json:"sonderlizenz"`
	Lizenztyp          string `json:"lizenztyp"`
}

// Validate checks the record against the provider schema.
func (l *License) Validate() error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("license %q: %w", l.Lizenzcode, err)
	}
	if l.Sonderlizenz != "" && l.Sonderlizenz != string(enums.SpecialTypeTeacher) {
		return fmt.Errorf("license %q: unknown special type %q", l.Lizenzcode, l.Sonderlizenz)
	}
	return nil
}

// ToRecord converts the wire license into the directory record, owned by the
// given school. Records without a type default to SINGLE, matching the
// provider's v1 packages.
func (l *License) ToRecord(school string, deliveryDate time.Time) (*directory.License, error) {
	licenseType := enums.LicenseTypeSingle
	if l.Lizenztyp != "" {
		parsed, err := enums.ParseLicenseType(l.Lizenztyp)
		if err != nil {
			return nil, fmt.Errorf("license %q: %w", l.Lizenzcode, err)
		}
		licenseType = parsed
	}
	start, err := parseDate(l.Gueltigkeitsbeginn)
	if err != nil {
		return nil, fmt.Errorf("license %q: validity start: %w", l.Lizenzcode, err)
	}
	end, err := parseDate(l.Gueltigkeitsende)
	if err != nil {
		return nil, fmt.Errorf("license %q: validity end: %w", l.Lizenzcode, err)
	}
	delivery := deliveryDate.Truncate(24 * time.Hour)
	return &directory.License{
		Code:                l.Lizenzcode,
		ProductID:           l.ProductID,
		Quantity:            l.Lizenzanzahl,
		Provider:            l.Lizenzgeber,
		PurchasingReference: l.Kaufreferenz,
		UtilizationSystems:  l.Nutzungssysteme,
		ValidityStart:       start,
		ValidityEnd:         end,
		ValidityDuration:    l.Gueltigkeitsdauer,
		SpecialType:         enums.SpecialType(l.Sonderlizenz),
		LicenseType:         licenseType,
		DeliveryDate:        &delivery,
		School:              school,
	}, nil
}

// LicensePackage is the provider's answer to a pickup-number retrieval.
type LicensePackage struct {
	PickupNumber string     `json:"package_id"`
	Licenses     []*License `json:"licenses"`
	// AlreadyRetrieved is set when the provider answered 208; the package
	// contents are still delivered and importing them stays idempotent.
	AlreadyRetrieved bool `json:"-"`
}

// Validate checks every license in the package, reporting all schema
// violations at once.
func (p *LicensePackage) Validate() error {
	var errs error
	for _, license := range p.Licenses {
		if err := license.Validate(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Link is the provider's hyperlink object.
type Link struct {
	Href string `json:"href"`
}

// Media is one product metadata record from the media query.
type Media struct {
	ProductID   string `json:"id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Publisher   string `json:"publisher"`
	Cover       Link   `json:"cover"`
	CoverSmall  Link   `json:"coverSmall"`
	// Modified is epoch milliseconds.
	Modified int64 `json:"modified"`
}

// ToRecord converts the wire media record into the directory record.
func (m *Media) ToRecord() *directory.MetaData {
	var modified *time.Time
	if m.Modified > 0 {
		t := time.UnixMilli(m.Modified).UTC().Truncate(24 * time.Hour)
		modified = &t
	}
	return &directory.MetaData{
		ProductID:   m.ProductID,
		Title:       m.Title,
		Description: m.Description,
		Author:      m.Author,
		Publisher:   m.Publisher,
		Cover:       m.Cover.Href,
		CoverSmall:  m.CoverSmall.Href,
		Modified:    modified,
	}
}

// MediaResult is one item of the media query answer; Status mirrors the HTTP
// code the provider assigned to this product id.
type MediaResult struct {
	Status int `json:"status"`
	Query  struct {
		ID string `json:"id"`
	} `json:"query"`
	Data *Media `json:"data"`
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
