// Package search holds the license query predicates shared by the directory-
// backed search in the license handler and the in-memory cache filter. Both
// surfaces accept the same simple and advanced modes.
package search

import (
	"strings"
	"time"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

// LicenseView is the denormalized license projection the predicates run on.
type LicenseView struct {
	Code              string
	ProductID         string
	Title             string
	Publisher         string
	LicenseType       enums.LicenseType
	School            string
	DeliveryDate      *time.Time
	ValidityEnd       *time.Time
	IgnoredForDisplay bool
	QuantityAvailable int
	QuantityAssigned  int
	IsExpired         bool
	// UserStrings holds first names, last names and usernames of every
	// user covered by the license, groups and schools fanned out.
	UserStrings []string
	// Groups holds the workgroup and class names covered by the license.
	Groups []string
}

// Simple is the OR-mode query: one pattern matched against code, title,
// publisher and product id. `*` spans any run of characters; Fuzzy wraps the
// pattern in wildcards for substring matching.
type Simple struct {
	Pattern string
	Fuzzy   bool
}

// ValidityStatus narrows advanced queries by license validity.
type ValidityStatus string

const (
	ValidityAny     ValidityStatus = ""
	ValidityCurrent ValidityStatus = "valid"
	ValidityExpired ValidityStatus = "expired"
)

// UsageStatus narrows advanced queries by slot consumption.
type UsageStatus string

const (
	UsageAny      UsageStatus = ""
	UsageAssigned UsageStatus = "assigned"
	UsageUnused   UsageStatus = "unused"
)

// Advanced is the AND-mode query. Zero-valued fields do not constrain.
type Advanced struct {
	DeliveryFrom    *time.Time
	DeliveryTo      *time.Time
	ValidityFrom    *time.Time
	ValidityTo      *time.Time
	OnlyAvailable   bool
	Publisher       string
	LicenseTypes    []enums.LicenseType
	AssigneePattern string
	ProductID       string
	Title           string
	Code            string
	GroupName       string
	Validity        ValidityStatus
	Usage           UsageStatus
}

// Query is either a simple or an advanced search; exactly one side is set.
type Query struct {
	Simple   *Simple
	Advanced *Advanced
}

// Matches evaluates the query against one license view.
func (q Query) Matches(view LicenseView) bool {
	switch {
	case q.Simple != nil:
		return q.Simple.matches(view)
	case q.Advanced != nil:
		return q.Advanced.matches(view)
	default:
		return true
	}
}

func (s *Simple) matches(view LicenseView) bool {
	pattern := s.Pattern
	if s.Fuzzy {
		pattern = "*" + strings.Trim(pattern, "*") + "*"
	}
	for _, candidate := range []string{view.Code, view.Title, view.Publisher, view.ProductID} {
		if directory.MatchWildcard(pattern, candidate, false) {
			return true
		}
	}
	return false
}

func (a *Advanced) matches(view LicenseView) bool {
	if !withinRange(view.DeliveryDate, a.DeliveryFrom, a.DeliveryTo) {
		return false
	}
	if (a.ValidityFrom != nil || a.ValidityTo != nil) && !withinRange(view.ValidityEnd, a.ValidityFrom, a.ValidityTo) {
		return false
	}
	if a.OnlyAvailable && (view.QuantityAvailable == 0 || view.IgnoredForDisplay) {
		return false
	}
	if a.Publisher != "" && !directory.MatchWildcard(a.Publisher, view.Publisher, false) {
		return false
	}
	if len(a.LicenseTypes) > 0 && !containsType(a.LicenseTypes, view.LicenseType) {
		return false
	}
	if a.AssigneePattern != "" && !matchesAny(a.AssigneePattern, view.UserStrings) {
		return false
	}
	if a.ProductID != "" && !directory.MatchWildcard(a.ProductID, view.ProductID, false) {
		return false
	}
	if a.Title != "" && !directory.MatchWildcard(a.Title, view.Title, false) {
		return false
	}
	if a.Code != "" && !directory.MatchWildcard(a.Code, view.Code, false) {
		return false
	}
	if a.GroupName != "" && !matchesAny(a.GroupName, view.Groups) {
		return false
	}
	switch a.Validity {
	case ValidityCurrent:
		if view.IsExpired {
			return false
		}
	case ValidityExpired:
		if !view.IsExpired {
			return false
		}
	}
	switch a.Usage {
	case UsageAssigned:
		if view.QuantityAssigned == 0 {
			return false
		}
	case UsageUnused:
		if view.QuantityAssigned > 0 {
			return false
		}
	}
	return true
}

func withinRange(value, from, to *time.Time) bool {
	if from == nil && to == nil {
		return true
	}
	if value == nil {
		return false
	}
	if from != nil && value.Before(*from) {
		return false
	}
	if to != nil && value.After(*to) {
		return false
	}
	return true
}

func containsType(types []enums.LicenseType, t enums.LicenseType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func matchesAny(pattern string, values []string) bool {
	for _, value := range values {
		if directory.MatchWildcard(pattern, value, false) {
			return true
		}
	}
	return false
}
