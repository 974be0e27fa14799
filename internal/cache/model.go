// Package cache is the file-backed read model of the license directory. A
// periodic job dumps the whole directory into one JSON document; processes
// that mutate licenses push small per-license delta files next to it. Each
// worker process holds an independent in-memory repository reconciled from
// those files by modification-time polling.
package cache

import (
	"encoding/json"
	"time"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

const dateLayout = "2006-01-02"

// Date marshals as yyyy-mm-dd, the directory's date syntax.
type Date struct {
	time.Time
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return err
	}
	d.Time = parsed
	return nil
}

// NewDate wraps an optional time as an optional Date.
func NewDate(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	return &Date{Time: *t}
}

// TimePtr unwraps back to an optional time.
func (d *Date) TimePtr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

// Snapshot is the full cache file: one array per entity kind.
type Snapshot struct {
	Users       []*CachedUser       `json:"users"`
	Licenses    []*CachedLicense    `json:"licenses"`
	Assignments []*CachedAssignment `json:"assignments"`
	Schools     []*CachedSchool     `json:"schools"`
	Workgroups  []*CachedGroup      `json:"workgroups"`
	Classes     []*CachedGroup      `json:"classes"`
	Metadata    []*CachedMetaData   `json:"metadata"`
}

// CachedLicense mirrors one license together with its derived fields. The
// derived fields are computed at build time so filtering never has to touch
// the directory.
type CachedLicense struct {
	EntryUUID         string            `json:"entry_uuid"`
	Code              string            `json:"license_code"`
	ProductID         string            `json:"product_id"`
	Quantity          int               `json:"quantity"`
	Provider          string            `json:"license_provider"`
	LicenseType       enums.LicenseType `json:"license_type"`
	SpecialType       enums.SpecialType `json:"license_special_type"`
	School            string            `json:"license_school"`
	IgnoredForDisplay bool              `json:"ignored_for_display"`
	DeliveryDate      *Date             `json:"delivery_date"`
	ValidityStart     *Date             `json:"validity_start_date"`
	ValidityEnd       *Date             `json:"validity_end_date"`

	QuantityAssigned  int  `json:"quantity_assigned"`
	QuantityAvailable int  `json:"quantity_available"`
	QuantityExpired   int  `json:"quantity_expired"`
	IsExpired         bool `json:"is_expired"`
	IsAvailable       bool `json:"is_available"`
	// UserStrings holds names and usernames of every covered user, group and
	// school assignees fanned out, for the fuzzy assignee search.
	UserStrings []string `json:"user_strings"`
	// Groups holds the names of groups covered by this license's assignments.
	Groups []string `json:"groups"`
}

// CachedAssignment mirrors one slot; LicenseUUID links it to its license.
type CachedAssignment struct {
	EntryUUID        string                 `json:"entry_uuid"`
	LicenseUUID      string                 `json:"license_uuid"`
	Status           enums.AssignmentStatus `json:"status"`
	Assignee         string                 `json:"assignee"`
	TimeOfAssignment *Date                  `json:"time_of_assignment"`
}

// CachedUser mirrors one school user.
type CachedUser struct {
	EntryUUID  string   `json:"entry_uuid"`
	Username   string   `json:"username"`
	Firstname  string   `json:"first_name"`
	Lastname   string   `json:"last_name"`
	Schools    []string `json:"schools"`
	Roles      []string `json:"roles"`
	Classes    []string `json:"classes"`
	Workgroups []string `json:"workgroups"`
}

// CachedGroup mirrors one workgroup or class.
type CachedGroup struct {
	EntryUUID string   `json:"entry_uuid"`
	Name      string   `json:"name"`
	School    string   `json:"school"`
	Members   []string `json:"members"`
}

// CachedSchool mirrors one school OU.
type CachedSchool struct {
	EntryUUID string `json:"entry_uuid"`
	OU        string `json:"ou"`
	Name      string `json:"name"`
}

// CachedMetaData mirrors one product metadata record.
type CachedMetaData struct {
	EntryUUID   string `json:"entry_uuid"`
	ProductID   string `json:"product_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Publisher   string `json:"publisher"`
	Cover       string `json:"cover"`
	CoverSmall  string `json:"cover_small"`
	Modified    *Date  `json:"modified"`
}

// Delta is one per-license patch file (license-<uuid>.json). Deleted deltas
// remove the license and its assignments from memory; otherwise license and
// assignments replace the cached records wholesale.
type Delta struct {
	Deleted     bool                `json:"deleted,omitempty"`
	License     *CachedLicense      `json:"license"`
	Assignments []*CachedAssignment `json:"assignments"`
}
