package directory

import (
	"time"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

// Entry is one directory entry: a DN, the stable entry UUID assigned by the
// store, and the typed record decoded from its attributes.
type Entry struct {
	DN     string
	UUID   string
	Object Object
}

// Object is the sum type over the record kinds this service reads and writes.
type Object interface {
	ObjectClass() string
}

// Object classes as registered in the directory schema.
const (
	ClassLicense    = "bildungsloginLicense"
	ClassAssignment = "bildungsloginAssignment"
	ClassMetaData   = "bildungsloginMetaDatum"
	ClassUser       = "ucsschoolUser"
	ClassGroup      = "ucsschoolGroup"
	ClassSchool     = "ucsschoolOU"
)

// License is the authoritative license record. Code is the immutable business
// key; Quantity 0 means unlimited.
type License struct {
	Code                string
	ProductID           string
	Quantity            int
	Provider            string
	PurchasingReference string
	UtilizationSystems  string
	ValidityStart       *time.Time
	ValidityEnd         *time.Time
	ValidityDuration    string
	SpecialType         enums.SpecialType
	LicenseType         enums.LicenseType
	IgnoredForDisplay   bool
	DeliveryDate        *time.Time
	School              string
}

func (*License) ObjectClass() string { return ClassLicense }

// ExpiredAt reports whether the license's validity has passed at the given
// time. A license with no end date never expires.
func (l *License) ExpiredAt(now time.Time) bool {
	if l.ValidityEnd == nil {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return l.ValidityEnd.Before(today)
}

// SlotCount returns the number of assignment slots pre-allocated at creation
// time: one per unit of quantity for SINGLE/VOLUME, exactly one for
// SCHOOL/WORKGROUP.
func (l *License) SlotCount() int {
	if l.LicenseType.SingleSlotted() {
		return 1
	}
	return l.Quantity
}

// Assignment is one consumable seat under a license. Assignee and
// TimeOfAssignment are set exactly while the status is not AVAILABLE.
type Assignment struct {
	Status           enums.AssignmentStatus
	Assignee         string
	TimeOfAssignment *time.Time
}

func (*Assignment) ObjectClass() string { return ClassAssignment }

// MetaData describes a product; licenses reference it by ProductID.
type MetaData struct {
	ProductID   string
	Title       string
	Description string
	Author      string
	Publisher   string
	Cover       string
	CoverSmall  string
	Modified    *time.Time
}

func (*MetaData) ObjectClass() string { return ClassMetaData }

// User is a school user. Schools, roles, classes and workgroups are
// multi-valued in the directory.
type User struct {
	Username   string
	Firstname  string
	Lastname   string
	Schools    []string
	Roles      []enums.Role
	Classes    []string
	Workgroups []string
}

func (*User) ObjectClass() string { return ClassUser }

// HasRole reports whether the user holds the role at any school.
func (u *User) HasRole(role enums.Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AtSchool reports whether the user belongs to the school, compared
// case-insensitively as OU names are in the directory.
func (u *User) AtSchool(ou string) bool {
	for _, s := range u.Schools {
		if equalFold(s, ou) {
			return true
		}
	}
	return false
}

// Group is a workgroup or school class. Members holds entry UUIDs.
type Group struct {
	Name    string
	School  string
	Members []string
}

func (*Group) ObjectClass() string { return ClassGroup }

// School is an organizational unit.
type School struct {
	OU   string
	Name string
}

func (*School) ObjectClass() string { return ClassSchool }
