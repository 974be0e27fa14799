package enums

import "fmt"

// LicenseType maps to the bildungsloginLicenseType directory attribute.
type LicenseType string

const (
	LicenseTypeSingle    LicenseType = "SINGLE"
	LicenseTypeVolume    LicenseType = "VOLUME"
	LicenseTypeSchool    LicenseType = "SCHOOL"
	LicenseTypeWorkgroup LicenseType = "WORKGROUP"
)

var validLicenseTypes = []LicenseType{
	LicenseTypeSingle,
	LicenseTypeVolume,
	LicenseTypeSchool,
	LicenseTypeWorkgroup,
}

// String implements fmt.Stringer.
func (l LicenseType) String() string {
	return string(l)
}

// IsValid reports whether the value matches the canonical license type set.
func (l LicenseType) IsValid() bool {
	for _, candidate := range validLicenseTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLicenseType converts raw input into LicenseType.
func ParseLicenseType(value string) (LicenseType, error) {
	for _, candidate := range validLicenseTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid license type %q", value)
}

// SingleSlotted reports whether licenses of this type carry exactly one
// assignment slot regardless of quantity. SCHOOL and WORKGROUP licenses are
// assigned as a whole to one school or group; quantity only caps the member
// count of the assignee.
func (l LicenseType) SingleSlotted() bool {
	return l == LicenseTypeSchool || l == LicenseTypeWorkgroup
}

// SpecialType marks licenses reserved for a subset of users.
type SpecialType string

const (
	SpecialTypeNone    SpecialType = ""
	SpecialTypeTeacher SpecialType = "Lehrkraft"
)

// IsTeacherOnly reports whether the license may only be held by teachers.
func (s SpecialType) IsTeacherOnly() bool {
	return s == SpecialTypeTeacher
}
