package enums

import "fmt"

// ObjectType identifies the kind of directory object a license slot is
// assigned to.
type ObjectType string

const (
	ObjectTypeUser   ObjectType = "USER"
	ObjectTypeGroup  ObjectType = "GROUP"
	ObjectTypeSchool ObjectType = "SCHOOL"
)

var validObjectTypes = []ObjectType{
	ObjectTypeUser,
	ObjectTypeGroup,
	ObjectTypeSchool,
}

// String implements fmt.Stringer.
func (o ObjectType) String() string {
	return string(o)
}

// IsValid reports whether the value matches the canonical object type set.
func (o ObjectType) IsValid() bool {
	for _, candidate := range validObjectTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseObjectType converts raw input into ObjectType.
func ParseObjectType(value string) (ObjectType, error) {
	for _, candidate := range validObjectTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid object type %q", value)
}

// Role identifies a user's function at a school.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
)
