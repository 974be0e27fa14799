package enums

import "fmt"

// AssignmentStatus maps to the bildungsloginAssignmentStatus directory attribute.
type AssignmentStatus string

const (
	AssignmentStatusAvailable   AssignmentStatus = "AVAILABLE"
	AssignmentStatusAssigned    AssignmentStatus = "ASSIGNED"
	AssignmentStatusProvisioned AssignmentStatus = "PROVISIONED"
)

var validAssignmentStatuses = []AssignmentStatus{
	AssignmentStatusAvailable,
	AssignmentStatusAssigned,
	AssignmentStatusProvisioned,
}

// String implements fmt.Stringer.
func (a AssignmentStatus) String() string {
	return string(a)
}

// IsValid reports whether the value matches the canonical status set.
func (a AssignmentStatus) IsValid() bool {
	for _, candidate := range validAssignmentStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAssignmentStatus converts raw input into AssignmentStatus.
func ParseAssignmentStatus(value string) (AssignmentStatus, error) {
	for _, candidate := range validAssignmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid assignment status %q", value)
}

// Consumed reports whether the slot is held by an assignee.
func (a AssignmentStatus) Consumed() bool {
	return a == AssignmentStatusAssigned || a == AssignmentStatusProvisioned
}
