package assignments

import (
	"fmt"

	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

// Reason tags an eligibility failure so API clients and the admin UI can
// branch without parsing the human-readable message. The message prefixes are
// stable for the same purpose.
type Reason string

const (
	ReasonIgnored        Reason = "license_ignored"
	ReasonExpired        Reason = "license_expired"
	ReasonTypeMismatch   Reason = "license_type_mismatch"
	ReasonMemberLimit    Reason = "member_limit_exceeded"
	ReasonSpecialType    Reason = "special_type_mismatch"
	ReasonSchoolMismatch Reason = "school_mismatch"
	ReasonNoSlots        Reason = "no_assignments_available"
)

func eligibilityError(reason Reason, message string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, message).
		WithDetails(map[string]any{"reason": string(reason)})
}

func errLicenseIgnored() error {
	return eligibilityError(ReasonIgnored, "License is 'ignored for display' and therefore can't be assigned")
}

func errLicenseExpired() error {
	return eligibilityError(ReasonExpired, "License is expired")
}

func errTypeMismatch(licenseType enums.LicenseType, objectType enums.ObjectType) error {
	return eligibilityError(ReasonTypeMismatch, fmt.Sprintf(
		"License with license type %s can't be assigned to the object type %s",
		licenseType, objectType,
	))
}

func errMemberLimit(objectType enums.ObjectType, limit int) error {
	noun := "group"
	if objectType == enums.ObjectTypeSchool {
		noun = "school"
	}
	return eligibilityError(ReasonMemberLimit, fmt.Sprintf(
		"The %s exceeds the maximum of %d members covered by the license", noun, limit,
	))
}

func errTeacherOnly() error {
	return eligibilityError(ReasonSpecialType,
		"License is reserved for teachers and can't cover the given assignee")
}

func errSchoolMismatch(objectType enums.ObjectType, school string) error {
	var message string
	switch objectType {
	case enums.ObjectTypeUser:
		message = fmt.Sprintf("The user is not a member of the license's school %q", school)
	case enums.ObjectTypeGroup:
		message = fmt.Sprintf("The group does not belong to the license's school %q", school)
	default:
		message = fmt.Sprintf("The school does not match the license's school %q", school)
	}
	return eligibilityError(ReasonSchoolMismatch, message)
}

func errNoSlots() error {
	return eligibilityError(ReasonNoSlots, "There are no more assignments available for this license")
}

// ReasonOf extracts the eligibility reason from an error, or "" when the
// error carries none.
func ReasonOf(err error) Reason {
	typed := pkgerrors.As(err)
	if typed == nil {
		return ""
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return ""
	}
	reason, _ := details["reason"].(string)
	return Reason(reason)
}
