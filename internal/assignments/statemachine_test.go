package assignments

import (
	"testing"
	"time"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

func TestValidateTransitionGrid(t *testing.T) {
	statuses := []enums.AssignmentStatus{
		enums.AssignmentStatusAvailable,
		enums.AssignmentStatusAssigned,
		enums.AssignmentStatusProvisioned,
	}
	legal := map[enums.AssignmentStatus]map[enums.AssignmentStatus]bool{
		enums.AssignmentStatusAvailable:   {enums.AssignmentStatusAssigned: true},
		enums.AssignmentStatusAssigned:    {enums.AssignmentStatusAvailable: true, enums.AssignmentStatusProvisioned: true},
		enums.AssignmentStatusProvisioned: {},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			err := ValidateTransition(from, to)
			switch {
			case from == to:
				if err != nil {
					t.Errorf("%s -> %s: self transition should be a no-op, got %v", from, to, err)
				}
			case legal[from][to]:
				if err != nil {
					t.Errorf("%s -> %s: legal transition rejected: %v", from, to, err)
				}
			default:
				typed := pkgerrors.As(err)
				if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
					t.Errorf("%s -> %s: want STATE_CONFLICT, got %v", from, to, err)
				}
			}
		}
	}
}

func TestValidateTransitionUnknownStatus(t *testing.T) {
	err := ValidateTransition(enums.AssignmentStatusAvailable, enums.AssignmentStatus("RESERVED"))
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unknown target status should be a validation error, got %v", err)
	}
}

func TestApplyTransitionClearsOnRelease(t *testing.T) {
	assignedAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	slot := &directory.Assignment{
		Status:           enums.AssignmentStatusAssigned,
		Assignee:         "some-uuid",
		TimeOfAssignment: &assignedAt,
	}

	if err := applyTransition(slot, enums.AssignmentStatusAvailable, "", time.Now()); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if slot.Assignee != "" || slot.TimeOfAssignment != nil {
		t.Fatalf("released slot must carry no assignee and no assignment time, got %q / %v",
			slot.Assignee, slot.TimeOfAssignment)
	}
}

func TestApplyTransitionKeepsOriginalAssignmentTime(t *testing.T) {
	now := time.Date(2026, 5, 10, 14, 30, 0, 0, time.UTC)
	slot := &directory.Assignment{Status: enums.AssignmentStatusAvailable}

	if err := applyTransition(slot, enums.AssignmentStatusAssigned, "u1", now); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	first := *slot.TimeOfAssignment
	if !first.Equal(time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("assignment time should be the UTC date of assignment, got %v", first)
	}

	later := now.Add(72 * time.Hour)
	if err := applyTransition(slot, enums.AssignmentStatusProvisioned, "u1", later); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if !slot.TimeOfAssignment.Equal(first) {
		t.Fatalf("provisioning must not rewrite the assignment time: %v != %v", slot.TimeOfAssignment, first)
	}
}

func TestApplyTransitionRequiresAssignee(t *testing.T) {
	slot := &directory.Assignment{Status: enums.AssignmentStatusAvailable}
	err := applyTransition(slot, enums.AssignmentStatusAssigned, "", time.Now())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("assigning without an assignee should be a validation error, got %v", err)
	}
}
