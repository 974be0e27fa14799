package assignments

import (
	"fmt"
	"time"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

// legalTransitions is the assignment slot lifecycle: a slot is handed out
// (ASSIGNED), can be handed back (AVAILABLE) until the consuming system
// confirms it (PROVISIONED), which is terminal.
var legalTransitions = map[enums.AssignmentStatus][]enums.AssignmentStatus{
	enums.AssignmentStatusAvailable:   {enums.AssignmentStatusAssigned},
	enums.AssignmentStatusAssigned:    {enums.AssignmentStatusAvailable, enums.AssignmentStatusProvisioned},
	enums.AssignmentStatusProvisioned: {},
}

// NewInvalidTransition builds the error rejecting an illegal status change.
func NewInvalidTransition(from, to enums.AssignmentStatus) *pkgerrors.Error {
	return pkgerrors.New(
		pkgerrors.CodeStateConflict,
		fmt.Sprintf("invalid status transition from %s to %s", from, to),
	).WithDetails(map[string]any{"from": string(from), "to": string(to)})
}

// ValidateTransition checks the persisted prior status against the requested
// one. Re-asserting the current status is a no-op, not a violation.
func ValidateTransition(from, to enums.AssignmentStatus) error {
	if !to.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown assignment status %q", to))
	}
	if from == to {
		return nil
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return NewInvalidTransition(from, to)
}

// applyTransition mutates the slot for the already validated transition and
// enforces the assignee/time invariants: consumed slots always carry an
// assignee, AVAILABLE slots never do, and the assignment time is written on
// first assignment only.
func applyTransition(slot *directory.Assignment, to enums.AssignmentStatus, assignee string, now time.Time) error {
	switch to {
	case enums.AssignmentStatusAvailable:
		slot.Status = enums.AssignmentStatusAvailable
		slot.Assignee = ""
		slot.TimeOfAssignment = nil
	case enums.AssignmentStatusAssigned, enums.AssignmentStatusProvisioned:
		if assignee == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("status %s requires an assignee", to))
		}
		slot.Status = to
		slot.Assignee = assignee
		if slot.TimeOfAssignment == nil {
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			slot.TimeOfAssignment = &today
		}
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown assignment status %q", to))
	}
	return nil
}
