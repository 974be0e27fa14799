package assignments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

// Mirror receives the read-model patches for directory writes made by this
// handler, so the in-process cache stays consistent within the same request.
type Mirror interface {
	AddAssignments(ctx context.Context, licenseCode string, assignees []string) error
	RemoveAssignments(ctx context.Context, licenseCode string, assignees []string) error
}

// ServiceParams configure the assignment handler.
type ServiceParams struct {
	Store  directory.Store
	Mirror Mirror
	BaseDN string
	Now    func() time.Time
}

// Service creates, hands out and reclaims assignment slots and drives their
// status lifecycle.
type Service struct {
	store  directory.Store
	mirror Mirror
	base   string
	now    func() time.Time
}

// NewService builds the assignment handler. Mirror is optional.
func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("directory store required")
	}
	base := params.BaseDN
	if base == "" {
		base = directory.DefaultBaseDN
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  params.Store,
		mirror: params.Mirror,
		base:   base,
		now:    now,
	}, nil
}

// assigneeInfo is the resolved view of the object a license is assigned to.
type assigneeInfo struct {
	uuid string
	name string
	// school the object belongs to; users can belong to several.
	schools []string
	// memberCount is the size relevant for the quantity cap: group member
	// count, or student headcount for a school. Zero for users.
	memberCount int
	// members carries the users covered by the assignment, used for the
	// teacher-only check and the cache fan-out.
	members []*directory.User
	// memberUUIDs mirrors members for fan-out bookkeeping.
	memberUUIDs []string
}

// AssignLicense hands one AVAILABLE slot of the license to the named object.
// Assigning an object that already holds a slot is idempotent and reports
// success.
func (s *Service) AssignLicense(ctx context.Context, licenseCode string, objectType enums.ObjectType, objectName string) (bool, error) {
	licenseEntry, license, err := s.findLicense(ctx, licenseCode)
	if err != nil {
		return false, err
	}
	info, err := s.resolveAssignee(ctx, objectType, objectName)
	if err != nil {
		return false, err
	}
	if err := s.checkEligibility(license, objectType, info); err != nil {
		return false, err
	}

	existing, err := s.findSlotByAssignee(ctx, licenseEntry.DN, info.uuid)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return true, nil
	}

	slots, err := s.availableSlots(ctx, licenseEntry.DN)
	if err != nil {
		return false, err
	}
	if len(slots) == 0 {
		return false, errNoSlots()
	}
	if err := s.consumeSlot(ctx, slots, info.uuid); err != nil {
		return false, err
	}

	if s.mirror != nil {
		if err := s.mirror.AddAssignments(ctx, license.Code, []string{info.uuid}); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "patch license cache")
		}
	}
	return true, nil
}

// ObjectFailure reports one object a bulk operation could not serve.
type ObjectFailure struct {
	Object string `json:"object"`
	Error  string `json:"error"`
}

// BulkResult is the partial-success report of AssignToLicenses.
type BulkResult struct {
	CountSuccessfulAssignments int             `json:"countSuccessfulAssignments"`
	NotEnoughLicenses          bool            `json:"notEnoughLicenses"`
	FailedObjects              []ObjectFailure `json:"failedAssignmentsObjects"`
}

// AssignToLicenses distributes the named objects over the given licenses,
// draining licenses with the soonest validity end first so expiring seats are
// consumed before seats with more runway. Once every provided license is out
// of free slots the remaining objects are left unserved and
// NotEnoughLicenses is set; assignments already made are not rolled back.
func (s *Service) AssignToLicenses(ctx context.Context, licenseCodes []string, objectType enums.ObjectType, objectNames []string) (*BulkResult, error) {
	type bulkLicense struct {
		entry   *directory.Entry
		license *directory.License
		slots   []*directory.Entry
	}

	licenses := make([]*bulkLicense, 0, len(licenseCodes))
	for _, code := range licenseCodes {
		entry, license, err := s.findLicense(ctx, code)
		if err != nil {
			return nil, err
		}
		slots, err := s.availableSlots(ctx, entry.DN)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, &bulkLicense{entry: entry, license: license, slots: slots})
	}

	// soonest expiry first; open-ended licenses sort last
	sort.SliceStable(licenses, func(i, j int) bool {
		left, right := licenses[i].license.ValidityEnd, licenses[j].license.ValidityEnd
		switch {
		case left == nil:
			return false
		case right == nil:
			return true
		default:
			return left.Before(*right)
		}
	})

	result := &BulkResult{}
	for _, name := range objectNames {
		info, err := s.resolveAssignee(ctx, objectType, name)
		if err != nil {
			result.FailedObjects = append(result.FailedObjects, ObjectFailure{Object: name, Error: err.Error()})
			continue
		}

		slotsRemain := false
		served := false
		var lastErr error
		for _, candidate := range licenses {
			if len(candidate.slots) == 0 {
				continue
			}
			slotsRemain = true
			if err := s.checkEligibility(candidate.license, objectType, info); err != nil {
				lastErr = err
				continue
			}
			existing, err := s.findSlotByAssignee(ctx, candidate.entry.DN, info.uuid)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				served = true
				break
			}
			if err := s.consumeSlot(ctx, candidate.slots, info.uuid); err != nil {
				if ReasonOf(err) == ReasonNoSlots {
					candidate.slots = nil
					continue
				}
				return nil, err
			}
			candidate.slots = candidate.slots[1:]
			if s.mirror != nil {
				if err := s.mirror.AddAssignments(ctx, candidate.license.Code, []string{info.uuid}); err != nil {
					return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "patch license cache")
				}
			}
			served = true
			break
		}

		switch {
		case served:
			result.CountSuccessfulAssignments++
		case !slotsRemain:
			result.NotEnoughLicenses = true
			return result, nil
		default:
			if lastErr == nil {
				lastErr = errNoSlots()
			}
			result.FailedObjects = append(result.FailedObjects, ObjectFailure{Object: name, Error: lastErr.Error()})
		}
	}
	return result, nil
}

// RemoveAssignments reverses ASSIGNED slots back to AVAILABLE for each named
// object. PROVISIONED slots and objects without a slot come back as per-object
// failures so the caller can retry just those.
func (s *Service) RemoveAssignments(ctx context.Context, licenseCode string, objectType enums.ObjectType, objectNames []string) ([]ObjectFailure, error) {
	licenseEntry, license, err := s.findLicense(ctx, licenseCode)
	if err != nil {
		return nil, err
	}

	var failed []ObjectFailure
	var removed []string
	for _, name := range objectNames {
		info, err := s.resolveAssignee(ctx, objectType, name)
		if err != nil {
			failed = append(failed, ObjectFailure{Object: name, Error: err.Error()})
			continue
		}
		slotEntry, err := s.findSlotByAssignee(ctx, licenseEntry.DN, info.uuid)
		if err != nil {
			return nil, err
		}
		if slotEntry == nil {
			failed = append(failed, ObjectFailure{Object: name, Error: "no assignment found for object"})
			continue
		}
		slot := slotEntry.Object.(*directory.Assignment)
		if slot.Status == enums.AssignmentStatusProvisioned {
			failed = append(failed, ObjectFailure{Object: name, Error: "provisioned assignments can't be removed"})
			continue
		}
		prior := slot.Status
		if err := applyTransition(slot, enums.AssignmentStatusAvailable, "", s.now()); err != nil {
			return nil, err
		}
		if err := s.store.SaveGuarded(ctx, slotEntry, directory.AttrAssignmentStatus, string(prior)); err != nil {
			if errors.Is(err, directory.ErrStale) {
				failed = append(failed, ObjectFailure{Object: name, Error: "assignment changed concurrently"})
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save assignment")
		}
		removed = append(removed, info.uuid)
	}

	if s.mirror != nil && len(removed) > 0 {
		if err := s.mirror.RemoveAssignments(ctx, license.Code, removed); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "patch license cache")
		}
	}
	return failed, nil
}

// ChangeStatus applies a state-machine transition to the existing slot held
// by the named object. The transition is validated against the persisted
// status, never against staged in-memory state.
func (s *Service) ChangeStatus(ctx context.Context, licenseCode string, objectType enums.ObjectType, objectName string, newStatus enums.AssignmentStatus) error {
	licenseEntry, license, err := s.findLicense(ctx, licenseCode)
	if err != nil {
		return err
	}
	info, err := s.resolveAssignee(ctx, objectType, objectName)
	if err != nil {
		return err
	}
	slotEntry, err := s.findSlotByAssignee(ctx, licenseEntry.DN, info.uuid)
	if err != nil {
		return err
	}
	if slotEntry == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf(
			"no assignment found for %q under license %q", objectName, license.Code,
		))
	}

	slot := slotEntry.Object.(*directory.Assignment)
	prior := slot.Status
	if err := ValidateTransition(prior, newStatus); err != nil {
		return err
	}
	if prior == newStatus {
		return nil
	}
	if err := applyTransition(slot, newStatus, info.uuid, s.now()); err != nil {
		return err
	}
	if err := s.store.SaveGuarded(ctx, slotEntry, directory.AttrAssignmentStatus, string(prior)); err != nil {
		if errors.Is(err, directory.ErrStale) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "assignment changed concurrently")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save assignment")
	}

	if s.mirror != nil && newStatus == enums.AssignmentStatusAvailable {
		if err := s.mirror.RemoveAssignments(ctx, license.Code, []string{info.uuid}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "patch license cache")
		}
	}
	return nil
}

// checkEligibility runs the precondition ladder in its fixed order. The order
// is part of the contract: the first failing rule names the rejection.
func (s *Service) checkEligibility(license *directory.License, objectType enums.ObjectType, info *assigneeInfo) error {
	if license.IgnoredForDisplay {
		return errLicenseIgnored()
	}
	if license.ExpiredAt(s.now()) {
		return errLicenseExpired()
	}
	if !typeCompatible(license.LicenseType, objectType) {
		return errTypeMismatch(license.LicenseType, objectType)
	}
	if objectType != enums.ObjectTypeUser && license.Quantity > 0 && info.memberCount > license.Quantity {
		return errMemberLimit(objectType, license.Quantity)
	}
	if license.SpecialType.IsTeacherOnly() {
		for _, member := range info.members {
			if !member.HasRole(enums.RoleTeacher) {
				return errTeacherOnly()
			}
		}
	}
	if !schoolsMatch(info.schools, license.School) {
		return errSchoolMismatch(objectType, license.School)
	}
	return nil
}

func typeCompatible(licenseType enums.LicenseType, objectType enums.ObjectType) bool {
	switch licenseType {
	case enums.LicenseTypeSingle, enums.LicenseTypeVolume:
		return objectType == enums.ObjectTypeUser
	case enums.LicenseTypeSchool:
		return objectType == enums.ObjectTypeSchool
	case enums.LicenseTypeWorkgroup:
		return objectType == enums.ObjectTypeGroup
	default:
		return false
	}
}

func schoolsMatch(schools []string, licenseSchool string) bool {
	for _, school := range schools {
		if strings.EqualFold(school, licenseSchool) {
			return true
		}
	}
	return false
}

func (s *Service) findLicense(ctx context.Context, code string) (*directory.Entry, *directory.License, error) {
	entries, err := s.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassLicense),
		directory.Eq(directory.AttrLicenseCode, code),
	), s.base)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search license")
	}
	if len(entries) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("license %q not found", code))
	}
	license, ok := entries[0].Object.(*directory.License)
	if !ok {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "entry is not a license")
	}
	return entries[0], license, nil
}

func (s *Service) resolveAssignee(ctx context.Context, objectType enums.ObjectType, name string) (*assigneeInfo, error) {
	switch objectType {
	case enums.ObjectTypeUser:
		entry, user, err := s.findUserByName(ctx, name)
		if err != nil {
			return nil, err
		}
		return &assigneeInfo{
			uuid:        entry.UUID,
			name:        name,
			schools:     user.Schools,
			members:     []*directory.User{user},
			memberUUIDs: []string{entry.UUID},
		}, nil
	case enums.ObjectTypeGroup:
		entry, group, err := s.findGroupByName(ctx, name)
		if err != nil {
			return nil, err
		}
		members, memberUUIDs, err := s.usersByUUIDs(ctx, group.Members)
		if err != nil {
			return nil, err
		}
		return &assigneeInfo{
			uuid:        entry.UUID,
			name:        name,
			schools:     []string{group.School},
			memberCount: len(group.Members),
			members:     members,
			memberUUIDs: memberUUIDs,
		}, nil
	case enums.ObjectTypeSchool:
		entry, school, err := s.findSchoolByOU(ctx, name)
		if err != nil {
			return nil, err
		}
		members, memberUUIDs, students, err := s.usersAtSchool(ctx, school.OU)
		if err != nil {
			return nil, err
		}
		return &assigneeInfo{
			uuid:        entry.UUID,
			name:        name,
			schools:     []string{school.OU},
			memberCount: students,
			members:     members,
			memberUUIDs: memberUUIDs,
		}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown object type %q", objectType))
	}
}

func (s *Service) findUserByName(ctx context.Context, name string) (*directory.Entry, *directory.User, error) {
	entries, err := s.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassUser),
		directory.Eq(directory.AttrUserUID, name),
	), s.base)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search user")
	}
	if len(entries) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("user %q not found", name))
	}
	user, ok := entries[0].Object.(*directory.User)
	if !ok {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "entry is not a user")
	}
	return entries[0], user, nil
}

func (s *Service) findGroupByName(ctx context.Context, name string) (*directory.Entry, *directory.Group, error) {
	entries, err := s.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassGroup),
		directory.Eq(directory.AttrGroupName, name),
	), s.base)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search group")
	}
	if len(entries) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("group %q not found", name))
	}
	group, ok := entries[0].Object.(*directory.Group)
	if !ok {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "entry is not a group")
	}
	return entries[0], group, nil
}

func (s *Service) findSchoolByOU(ctx context.Context, ou string) (*directory.Entry, *directory.School, error) {
	entries, err := s.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassSchool),
		directory.Eq(directory.AttrSchoolOU, ou),
	), s.base)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search school")
	}
	if len(entries) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("school %q not found", ou))
	}
	school, ok := entries[0].Object.(*directory.School)
	if !ok {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "entry is not a school")
	}
	return entries[0], school, nil
}

func (s *Service) usersByUUIDs(ctx context.Context, uuids []string) ([]*directory.User, []string, error) {
	users := make([]*directory.User, 0, len(uuids))
	resolved := make([]string, 0, len(uuids))
	for _, id := range uuids {
		entries, err := s.store.Search(ctx, directory.And(
			directory.Eq(directory.AttrObjectClass, directory.ClassUser),
			directory.Eq(directory.AttrEntryUUID, id),
		), s.base)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve group member")
		}
		if len(entries) == 0 {
			continue
		}
		if user, ok := entries[0].Object.(*directory.User); ok {
			users = append(users, user)
			resolved = append(resolved, entries[0].UUID)
		}
	}
	return users, resolved, nil
}

func (s *Service) usersAtSchool(ctx context.Context, ou string) ([]*directory.User, []string, int, error) {
	entries, err := s.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassUser),
		directory.Eq(directory.AttrUserSchool, ou),
	), s.base)
	if err != nil {
		return nil, nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search school users")
	}
	users := make([]*directory.User, 0, len(entries))
	uuids := make([]string, 0, len(entries))
	students := 0
	for _, entry := range entries {
		user, ok := entry.Object.(*directory.User)
		if !ok {
			continue
		}
		users = append(users, user)
		uuids = append(uuids, entry.UUID)
		if user.HasRole(enums.RoleStudent) {
			students++
		}
	}
	return users, uuids, students, nil
}

func (s *Service) findSlotByAssignee(ctx context.Context, licenseDN, assigneeUUID string) (*directory.Entry, error) {
	entries, err := s.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassAssignment),
		directory.Eq(directory.AttrAssignmentAssignee, assigneeUUID),
	), licenseDN)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search assignment")
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func (s *Service) availableSlots(ctx context.Context, licenseDN string) ([]*directory.Entry, error) {
	entries, err := s.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassAssignment),
		directory.Eq(directory.AttrAssignmentStatus, string(enums.AssignmentStatusAvailable)),
	), licenseDN)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search available slots")
	}
	return entries, nil
}

// consumeSlot claims the first free slot with a write guarded on the
// persisted AVAILABLE status. A concurrent claimer surfaces as ErrStale and
// the next slot is tried, so two racing requests never consume the same seat.
func (s *Service) consumeSlot(ctx context.Context, slots []*directory.Entry, assigneeUUID string) error {
	for _, slotEntry := range slots {
		slot, ok := slotEntry.Object.(*directory.Assignment)
		if !ok || slot.Status != enums.AssignmentStatusAvailable {
			continue
		}
		if err := applyTransition(slot, enums.AssignmentStatusAssigned, assigneeUUID, s.now()); err != nil {
			return err
		}
		err := s.store.SaveGuarded(ctx, slotEntry, directory.AttrAssignmentStatus, string(enums.AssignmentStatusAvailable))
		if err == nil {
			return nil
		}
		if errors.Is(err, directory.ErrStale) {
			slot.Status = enums.AssignmentStatusAvailable
			slot.Assignee = ""
			slot.TimeOfAssignment = nil
			continue
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save assignment")
	}
	return errNoSlots()
}
