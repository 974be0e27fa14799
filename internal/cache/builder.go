package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
)

// Builder scans the directory and produces cache snapshots and per-license
// deltas. The full scan feeds the periodic rebuild job; deltas are written by
// the process that just mutated a license.
type Builder struct {
	store directory.Store
	base  string
	now   func() time.Time
}

// BuilderParams configure a Builder.
type BuilderParams struct {
	Store  directory.Store
	BaseDN string
	Now    func() time.Time
}

// NewBuilder builds a cache builder.
func NewBuilder(params BuilderParams) (*Builder, error) {
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
	return &Builder{store: params.Store, base: base, now: now}, nil
}

// BuildSnapshot scans the whole subtree and denormalizes it into one cache
// document.
func (b *Builder) BuildSnapshot(ctx context.Context) (*Snapshot, error) {
	entries, err := b.store.Search(ctx, nil, b.base)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan directory")
	}

	snapshot := &Snapshot{}
	licenseUUIDByDN := make(map[string]string)
	licenseRecords := make(map[string]*directory.License)
	slotsByLicense := make(map[string][]*CachedAssignment)
	usersByUUID := make(map[string]*CachedUser)
	groupsByUUID := make(map[string]*CachedGroup)
	usersBySchool := make(map[string][]*CachedUser)

	for _, entry := range entries {
		switch object := entry.Object.(type) {
		case *directory.License:
			licenseUUIDByDN[strings.ToLower(entry.DN)] = entry.UUID
			licenseRecords[entry.UUID] = object
		case *directory.User:
			user := cachedUser(entry.UUID, object)
			snapshot.Users = append(snapshot.Users, user)
			usersByUUID[entry.UUID] = user
			for _, ou := range object.Schools {
				key := strings.ToLower(ou)
				usersBySchool[key] = append(usersBySchool[key], user)
			}
		case *directory.Group:
			group := &CachedGroup{
				EntryUUID: entry.UUID,
				Name:      object.Name,
				School:    object.School,
				Members:   object.Members,
			}
			snapshot.Workgroups = append(snapshot.Workgroups, group)
			groupsByUUID[entry.UUID] = group
		case *directory.School:
			snapshot.Schools = append(snapshot.Schools, &CachedSchool{
				EntryUUID: entry.UUID,
				OU:        object.OU,
				Name:      object.Name,
			})
		case *directory.MetaData:
			snapshot.Metadata = append(snapshot.Metadata, cachedMetaData(entry.UUID, object))
		}
	}

	// second pass: assignments need their parent license resolved
	for _, entry := range entries {
		slot, ok := entry.Object.(*directory.Assignment)
		if !ok {
			continue
		}
		licenseUUID := licenseUUIDByDN[strings.ToLower(directory.ParentDN(entry.DN))]
		if licenseUUID == "" {
			continue
		}
		cached := &CachedAssignment{
			EntryUUID:        entry.UUID,
			LicenseUUID:      licenseUUID,
			Status:           slot.Status,
			Assignee:         slot.Assignee,
			TimeOfAssignment: NewDate(slot.TimeOfAssignment),
		}
		snapshot.Assignments = append(snapshot.Assignments, cached)
		slotsByLicense[licenseUUID] = append(slotsByLicense[licenseUUID], cached)
	}

	snapshot.Classes = deriveClasses(snapshot.Users)

	now := b.now()
	for licenseUUID, license := range licenseRecords {
		cached := cachedLicense(licenseUUID, license, slotsByLicense[licenseUUID], now)
		fanOut := fanOutContext{
			users:    usersByUUID,
			groups:   groupsByUUID,
			bySchool: usersBySchool,
		}
		fanOut.apply(cached, slotsByLicense[licenseUUID])
		snapshot.Licenses = append(snapshot.Licenses, cached)
	}
	sort.Slice(snapshot.Licenses, func(i, j int) bool {
		return snapshot.Licenses[i].Code < snapshot.Licenses[j].Code
	})
	return snapshot, nil
}

// BuildDelta produces the patch for one license, identified by entry UUID. A
// license that no longer exists in the directory yields a deleted delta.
func (b *Builder) BuildDelta(ctx context.Context, licenseUUID string) (*Delta, error) {
	entries, err := b.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassLicense),
		directory.Eq(directory.AttrEntryUUID, licenseUUID),
	), b.base)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search license")
	}
	if len(entries) == 0 {
		return &Delta{Deleted: true, License: &CachedLicense{EntryUUID: licenseUUID}}, nil
	}
	return b.buildDelta(ctx, entries[0])
}

// BuildDeltaByCode produces the patch for one license identified by code.
func (b *Builder) BuildDeltaByCode(ctx context.Context, code string) (*Delta, error) {
	entries, err := b.store.Search(ctx, directory.And(
		directory.Eq(directory.AttrObjectClass, directory.ClassLicense),
		directory.Eq(directory.AttrLicenseCode, code),
	), b.base)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search license")
	}
	if len(entries) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("license %q not found", code))
	}
	return b.buildDelta(ctx, entries[0])
}

func (b *Builder) buildDelta(ctx context.Context, entry *directory.Entry) (*Delta, error) {
	license, ok := entry.Object.(*directory.License)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entry is not a license")
	}
	slotEntries, err := b.store.Search(ctx,
		directory.Eq(directory.AttrObjectClass, directory.ClassAssignment), entry.DN)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search slots")
	}

	slots := make([]*CachedAssignment, 0, len(slotEntries))
	for _, slotEntry := range slotEntries {
		slot, ok := slotEntry.Object.(*directory.Assignment)
		if !ok {
			continue
		}
		slots = append(slots, &CachedAssignment{
			EntryUUID:        slotEntry.UUID,
			LicenseUUID:      entry.UUID,
			Status:           slot.Status,
			Assignee:         slot.Assignee,
			TimeOfAssignment: NewDate(slot.TimeOfAssignment),
		})
	}

	cached := cachedLicense(entry.UUID, license, slots, b.now())
	for _, slot := range slots {
		if !slot.Status.Consumed() {
			continue
		}
		if err := b.fanOutAssignee(ctx, slot.Assignee, cached); err != nil {
			return nil, err
		}
	}
	return &Delta{License: cached, Assignments: slots}, nil
}

func (b *Builder) fanOutAssignee(ctx context.Context, assigneeUUID string, cached *CachedLicense) error {
	entries, err := b.store.Search(ctx, directory.Eq(directory.AttrEntryUUID, assigneeUUID), b.base)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve assignee")
	}
	if len(entries) == 0 {
		return nil
	}
	switch object := entries[0].Object.(type) {
	case *directory.User:
		cached.UserStrings = append(cached.UserStrings, userStrings(object.Username, object.Firstname, object.Lastname)...)
	case *directory.Group:
		cached.Groups = append(cached.Groups, object.Name)
		for _, memberUUID := range object.Members {
			members, err := b.store.Search(ctx, directory.And(
				directory.Eq(directory.AttrObjectClass, directory.ClassUser),
				directory.Eq(directory.AttrEntryUUID, memberUUID),
			), b.base)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve group member")
			}
			if len(members) == 0 {
				continue
			}
			if user, ok := members[0].Object.(*directory.User); ok {
				cached.UserStrings = append(cached.UserStrings, userStrings(user.Username, user.Firstname, user.Lastname)...)
			}
		}
	case *directory.School:
		users, err := b.store.Search(ctx, directory.And(
			directory.Eq(directory.AttrObjectClass, directory.ClassUser),
			directory.Eq(directory.AttrUserSchool, object.OU),
		), b.base)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve school users")
		}
		for _, userEntry := range users {
			if user, ok := userEntry.Object.(*directory.User); ok {
				cached.UserStrings = append(cached.UserStrings, userStrings(user.Username, user.Firstname, user.Lastname)...)
			}
		}
	}
	return nil
}

// fanOutContext resolves assignees from already-loaded snapshot maps instead
// of hitting the directory once per assignee.
type fanOutContext struct {
	users    map[string]*CachedUser
	groups   map[string]*CachedGroup
	bySchool map[string][]*CachedUser
}

func (f fanOutContext) apply(cached *CachedLicense, slots []*CachedAssignment) {
	for _, slot := range slots {
		if !slot.Status.Consumed() {
			continue
		}
		if user, ok := f.users[slot.Assignee]; ok {
			cached.UserStrings = append(cached.UserStrings, userStrings(user.Username, user.Firstname, user.Lastname)...)
			continue
		}
		if group, ok := f.groups[slot.Assignee]; ok {
			cached.Groups = append(cached.Groups, group.Name)
			for _, memberUUID := range group.Members {
				if member, ok := f.users[memberUUID]; ok {
					cached.UserStrings = append(cached.UserStrings, userStrings(member.Username, member.Firstname, member.Lastname)...)
				}
			}
			continue
		}
		// school assignees cover every user at the OU
		for _, user := range f.bySchool[strings.ToLower(cached.School)] {
			cached.UserStrings = append(cached.UserStrings, userStrings(user.Username, user.Firstname, user.Lastname)...)
		}
	}
}

func cachedLicense(entryUUID string, license *directory.License, slots []*CachedAssignment, now time.Time) *CachedLicense {
	cached := &CachedLicense{
		EntryUUID:         entryUUID,
		Code:              license.Code,
		ProductID:         license.ProductID,
		Quantity:          license.Quantity,
		Provider:          license.Provider,
		LicenseType:       license.LicenseType,
		SpecialType:       license.SpecialType,
		School:            license.School,
		IgnoredForDisplay: license.IgnoredForDisplay,
		DeliveryDate:      NewDate(license.DeliveryDate),
		ValidityStart:     NewDate(license.ValidityStart),
		ValidityEnd:       NewDate(license.ValidityEnd),
		IsExpired:         license.ExpiredAt(now),
	}
	for _, slot := range slots {
		if slot.Status.Consumed() {
			cached.QuantityAssigned++
		}
	}
	free := len(slots) - cached.QuantityAssigned
	if cached.IsExpired {
		cached.QuantityExpired = free
	} else {
		cached.QuantityAvailable = free
	}
	cached.IsAvailable = !cached.IgnoredForDisplay && cached.QuantityAvailable > 0
	return cached
}

func cachedUser(entryUUID string, user *directory.User) *CachedUser {
	roles := make([]string, len(user.Roles))
	for i, role := range user.Roles {
		roles[i] = string(role)
	}
	return &CachedUser{
		EntryUUID:  entryUUID,
		Username:   user.Username,
		Firstname:  user.Firstname,
		Lastname:   user.Lastname,
		Schools:    user.Schools,
		Roles:      roles,
		Classes:    user.Classes,
		Workgroups: user.Workgroups,
	}
}

func cachedMetaData(entryUUID string, record *directory.MetaData) *CachedMetaData {
	return &CachedMetaData{
		EntryUUID:   entryUUID,
		ProductID:   record.ProductID,
		Title:       record.Title,
		Description: record.Description,
		Author:      record.Author,
		Publisher:   record.Publisher,
		Cover:       record.Cover,
		CoverSmall:  record.CoverSmall,
		Modified:    NewDate(record.Modified),
	}
}

// deriveClasses aggregates school classes from the class names carried on
// user entries; classes have no directory entries of their own.
func deriveClasses(users []*CachedUser) []*CachedGroup {
	byKey := make(map[string]*CachedGroup)
	for _, user := range users {
		school := ""
		if len(user.Schools) > 0 {
			school = user.Schools[0]
		}
		for _, class := range user.Classes {
			key := strings.ToLower(school + "/" + class)
			group, ok := byKey[key]
			if !ok {
				group = &CachedGroup{Name: class, School: school}
				byKey[key] = group
			}
			group.Members = append(group.Members, user.EntryUUID)
		}
	}
	classes := make([]*CachedGroup, 0, len(byKey))
	for _, group := range byKey {
		classes = append(classes, group)
	}
	sort.Slice(classes, func(i, j int) bool {
		return classes[i].School+classes[i].Name < classes[j].School+classes[j].Name
	})
	return classes
}

func userStrings(values ...string) []string {
	var out []string
	for _, value := range values {
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}
