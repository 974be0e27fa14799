package licenses

import (
	"context"
	"errors"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/search"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
)

// buildView denormalizes one license into the search projection: metadata
// joined by product id, counters from the live slot set, and assignees fanned
// out to the users they cover so name searches hit group and school licenses
// too.
func (s *Service) buildView(ctx context.Context, entry *directory.Entry, license *directory.License) (*search.LicenseView, error) {
	now := s.now()
	view := &search.LicenseView{
		Code:              license.Code,
		ProductID:         license.ProductID,
		LicenseType:       license.LicenseType,
		School:            license.School,
		DeliveryDate:      license.DeliveryDate,
		ValidityEnd:       license.ValidityEnd,
		IgnoredForDisplay: license.IgnoredForDisplay,
		IsExpired:         license.ExpiredAt(now),
	}

	if license.ProductID != "" {
		meta, err := s.store.Get(ctx, directory.MetaDataDN(s.base, license.ProductID))
		switch {
		case err == nil:
			if record, ok := meta.Object.(*directory.MetaData); ok {
				view.Title = record.Title
				view.Publisher = record.Publisher
			}
		case errors.Is(err, directory.ErrNotFound):
			// licenses may arrive before their product metadata
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load metadata")
		}
	}

	slots, err := s.slots(ctx, entry.DN)
	if err != nil {
		return nil, err
	}
	counts := countSlots(license, slots, now)
	view.QuantityAvailable = counts.Available
	view.QuantityAssigned = counts.Assigned

	for _, slotEntry := range slots {
		slot, ok := slotEntry.Object.(*directory.Assignment)
		if !ok || !slot.Status.Consumed() {
			continue
		}
		if err := s.fanOutAssignee(ctx, slot.Assignee, view); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// fanOutAssignee appends the user strings and group names covered by one
// assignee, whichever object kind holds the slot.
func (s *Service) fanOutAssignee(ctx context.Context, assigneeUUID string, view *search.LicenseView) error {
	entries, err := s.store.Search(ctx, directory.Eq(directory.AttrEntryUUID, assigneeUUID), s.base)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve assignee")
	}
	if len(entries) == 0 {
		// the assignee was deleted from the directory; the slot stays consumed
		return nil
	}

	switch object := entries[0].Object.(type) {
	case *directory.User:
		view.UserStrings = append(view.UserStrings, userStrings(object)...)
	case *directory.Group:
		view.Groups = append(view.Groups, object.Name)
		members, _, err := s.groupMembers(ctx, object)
		if err != nil {
			return err
		}
		for _, member := range members {
			view.UserStrings = append(view.UserStrings, userStrings(member)...)
		}
	case *directory.School:
		users, err := s.store.Search(ctx, directory.And(
			directory.Eq(directory.AttrObjectClass, directory.ClassUser),
			directory.Eq(directory.AttrUserSchool, object.OU),
		), s.base)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve school users")
		}
		for _, userEntry := range users {
			if user, ok := userEntry.Object.(*directory.User); ok {
				view.UserStrings = append(view.UserStrings, userStrings(user)...)
			}
		}
	}
	return nil
}

func (s *Service) groupMembers(ctx context.Context, group *directory.Group) ([]*directory.User, []string, error) {
	users := make([]*directory.User, 0, len(group.Members))
	uuids := make([]string, 0, len(group.Members))
	for _, memberUUID := range group.Members {
		entries, err := s.store.Search(ctx, directory.And(
			directory.Eq(directory.AttrObjectClass, directory.ClassUser),
			directory.Eq(directory.AttrEntryUUID, memberUUID),
		), s.base)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve group member")
		}
		if len(entries) == 0 {
			continue
		}
		if user, ok := entries[0].Object.(*directory.User); ok {
			users = append(users, user)
			uuids = append(uuids, entries[0].UUID)
		}
	}
	return users, uuids, nil
}

func userStrings(user *directory.User) []string {
	var out []string
	for _, value := range []string{user.Username, user.Firstname, user.Lastname} {
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}
