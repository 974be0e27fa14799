package licenses

import (
	"context"
	"testing"
	"time"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/directory"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/search"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

type mirrorStub struct {
	changed []string
	deleted []string
}

func (m *mirrorStub) LicenseChanged(_ context.Context, licenseUUID string) error {
	m.changed = append(m.changed, licenseUUID)
	return nil
}

func (m *mirrorStub) LicenseDeleted(_ context.Context, licenseUUID string) error {
	m.deleted = append(m.deleted, licenseUUID)
	return nil
}

type fixture struct {
	t      *testing.T
	store  *directory.MemoryStore
	svc    *Service
	mirror *mirrorStub
	now    time.Time
}

func newFixture(t *testing.T, searchLimit int) *fixture {
	t.Helper()
	store := directory.NewMemoryStore()
	mirror := &mirrorStub{}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewService(ServiceParams{
		Store:       store,
		Mirror:      mirror,
		Now:         func() time.Time { return now },
		SearchLimit: searchLimit,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{t: t, store: store, svc: svc, mirror: mirror, now: now}
}

func datePtr(y, m, d int) *time.Time {
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return &t
}

func (f *fixture) slotEntries(code string) []*directory.Entry {
	f.t.Helper()
	entry, _, err := f.svc.Get(context.Background(), code)
	if err != nil {
		f.t.Fatalf("get license %s: %v", code, err)
	}
	slots, err := f.svc.slots(context.Background(), entry.DN)
	if err != nil {
		f.t.Fatalf("slots of %s: %v", code, err)
	}
	return slots
}

func (f *fixture) consumeSlot(code, assignee string) {
	f.t.Helper()
	for _, slotEntry := range f.slotEntries(code) {
		slot := slotEntry.Object.(*directory.Assignment)
		if slot.Status != enums.AssignmentStatusAvailable {
			continue
		}
		slot.Status = enums.AssignmentStatusAssigned
		slot.Assignee = assignee
		slot.TimeOfAssignment = &f.now
		if err := f.store.Save(context.Background(), slotEntry); err != nil {
			f.t.Fatalf("consume slot: %v", err)
		}
		return
	}
	f.t.Fatalf("no free slot under %s", code)
}

func TestCreatePreallocatesSlots(t *testing.T) {
	f := newFixture(t, 0)

	if _, err := f.svc.Create(context.Background(), &directory.License{
		Code:        "VHT-VOL-1",
		Quantity:    3,
		LicenseType: enums.LicenseTypeVolume,
		School:      "demoschool",
	}); err != nil {
		t.Fatalf("create volume license: %v", err)
	}
	if got := len(f.slotEntries("VHT-VOL-1")); got != 3 {
		t.Fatalf("volume license carries one slot per seat, got %d", got)
	}

	if _, err := f.svc.Create(context.Background(), &directory.License{
		Code:        "VHT-SCH-1",
		Quantity:    50,
		LicenseType: enums.LicenseTypeSchool,
		School:      "demoschool",
	}); err != nil {
		t.Fatalf("create school license: %v", err)
	}
	if got := len(f.slotEntries("VHT-SCH-1")); got != 1 {
		t.Fatalf("school license carries exactly one slot, got %d", got)
	}

	if got := len(f.mirror.changed); got != 2 {
		t.Fatalf("mirror should be notified per created license, got %d", got)
	}
}

func TestCreateRejectsDuplicateCodeCaseInsensitively(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.svc.Create(context.Background(), &directory.License{
		Code:        "VHT-DUP-1",
		Quantity:    1,
		LicenseType: enums.LicenseTypeSingle,
		School:      "demoschool",
	}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := f.svc.Create(context.Background(), &directory.License{
		Code:        "vht-dup-1",
		Quantity:    1,
		LicenseType: enums.LicenseTypeSingle,
		School:      "demoschool",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("case-variant code must conflict, got %v", err)
	}
}

func TestCountsSumToTotal(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.svc.Create(context.Background(), &directory.License{
		Code:        "VHT-CNT-1",
		Quantity:    4,
		LicenseType: enums.LicenseTypeVolume,
		ValidityEnd: datePtr(2027, 7, 31),
		School:      "demoschool",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.consumeSlot("VHT-CNT-1", "user-1")

	counts, err := f.svc.Counts(context.Background(), "VHT-CNT-1")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Total != 4 || counts.Assigned != 1 || counts.Available != 3 || counts.Expired != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if counts.Available+counts.Assigned+counts.Expired != counts.Total {
		t.Fatalf("counter sum broken: %+v", counts)
	}
}

func TestCountsExpiredLicense(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.svc.Create(context.Background(), &directory.License{
		Code:        "VHT-CNT-2",
		Quantity:    3,
		LicenseType: enums.LicenseTypeVolume,
		ValidityEnd: datePtr(2026, 1, 1),
		School:      "demoschool",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.consumeSlot("VHT-CNT-2", "user-1")

	counts, err := f.svc.Counts(context.Background(), "VHT-CNT-2")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Available != 0 {
		t.Fatalf("expired license must report no available seats, got %+v", counts)
	}
	if counts.Expired != 2 || counts.Assigned != 1 {
		t.Fatalf("free seats of an expired license count as expired: %+v", counts)
	}
}

func TestSetIgnoreBlockedByActiveAssignments(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.svc.Create(context.Background(), &directory.License{
		Code:        "VHT-IGN-1",
		Quantity:    2,
		LicenseType: enums.LicenseTypeVolume,
		School:      "demoschool",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.consumeSlot("VHT-IGN-1", "user-1")

	// hiding with consumed slots is refused softly: no error, flag untouched
	applied, err := f.svc.SetIgnore(context.Background(), "VHT-IGN-1", true)
	if err != nil {
		t.Fatalf("blocked toggle must not raise, got %v", err)
	}
	if applied {
		t.Fatalf("ignoring a license with consumed slots must report false")
	}
	_, license, err := f.svc.Get(context.Background(), "VHT-IGN-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if license.IgnoredForDisplay {
		t.Fatalf("flag must stay unset after a refused toggle")
	}

	// clearing the flag is always allowed
	applied, err = f.svc.SetIgnore(context.Background(), "VHT-IGN-1", false)
	if err != nil || !applied {
		t.Fatalf("unset ignore: applied=%v err=%v", applied, err)
	}
}

func TestSetIgnoreWithoutAssignments(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.svc.Create(context.Background(), &directory.License{
		Code:        "VHT-IGN-2",
		Quantity:    2,
		LicenseType: enums.LicenseTypeVolume,
		School:      "demoschool",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	applied, err := f.svc.SetIgnore(context.Background(), "VHT-IGN-2", true)
	if err != nil || !applied {
		t.Fatalf("set ignore: applied=%v err=%v", applied, err)
	}
	_, license, err := f.svc.Get(context.Background(), "VHT-IGN-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !license.IgnoredForDisplay {
		t.Fatalf("flag should be persisted")
	}
}

func TestDeleteCascadesSlots(t *testing.T) {
	f := newFixture(t, 0)
	licenseUUID, err := f.svc.Create(context.Background(), &directory.License{
		Code:        "VHT-DEL-1",
		Quantity:    2,
		LicenseType: enums.LicenseTypeVolume,
		School:      "demoschool",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.svc.Delete(context.Background(), "VHT-DEL-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := f.svc.Get(context.Background(), "VHT-DEL-1"); pkgerrors.As(err) == nil {
		t.Fatalf("license should be gone, got %v", err)
	}
	slots, err := f.store.Search(context.Background(),
		directory.Eq(directory.AttrObjectClass, directory.ClassAssignment), "")
	if err != nil {
		t.Fatalf("search slots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("slots must be deleted with their license, %d left", len(slots))
	}
	if len(f.mirror.deleted) != 1 || f.mirror.deleted[0] != licenseUUID {
		t.Fatalf("mirror should see the deletion, got %v", f.mirror.deleted)
	}
}

func TestSearchJoinsMetadata(t *testing.T) {
	f := newFixture(t, 0)
	err := f.store.New(context.Background(), &directory.Entry{
		DN: directory.MetaDataDN(directory.DefaultBaseDN, "urn:bilo:900-7"),
		Object: &directory.MetaData{
			ProductID: "urn:bilo:900-7",
			Title:     "Mathematik 7",
			Publisher: "Westermann",
		},
	})
	if err != nil {
		t.Fatalf("seed metadata: %v", err)
	}
	if _, err := f.svc.Create(context.Background(), &directory.License{
		Code:        "VHT-SRCH-1",
		ProductID:   "urn:bilo:900-7",
		Quantity:    1,
		LicenseType: enums.LicenseTypeSingle,
		School:      "demoschool",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	views, err := f.svc.Search(context.Background(), "", search.Query{
		Simple: &search.Simple{Pattern: "Mathematik*"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(views) != 1 || views[0].Title != "Mathematik 7" || views[0].Publisher != "Westermann" {
		t.Fatalf("metadata join missing: %+v", views)
	}
}

func TestSearchFansOutGroupMembers(t *testing.T) {
	f := newFixture(t, 0)
	userEntry := &directory.Entry{
		DN: directory.UserDN(directory.DefaultBaseDN, "demoschool", "anna"),
		Object: &directory.User{
			Username: "anna",
			Lastname: "Meier",
			Schools:  []string{"demoschool"},
			Roles:    []enums.Role{enums.RoleStudent},
		},
	}
	if err := f.store.New(context.Background(), userEntry); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	groupEntry := &directory.Entry{
		DN: directory.GroupDN(directory.DefaultBaseDN, "demoschool", "mathe-ag"),
		Object: &directory.Group{
			Name:    "mathe-ag",
			School:  "demoschool",
			Members: []string{userEntry.UUID},
		},
	}
	if err := f.store.New(context.Background(), groupEntry); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if _, err := f.svc.Create(context.Background(), &directory.License{
		Code:        "VHT-SRCH-2",
		Quantity:    10,
		LicenseType: enums.LicenseTypeWorkgroup,
		School:      "demoschool",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.consumeSlot("VHT-SRCH-2", groupEntry.UUID)

	views, err := f.svc.Search(context.Background(), "", search.Query{
		Advanced: &search.Advanced{AssigneePattern: "Meier"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(views) != 1 || views[0].Code != "VHT-SRCH-2" {
		t.Fatalf("group license should be findable by member name, got %+v", views)
	}
}

func TestSearchLimitRefusesOversizedResults(t *testing.T) {
	f := newFixture(t, 2)
	for _, code := range []string{"VHT-LIM-1", "VHT-LIM-2", "VHT-LIM-3"} {
		if _, err := f.svc.Create(context.Background(), &directory.License{
			Code:        code,
			Quantity:    1,
			LicenseType: enums.LicenseTypeSingle,
			School:      "demoschool",
		}); err != nil {
			t.Fatalf("create %s: %v", code, err)
		}
	}

	_, err := f.svc.Search(context.Background(), "demoschool", search.Query{})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeSearchLimit {
		t.Fatalf("oversized result set must be refused, got %v", err)
	}
}
