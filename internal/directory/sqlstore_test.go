package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// a fresh :memory: database exists per connection
	sqlDB.SetMaxOpenConns(1)

	store := NewSQLStore(conn)
	require.NoError(t, store.AutoMigrate())
	return store
}

func testLicense(code string) *License {
	return &License{
		Code:        code,
		ProductID:   "urn:bilo:900",
		Quantity:    2,
		LicenseType: enums.LicenseTypeVolume,
		School:      "demoschool",
	}
}

func TestSQLStoreCreateGetDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	dn := LicenseDN(DefaultBaseDN, "demoschool", "WES-1")
	entry := &Entry{DN: dn, Object: testLicense("WES-1")}
	require.NoError(t, store.New(ctx, entry))
	require.NotEmpty(t, entry.UUID)

	require.ErrorIs(t, store.New(ctx, &Entry{DN: dn, Object: testLicense("WES-1")}), ErrExists)

	got, err := store.Get(ctx, dn)
	require.NoError(t, err)
	license, ok := got.Object.(*License)
	require.True(t, ok)
	require.Equal(t, "WES-1", license.Code)
	require.Equal(t, entry.UUID, got.UUID)

	_, err = store.Get(ctx, LicenseDN(DefaultBaseDN, "demoschool", "missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, dn, false))
	_, err = store.Get(ctx, dn)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreDeleteRecursive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	licenseDN := LicenseDN(DefaultBaseDN, "demoschool", "WES-2")
	require.NoError(t, store.New(ctx, &Entry{DN: licenseDN, Object: testLicense("WES-2")}))
	slot := &Entry{
		DN:     AssignmentDN(licenseDN, "0b1e4cf0-0000-0000-0000-000000000001"),
		Object: &Assignment{Status: enums.AssignmentStatusAvailable},
	}
	require.NoError(t, store.New(ctx, slot))

	require.ErrorIs(t, store.Delete(ctx, licenseDN, false), ErrHasChildren)
	require.NoError(t, store.Delete(ctx, licenseDN, true))

	_, err := store.Get(ctx, slot.DN)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreSearchScopesAndFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.New(ctx, &Entry{
		DN:     LicenseDN(DefaultBaseDN, "demoschool", "WES-3"),
		Object: testLicense("WES-3"),
	}))
	other := testLicense("KLETT-9")
	other.School = "otherschool"
	require.NoError(t, store.New(ctx, &Entry{
		DN:     LicenseDN(DefaultBaseDN, "otherschool", "KLETT-9"),
		Object: other,
	}))

	all, err := store.Search(ctx, Eq(AttrObjectClass, ClassLicense), "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	scoped, err := store.Search(ctx, Eq(AttrObjectClass, ClassLicense), SchoolDN(DefaultBaseDN, "demoschool"))
	require.NoError(t, err)
	require.Len(t, scoped, 1)

	// business keys match case-insensitively
	byCode, err := store.Search(ctx, And(
		Eq(AttrObjectClass, ClassLicense),
		Eq(AttrLicenseCode, "wes-3"),
	), "")
	require.NoError(t, err)
	require.Len(t, byCode, 1)
}

func TestSQLStoreDNMatchesCaseInsensitively(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	dn := MetaDataDN(DefaultBaseDN, "ABC-123")
	require.NoError(t, store.New(ctx, &Entry{
		DN:     dn,
		Object: &MetaData{ProductID: "ABC-123", Title: "Mathe 7"},
	}))

	// the metadata upsert resolves the entry with whatever casing the import
	// sent; a case variant of the DN must hit the same entry
	variant := MetaDataDN(DefaultBaseDN, "abc-123")
	got, err := store.Get(ctx, variant)
	require.NoError(t, err)

	meta := got.Object.(*MetaData)
	meta.Title = "Mathe 7 (2. Auflage)"
	require.NoError(t, store.Save(ctx, got))

	require.ErrorIs(t, store.New(ctx, &Entry{
		DN:     variant,
		Object: &MetaData{ProductID: "abc-123"},
	}), ErrExists)

	all, err := store.Search(ctx, Eq(AttrObjectClass, ClassMetaData), "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "Mathe 7 (2. Auflage)", all[0].Object.(*MetaData).Title)

	require.NoError(t, store.Delete(ctx, dn, false))
	_, err = store.Get(ctx, variant)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreSaveGuarded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	licenseDN := LicenseDN(DefaultBaseDN, "demoschool", "WES-4")
	require.NoError(t, store.New(ctx, &Entry{DN: licenseDN, Object: testLicense("WES-4")}))
	slotDN := AssignmentDN(licenseDN, "0b1e4cf0-0000-0000-0000-000000000002")
	require.NoError(t, store.New(ctx, &Entry{
		DN:     slotDN,
		Object: &Assignment{Status: enums.AssignmentStatusAvailable},
	}))

	slot, err := store.Get(ctx, slotDN)
	require.NoError(t, err)
	assignment := slot.Object.(*Assignment)
	assignment.Status = enums.AssignmentStatusAssigned
	assignment.Assignee = "some-user-uuid"

	require.NoError(t, store.SaveGuarded(ctx, slot, AttrAssignmentStatus, string(enums.AssignmentStatusAvailable)))

	// the slot is consumed now; a conflicting consume must see ErrStale
	err = store.SaveGuarded(ctx, slot, AttrAssignmentStatus, string(enums.AssignmentStatusAvailable))
	require.ErrorIs(t, err, ErrStale)
}

func TestMemoryStoreGuardSemanticsMatchSQL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	licenseDN := LicenseDN(DefaultBaseDN, "demoschool", "WES-5")
	require.NoError(t, store.New(ctx, &Entry{DN: licenseDN, Object: testLicense("WES-5")}))
	slotDN := AssignmentDN(licenseDN, "0b1e4cf0-0000-0000-0000-000000000003")
	require.NoError(t, store.New(ctx, &Entry{
		DN:     slotDN,
		Object: &Assignment{Status: enums.AssignmentStatusAvailable},
	}))

	slot, err := store.Get(ctx, slotDN)
	require.NoError(t, err)
	assignment := slot.Object.(*Assignment)
	assignment.Status = enums.AssignmentStatusAssigned
	assignment.Assignee = "uuid-1"

	require.NoError(t, store.SaveGuarded(ctx, slot, AttrAssignmentStatus, string(enums.AssignmentStatusAvailable)))
	err = store.SaveGuarded(ctx, slot, AttrAssignmentStatus, string(enums.AssignmentStatusAvailable))
	require.True(t, errors.Is(err, ErrStale))
}
