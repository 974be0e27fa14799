package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store is the transactional key-value view of the directory service, keyed
// by distinguished names. The directory's own replication and ACL enforcement
// live behind this boundary.
type Store interface {
	// New creates the entry. The entry's DN must not exist yet.
	New(ctx context.Context, entry *Entry) error
	// Get returns the entry stored at dn.
	Get(ctx context.Context, dn string) (*Entry, error)
	// Search returns all entries under base (the whole tree when base is
	// empty) whose attributes match the filter.
	Search(ctx context.Context, filter Filter, base string) ([]*Entry, error)
	// Save overwrites the entry stored at its DN.
	Save(ctx context.Context, entry *Entry) error
	// SaveGuarded overwrites the entry only while the persisted value of
	// attr still equals expected. A concurrent writer that got there first
	// surfaces as ErrStale.
	SaveGuarded(ctx context.Context, entry *Entry, attr, expected string) error
	// Delete removes the entry at dn. Entries with children are only
	// deleted when recursive is set.
	Delete(ctx context.Context, dn string, recursive bool) error
}

var (
	// ErrNotFound is returned by Get/Save when no entry exists at the DN.
	ErrNotFound = errors.New("directory: entry not found")
	// ErrExists is returned by New when the DN is already taken.
	ErrExists = errors.New("directory: entry already exists")
	// ErrStale is returned by SaveGuarded when the guarded attribute no
	// longer holds its expected value.
	ErrStale = errors.New("directory: guarded attribute changed")
	// ErrHasChildren is returned by a non-recursive Delete on a subtree.
	ErrHasChildren = errors.New("directory: entry has children")
)

// DefaultBaseDN anchors the Bildungslogin subtree.
const DefaultBaseDN = "dc=bildungslogin,dc=local"

// ParentDN strips the leading RDN. An empty string marks a root entry.
func ParentDN(dn string) string {
	idx := strings.Index(dn, ",")
	if idx < 0 {
		return ""
	}
	return dn[idx+1:]
}

// IsUnder reports whether dn lies in the subtree rooted at base, the base
// entry itself included.
func IsUnder(dn, base string) bool {
	if base == "" {
		return true
	}
	return strings.EqualFold(dn, base) || strings.HasSuffix(strings.ToLower(dn), ","+strings.ToLower(base))
}

// SchoolDN returns the DN of a school OU.
func SchoolDN(base, ou string) string {
	return fmt.Sprintf("ou=%s,%s", ou, base)
}

// UserDN returns the DN of a user at a school.
func UserDN(base, ou, username string) string {
	return fmt.Sprintf("uid=%s,cn=users,ou=%s,%s", username, ou, base)
}

// GroupDN returns the DN of a workgroup or class at a school.
func GroupDN(base, ou, name string) string {
	return fmt.Sprintf("cn=%s,cn=groups,ou=%s,%s", name, ou, base)
}

// LicenseDN returns the DN of a license owned by a school.
func LicenseDN(base, ou, code string) string {
	return fmt.Sprintf("cn=%s,cn=licenses,ou=%s,%s", code, ou, base)
}

// AssignmentDN returns the DN of an assignment slot under its license.
func AssignmentDN(licenseDN, slotUUID string) string {
	return fmt.Sprintf("cn=%s,%s", slotUUID, licenseDN)
}

// MetaDataDN returns the DN of a product metadata entry. Metadata is global,
// not school-scoped.
func MetaDataDN(base, productID string) string {
	return fmt.Sprintf("cn=%s,cn=metadata,%s", productID, base)
}
