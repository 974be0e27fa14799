package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a map-backed Store with the same matching and guard
// semantics as the SQL store. Handler tests run against it, and the cache
// rebuild job tests use it as the scanned directory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	dn    string
	uuid  string
	class string
	attrs Attributes
}

// NewMemoryStore builds an empty in-memory directory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) New(_ context.Context, entry *Entry) error {
	if entry.UUID == "" {
		entry.UUID = uuid.NewString()
	}
	attrs, err := Encode(entry.Object)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(entry.DN)
	if _, ok := m.entries[key]; ok {
		return fmt.Errorf("%w: %s", ErrExists, entry.DN)
	}
	m.entries[key] = memoryEntry{
		dn:    entry.DN,
		uuid:  entry.UUID,
		class: entry.Object.ObjectClass(),
		attrs: attrs,
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, dn string) (*Entry, error) {
	m.mu.RLock()
	stored, ok := m.entries[strings.ToLower(dn)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dn)
	}
	return stored.toEntry()
}

func (m *MemoryStore) Search(_ context.Context, filter Filter, base string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []memoryEntry
	for _, stored := range m.entries {
		if !IsUnder(stored.dn, base) {
			continue
		}
		attrs := stored.attrsWithUUID()
		if filter != nil && !filter.Matches(attrs) {
			continue
		}
		matched = append(matched, stored)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].dn < matched[j].dn })

	entries := make([]*Entry, 0, len(matched))
	for _, stored := range matched {
		entry, err := stored.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (m *MemoryStore) Save(_ context.Context, entry *Entry) error {
	attrs, err := Encode(entry.Object)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(entry.DN)
	stored, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, entry.DN)
	}
	stored.class = entry.Object.ObjectClass()
	stored.attrs = attrs
	m.entries[key] = stored
	return nil
}

func (m *MemoryStore) SaveGuarded(_ context.Context, entry *Entry, attr, expected string) error {
	attrs, err := Encode(entry.Object)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(entry.DN)
	stored, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, entry.DN)
	}
	if current := getStr(stored.attrs, attr); current != expected {
		return fmt.Errorf("%w: %s=%q", ErrStale, attr, current)
	}
	stored.class = entry.Object.ObjectClass()
	stored.attrs = attrs
	m.entries[key] = stored
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, dn string, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(dn)
	if _, ok := m.entries[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, dn)
	}
	var children []string
	for stored := range m.entries {
		if strings.HasSuffix(stored, ","+key) {
			children = append(children, stored)
		}
	}
	if len(children) > 0 && !recursive {
		return fmt.Errorf("%w: %s", ErrHasChildren, dn)
	}
	for _, child := range children {
		delete(m.entries, child)
	}
	delete(m.entries, key)
	return nil
}

func (e memoryEntry) toEntry() (*Entry, error) {
	obj, err := Decode(e.class, e.attrs)
	if err != nil {
		return nil, err
	}
	return &Entry{DN: e.dn, UUID: e.uuid, Object: obj}, nil
}

func (e memoryEntry) attrsWithUUID() Attributes {
	attrs := make(Attributes, len(e.attrs)+1)
	for k, v := range e.attrs {
		attrs[k] = v
	}
	attrs[AttrEntryUUID] = []string{e.uuid}
	return attrs
}
