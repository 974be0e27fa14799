package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// entryRow is the relational shape of one directory entry: the DN as primary
// key and the attribute document as JSON. The directory is a dn-keyed KV
// store, not a table-per-entity schema.
type entryRow struct {
	DN          string    `gorm:"column:dn;primaryKey"`
	ParentDN    string    `gorm:"column:parent_dn;index"`
	ObjectClass string    `gorm:"column:object_class;index"`
	EntryUUID   string    `gorm:"column:entry_uuid;uniqueIndex"`
	Attributes  string    `gorm:"column:attributes;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (entryRow) TableName() string { return "directory_entries" }

// SQLStore implements Store on a relational database through GORM.
// Distinguished names are case-insensitive, so every DN lookup folds.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore constructs a store bound to the provided GORM connection.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// AutoMigrate creates the entry table. Production schemas come from the goose
// migrations; this exists for SQLite-backed tests.
func (s *SQLStore) AutoMigrate() error {
	return s.db.AutoMigrate(&entryRow{})
}

func (s *SQLStore) New(ctx context.Context, entry *Entry) error {
	if entry.UUID == "" {
		entry.UUID = uuid.NewString()
	}
	row, err := entryToRow(entry)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&entryRow{}).Where("lower(dn) = ?", strings.ToLower(entry.DN)).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrExists, entry.DN)
		}
		return tx.Create(row).Error
	})
}

func (s *SQLStore) Get(ctx context.Context, dn string) (*Entry, error) {
	var row entryRow
	if err := s.db.WithContext(ctx).Where("lower(dn) = ?", strings.ToLower(dn)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dn)
		}
		return nil, err
	}
	return rowToEntry(&row)
}

func (s *SQLStore) Search(ctx context.Context, filter Filter, base string) ([]*Entry, error) {
	query := s.db.WithContext(ctx).Model(&entryRow{})
	if base != "" {
		query = query.Where("lower(dn) = ? OR lower(dn) LIKE ?", strings.ToLower(base), "%,"+strings.ToLower(base))
	}

	var rows []entryRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	var entries []*Entry
	for i := range rows {
		attrs, err := unmarshalAttrs(rows[i].Attributes)
		if err != nil {
			return nil, err
		}
		attrs[AttrEntryUUID] = []string{rows[i].EntryUUID}
		if filter != nil && !filter.Matches(attrs) {
			continue
		}
		entry, err := rowToEntry(&rows[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *SQLStore) Save(ctx context.Context, entry *Entry) error {
	row, err := entryToRow(entry)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&entryRow{}).Where("lower(dn) = ?", strings.ToLower(entry.DN)).Updates(map[string]any{
		"object_class": row.ObjectClass,
		"attributes":   row.Attributes,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, entry.DN)
	}
	return nil
}

// SaveGuarded performs a compare-and-swap on the stored attribute document:
// the update only applies while the persisted value of attr still equals
// expected.
func (s *SQLStore) SaveGuarded(ctx context.Context, entry *Entry, attr, expected string) error {
	row, err := entryToRow(entry)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current entryRow
		if err := tx.Where("lower(dn) = ?", strings.ToLower(entry.DN)).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, entry.DN)
			}
			return err
		}
		attrs, err := unmarshalAttrs(current.Attributes)
		if err != nil {
			return err
		}
		if getStr(attrs, attr) != expected {
			return fmt.Errorf("%w: %s=%q", ErrStale, attr, getStr(attrs, attr))
		}
		// The WHERE clause repeats the document comparison so a writer that
		// slipped between the read and this update is detected.
		result := tx.Model(&entryRow{}).
			Where("lower(dn) = ? AND attributes = ?", strings.ToLower(entry.DN), current.Attributes).
			Updates(map[string]any{
				"object_class": row.ObjectClass,
				"attributes":   row.Attributes,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrStale, attr)
		}
		return nil
	})
}

func (s *SQLStore) Delete(ctx context.Context, dn string, recursive bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var children int64
		if err := tx.Model(&entryRow{}).Where("lower(dn) LIKE ?", "%,"+strings.ToLower(dn)).Count(&children).Error; err != nil {
			return err
		}
		if children > 0 && !recursive {
			return fmt.Errorf("%w: %s", ErrHasChildren, dn)
		}
		if children > 0 {
			if err := tx.Where("lower(dn) LIKE ?", "%,"+strings.ToLower(dn)).Delete(&entryRow{}).Error; err != nil {
				return err
			}
		}
		result := tx.Where("lower(dn) = ?", strings.ToLower(dn)).Delete(&entryRow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, dn)
		}
		return nil
	})
}

func entryToRow(entry *Entry) (*entryRow, error) {
	attrs, err := Encode(entry.Object)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	return &entryRow{
		DN:          entry.DN,
		ParentDN:    ParentDN(entry.DN),
		ObjectClass: entry.Object.ObjectClass(),
		EntryUUID:   entry.UUID,
		Attributes:  string(payload),
	}, nil
}

func rowToEntry(row *entryRow) (*Entry, error) {
	attrs, err := unmarshalAttrs(row.Attributes)
	if err != nil {
		return nil, err
	}
	obj, err := Decode(row.ObjectClass, attrs)
	if err != nil {
		return nil, err
	}
	return &Entry{DN: row.DN, UUID: row.EntryUUID, Object: obj}, nil
}

func unmarshalAttrs(payload string) (Attributes, error) {
	var attrs Attributes
	if err := json.Unmarshal([]byte(payload), &attrs); err != nil {
		return nil, fmt.Errorf("directory: corrupt attribute document: %w", err)
	}
	return attrs, nil
}
