package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrationsDirValidates(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("shipped migrations must validate: %v", err)
	}
}

func TestDirectoryEntriesMigrationPresent(t *testing.T) {
	entries, err := os.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.Contains(e.Name(), "create_directory_entries") {
			found = true
			data, err := os.ReadFile(filepath.Join("migrations", e.Name()))
			if err != nil {
				t.Fatalf("read migration: %v", err)
			}
			for _, column := range []string{"dn", "parent_dn", "object_class", "entry_uuid", "attributes"} {
				if !strings.Contains(string(data), column) {
					t.Fatalf("directory_entries migration missing column %q", column)
				}
			}
		}
	}
	if !found {
		t.Fatalf("create_directory_entries migration missing")
	}
}

func TestCreateSQLMigrationTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "add widget index")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migration must validate: %v", err)
	}
	if !strings.HasSuffix(path, "_add_widget_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
}
