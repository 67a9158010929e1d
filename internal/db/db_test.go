package db

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TRU5T/plexdb/internal/testutil"
)

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"))
	if !errors.Is(err, ErrNotOpenable) {
		t.Errorf("Expected ErrNotOpenable for missing file, got %v", err)
	}
}

func TestOpenGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	if err := os.WriteFile(path, []byte("this is not a database at all, not even close"), 0644); err != nil {
		t.Fatalf("Failed to write garbage file: %v", err)
	}

	_, err := Open(path)
	if !errors.Is(err, ErrNotOpenable) {
		t.Errorf("Expected ErrNotOpenable for garbage file, got %v", err)
	}
}

func TestOpenReadOnly(t *testing.T) {
	_, path := testutil.TempLibraryDB(t, "ro.db")

	conn, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec("INSERT INTO library_sections (id, name) VALUES (99, 'x')"); err == nil {
		t.Error("Expected write on read-only connection to fail")
	}
}

func TestOpenEmptyDatabase(t *testing.T) {
	// A freshly created database has no schema rows; the probe must treat
	// that as openable.
	path := filepath.Join(t.TempDir(), "empty.db")
	out, err := OpenOutput(path)
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	if _, err := out.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatalf("Failed to touch database: %v", err)
	}
	out.Close()

	conn, err := Open(path)
	if err != nil {
		t.Fatalf("Open of empty database failed: %v", err)
	}
	conn.Close()
}

func TestOpenOutputDisablesForeignKeys(t *testing.T) {
	_, path := testutil.TempLibraryDB(t, "out.db")

	conn, err := OpenOutput(path)
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	defer conn.Close()

	var fk int
	if err := conn.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("Failed to read foreign_keys pragma: %v", err)
	}
	if fk != 0 {
		t.Errorf("Expected foreign_keys off, got %d", fk)
	}
}

func TestTableHelpers(t *testing.T) {
	fixture, path := testutil.TempLibraryDB(t, "helpers.db")
	testutil.InsertSection(t, fixture, 1, "Movies")
	testutil.InsertItem(t, fixture, 7, 1, nil, "guid://one", "One")
	testutil.InsertItem(t, fixture, 12, 1, nil, "guid://two", "Two")

	conn, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	exists, err := conn.TableExists("metadata_items")
	testutil.AssertNoError(t, err)
	if !exists {
		t.Error("Expected metadata_items to exist")
	}

	exists, err = conn.TableExists("no_such_table")
	testutil.AssertNoError(t, err)
	if exists {
		t.Error("Expected no_such_table to be missing")
	}

	cols, err := conn.TableColumns("metadata_item_settings")
	testutil.AssertNoError(t, err)
	found := false
	for _, c := range cols {
		if c == "guid" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected guid column in metadata_item_settings, got %v", cols)
	}

	max, err := conn.MaxID("metadata_items")
	testutil.AssertNoError(t, err)
	if max != 12 {
		t.Errorf("Expected max id 12, got %d", max)
	}

	max, err = conn.MaxID("missing_table")
	testutil.AssertNoError(t, err)
	if max != 0 {
		t.Errorf("Expected max id 0 for missing table, got %d", max)
	}
}

func TestQuickCheck(t *testing.T) {
	_, path := testutil.TempLibraryDB(t, "check.db")

	conn, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	if err := conn.QuickCheck(); err != nil {
		t.Errorf("Expected quick check to pass, got %v", err)
	}
}

func TestSchemaSQL(t *testing.T) {
	_, path := testutil.TempLibraryDB(t, "schema.db")

	conn, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	sqlText, err := conn.SchemaSQL()
	testutil.AssertNoError(t, err)
	for _, table := range []string{"metadata_items", "media_parts", "metadata_item_views"} {
		if !strings.Contains(sqlText, table) {
			t.Errorf("Expected schema SQL to mention %s", table)
		}
	}
}

func TestIsMalformed(t *testing.T) {
	if IsMalformed(nil) {
		t.Error("nil error must not classify as malformed")
	}
	if !IsMalformed(errors.New("database disk image is malformed")) {
		t.Error("Expected malformed text to classify")
	}
	if !IsMalformed(errors.New("file is not a database")) {
		t.Error("Expected not-a-database text to classify")
	}
	if IsMalformed(errors.New("no such table: foo")) {
		t.Error("Expected generic error not to classify")
	}
}
