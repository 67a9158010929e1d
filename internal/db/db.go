package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotOpenable marks a database that cannot be connected or queried.
	ErrNotOpenable = errors.New("database not openable")

	// ErrMalformed marks a database that opened but failed mid-read with
	// corruption. Distinct from ErrNotOpenable so callers can suggest
	// recovery instead of just failing.
	ErrMalformed = errors.New("database is malformed")
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
	path string
}

// Open opens a database strictly read-only and runs a minimal access probe.
// It deliberately avoids PRAGMA integrity_check: Plex databases carry custom
// virtual-table extensions (search indexes) that a full scan cannot traverse
// without the matching module loaded. Any connect or probe failure
// classifies as ErrNotOpenable with the underlying error attached.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotOpenable, path, err)
	}

	// Trial query: touches the schema table without scanning content pages.
	var name string
	err = conn.QueryRow("SELECT name FROM sqlite_master LIMIT 1").Scan(&name)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		conn.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrNotOpenable, path, err)
	}

	return &DB{DB: conn, path: path}, nil
}

// OpenOutput opens a database read-write with foreign-key checking disabled.
// The merge intentionally writes rows whose cross-table references are
// resolved by its own ID remapping, not by the engine.
func OpenOutput(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open output database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = OFF"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to disable foreign keys: %w", err)
	}

	return &DB{DB: conn, path: path}, nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// TableExists reports whether a table of the given name exists.
func (db *DB) TableExists(name string) (bool, error) {
	var found string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return true, nil
}

// TableColumns returns the column names of a table in declaration order.
func (db *DB) TableColumns(table string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// MaxID returns the highest id in a table, or 0 when the table is empty or
// does not exist. Fresh ids for imported rows are assigned above this.
func (db *DB) MaxID(table string) (int64, error) {
	exists, err := db.TableExists(table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	var max int64
	if err := db.QueryRow(fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", table)).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read max id of %s: %w", table, err)
	}
	return max, nil
}

// QuickCheck runs a best-effort structural check. It uses quick_check rather
// than integrity_check so virtual-table extensions are not traversed.
func (db *DB) QuickCheck() error {
	var result string
	if err := db.QueryRow("PRAGMA quick_check(1)").Scan(&result); err != nil {
		return fmt.Errorf("structural check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("structural check reported: %s", result)
	}
	return nil
}

// SchemaSQL returns the CREATE statements of all schema objects, sorted by
// name, one per line. Used for diffing two databases structurally.
func (db *DB) SchemaSQL() (string, error) {
	rows, err := db.Query("SELECT sql FROM sqlite_master WHERE sql IS NOT NULL ORDER BY name")
	if err != nil {
		return "", fmt.Errorf("failed to read schema: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("failed to scan schema row: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString(";\n")
	}
	return b.String(), rows.Err()
}

// IsMalformed reports whether err indicates database corruption surfacing
// after a successful open (SQLITE_CORRUPT or SQLITE_NOTADB).
func IsMalformed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformed) {
		return true
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrCorrupt || serr.Code == sqlite3.ErrNotADB
	}
	msg := err.Error()
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database")
}
