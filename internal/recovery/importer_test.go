package recovery

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TRU5T/plexdb/internal/testutil"
)

func newTargetDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "import.db"))
	if err != nil {
		t.Fatalf("Failed to open target database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func runImport(t *testing.T, script string) (*sql.DB, *ImportStats) {
	t.Helper()
	conn := newTargetDB(t)
	stats, err := ImportScript(context.Background(), conn, strings.NewReader(script), nil)
	if err != nil {
		t.Fatalf("ImportScript failed: %v", err)
	}
	return conn, stats
}

func TestImportWellFormedAndBroken(t *testing.T) {
	// K well-formed statements, M statements with broken literals: exactly
	// K executed, M skipped.
	script := `CREATE TABLE t (id INTEGER, val TEXT);
INSERT INTO t VALUES (1, 'a;b');
INSERT INTO t VALUES (2, GARBAGE$%^);
INSERT INTO t VALUES (3, 'ok');
INSERT INTO t VALUES (4, MORE GARBAGE);
`
	conn, stats := runImport(t, script)

	if stats.Executed != 3 {
		t.Errorf("Expected 3 executed, got %d", stats.Executed)
	}
	if stats.Skipped != 2 {
		t.Errorf("Expected 2 skipped, got %d", stats.Skipped)
	}
	if !stats.Success() {
		t.Error("Expected import to count as success")
	}

	// The embedded semicolon must not have split the first insert.
	var val string
	if err := conn.QueryRow("SELECT val FROM t WHERE id = 1").Scan(&val); err != nil {
		t.Fatalf("Failed to read row 1: %v", err)
	}
	if val != "a;b" {
		t.Errorf("Expected literal 'a;b' preserved, got %q", val)
	}
	if n := testutil.CountRows(t, conn, "t"); n != 2 {
		t.Errorf("Expected 2 rows, got %d", n)
	}
}

func TestImportEscapedQuotes(t *testing.T) {
	script := `CREATE TABLE t (val TEXT);
INSERT INTO t VALUES ('it''s; fine');
`
	conn, stats := runImport(t, script)

	if stats.Executed != 2 || stats.Skipped != 0 {
		t.Errorf("Expected 2 executed / 0 skipped, got %d / %d", stats.Executed, stats.Skipped)
	}
	var val string
	if err := conn.QueryRow("SELECT val FROM t").Scan(&val); err != nil {
		t.Fatalf("Failed to read row: %v", err)
	}
	if val != "it's; fine" {
		t.Errorf("Expected escaped quote preserved, got %q", val)
	}
}

func TestImportDoubleQuotedIdentifier(t *testing.T) {
	script := `CREATE TABLE "odd;name" (id INTEGER);
INSERT INTO "odd;name" VALUES (1);
`
	conn, stats := runImport(t, script)

	if stats.Executed != 2 || stats.Skipped != 0 {
		t.Errorf("Expected 2 executed / 0 skipped, got %d / %d", stats.Executed, stats.Skipped)
	}
	if n := testutil.QueryInt(t, conn, `SELECT COUNT(*) FROM "odd;name"`); n != 1 {
		t.Errorf("Expected 1 row, got %d", n)
	}
}

func TestImportMultiLineStatement(t *testing.T) {
	script := "CREATE TABLE t (\n  id INTEGER,\n  val TEXT\n);\nINSERT INTO t\nVALUES (1, 'multi\nline');\n"
	conn, stats := runImport(t, script)

	if stats.Executed != 2 {
		t.Errorf("Expected 2 executed, got %d", stats.Executed)
	}
	var val string
	if err := conn.QueryRow("SELECT val FROM t").Scan(&val); err != nil {
		t.Fatalf("Failed to read row: %v", err)
	}
	if val != "multi\nline" {
		t.Errorf("Expected literal newline preserved, got %q", val)
	}
}

func TestImportTrailingStatementWithoutSemicolon(t *testing.T) {
	script := "CREATE TABLE t (id INTEGER);\nINSERT INTO t VALUES (5)"
	conn, stats := runImport(t, script)

	if stats.Executed != 2 {
		t.Errorf("Expected trailing statement to execute, got %d executed", stats.Executed)
	}
	if n := testutil.CountRows(t, conn, "t"); n != 1 {
		t.Errorf("Expected 1 row, got %d", n)
	}
}

func TestImportSkipsCommentsAndBlanks(t *testing.T) {
	script := `-- a comment;
CREATE TABLE t (id INTEGER);

-- another comment
INSERT INTO t VALUES (1);
`
	_, stats := runImport(t, script)

	if stats.Executed != 2 || stats.Skipped != 0 {
		t.Errorf("Expected 2 executed / 0 skipped, got %d / %d", stats.Executed, stats.Skipped)
	}
}

func TestImportEmptyScript(t *testing.T) {
	_, stats := runImport(t, "")
	if stats.Success() {
		t.Error("Expected empty script to count as failure")
	}
	if stats.Executed != 0 || stats.Skipped != 0 {
		t.Errorf("Expected 0/0, got %d/%d", stats.Executed, stats.Skipped)
	}
}

func TestImportIgnoresTransactionWrapper(t *testing.T) {
	// A dump of a damaged database wraps its payload in BEGIN ... ROLLBACK.
	// Replaying that wrapper literally would erase every imported row.
	script := `PRAGMA foreign_keys=OFF;
BEGIN TRANSACTION;
CREATE TABLE t (val TEXT);
INSERT INTO t VALUES ('a');
INSERT INTO t VALUES ('b');
ROLLBACK; -- due to errors
`
	conn, stats := runImport(t, script)

	if stats.Executed != 4 || stats.Skipped != 0 {
		t.Errorf("Expected 4 executed / 0 skipped, got %d / %d", stats.Executed, stats.Skipped)
	}
	if n := testutil.CountRows(t, conn, "t"); n != 2 {
		t.Errorf("Expected both rows to survive the rollback wrapper, got %d", n)
	}
}

func TestImportSingleOversizedLine(t *testing.T) {
	// Recovery scripts can put a whole BLOB column on one line.
	big := strings.Repeat("x", 17*1024*1024)
	script := "CREATE TABLE t (val TEXT);\nINSERT INTO t VALUES ('" + big + "');\n"
	conn, stats := runImport(t, script)

	if stats.Executed != 2 || stats.Skipped != 0 {
		t.Errorf("Expected 2 executed / 0 skipped, got %d / %d", stats.Executed, stats.Skipped)
	}
	if n := testutil.QueryInt(t, conn, "SELECT LENGTH(val) FROM t"); n != int64(len(big)) {
		t.Errorf("Expected %d-byte literal preserved, got %d", len(big), n)
	}
}

func TestImportNeverAbortsOnBadStatement(t *testing.T) {
	// A bad statement in the middle must not stop later ones.
	script := `CREATE TABLE t (id INTEGER);
THIS IS NOT SQL;
INSERT INTO t VALUES (1);
INSERT INTO t VALUES (2);
`
	conn, stats := runImport(t, script)

	if stats.Skipped != 1 {
		t.Errorf("Expected 1 skipped, got %d", stats.Skipped)
	}
	if n := testutil.CountRows(t, conn, "t"); n != 2 {
		t.Errorf("Expected both inserts after the bad statement, got %d rows", n)
	}
}
