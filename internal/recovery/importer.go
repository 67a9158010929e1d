package recovery

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/TRU5T/plexdb/internal/progress"
)

// Progress cadence for the statement importer: a note every N statements or
// every interval, whichever comes first.
const (
	importNoteEvery    = 1000
	importNoteInterval = 5 * time.Second
)

// ImportStats reports the outcome of a script import. The import is
// considered successful when at least one statement executed.
type ImportStats struct {
	Executed int
	Skipped  int
}

// Success reports whether the import produced anything usable.
func (s *ImportStats) Success() bool {
	return s.Executed > 0
}

// ImportScript executes a SQL script against conn, one statement at a time,
// tolerating malformed statements. Input is processed at line granularity so
// multi-gigabyte recovery scripts are never buffered whole.
//
// Statement splitting tracks whether the scan position is inside a single-
// or double-quoted literal (escape convention: a doubled quote of the same
// kind). A semicolon outside both terminates the statement. A statement
// that fails to execute is counted and skipped, never fatal. Any trailing
// partial statement is executed once at end of input. The script's own
// BEGIN/COMMIT/ROLLBACK are dropped; every statement commits individually.
func ImportScript(ctx context.Context, conn *sql.DB, r io.Reader, sink progress.Sink) (*ImportStats, error) {
	// All statements must run on one connection: recovery scripts open
	// their own transactions, and the pool would otherwise spread BEGIN
	// and COMMIT across different connections.
	single, err := conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer single.Close()

	stats := &ImportStats{}
	var (
		buf      strings.Builder
		inSingle bool
		inDouble bool
		lastNote = time.Now()
	)

	exec := func(raw string) {
		stmt := strings.TrimSpace(raw)
		// Comment-only lines accumulate ahead of the statement proper;
		// drop them rather than discarding the statement they precede.
		for strings.HasPrefix(stmt, "--") {
			idx := strings.IndexByte(stmt, '\n')
			if idx < 0 {
				return
			}
			stmt = strings.TrimSpace(stmt[idx+1:])
		}
		if stmt == "" || stmt == ";" {
			return
		}
		if isTxnControl(stmt) {
			// Each surviving statement commits on its own. Honoring the
			// script's transaction wrapper would let the trailing ROLLBACK
			// a .dump of a corrupt database emits erase every salvaged row.
			return
		}
		if _, err := single.ExecContext(ctx, stmt); err != nil {
			stats.Skipped++
		} else {
			stats.Executed++
		}
		if total := stats.Executed + stats.Skipped; total%importNoteEvery == 0 || time.Since(lastNote) >= importNoteInterval {
			sink.Printf("import progress: %s statements executed, %s skipped",
				humanize.Comma(int64(stats.Executed)), humanize.Comma(int64(stats.Skipped)))
			lastNote = time.Now()
		}
	}

	// Lines are read without a length cap: .recover scripts can emit a
	// whole BLOB column as one single-line INSERT.
	reader := bufio.NewReaderSize(r, 64*1024)

	for {
		line, readErr := reader.ReadString('\n')
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		for i := 0; i < len(line); i++ {
			c := line[i]
			switch {
			case c == '\'' && !inDouble:
				if inSingle && i+1 < len(line) && line[i+1] == '\'' {
					// Escaped quote inside a literal.
					buf.WriteString("''")
					i++
					continue
				}
				inSingle = !inSingle
				buf.WriteByte(c)
			case c == '"' && !inSingle:
				if inDouble && i+1 < len(line) && line[i+1] == '"' {
					buf.WriteString(`""`)
					i++
					continue
				}
				inDouble = !inDouble
				buf.WriteByte(c)
			case c == ';' && !inSingle && !inDouble:
				buf.WriteByte(c)
				exec(buf.String())
				buf.Reset()
			default:
				buf.WriteByte(c)
			}
		}
		// Preserve line breaks inside unterminated statements; string
		// literals in recovery scripts can span lines.
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return stats, fmt.Errorf("failed to read script: %w", readErr)
		}
	}

	// Trailing statement without a terminator.
	exec(buf.String())

	sink.Printf("import finished: %s statements executed, %s skipped",
		humanize.Comma(int64(stats.Executed)), humanize.Comma(int64(stats.Skipped)))

	return stats, nil
}

// isTxnControl matches the BEGIN/COMMIT/ROLLBACK statements a dump script
// wraps its payload in. They are neither executed nor counted.
func isTxnControl(stmt string) bool {
	word := strings.ToUpper(strings.TrimRight(stmt, "; \t"))
	if i := strings.IndexAny(word, " \t\n;"); i >= 0 {
		word = word[:i]
	}
	return word == "BEGIN" || word == "COMMIT" || word == "ROLLBACK"
}
