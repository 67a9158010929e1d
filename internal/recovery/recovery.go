package recovery

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/TRU5T/plexdb/internal/progress"
)

// ErrNothingRecovered marks a recovery run that completed but yielded no
// importable statements. Treated as recovery failure by callers.
var ErrNothingRecovered = errors.New("recovery produced no importable data")

// Result describes a completed salvage: where the rebuilt database lives,
// which dump facility produced the script, and how it was imported.
type Result struct {
	DBPath     string
	Mode       string // "recover" or "dump"
	BulkImport bool   // false when the statement-skipping importer ran
	Stats      ImportStats
}

// Salvage reconstructs a readable database at destPath from the corrupted
// database at srcPath by shelling out to the sqlite3 executable at tool.
//
// The ".recover" facility emits a best-effort linear SQL script from
// surviving pages; older sqlite3 builds without it fall back to ".dump".
// The script is streamed straight to a temporary file, never buffered in
// memory. A single bulk import is attempted first; if the script ends in a
// rollback or contains statements the shell cannot parse (corrupted
// literals), the statement-skipping importer takes over. A rebuild that
// ends with no tables at all is reported as ErrNothingRecovered.
func Salvage(ctx context.Context, tool, srcPath, destPath, tempDir string, sink progress.Sink) (*Result, error) {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	scriptPath := filepath.Join(tempDir, "plexdb-salvage-"+uuid.NewString()+".sql")
	defer os.Remove(scriptPath)

	res := &Result{DBPath: destPath, Mode: "recover"}

	sink.Printf("salvaging %s with sqlite3 .recover", filepath.Base(srcPath))
	err := dumpScript(ctx, tool, srcPath, scriptPath, ".recover")
	if err != nil && isUnsupportedCommand(err) {
		sink.Printf(".recover not supported by this sqlite3, falling back to .dump")
		res.Mode = "dump"
		err = dumpScript(ctx, tool, srcPath, scriptPath, ".dump")
	}
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(scriptPath)
	if err != nil || info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingRecovered, srcPath)
	}
	sink.Printf("recovery script ready (%s)", humanize.Bytes(uint64(info.Size())))

	// A .dump of a corrupt database closes with "ROLLBACK; -- due to
	// errors", which replays cleanly into an empty database. Such scripts
	// skip the bulk path; the statement importer drops the wrapper so the
	// salvaged rows survive.
	rollsBack, err := scriptRollsBack(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect recovery script: %w", err)
	}
	if rollsBack {
		sink.Printf("recovery script ends in a rollback, using statement-skipping importer")
	} else {
		// Fast path: let the sqlite3 shell replay the whole script. -bail
		// makes a single parse error abort so the slow path can take over.
		if err := bulkImport(ctx, tool, destPath, scriptPath); err == nil {
			if err := verifyRebuilt(destPath); err != nil {
				os.Remove(destPath)
				return nil, fmt.Errorf("%w: %v", ErrNothingRecovered, err)
			}
			res.BulkImport = true
			sink.Printf("rebuilt database via bulk import")
			return res, nil
		}
		sink.Printf("bulk import failed, retrying with statement-skipping importer")
	}

	// Bulk import may have left a partial database behind.
	os.Remove(destPath)

	conn, err := sql.Open("sqlite3", destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create rebuilt database: %w", err)
	}
	defer conn.Close()

	script, err := os.Open(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen recovery script: %w", err)
	}
	defer script.Close()

	stats, err := ImportScript(ctx, conn, script, sink)
	if err != nil {
		return nil, err
	}
	res.Stats = *stats
	if !stats.Success() {
		return nil, fmt.Errorf("%w: %s", ErrNothingRecovered, srcPath)
	}
	if err := verifyRebuilt(destPath); err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("%w: %v", ErrNothingRecovered, err)
	}
	return res, nil
}

// scriptRollsBack reports whether the script's tail contains a ROLLBACK,
// the way ".dump" finishes after hitting unreadable pages.
func scriptRollsBack(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	const tailLen = 256
	off := info.Size() - tailLen
	if off < 0 {
		off = 0
	}
	buf := make([]byte, tailLen)
	n, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return false, err
	}
	return bytes.Contains(buf[:n], []byte("ROLLBACK;")), nil
}

// verifyRebuilt guards against a rebuild that imported cleanly but carried
// no schema, which downstream would read as an empty library.
func verifyRebuilt(path string) error {
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer conn.Close()

	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&n); err != nil {
		return fmt.Errorf("failed to inspect rebuilt database: %w", err)
	}
	if n == 0 {
		return errors.New("rebuilt database has no tables")
	}
	return nil
}

// dumpScript runs `sqlite3 <src> <command>` streaming stdout directly into
// scriptPath.
func dumpScript(ctx context.Context, tool, src, scriptPath, command string) error {
	out, err := os.Create(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to create script file: %w", err)
	}
	defer out.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, src, command)
	cmd.Stdout = out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrToolMissing, tool)
		}
		return fmt.Errorf("sqlite3 %s failed: %v: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// bulkImport runs `sqlite3 -bail <dest>` with the script as stdin.
func bulkImport(ctx context.Context, tool, dest, scriptPath string) error {
	script, err := os.Open(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to open recovery script: %w", err)
	}
	defer script.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, "-bail", dest)
	cmd.Stdin = script
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("bulk import failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// isUnsupportedCommand detects an sqlite3 shell that predates .recover.
func isUnsupportedCommand(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown command") || strings.Contains(msg, `"recover"`)
}
