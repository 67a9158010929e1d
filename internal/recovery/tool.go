package recovery

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrToolMissing marks a missing external sqlite3 executable. Non-fatal to
// the engine: it propagates to callers as an unopenable database.
var ErrToolMissing = errors.New("sqlite3 executable not found")

// ResolveTool locates the sqlite3 executable to shell out to. Precedence:
// explicit override, a bundled copy next to our own binary, then the
// system-resolved name.
func ResolveTool(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("%w: configured path %s: %v", ErrToolMissing, override, err)
		}
		return override, nil
	}

	if exe, err := os.Executable(); err == nil {
		bundled := filepath.Join(filepath.Dir(exe), "sqlite3")
		if info, err := os.Stat(bundled); err == nil && !info.IsDir() {
			return bundled, nil
		}
	}

	path, err := exec.LookPath("sqlite3")
	if err != nil {
		return "", fmt.Errorf("%w: install sqlite3 or set PLEXDB_SQLITE3_BIN", ErrToolMissing)
	}
	return path, nil
}
