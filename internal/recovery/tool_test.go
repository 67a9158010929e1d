package recovery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveToolOverride(t *testing.T) {
	fake := filepath.Join(t.TempDir(), "sqlite3")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("Failed to write fake tool: %v", err)
	}

	path, err := ResolveTool(fake)
	if err != nil {
		t.Fatalf("ResolveTool failed: %v", err)
	}
	if path != fake {
		t.Errorf("Expected override path %q, got %q", fake, path)
	}
}

func TestResolveToolMissingOverride(t *testing.T) {
	_, err := ResolveTool(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrToolMissing) {
		t.Errorf("Expected ErrToolMissing, got %v", err)
	}
}

func TestResolveToolMissingEverywhere(t *testing.T) {
	// Empty PATH and no bundled copy next to the test binary.
	t.Setenv("PATH", t.TempDir())

	_, err := ResolveTool("")
	if !errors.Is(err, ErrToolMissing) {
		t.Errorf("Expected ErrToolMissing with empty PATH, got %v", err)
	}
}

func TestResolveToolFromPath(t *testing.T) {
	dir := t.TempDir()
	fake := filepath.Join(dir, "sqlite3")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("Failed to write fake tool: %v", err)
	}
	t.Setenv("PATH", dir)

	path, err := ResolveTool("")
	if err != nil {
		t.Fatalf("ResolveTool failed: %v", err)
	}
	if path != fake {
		t.Errorf("Expected PATH-resolved %q, got %q", fake, path)
	}
}
