// Package engine orchestrates the full-merge and preview jobs: opening and
// recovering the input databases, running the natural-key merge and the
// item importer, and guaranteeing temp cleanup on every exit path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/TRU5T/plexdb/internal/config"
	"github.com/TRU5T/plexdb/internal/db"
	"github.com/TRU5T/plexdb/internal/merge"
	"github.com/TRU5T/plexdb/internal/paths"
	"github.com/TRU5T/plexdb/internal/progress"
	"github.com/TRU5T/plexdb/internal/recovery"
)

var (
	// ErrInputNotFound marks an input path that is not a readable file.
	ErrInputNotFound = errors.New("input file not found")

	// ErrRecoveryNeeded marks a database that failed mid-read with
	// corruption while recovery was not enabled.
	ErrRecoveryNeeded = errors.New("database is corrupt; enable recovery and try again")
)

// Options control one merge or preview job.
type Options struct {
	Recover       bool
	MergeNewItems bool
}

// Result reports a completed full merge.
type Result struct {
	ViewsAdded    int
	SettingsAdded int
	ItemsAdded    int
	RecoveredOld  bool
	RecoveredNew  bool
	OutputPath    string
}

// PreviewStats reports what a full merge would do, without writing.
type PreviewStats struct {
	ViewsToAdd    int
	SettingsToAdd int
	NewItemsToAdd int
}

// Engine runs one job at a time. It holds no internal lock: serializing
// concurrent jobs over the same files is the caller's responsibility, and
// a progress sink must not be shared between jobs.
type Engine struct {
	cfg *config.Config
	log *slog.Logger
}

// New creates an engine. A nil logger discards engine detail.
func New(cfg *config.Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{cfg: cfg, log: log}
}

// FullMerge merges newPath into a copy of oldPath written at outPath.
// The inputs are never mutated; outPath is overwritten if it exists.
func (e *Engine) FullMerge(ctx context.Context, oldPath, newPath, outPath string, opts Options, sink progress.Sink) (*Result, error) {
	oldPath = paths.Normalize(oldPath)
	newPath = paths.Normalize(newPath)
	outPath = paths.Normalize(outPath)

	if err := checkInputs(oldPath, newPath); err != nil {
		return nil, err
	}

	temps := newTempSet(e.log)
	defer temps.RemoveAll()

	oldDB, recoveredOld, err := e.openOrRecover(ctx, oldPath, "old", opts.Recover, temps, sink)
	if err != nil {
		sink.Printf("cannot open old (backup) database")
		return nil, err
	}
	defer oldDB.Close()

	if err := copyFile(oldDB.Path(), outPath); err != nil {
		return nil, fmt.Errorf("failed to copy old database to output: %w", err)
	}
	if info, err := os.Stat(outPath); err == nil {
		sink.Printf("created writable copy at %s (%s)", outPath, humanize.Bytes(uint64(info.Size())))
	}

	outDB, err := db.OpenOutput(outPath)
	if err != nil {
		return nil, err
	}
	defer outDB.Close()

	newDB, recoveredNew, err := e.openOrRecover(ctx, newPath, "new", opts.Recover, temps, sink)
	if err != nil {
		sink.Printf("cannot open new database; try enabling recovery")
		return nil, err
	}
	defer newDB.Close()

	res := &Result{RecoveredOld: recoveredOld, RecoveredNew: recoveredNew, OutputPath: outPath}

	oldGuids, err := merge.GuidMap(oldDB)
	if err != nil {
		return nil, classify(err)
	}

	wres, err := merge.WatchAndSettings(oldGuids, newDB, outDB, sink)
	if err != nil {
		return nil, classify(err)
	}
	res.ViewsAdded = wres.Views
	res.SettingsAdded = wres.Settings
	sink.Printf("merged watch history: %d views, %d settings", wres.Views, wres.Settings)

	if opts.MergeNewItems {
		ires, err := merge.NewItems(oldDB, newDB, outDB, sink)
		if err != nil {
			return nil, classify(err)
		}
		res.ItemsAdded = ires.ItemsAdded
		sink.Printf("merged new library items: %d", ires.ItemsAdded)
	}

	// Best effort: a failed structural check is reported, not fatal.
	if err := outDB.QuickCheck(); err != nil {
		e.log.Warn("structural check failed", "output", outPath, "error", err)
		sink.Printf("warning: output structural check failed: %v", err)
	} else {
		sink.Printf("output structural check: ok")
	}

	sink.Printf("done; replace the Plex database with %s while Plex is stopped", outPath)
	return res, nil
}

// openOrRecover opens a database read-only, salvaging it through the
// recovery pipeline when it is unreadable and recovery is enabled. The
// recovered copy is registered in temps and removed with the job.
func (e *Engine) openOrRecover(ctx context.Context, path, label string, allowRecover bool, temps *tempSet, sink progress.Sink) (*db.DB, bool, error) {
	conn, err := db.Open(path)
	if err == nil {
		return conn, false, nil
	}
	if !allowRecover {
		return nil, false, err
	}
	e.log.Info("database unreadable, attempting recovery", "db", label, "path", path, "error", err)
	sink.Printf("%s database unreadable, attempting recovery", label)

	conn, err = e.recoverInto(ctx, path, temps, sink)
	if err != nil {
		// A missing tool or an empty salvage both leave the database
		// unopenable; the original open failure category stands.
		return nil, false, fmt.Errorf("%w: recovery failed: %w", db.ErrNotOpenable, err)
	}
	sink.Printf("recovered %s database", label)
	return conn, true, nil
}

// recoverInto salvages path into a fresh temp database and opens it.
func (e *Engine) recoverInto(ctx context.Context, path string, temps *tempSet, sink progress.Sink) (*db.DB, error) {
	tool, err := recovery.ResolveTool(e.cfg.Sqlite3Bin)
	if err != nil {
		return nil, err
	}

	recoveredPath := filepath.Join(e.tempDir(), "plexdb-recovered-"+uuid.NewString()+".db")
	temps.Add(recoveredPath)

	res, err := recovery.Salvage(ctx, tool, path, recoveredPath, e.tempDir(), sink)
	if err != nil {
		return nil, err
	}
	e.log.Info("salvage complete", "mode", res.Mode, "bulk", res.BulkImport,
		"executed", res.Stats.Executed, "skipped", res.Stats.Skipped)

	return db.Open(recoveredPath)
}

func (e *Engine) tempDir() string {
	if e.cfg.TempDir != "" {
		return e.cfg.TempDir
	}
	return os.TempDir()
}

// classify folds mid-read corruption into the distinct "enable recovery"
// category; everything else surfaces generically.
func classify(err error) error {
	if db.IsMalformed(err) {
		return fmt.Errorf("%w: %w", ErrRecoveryNeeded, err)
	}
	return err
}

func checkInputs(pathList ...string) error {
	for _, p := range pathList {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s", ErrInputNotFound, p)
		}
	}
	return nil
}

// copyFile byte-copies src to dst, overwriting dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// tempSet tracks temp files for guaranteed removal on every exit path.
type tempSet struct {
	paths []string
	log   *slog.Logger
}

func newTempSet(log *slog.Logger) *tempSet {
	return &tempSet{log: log}
}

func (t *tempSet) Add(path string) {
	t.paths = append(t.paths, path)
}

func (t *tempSet) RemoveAll() {
	for _, p := range t.paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.log.Warn("failed to remove temp file", "path", p, "error", err)
		}
	}
	t.paths = nil
}
