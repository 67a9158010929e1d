package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/TRU5T/plexdb/internal/db"
	"github.com/TRU5T/plexdb/internal/merge"
	"github.com/TRU5T/plexdb/internal/paths"
	"github.com/TRU5T/plexdb/internal/progress"
	"github.com/TRU5T/plexdb/internal/recovery"
)

// previewState drives the explicit two-attempt machine: a first count, one
// forced recovery of both databases when the first count trips over
// deferred corruption, then a second and final count.
type previewState int

const (
	previewFirstAttempt previewState = iota
	previewRecoverBoth
	previewSecondAttempt
	previewDone
	previewFailed
)

// Preview reports what a full merge would do without writing anything. It
// never mutates the inputs or any pre-existing file; its own temp files are
// always removed.
//
// A database that looks openable can still fail mid-count with deferred
// corruption. In that case, when recovery is enabled, BOTH databases are
// recovered fully and the count retried exactly once.
func (e *Engine) Preview(ctx context.Context, oldPath, newPath string, opts Options, sink progress.Sink) (*PreviewStats, error) {
	oldPath = paths.Normalize(oldPath)
	newPath = paths.Normalize(newPath)

	if err := checkInputs(oldPath, newPath); err != nil {
		return nil, err
	}

	temps := newTempSet(e.log)
	defer temps.RemoveAll()

	curOld, curNew := oldPath, newPath
	state := previewFirstAttempt

	var (
		stats   *PreviewStats
		lastErr error
	)
	for {
		switch state {
		case previewFirstAttempt, previewSecondAttempt:
			stats, lastErr = e.countOnce(ctx, curOld, curNew, opts, temps, sink)
			switch {
			case lastErr == nil:
				state = previewDone
			case state == previewFirstAttempt && opts.Recover && retryableCount(lastErr):
				state = previewRecoverBoth
			default:
				state = previewFailed
			}

		case previewRecoverBoth:
			sink.Printf("count failed mid-read, recovering both databases and retrying once")
			recOld, err := e.recoverInto(ctx, oldPath, temps, sink)
			if err != nil {
				lastErr = fmt.Errorf("failed to recover old database: %w", err)
				state = previewFailed
				continue
			}
			recOldPath := recOld.Path()
			recOld.Close()

			recNew, err := e.recoverInto(ctx, newPath, temps, sink)
			if err != nil {
				lastErr = fmt.Errorf("failed to recover new database: %w", err)
				state = previewFailed
				continue
			}
			recNewPath := recNew.Path()
			recNew.Close()

			curOld, curNew = recOldPath, recNewPath
			state = previewSecondAttempt

		case previewDone:
			sink.Printf("preview: %d views, %d settings, %d new items",
				stats.ViewsToAdd, stats.SettingsToAdd, stats.NewItemsToAdd)
			return stats, nil

		case previewFailed:
			return nil, classify(lastErr)
		}
	}
}

// countOnce opens both databases (recovering individually unopenable ones
// when enabled, as the full merge would) and produces the counts.
func (e *Engine) countOnce(ctx context.Context, oldPath, newPath string, opts Options, temps *tempSet, sink progress.Sink) (*PreviewStats, error) {
	oldDB, _, err := e.openOrRecover(ctx, oldPath, "old", opts.Recover, temps, sink)
	if err != nil {
		return nil, err
	}
	defer oldDB.Close()

	newDB, _, err := e.openOrRecover(ctx, newPath, "new", opts.Recover, temps, sink)
	if err != nil {
		return nil, err
	}
	defer newDB.Close()

	oldGuids, err := merge.GuidMap(oldDB)
	if err != nil {
		return nil, err
	}

	wres, err := merge.CountWatchAndSettings(oldGuids, newDB)
	if err != nil {
		return nil, err
	}

	stats := &PreviewStats{ViewsToAdd: wres.Views, SettingsToAdd: wres.Settings}
	if opts.MergeNewItems {
		n, err := merge.CountNewItems(oldGuids, newDB)
		if err != nil {
			return nil, err
		}
		stats.NewItemsToAdd = n
	}
	return stats, nil
}

// retryableCount reports whether a count failure is worth the one-shot
// dual recovery: mid-read corruption, or a database that would not open
// even after its own individual recovery attempt.
func retryableCount(err error) bool {
	if db.IsMalformed(err) || errors.Is(err, db.ErrNotOpenable) {
		// Neither a missing recovery tool nor an empty salvage will
		// improve on retry.
		return !errors.Is(err, recovery.ErrToolMissing) &&
			!errors.Is(err, recovery.ErrNothingRecovered)
	}
	return false
}
