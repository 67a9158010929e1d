// Package merge copies rows between Plex library databases: watch history
// and per-item settings matched by guid, and whole new library items with
// dependency-ordered ID remapping.
package merge

import (
	"fmt"

	"github.com/TRU5T/plexdb/internal/db"
	"github.com/TRU5T/plexdb/internal/progress"
)

// Column lists mirror the Plex schema. Rows are carried verbatim; only ids
// and back-references are rewritten.
const (
	viewColumns = "account_id, guid, metadata_type, library_section_id, grandparent_title, " +
		"parent_index, parent_title, [index], title, thumb_url, viewed_at, grandparent_guid, " +
		"originally_available_at, device_id"

	settingColumns = "account_id, guid, rating, view_offset, view_count, last_viewed_at, " +
		"created_at, updated_at, skip_count, last_skipped_at, changed_at, extra_data"
)

// guid sits second in both column lists.
const guidColumnIndex = 1

// WatchResult reports per-table added counts from a natural-key merge.
type WatchResult struct {
	Views    int
	Settings int
}

// GuidMap builds the guid -> id lookup from a database's metadata_items,
// skipping rows with no guid. Built once per job and shared between the
// natural-key merge and preview counting.
func GuidMap(from *db.DB) (map[string]int64, error) {
	m := make(map[string]int64)

	exists, err := from.TableExists("metadata_items")
	if err != nil {
		return nil, err
	}
	if !exists {
		return m, nil
	}

	rows, err := from.Query("SELECT id, guid FROM metadata_items WHERE guid IS NOT NULL AND guid != ''")
	if err != nil {
		return nil, fmt.Errorf("failed to read guids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			guid string
		)
		if err := rows.Scan(&id, &guid); err != nil {
			return nil, fmt.Errorf("failed to scan guid row: %w", err)
		}
		m[guid] = id
	}
	return m, rows.Err()
}

// WatchAndSettings copies watch-history and per-item-settings rows from
// newDB into out for every row whose guid resolves through oldGuids.
// Watch history inserts ignore-on-conflict (an identical existing row
// stays); settings replace-on-conflict (incoming values supersede). Rows
// with unknown guids are dropped silently.
func WatchAndSettings(oldGuids map[string]int64, newDB, out *db.DB, sink progress.Sink) (*WatchResult, error) {
	res := &WatchResult{}

	views, err := copyByGuid(oldGuids, newDB, out, copySpec{
		table:        "metadata_item_views",
		columns:      viewColumns,
		requiredCols: []string{"guid", "metadata_item_id"},
		conflict:     "OR IGNORE",
	}, sink)
	if err != nil {
		return nil, err
	}
	res.Views = views

	settings, err := copyByGuid(oldGuids, newDB, out, copySpec{
		table:        "metadata_item_settings",
		columns:      settingColumns,
		requiredCols: []string{"guid"},
		conflict:     "OR REPLACE",
	}, sink)
	if err != nil {
		return nil, err
	}
	res.Settings = settings

	return res, nil
}

type copySpec struct {
	table        string
	columns      string
	requiredCols []string
	conflict     string
}

// copyByGuid streams rows of one table from newDB into out, filtered
// through the guid lookup. Both source and destination tables must exist
// with the required join columns, otherwise the table is skipped with a
// note.
func copyByGuid(oldGuids map[string]int64, newDB, out *db.DB, spec copySpec, sink progress.Sink) (int, error) {
	ok, err := tablesReady(newDB, out, spec, sink)
	if err != nil || !ok {
		return 0, err
	}

	rows, err := newDB.Query(fmt.Sprintf("SELECT %s FROM %s", spec.columns, spec.table))
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", spec.table, err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return 0, err
	}

	insert := fmt.Sprintf("INSERT %s INTO %s (%s) VALUES (%s)",
		spec.conflict, spec.table, spec.columns, placeholders(len(colNames)))

	added := 0
	for rows.Next() {
		vals := make([]interface{}, len(colNames))
		ptrs := make([]interface{}, len(colNames))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return added, fmt.Errorf("failed to scan %s row: %w", spec.table, err)
		}

		guid := asString(vals[guidColumnIndex])
		if guid == "" {
			continue
		}
		if _, known := oldGuids[guid]; !known {
			continue
		}

		r, err := out.Exec(insert, vals...)
		if err != nil {
			return added, fmt.Errorf("failed to insert into %s: %w", spec.table, err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, rows.Err()
}

// CountWatchAndSettings counts the rows WatchAndSettings would add, without
// writing. Conflict suppression cannot be simulated read-only, so the count
// is the number of guid-resolvable rows.
func CountWatchAndSettings(oldGuids map[string]int64, newDB *db.DB) (*WatchResult, error) {
	res := &WatchResult{}

	views, err := countByGuid(oldGuids, newDB, "metadata_item_views")
	if err != nil {
		return nil, err
	}
	res.Views = views

	settings, err := countByGuid(oldGuids, newDB, "metadata_item_settings")
	if err != nil {
		return nil, err
	}
	res.Settings = settings

	return res, nil
}

func countByGuid(oldGuids map[string]int64, newDB *db.DB, table string) (int, error) {
	exists, err := newDB.TableExists(table)
	if err != nil || !exists {
		return 0, err
	}

	rows, err := newDB.Query(fmt.Sprintf("SELECT guid FROM %s WHERE guid IS NOT NULL AND guid != ''", table))
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return n, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		if _, known := oldGuids[guid]; known {
			n++
		}
	}
	return n, rows.Err()
}

func tablesReady(newDB, out *db.DB, spec copySpec, sink progress.Sink) (bool, error) {
	for _, conn := range []*db.DB{newDB, out} {
		exists, err := conn.TableExists(spec.table)
		if err != nil {
			return false, err
		}
		if !exists {
			sink.Printf("%s missing, skipping", spec.table)
			return false, nil
		}
	}

	for _, conn := range []*db.DB{newDB, out} {
		cols, err := conn.TableColumns(spec.table)
		if err != nil {
			return false, err
		}
		have := make(map[string]bool, len(cols))
		for _, c := range cols {
			have[c] = true
		}
		for _, required := range spec.requiredCols {
			if !have[required] {
				sink.Printf("%s missing column %s, skipping", spec.table, required)
				return false, nil
			}
		}
	}
	return true, nil
}

// asString tolerates drivers returning TEXT as either string or []byte.
func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
