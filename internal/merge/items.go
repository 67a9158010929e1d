package merge

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/TRU5T/plexdb/internal/db"
	"github.com/TRU5T/plexdb/internal/progress"
)

const (
	metadataColumns = "id, library_section_id, parent_id, metadata_type, guid, media_item_count, " +
		"title, title_sort, original_title, studio, rating, rating_count, tagline, summary, trivia, quotes, " +
		"content_rating, content_rating_age, [index], absolute_index, duration, user_thumb_url, user_art_url, " +
		"user_banner_url, user_music_url, user_fields, tags_genre, tags_collection, tags_director, tags_writer, " +
		"tags_star, originally_available_at, available_at, expires_at, refreshed_at, year, added_at, created_at, " +
		"updated_at, deleted_at, tags_country, extra_data, hash, audience_rating, changed_at, resources_changed_at, remote"

	mediaItemColumns = "id, library_section_id, section_location_id, metadata_item_id, type_id, width, height, " +
		"size, duration, bitrate, container, video_codec, audio_codec, display_aspect_ratio, frames_per_second, " +
		"audio_channels, interlaced, source, hints, display_offset, settings, created_at, updated_at, " +
		"optimized_for_streaming, deleted_at, media_analysis_version, sample_aspect_ratio, extra_data, " +
		"proxy_type, channel_id, begins_at, ends_at"

	mediaPartColumns = "id, media_item_id, directory_id, hash, open_subtitle_hash, file, [index], size, " +
		"duration, created_at, updated_at, deleted_at, extra_data"

	mediaStreamColumns = "id, stream_type_id, media_item_id, url, codec, language, created_at, updated_at, " +
		"[index], media_part_id, channels, bitrate, url_index, [default], forced, extra_data"
)

// Column positions inside the lists above.
const (
	metaIdxID      = 0
	metaIdxSection = 1
	metaIdxParent  = 2
	metaIdxGuid    = 4

	mediaIdxID       = 0
	mediaIdxMetaItem = 3

	partIdxID        = 0
	partIdxMediaItem = 1

	streamIdxID        = 0
	streamIdxMediaItem = 2
)

const importItemNoteEvery = 500

// candidate is one new-side metadata item considered for import.
type candidate struct {
	id        int64
	sectionID sql.NullInt64
	parentID  sql.NullInt64
	vals      []interface{} // full row, positions per metadataColumns
}

// ItemsResult reports what the dependency-ordered importer did.
type ItemsResult struct {
	ItemsAdded   int
	ItemsSkipped int // orphans, cycles, unknown sections
	MediaItems   int
	MediaParts   int
	MediaStreams int
}

// NewItems copies every metadata item from newDB whose guid is absent from
// old, plus its media_items, media_parts and media_streams, into out. Every
// internal id is remapped to a fresh range above out's current per-table
// maximum; parent and ownership back-references follow the remap.
//
// Candidates are placed by repeated passes over an explicit pending queue:
// a pass inserts every candidate whose parent is outside the candidate set
// or already placed. A pass with zero progress stops the loop and the
// remainder is skipped permanently (orphan and cycle guard). A candidate
// whose library_section_id has no match in old is also skipped, without
// being treated as placed, so its descendants fall into the orphan guard.
//
// Known limitation: media_streams.media_part_id is carried verbatim,
// unremapped. The column is non-enforced metadata and foreign-key checking
// stays off on the output connection.
func NewItems(old, newDB, out *db.DB, sink progress.Sink) (*ItemsResult, error) {
	res := &ItemsResult{}

	for _, conn := range []*db.DB{old, newDB} {
		exists, err := conn.TableExists("metadata_items")
		if err != nil {
			return nil, err
		}
		if !exists {
			sink.Printf("metadata_items missing, skipping item import")
			return res, nil
		}
	}

	oldGuids, err := GuidMap(old)
	if err != nil {
		return nil, err
	}
	oldSections, err := sectionIDs(old)
	if err != nil {
		return nil, err
	}

	candidates, err := loadCandidates(newDB, oldGuids)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		sink.Printf("no new library items to import")
		return res, nil
	}
	sink.Printf("found %s new library items", humanize.Comma(int64(len(candidates))))

	maxMetaID, err := out.MaxID("metadata_items")
	if err != nil {
		return nil, err
	}

	// Fresh ids are preassigned so parents can be rewritten before the
	// parent row itself is placed in a later pass.
	idMap := make(map[int64]int64, len(candidates))
	inSet := make(map[int64]bool, len(candidates))
	nextID := maxMetaID + 1
	for _, c := range candidates {
		idMap[c.id] = nextID
		inSet[c.id] = true
		nextID++
	}

	tx, err := out.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin import transaction: %w", err)
	}
	defer tx.Rollback()

	insertItem := fmt.Sprintf("INSERT INTO metadata_items (%s) VALUES (%s)",
		metadataColumns, placeholders(len(strings.Split(metadataColumns, ","))))

	placed := make(map[int64]bool, len(candidates))
	pending := candidates
	for len(pending) > 0 {
		var stalled []candidate
		progressed := 0

		for _, c := range pending {
			parentPending := c.parentID.Valid && inSet[c.parentID.Int64] && !placed[c.parentID.Int64]
			if parentPending {
				stalled = append(stalled, c)
				continue
			}

			if c.sectionID.Valid && c.sectionID.Int64 != 0 && !oldSections[c.sectionID.Int64] {
				// Section unknown to old: skip permanently, and do not
				// mark placed so descendants become orphans.
				res.ItemsSkipped++
				progressed++
				continue
			}

			c.vals[metaIdxID] = idMap[c.id]
			if c.parentID.Valid && inSet[c.parentID.Int64] {
				c.vals[metaIdxParent] = idMap[c.parentID.Int64]
			}

			if _, err := tx.Exec(insertItem, c.vals...); err != nil {
				return nil, fmt.Errorf("failed to insert metadata item: %w", err)
			}
			placed[c.id] = true
			res.ItemsAdded++
			progressed++

			if res.ItemsAdded%importItemNoteEvery == 0 {
				sink.Printf("imported %s library items", humanize.Comma(int64(res.ItemsAdded)))
			}
		}

		if progressed == 0 {
			// Remaining candidates have parents that can never be placed
			// (cycles, or children of skipped rows). Permanent skip.
			res.ItemsSkipped += len(stalled)
			sink.Printf("skipped %d items with unresolvable parents", len(stalled))
			break
		}
		pending = stalled
	}

	if err := copyMediaTree(newDB, out, tx, placed, idMap, res, sink); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import transaction: %w", err)
	}

	sink.Printf("imported %d library items (%d media items, %d parts, %d streams)",
		res.ItemsAdded, res.MediaItems, res.MediaParts, res.MediaStreams)
	return res, nil
}

// CountNewItems counts the metadata items NewItems would import, without
// writing: new-side guids absent from old's full guid set.
func CountNewItems(oldGuids map[string]int64, newDB *db.DB) (int, error) {
	exists, err := newDB.TableExists("metadata_items")
	if err != nil || !exists {
		return 0, err
	}

	rows, err := newDB.Query("SELECT guid FROM metadata_items WHERE guid IS NOT NULL AND guid != ''")
	if err != nil {
		return 0, fmt.Errorf("failed to read new guids: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return n, fmt.Errorf("failed to scan guid: %w", err)
		}
		if _, known := oldGuids[guid]; !known {
			n++
		}
	}
	return n, rows.Err()
}

// loadCandidates reads all new-side metadata items whose guid is absent
// from old.
func loadCandidates(newDB *db.DB, oldGuids map[string]int64) ([]candidate, error) {
	rows, err := newDB.Query(fmt.Sprintf("SELECT %s FROM metadata_items", metadataColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to read new metadata items: %w", err)
	}
	defer rows.Close()

	ncols := len(strings.Split(metadataColumns, ","))
	var candidates []candidate
	for rows.Next() {
		vals := make([]interface{}, ncols)
		ptrs := make([]interface{}, ncols)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan metadata item: %w", err)
		}

		guid := asString(vals[metaIdxGuid])
		if guid == "" {
			continue
		}
		if _, known := oldGuids[guid]; known {
			continue
		}

		id, ok := asInt64(vals[metaIdxID])
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{
			id:        id,
			sectionID: asNullInt64(vals[metaIdxSection]),
			parentID:  asNullInt64(vals[metaIdxParent]),
			vals:      vals,
		})
	}
	return candidates, rows.Err()
}

// copyMediaTree copies the media_items, media_parts and media_streams
// belonging to the placed metadata items, remapping ids and ownership
// references table by table.
func copyMediaTree(newDB, out *db.DB, tx *sql.Tx, placed map[int64]bool, metaIDMap map[int64]int64, res *ItemsResult, sink progress.Sink) error {
	if len(placed) == 0 {
		return nil
	}

	ok, err := bothHaveTable(newDB, out, "media_items")
	if err != nil || !ok {
		return err
	}

	placedIDs := make([]int64, 0, len(placed))
	for id := range placed {
		placedIDs = append(placedIDs, id)
	}

	maxMediaID, err := out.MaxID("media_items")
	if err != nil {
		return err
	}

	mediaIDMap := make(map[int64]int64)
	nextMediaID := maxMediaID + 1

	err = copyOwnedRows(newDB, tx, copyOwnedSpec{
		table:    "media_items",
		columns:  mediaItemColumns,
		idIdx:    mediaIdxID,
		ownerIdx: mediaIdxMetaItem,
		ownerIDs: placedIDs,
		ownerMap: metaIDMap,
		assignID: func(oldID int64) int64 {
			fresh := nextMediaID
			mediaIDMap[oldID] = fresh
			nextMediaID++
			return fresh
		},
		count: &res.MediaItems,
	})
	if err != nil {
		return err
	}
	if len(mediaIDMap) == 0 {
		return nil
	}

	mediaIDs := make([]int64, 0, len(mediaIDMap))
	for id := range mediaIDMap {
		mediaIDs = append(mediaIDs, id)
	}

	if ok, err := bothHaveTable(newDB, out, "media_parts"); err != nil {
		return err
	} else if ok {
		maxPartID, err := out.MaxID("media_parts")
		if err != nil {
			return err
		}
		nextPartID := maxPartID + 1
		err = copyOwnedRows(newDB, tx, copyOwnedSpec{
			table:    "media_parts",
			columns:  mediaPartColumns,
			idIdx:    partIdxID,
			ownerIdx: partIdxMediaItem,
			ownerIDs: mediaIDs,
			ownerMap: mediaIDMap,
			assignID: func(int64) int64 {
				fresh := nextPartID
				nextPartID++
				return fresh
			},
			count: &res.MediaParts,
		})
		if err != nil {
			return err
		}
	}

	if ok, err := bothHaveTable(newDB, out, "media_streams"); err != nil {
		return err
	} else if ok {
		maxStreamID, err := out.MaxID("media_streams")
		if err != nil {
			return err
		}
		nextStreamID := maxStreamID + 1
		// media_part_id inside each stream row rides along unremapped.
		err = copyOwnedRows(newDB, tx, copyOwnedSpec{
			table:    "media_streams",
			columns:  mediaStreamColumns,
			idIdx:    streamIdxID,
			ownerIdx: streamIdxMediaItem,
			ownerIDs: mediaIDs,
			ownerMap: mediaIDMap,
			assignID: func(int64) int64 {
				fresh := nextStreamID
				nextStreamID++
				return fresh
			},
			count: &res.MediaStreams,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

type copyOwnedSpec struct {
	table    string
	columns  string
	idIdx    int
	ownerIdx int
	ownerIDs []int64           // new-side owner ids to select by
	ownerMap map[int64]int64   // new-side owner id -> fresh id in out
	assignID func(int64) int64 // fresh id for each copied row
	count    *int
}

// copyOwnedRows copies rows owned by a set of parent rows, rewriting the
// row id and the ownership back-reference.
func copyOwnedRows(newDB *db.DB, tx *sql.Tx, spec copyOwnedSpec) error {
	ownerCol := strings.TrimSpace(strings.Split(spec.columns, ",")[spec.ownerIdx])
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		spec.columns, spec.table, ownerCol, joinIDs(spec.ownerIDs))

	rows, err := newDB.Query(query)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", spec.table, err)
	}
	defer rows.Close()

	ncols := len(strings.Split(spec.columns, ","))
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.table, spec.columns, placeholders(ncols))

	for rows.Next() {
		vals := make([]interface{}, ncols)
		ptrs := make([]interface{}, ncols)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan %s row: %w", spec.table, err)
		}

		oldID, ok := asInt64(vals[spec.idIdx])
		if !ok {
			continue
		}
		ownerID, ok := asInt64(vals[spec.ownerIdx])
		if !ok {
			continue
		}
		freshOwner, ok := spec.ownerMap[ownerID]
		if !ok {
			continue
		}

		vals[spec.idIdx] = spec.assignID(oldID)
		vals[spec.ownerIdx] = freshOwner

		if _, err := tx.Exec(insert, vals...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", spec.table, err)
		}
		*spec.count++
	}
	return rows.Err()
}

func sectionIDs(old *db.DB) (map[int64]bool, error) {
	out := make(map[int64]bool)
	exists, err := old.TableExists("library_sections")
	if err != nil || !exists {
		return out, err
	}

	rows, err := old.Query("SELECT id FROM library_sections")
	if err != nil {
		return nil, fmt.Errorf("failed to read library sections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan section id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func bothHaveTable(a, b *db.DB, table string) (bool, error) {
	for _, conn := range []*db.DB{a, b} {
		exists, err := conn.TableExists(table)
		if err != nil || !exists {
			return false, err
		}
	}
	return true, nil
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func asNullInt64(v interface{}) sql.NullInt64 {
	if n, ok := asInt64(v); ok {
		return sql.NullInt64{Int64: n, Valid: true}
	}
	return sql.NullInt64{}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
