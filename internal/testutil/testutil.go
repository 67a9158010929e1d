package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// libraryDDL is a miniature of the Plex library schema: the tables the
// merge engine touches, with the unique indexes the conflict policies rely
// on. Descriptive columns not read by the engine are omitted from fixtures
// where the engine copies them generically.
var libraryDDL = []string{
	`CREATE TABLE library_sections (
		id INTEGER PRIMARY KEY,
		name TEXT,
		section_type INTEGER
	)`,
	`CREATE TABLE metadata_items (
		id INTEGER PRIMARY KEY,
		library_section_id INTEGER,
		parent_id INTEGER,
		metadata_type INTEGER,
		guid TEXT,
		media_item_count INTEGER,
		title TEXT,
		title_sort TEXT,
		original_title TEXT,
		studio TEXT,
		rating REAL,
		rating_count INTEGER,
		tagline TEXT,
		summary TEXT,
		trivia TEXT,
		quotes TEXT,
		content_rating TEXT,
		content_rating_age INTEGER,
		[index] INTEGER,
		absolute_index INTEGER,
		duration INTEGER,
		user_thumb_url TEXT,
		user_art_url TEXT,
		user_banner_url TEXT,
		user_music_url TEXT,
		user_fields TEXT,
		tags_genre TEXT,
		tags_collection TEXT,
		tags_director TEXT,
		tags_writer TEXT,
		tags_star TEXT,
		originally_available_at DATETIME,
		available_at DATETIME,
		expires_at DATETIME,
		refreshed_at DATETIME,
		year INTEGER,
		added_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		deleted_at DATETIME,
		tags_country TEXT,
		extra_data TEXT,
		hash TEXT,
		audience_rating REAL,
		changed_at INTEGER,
		resources_changed_at INTEGER,
		remote INTEGER
	)`,
	`CREATE TABLE media_items (
		id INTEGER PRIMARY KEY,
		library_section_id INTEGER,
		section_location_id INTEGER,
		metadata_item_id INTEGER,
		type_id INTEGER,
		width INTEGER,
		height INTEGER,
		size INTEGER,
		duration INTEGER,
		bitrate INTEGER,
		container TEXT,
		video_codec TEXT,
		audio_codec TEXT,
		display_aspect_ratio REAL,
		frames_per_second REAL,
		audio_channels INTEGER,
		interlaced INTEGER,
		source TEXT,
		hints TEXT,
		display_offset INTEGER,
		settings TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		optimized_for_streaming INTEGER,
		deleted_at DATETIME,
		media_analysis_version INTEGER,
		sample_aspect_ratio REAL,
		extra_data TEXT,
		proxy_type INTEGER,
		channel_id INTEGER,
		begins_at DATETIME,
		ends_at DATETIME
	)`,
	`CREATE TABLE media_parts (
		id INTEGER PRIMARY KEY,
		media_item_id INTEGER,
		directory_id INTEGER,
		hash TEXT,
		open_subtitle_hash TEXT,
		file TEXT,
		[index] INTEGER,
		size INTEGER,
		duration INTEGER,
		created_at DATETIME,
		updated_at DATETIME,
		deleted_at DATETIME,
		extra_data TEXT
	)`,
	`CREATE TABLE media_streams (
		id INTEGER PRIMARY KEY,
		stream_type_id INTEGER,
		media_item_id INTEGER,
		url TEXT,
		codec TEXT,
		language TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		[index] INTEGER,
		media_part_id INTEGER,
		channels INTEGER,
		bitrate INTEGER,
		url_index INTEGER,
		[default] INTEGER,
		forced INTEGER,
		extra_data TEXT
	)`,
	`CREATE TABLE metadata_item_views (
		id INTEGER PRIMARY KEY,
		account_id INTEGER,
		guid TEXT,
		metadata_type INTEGER,
		library_section_id INTEGER,
		grandparent_title TEXT,
		parent_index INTEGER,
		parent_title TEXT,
		[index] INTEGER,
		title TEXT,
		thumb_url TEXT,
		viewed_at DATETIME,
		grandparent_guid TEXT,
		originally_available_at DATETIME,
		device_id INTEGER
	)`,
	`CREATE UNIQUE INDEX index_metadata_item_views_unique
		ON metadata_item_views (account_id, guid, viewed_at)`,
	`CREATE TABLE metadata_item_settings (
		id INTEGER PRIMARY KEY,
		account_id INTEGER,
		guid TEXT,
		rating REAL,
		view_offset INTEGER,
		view_count INTEGER,
		last_viewed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		skip_count INTEGER,
		last_skipped_at DATETIME,
		changed_at INTEGER,
		extra_data TEXT
	)`,
	`CREATE UNIQUE INDEX index_metadata_item_settings_on_account_id_and_guid
		ON metadata_item_settings (account_id, guid)`,
}

// CreateLibraryDB creates a Plex-shaped SQLite database at path.
func CreateLibraryDB(t *testing.T, path string) {
	t.Helper()

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to create fixture database: %v", err)
	}
	defer conn.Close()

	for _, ddl := range libraryDDL {
		if _, err := conn.Exec(ddl); err != nil {
			t.Fatalf("Failed to apply fixture DDL: %v", err)
		}
	}
}

// TempLibraryDB creates a Plex-shaped database in a temp directory and
// returns a writable connection plus the file path. The connection is
// closed on test cleanup.
func TempLibraryDB(t *testing.T, name string) (*sql.DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	CreateLibraryDB(t, path)

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open fixture database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn, path
}

// MustExec executes a statement and fails the test on error.
func MustExec(t *testing.T, conn *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("Failed to exec %q: %v", query, err)
	}
}

// InsertSection adds a library section row.
func InsertSection(t *testing.T, conn *sql.DB, id int64, name string) {
	t.Helper()
	MustExec(t, conn,
		"INSERT INTO library_sections (id, name, section_type) VALUES (?, ?, 1)", id, name)
}

// InsertItem adds a metadata item. parentID may be nil.
func InsertItem(t *testing.T, conn *sql.DB, id, sectionID int64, parentID interface{}, guid, title string) {
	t.Helper()
	MustExec(t, conn,
		`INSERT INTO metadata_items (id, library_section_id, parent_id, metadata_type, guid, title)
		 VALUES (?, ?, ?, 1, ?, ?)`, id, sectionID, parentID, guid, title)
}

// InsertMediaItem adds a media item owned by a metadata item.
func InsertMediaItem(t *testing.T, conn *sql.DB, id, sectionID, metadataItemID int64, container string) {
	t.Helper()
	MustExec(t, conn,
		`INSERT INTO media_items (id, library_section_id, metadata_item_id, container)
		 VALUES (?, ?, ?, ?)`, id, sectionID, metadataItemID, container)
}

// InsertMediaPart adds a media part owned by a media item.
func InsertMediaPart(t *testing.T, conn *sql.DB, id, mediaItemID int64, file string) {
	t.Helper()
	MustExec(t, conn,
		"INSERT INTO media_parts (id, media_item_id, file) VALUES (?, ?, ?)", id, mediaItemID, file)
}

// InsertMediaStream adds a media stream owned by a media item. partID is
// carried verbatim by the importer, so tests pass the raw value.
func InsertMediaStream(t *testing.T, conn *sql.DB, id, mediaItemID, partID int64, codec string) {
	t.Helper()
	MustExec(t, conn,
		`INSERT INTO media_streams (id, stream_type_id, media_item_id, media_part_id, codec)
		 VALUES (?, 1, ?, ?, ?)`, id, mediaItemID, partID, codec)
}

// InsertView adds a watch-history row.
func InsertView(t *testing.T, conn *sql.DB, accountID int64, guid, title, viewedAt string) {
	t.Helper()
	MustExec(t, conn,
		`INSERT INTO metadata_item_views (account_id, guid, metadata_type, title, viewed_at)
		 VALUES (?, ?, 1, ?, ?)`, accountID, guid, title, viewedAt)
}

// InsertSetting adds a per-item settings row.
func InsertSetting(t *testing.T, conn *sql.DB, accountID int64, guid string, viewOffset, viewCount int64) {
	t.Helper()
	MustExec(t, conn,
		`INSERT INTO metadata_item_settings (account_id, guid, view_offset, view_count)
		 VALUES (?, ?, ?, ?)`, accountID, guid, viewOffset, viewCount)
}

// CountRows returns the number of rows in a table.
func CountRows(t *testing.T, conn *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := conn.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		t.Fatalf("Failed to count rows of %s: %v", table, err)
	}
	return n
}

// QueryInt runs a query expected to return a single integer.
func QueryInt(t *testing.T, conn *sql.DB, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	if err := conn.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("Failed to query %q: %v", query, err)
	}
	return n
}

// AssertNoError asserts that an error is nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

// AssertError asserts that an error is not nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}
