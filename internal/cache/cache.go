// Package cache provides the local snapshot cache for card-bank records.
//
// The remote keyed-record store is the source of truth; the cache keeps
// the last-fetched copy of each record on disk so study sessions and
// listings work without a round trip, and so the CLI has something to
// show when the store is unreachable.
//
// The database runs embedded with WAL mode for concurrent reads.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cardbank/cardbank/internal/codec"
	"github.com/cardbank/cardbank/internal/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNoSnapshot is returned when no cached copy exists for a record.
var ErrNoSnapshot = errors.New("no cached snapshot")

// DB wraps the embedded SQLite connection holding cached snapshots.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a cache database at the specified path.
//
// If the database doesn't exist, it will be created along with the
// schema. The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL for concurrent reads while a sync writes
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}

	db.conn = nil
	return nil
}

func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		record_id      TEXT PRIMARY KEY,
		card_bank      TEXT NOT NULL,
		topic_lists    TEXT,
		topic_metadata TEXT,
		color_map      TEXT,
		last_saved     TEXT,
		fetched_at     TEXT NOT NULL
	);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

// SaveSnapshot upserts the cached copy of a record.
func (db *DB) SaveSnapshot(ctx context.Context, snap model.Snapshot, fetchedAt time.Time) error {
	if snap.RecordID == "" {
		return errors.New("snapshot has no record id")
	}

	var lastSaved string
	if !snap.LastSaved.IsZero() {
		lastSaved = snap.LastSaved.UTC().Format(time.RFC3339)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO snapshots (record_id, card_bank, topic_lists, topic_metadata, color_map, last_saved, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			card_bank = excluded.card_bank,
			topic_lists = excluded.topic_lists,
			topic_metadata = excluded.topic_metadata,
			color_map = excluded.color_map,
			last_saved = excluded.last_saved,
			fetched_at = excluded.fetched_at`,
		snap.RecordID,
		codec.Encode(snap.Items),
		codec.Encode(snap.TopicLists),
		codec.Encode(snap.Metadata),
		codec.Encode(snap.ColorMap),
		lastSaved,
		fetchedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", snap.RecordID, err)
	}
	return nil
}

// LoadSnapshot returns the cached copy of a record, or ErrNoSnapshot.
// Stored JSON goes back through the recovering decoder, so a partially
// corrupted cache row degrades to empty collections instead of failing.
func (db *DB) LoadSnapshot(ctx context.Context, recordID string) (model.Snapshot, time.Time, error) {
	var (
		bank, lists, metadata, colors string
		lastSaved, fetchedAt          string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT card_bank, topic_lists, topic_metadata, color_map, last_saved, fetched_at
		FROM snapshots WHERE record_id = ?`, recordID).
		Scan(&bank, &lists, &metadata, &colors, &lastSaved, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return model.Snapshot{}, time.Time{}, fmt.Errorf("failed to load snapshot for %s: %w", recordID, err)
	}

	snap := model.Snapshot{
		RecordID: recordID,
		Items:    codec.DecodeSlice(bank),
	}
	if lists != "" {
		_ = json.Unmarshal([]byte(lists), &snap.TopicLists)
	}
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &snap.Metadata)
	}
	if colors != "" {
		snap.ColorMap = model.ColorMap{}
		for k, v := range codec.DecodeMap(colors) {
			if s, ok := v.(string); ok {
				snap.ColorMap[k] = s
			}
		}
	}
	if lastSaved != "" {
		if ts, err := time.Parse(time.RFC3339, lastSaved); err == nil {
			snap.LastSaved = ts
		}
	}

	var fetched time.Time
	if ts, err := time.Parse(time.RFC3339, fetchedAt); err == nil {
		fetched = ts
	}
	return snap, fetched, nil
}

// RecordIDs lists every record with a cached snapshot.
func (db *DB) RecordIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT record_id FROM snapshots ORDER BY record_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSnapshot removes the cached copy of a record.
func (db *DB) DeleteSnapshot(ctx context.Context, recordID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM snapshots WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("failed to delete snapshot for %s: %w", recordID, err)
	}
	return nil
}
