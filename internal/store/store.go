// Package store provides SQLite-backed local persistence for a
// zonesync replica.
//
// The store durably holds the replica's three pieces of state: the
// local record table, the pending change queue, and the fetch cursor.
// It runs in embedded mode (ncruces/go-sqlite3) with WAL enabled so a
// status reader never blocks the sync coordinator's writes.
//
// Persistence is whole-snapshot: Save writes all three pieces inside
// one transaction, so a crash leaves either the previous snapshot or
// the new one, never a mix.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zonesync/zonesync/internal/record"
)

// Store wraps the replica's local SQLite database.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a store at the given path, creating the file and schema
// if needed.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	st, err := store.Open(".zonesync/replica.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One writer at a time; the coordinator serializes access anyway.
	conn.SetMaxOpenConns(1)

	st := &Store{conn: conn, path: path}

	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := st.initSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	return st, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// initSchema creates the tables if they don't exist. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		zone_id TEXT NOT NULL,
		name TEXT NOT NULL,
		user_modified_at TEXT,
		meta_raw BLOB,
		meta_modified_at TEXT
	);

	CREATE TABLE IF NOT EXISTS pending_changes (
		key TEXT PRIMARY KEY,
		kind INTEGER NOT NULL,
		record_id TEXT,
		zone_id TEXT NOT NULL
	);

	-- Single-row table for the fetch cursor.
	CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		cursor TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_records_zone ON records(zone_id);
	CREATE INDEX IF NOT EXISTS idx_pending_zone ON pending_changes(zone_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Load reads the persisted snapshot: record table, pending changes, and
// cursor. A fresh database yields an empty table, empty queue, and zero
// cursor.
func (s *Store) Load() (map[string]record.Record, []record.PendingChange, record.Cursor, error) {
	return s.LoadContext(context.Background())
}

// LoadContext reads the persisted snapshot with context support.
func (s *Store) LoadContext(ctx context.Context) (map[string]record.Record, []record.PendingChange, record.Cursor, error) {
	records, err := s.loadRecords(ctx)
	if err != nil {
		return nil, nil, "", err
	}

	pending, err := s.loadPending(ctx)
	if err != nil {
		return nil, nil, "", err
	}

	cursor, err := s.loadCursor(ctx)
	if err != nil {
		return nil, nil, "", err
	}

	return records, pending, cursor, nil
}

// Save atomically replaces the persisted snapshot with the given state.
func (s *Store) Save(records map[string]record.Record, pending []record.PendingChange, cursor record.Cursor) error {
	return s.SaveContext(context.Background(), records, pending, cursor)
}

// SaveContext atomically replaces the persisted snapshot with context
// support.
func (s *Store) SaveContext(ctx context.Context, records map[string]record.Record, pending []record.PendingChange, cursor record.Cursor) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	for _, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (id, zone_id, name, user_modified_at, meta_raw, meta_modified_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID,
			rec.ZoneID,
			rec.Name,
			timeToNullString(rec.UserModifiedAt),
			rec.Meta.Raw,
			timeToNullString(rec.Meta.ServerModifiedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_changes"); err != nil {
		return fmt.Errorf("failed to clear pending changes: %w", err)
	}
	for _, c := range pending {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_changes (key, kind, record_id, zone_id)
			VALUES (?, ?, ?, ?)`,
			c.Key(), int(c.Kind), c.RecordID, c.ZoneID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert pending change %s: %w", c.Key(), err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_state (id, cursor) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET cursor = excluded.cursor`,
		string(cursor),
	)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) loadRecords(ctx context.Context) (map[string]record.Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, zone_id, name, user_modified_at, meta_raw, meta_modified_at
		FROM records`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]record.Record)
	for rows.Next() {
		var rec record.Record
		var userModifiedAt, metaModifiedAt sql.NullString
		var metaRaw []byte

		if err := rows.Scan(&rec.ID, &rec.ZoneID, &rec.Name, &userModifiedAt, &metaRaw, &metaModifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		rec.UserModifiedAt = nullStringToTime(userModifiedAt)
		rec.Meta = record.MetadataToken{
			Raw:              metaRaw,
			ServerModifiedAt: nullStringToTime(metaModifiedAt),
		}

		records[rec.ID] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

func (s *Store) loadPending(ctx context.Context) ([]record.PendingChange, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT kind, record_id, zone_id FROM pending_changes`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending changes: %w", err)
	}
	defer rows.Close()

	var pending []record.PendingChange
	for rows.Next() {
		var c record.PendingChange
		var kind int
		var recordID sql.NullString

		if err := rows.Scan(&kind, &recordID, &c.ZoneID); err != nil {
			return nil, fmt.Errorf("failed to scan pending change: %w", err)
		}

		c.Kind = record.ChangeKind(kind)
		if recordID.Valid {
			c.RecordID = recordID.String
		}
		pending = append(pending, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending changes: %w", err)
	}
	return pending, nil
}

func (s *Store) loadCursor(ctx context.Context) (record.Cursor, error) {
	var cursor string
	err := s.conn.QueryRowContext(ctx, "SELECT cursor FROM sync_state WHERE id = 1").Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load cursor: %w", err)
	}
	return record.Cursor(cursor), nil
}

// timeToNullString converts a time to a nullable RFC3339 string for SQL.
// The zero time maps to NULL.
func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time.
// NULL or an unparseable value maps to the zero time.
func nullStringToTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
