package snapshot

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists versions to SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens or creates the database at path.
// The path should be a file path (e.g., "./snapshots.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			canvas_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			hash TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (canvas_id, version)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(canvasID string, hash uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		version    int
		latestHash string
	)
	err = tx.QueryRow(`
		SELECT version, hash FROM snapshots
		WHERE canvas_id = ?
		ORDER BY version DESC LIMIT 1
	`, canvasID).Scan(&version, &latestHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read latest snapshot: %w", err)
	case latestHash == formatHash(hash):
		return nil
	}

	if _, err := tx.Exec(`
		INSERT INTO snapshots (canvas_id, version, hash, saved_at, data)
		VALUES (?, ?, ?, ?, ?)
	`, canvasID, version+1, formatHash(hash), time.Now().UTC().Format(time.RFC3339Nano), data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(canvasID string, version int) (*Snapshot, error) {
	return s.queryOne(`
		SELECT version, hash, saved_at, data FROM snapshots
		WHERE canvas_id = ? AND version = ?
	`, canvasID, canvasID, version)
}

// Latest implements Store.
func (s *SQLiteStore) Latest(canvasID string) (*Snapshot, error) {
	return s.queryOne(`
		SELECT version, hash, saved_at, data FROM snapshots
		WHERE canvas_id = ?
		ORDER BY version DESC LIMIT 1
	`, canvasID, canvasID)
}

func (s *SQLiteStore) queryOne(query, canvasID string, args ...any) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	snap := Snapshot{Info: Info{CanvasID: canvasID}}
	var hash, savedAt string
	err := s.db.QueryRow(query, args...).Scan(&snap.Version, &hash, &savedAt, &snap.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap.Hash, _ = strconv.ParseUint(hash, 16, 64)
	snap.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
	snap.Size = int64(len(snap.Data))
	return &snap, nil
}

// List implements Store.
func (s *SQLiteStore) List(canvasID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT version, hash, saved_at, LENGTH(data)
		FROM snapshots
		WHERE canvas_id = ?
		ORDER BY version
	`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		info := Info{CanvasID: canvasID}
		var hash, savedAt string
		if err := rows.Scan(&info.Version, &hash, &savedAt, &info.Size); err != nil {
			return nil, fmt.Errorf("scan snapshot info: %w", err)
		}
		info.Hash, _ = strconv.ParseUint(hash, 16, 64)
		info.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return infos, nil
}

// DeleteCanvas implements Store.
func (s *SQLiteStore) DeleteCanvas(canvasID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE canvas_id = ?`, canvasID); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func formatHash(h uint64) string {
	return strconv.FormatUint(h, 16)
}
