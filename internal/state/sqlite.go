package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	last_updated TIMESTAMP NOT NULL
)`

// SQLiteStore keeps the state in a SQLite database. Every Put is durable on
// return, so Persist has nothing to do.
type SQLiteStore struct {
	path    string
	db      *sql.DB
	records map[string]Record
	log     *zap.Logger
	mu      sync.Mutex
}

// NewSQLiteStore opens or creates the database at path
func NewSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	s := &SQLiteStore{
		path:    path,
		records: make(map[string]Record),
		log: log.With(
			zap.String("component", "state"),
			zap.String("path", path),
		),
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	err := s.open()
	if err != nil {
		s.recover(err)
		if err := s.open(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *SQLiteStore) open() error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}

	// database/sql would otherwise open several connections to one file
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	records, err := readAll(db)
	if err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.records = records
	return nil
}

func readAll(db *sql.DB) (map[string]Record, error) {
	rows, err := db.Query(`SELECT path, hash, last_updated FROM files`)
	if err != nil {
		return nil, fmt.Errorf("failed to query state: %w", err)
	}
	defer rows.Close()

	records := make(map[string]Record)
	for rows.Next() {
		var (
			path, hash, updated string
		)
		if err := rows.Scan(&path, &hash, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}

		ts, err := time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			ts = time.Time{}
		}

		records[path] = Record{
			Fingerprint: hash,
			LastUpdated: ts,
		}
	}

	return records, rows.Err()
}

func (s *SQLiteStore) recover(cause error) {
	aside := s.path + ".corrupt"

	s.log.Warn("state unreadable, starting from empty state",
		zap.Error(fmt.Errorf("%w: %v", ErrCorrupted, cause)),
		zap.String("moved_to", aside),
	)

	if err := os.Rename(s.path, aside); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("failed to move corrupt state aside", zap.Error(err))
	}
}

func (s *SQLiteStore) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	return r, ok
}

func (s *SQLiteStore) Put(id, fingerprint string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts = ts.UTC()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO files (path, hash, last_updated) VALUES (?, ?, ?)`,
		id, fingerprint, ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to store state: %w", err)
	}

	s.records[id] = Record{
		Fingerprint: fingerprint,
		LastUpdated: ts,
	}
	return nil
}

func (s *SQLiteStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM files WHERE path = ?`, id); err != nil {
		return fmt.Errorf("failed to remove state: %w", err)
	}

	delete(s.records, id)
	return nil
}

func (s *SQLiteStore) LoadAll() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copyRecords(s.records)
}

func (s *SQLiteStore) Persist() error {
	return nil
}

func (s *SQLiteStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM files`); err != nil {
		return fmt.Errorf("failed to reset state: %w", err)
	}

	s.records = make(map[string]Record)
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}
