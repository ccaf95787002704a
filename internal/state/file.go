package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileStore keeps the state in one human-readable file that is rewritten
// in full on every Persist
type FileStore struct {
	path    string
	yaml    bool
	records map[string]Record
	dirty   bool
	log     *zap.Logger
	mu      sync.Mutex
}

// NewFileStore loads path, falling back to an empty state when the file is
// missing or unreadable
func NewFileStore(path string, log *zap.Logger) (*FileStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	ext := strings.ToLower(filepath.Ext(path))

	s := &FileStore{
		path:    path,
		yaml:    ext == ".yaml" || ext == ".yml",
		records: make(map[string]Record),
		log: log.With(
			zap.String("component", "state"),
			zap.String("path", path),
		),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	records := make(map[string]Record)
	if s.yaml {
		err = yaml.Unmarshal(data, &records)
	} else {
		err = json.Unmarshal(data, &records)
	}

	if err != nil {
		s.recover(err)
		return nil
	}

	if records != nil {
		s.records = records
	}
	return nil
}

// recover moves an unreadable file aside and keeps the empty state
func (s *FileStore) recover(cause error) {
	aside := s.path + ".corrupt"

	s.log.Warn("state unreadable, starting from empty state",
		zap.Error(fmt.Errorf("%w: %v", ErrCorrupted, cause)),
		zap.String("moved_to", aside),
	)

	if err := os.Rename(s.path, aside); err != nil {
		s.log.Warn("failed to move corrupt state aside", zap.Error(err))
	}
}

func (s *FileStore) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	return r, ok
}

func (s *FileStore) Put(id, fingerprint string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = Record{
		Fingerprint: fingerprint,
		LastUpdated: ts.UTC(),
	}
	s.dirty = true
	return nil
}

func (s *FileStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		delete(s.records, id)
		s.dirty = true
	}
	return nil
}

func (s *FileStore) LoadAll() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copyRecords(s.records)
}

// Persist writes a snapshot to a temp file next to the target and renames it
// over the target. Nothing is written when no record changed.
func (s *FileStore) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	if err := s.write(); err != nil {
		return err
	}

	s.dirty = false
	return nil
}

func (s *FileStore) write() error {
	var (
		data []byte
		err  error
	)

	if s.yaml {
		data, err = yaml.Marshal(s.records)
	} else {
		data, err = json.MarshalIndent(s.records, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace state: %w", err)
	}

	return nil
}

func (s *FileStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]Record)
	s.dirty = false

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove state: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return s.Persist()
}
