// Package state persists, per document, the fingerprint of the last version
// that was fully indexed.
package state

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrCorrupted marks an unreadable state file. It is recovered by
	// starting from an empty state and never aborts a run.
	ErrCorrupted = errors.New("state corrupted")

	ErrUnknownBackend = errors.New("unknown state backend")
)

// Record is the committed state of one document
type Record struct {
	Fingerprint string    `json:"fingerprint" yaml:"fingerprint"`
	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`
}

// Store holds committed records keyed by document identifier.
// Implementations serialize all writers.
type Store interface {
	// Get returns the record for id, if any.
	Get(id string) (Record, bool)

	// Put records a successful commit of id.
	Put(id, fingerprint string, ts time.Time) error

	// Remove forgets id.
	Remove(id string) error

	// LoadAll returns a copy of every record.
	LoadAll() map[string]Record

	// Persist makes all puts durable.
	Persist() error

	// Reset drops every record and its persisted form.
	Reset() error

	Close() error
}

// Open creates the store for the configured backend
func Open(backend, path string, log *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch backend {
	case "", "file":
		store, err = NewFileStore(path, log)
	case "sqlite":
		store, err = NewSQLiteStore(path, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

func copyRecords(src map[string]Record) map[string]Record {
	dst := make(map[string]Record, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
