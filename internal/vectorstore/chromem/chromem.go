// Package chromem is an embedded vector store backend.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"

	"github.com/AtomicBim/rag-service/internal/vectorstore"
)

// Config selects an in-memory or on-disk database
type Config struct {
	Path       string
	Persistent bool
	Collection string
}

// NewStore opens the database
func NewStore(cfg Config) (*Store, error) {
	var db *chromem.DB
	if !cfg.Persistent {
		db = chromem.NewDB()
	} else {
		d, err := chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, vectorstore.Wrap(err, "failed to open chromem database")
		}

		db = d
	}

	s := &Store{
		db:   db,
		name: cfg.Collection,
	}
	if cfg.Persistent {
		s.metaPath = filepath.Clean(cfg.Path) + ".meta.yaml"
	}
	return s, nil
}

// Store keeps points in a chromem collection
type Store struct {
	db       *chromem.DB
	name     string
	metaPath string // dimensions of persisted collections, empty in memory

	mu         sync.Mutex
	collection *chromem.Collection
	dimension  int
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		d, err := s.storedDimension()
		if err != nil {
			return err
		}
		s.dimension = d
	}

	if s.dimension != 0 && s.dimension != dimension {
		return fmt.Errorf("%w: collection %s holds %d, expected %d",
			vectorstore.ErrDimensionMismatch, s.name, s.dimension, dimension)
	}

	c, err := s.db.GetOrCreateCollection(s.name, map[string]string{
		"dimension": strconv.Itoa(dimension),
	}, nil)
	if err != nil {
		return vectorstore.Wrap(err, "failed to create collection")
	}

	if err := s.storeDimension(dimension); err != nil {
		return err
	}

	s.collection = c
	s.dimension = dimension
	return nil
}

// current returns the collection, opening a persisted one on first use
func (s *Store) current() (*chromem.Collection, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collection == nil {
		c := s.db.GetCollection(s.name, nil)
		if c == nil {
			return nil, 0, fmt.Errorf("%w: collection %s does not exist", vectorstore.ErrVectorStore, s.name)
		}

		d, err := s.storedDimension()
		if err != nil {
			return nil, 0, err
		}
		s.collection = c
		s.dimension = d
	}
	return s.collection, s.dimension, nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	c, _, err := s.current()
	if err != nil {
		return err
	}

	where := map[string]string{vectorstore.KeySourceFile: documentID}
	if err := c.Delete(ctx, where, nil); err != nil {
		return vectorstore.Wrap(err, "failed to delete points")
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}

	c, dimension, err := s.current()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		if dimension != 0 && len(p.Vector) != dimension {
			return fmt.Errorf("%w: point %s has %d, expected %d",
				vectorstore.ErrDimensionMismatch, p.ID, len(p.Vector), dimension)
		}

		docs[i] = chromem.Document{
			ID:        p.ID,
			Metadata:  p.Payload.Metadata(),
			Embedding: p.Vector,
			Content:   p.Payload.Text,
		}
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return vectorstore.Wrap(err, "failed to add documents")
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]vectorstore.SearchResult, error) {
	c, _, err := s.current()
	if err != nil {
		return nil, err
	}

	if k > c.Count() {
		k = c.Count()
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, vectorstore.Wrap(err, "failed to query")
	}

	out := make([]vectorstore.SearchResult, len(results))
	for i, r := range results {
		index, _ := strconv.Atoi(r.Metadata[vectorstore.KeyChunkIndex])

		out[i] = vectorstore.SearchResult{
			Payload: vectorstore.Payload{
				Text:       r.Content,
				SourceFile: r.Metadata[vectorstore.KeySourceFile],
				ChunkIndex: index,
				Category:   r.Metadata[vectorstore.KeyCategory],
			},
			Score: r.Similarity,
		}
	}

	return out, nil
}

// Count returns the number of points in the collection
func (s *Store) Count() int {
	c, _, err := s.current()
	if err != nil {
		return 0
	}
	return c.Count()
}

func (s *Store) DropCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return vectorstore.Wrap(err, "failed to drop collection")
	}

	if err := s.storeDimension(0); err != nil {
		return err
	}

	s.collection = nil
	s.dimension = 0
	return nil
}

func (s *Store) Close() error {
	return nil
}

type meta struct {
	Dimensions map[string]int `yaml:"dimensions"`
}

func (s *Store) readMeta() (*meta, error) {
	m := &meta{Dimensions: make(map[string]int)}

	data, err := os.ReadFile(s.metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, vectorstore.Wrap(err, "failed to read collection metadata")
	}

	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, vectorstore.Wrap(err, "failed to parse collection metadata")
	}
	if m.Dimensions == nil {
		m.Dimensions = make(map[string]int)
	}
	return m, nil
}

// storedDimension returns the dimension recorded for the collection, 0 when
// unknown. Callers hold s.mu.
func (s *Store) storedDimension() (int, error) {
	if s.metaPath == "" {
		return 0, nil
	}

	m, err := s.readMeta()
	if err != nil {
		return 0, err
	}
	return m.Dimensions[s.name], nil
}

// storeDimension records dimension for the collection; 0 forgets it.
// Callers hold s.mu.
func (s *Store) storeDimension(dimension int) error {
	if s.metaPath == "" {
		return nil
	}

	m, err := s.readMeta()
	if err != nil {
		return err
	}
	if m.Dimensions[s.name] == dimension {
		return nil
	}

	if dimension == 0 {
		delete(m.Dimensions, s.name)
	} else {
		m.Dimensions[s.name] = dimension
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return vectorstore.Wrap(err, "failed to encode collection metadata")
	}
	if err := os.WriteFile(s.metaPath, data, 0o644); err != nil {
		return vectorstore.Wrap(err, "failed to write collection metadata")
	}
	return nil
}
