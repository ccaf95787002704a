// Package vectorstore keeps the points of each document in an external vector
// store in step with the latest indexed version of that document.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrVectorStore marks any failed vector store operation
	ErrVectorStore = errors.New("vector store failed")

	// ErrDimensionMismatch marks a collection created for another vector size
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrVectorStore)
)

// Payload keys shared by every backend
const (
	KeyText       = "text"
	KeySourceFile = "source_file"
	KeyChunkIndex = "chunk_index"
	KeyCategory   = "category"
)

// Payload is stored with every point
type Payload struct {
	Text       string `json:"text"`
	SourceFile string `json:"source_file"`
	ChunkIndex int    `json:"chunk_index"`
	Category   string `json:"category"`
}

// Metadata renders the payload as string metadata, minus the text
func (p Payload) Metadata() map[string]string {
	return map[string]string{
		KeySourceFile: p.SourceFile,
		KeyChunkIndex: strconv.Itoa(p.ChunkIndex),
		KeyCategory:   p.Category,
	}
}

// Point is one chunk vector
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// SearchResult is a point returned by a similarity search
type SearchResult struct {
	Payload
	Score float32
}

// Store is a vector store backend
type Store interface {
	// Ping checks the store is reachable
	Ping(ctx context.Context) error

	// EnsureCollection creates the collection with cosine distance when
	// missing, and checks its dimension when present
	EnsureCollection(ctx context.Context, dimension int) error

	// DeleteByDocument removes every point whose source_file is documentID
	DeleteByDocument(ctx context.Context, documentID string) error

	// Upsert writes points, waiting until they are stored
	Upsert(ctx context.Context, points []Point) error

	// Search returns the k nearest points
	Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// DropCollection deletes the collection and all its points
	DropCollection(ctx context.Context) error

	Close() error
}

// Replacer is implemented by stores that can replace the points of a
// document in one transaction
type Replacer interface {
	Replace(ctx context.Context, documentID string, points []Point, batchSize int) error
}

// pointNamespace scopes point ids generated by this indexer
var pointNamespace = uuid.MustParse("6f1e8a5c-3b2d-5f47-9a0e-2c4b7d9e1f30")

// PointID derives a stable point id from the document version and chunk index
func PointID(documentID, fingerprint string, index int) string {
	name := documentID + "\x00" + fingerprint + "\x00" + strconv.Itoa(index)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

// Sync performs document level replacement on a Store
type Sync struct {
	store     Store
	batchSize int
	log       *zap.Logger
}

// NewSync wraps store; upserts are sent in batches of batchSize points
func NewSync(store Store, batchSize int, log *zap.Logger) *Sync {
	if batchSize <= 0 {
		batchSize = 32
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Sync{
		store:     store,
		batchSize: batchSize,
		log:       log.With(zap.String("component", "vectorstore")),
	}
}

// Store returns the wrapped store
func (s *Sync) Store() Store {
	return s.store
}

// Replace makes the points tagged with documentID exactly points. Existing
// points are deleted before any new point is written; a failed batch aborts
// the replace and leaves the document to be redone by the next run.
func (s *Sync) Replace(ctx context.Context, documentID string, points []Point) error {
	log := s.log.With(
		zap.String("action", "replace"),
		zap.String("document", documentID),
	)

	if r, ok := s.store.(Replacer); ok {
		if err := r.Replace(ctx, documentID, points, s.batchSize); err != nil {
			return Wrap(err, "failed to replace points")
		}
		log.Debug("points replaced", zap.Int("points", len(points)))
		return nil
	}

	if err := s.store.DeleteByDocument(ctx, documentID); err != nil {
		return Wrap(err, "failed to delete old points")
	}

	for start := 0; start < len(points); start += s.batchSize {
		end := min(start+s.batchSize, len(points))

		if err := s.store.Upsert(ctx, points[start:end]); err != nil {
			log.Warn("batch upsert failed",
				zap.Int("batch_start", start),
				zap.Int("batch_end", end),
				zap.Error(err),
			)
			return Wrap(err, fmt.Sprintf("failed to upsert points %d-%d", start, end))
		}
	}

	log.Debug("points replaced", zap.Int("points", len(points)))
	return nil
}

// Remove deletes every point tagged with documentID
func (s *Sync) Remove(ctx context.Context, documentID string) error {
	if err := s.store.DeleteByDocument(ctx, documentID); err != nil {
		return Wrap(err, "failed to delete points")
	}
	s.log.Debug("points removed", zap.String("action", "remove"), zap.String("document", documentID))
	return nil
}

// Wrap prefixes err with msg and tags it with ErrVectorStore unless it
// already is one
func Wrap(err error, msg string) error {
	if errors.Is(err, ErrVectorStore) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, ErrVectorStore, err)
}
