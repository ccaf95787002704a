// Package embeddings turns chunk text into vectors through an external
// embedding provider.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmbeddingService marks any failure to obtain an embedding
	ErrEmbeddingService = errors.New("embedding service failed")

	ErrEmptyText       = errors.New("text cannot be empty")
	ErrUnknownProvider = errors.New("unknown embedding provider")
)

// Embedder generates embeddings for text
type Embedder interface {
	// Embed returns the vector for text
	Embed(ctx context.Context, text string) ([]float32, error)

	// Ping checks that the provider is ready to serve requests
	Ping(ctx context.Context) error

	// Dimension returns the vector size, or 0 while unknown
	Dimension() int

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Options selects and tunes a provider
type Options struct {
	Provider    string
	URL         string
	Model       string
	APIKey      string
	Dimension   int
	Timeout     time.Duration
	MaxRetries  int
	CacheSize   int
	RateLimit   float64
	RetryConfig *RetryConfig
}

// New creates the configured provider wrapped with the cache and rate
// limit decorators
func New(opts Options, log *zap.Logger) (Embedder, error) {
	if log == nil {
		log = zap.NewNop()
	}

	retry := DefaultRetryConfig()
	if opts.RetryConfig != nil {
		retry = *opts.RetryConfig
	}
	if opts.MaxRetries > 0 {
		retry.MaxRetries = opts.MaxRetries
	}

	var (
		e   Embedder
		err error
	)

	switch strings.ToLower(opts.Provider) {
	case "", "service":
		e = NewServiceEmbedder(opts.URL, opts.Dimension, opts.Timeout, retry)
	case "ollama":
		e = NewOllamaEmbedder(opts.URL, opts.Model, opts.Dimension, opts.Timeout, retry)
	case "openai":
		e, err = NewOpenAIEmbedder(opts.URL, opts.Model, opts.APIKey, opts.Dimension, opts.Timeout, retry)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, opts.Provider)
	}
	if err != nil {
		return nil, err
	}

	if opts.RateLimit > 0 {
		e = NewRateLimited(e, opts.RateLimit)
	}

	if opts.CacheSize > 0 {
		e = NewCached(e, opts.CacheSize)
	}

	log.Info("embedding provider ready",
		zap.String("provider", opts.Provider),
		zap.String("model", e.Model()),
		zap.Int("dimension", e.Dimension()),
	)

	return e, nil
}

// EmbedAll embeds texts with at most concurrency requests in flight.
// Results keep the order of texts; the first failure cancels the rest and
// fails the whole call.
func EmbedAll(ctx context.Context, e Embedder, texts []string, concurrency int) ([][]float32, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	vectors := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("failed to embed chunk %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return vectors, nil
}

// dimensionTracker remembers the configured dimension or the first one seen
type dimensionTracker struct {
	dim atomic.Int64
}

func newDimensionTracker(dim int) *dimensionTracker {
	t := &dimensionTracker{}
	t.dim.Store(int64(dim))
	return t
}

func (t *dimensionTracker) get() int {
	return int(t.dim.Load())
}

// check validates vec against the known dimension, learning it if unknown
func (t *dimensionTracker) check(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty embedding returned")
	}

	if t.dim.CompareAndSwap(0, int64(len(vec))) {
		return nil
	}

	if want := t.get(); want != len(vec) {
		return permanent(fmt.Errorf("dimension mismatch: expected %d, got %d", want, len(vec)))
	}
	return nil
}
