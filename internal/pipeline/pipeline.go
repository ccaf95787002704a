// Package pipeline runs incremental indexing: scan, change detection,
// extraction, chunking, embedding, vector sync and state commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AtomicBim/rag-service/internal/chunker"
	"github.com/AtomicBim/rag-service/internal/documents"
	"github.com/AtomicBim/rag-service/internal/embeddings"
	"github.com/AtomicBim/rag-service/internal/state"
	"github.com/AtomicBim/rag-service/internal/vectorstore"
)

// Scanner lists the documents under a root
type Scanner interface {
	Scan(ctx context.Context, root string) ([]documents.Document, []documents.Skipped, error)
}

// Extractor returns the normalized text of a document
type Extractor interface {
	Extract(ctx context.Context, format documents.Format, data []byte) (string, error)
}

// Deps are the collaborators of a pipeline
type Deps struct {
	Scanner   Scanner
	Extractor Extractor
	Splitter  *chunker.Splitter
	Embedder  embeddings.Embedder
	Vectors   *vectorstore.Sync
	State     state.Store
	Observer  Observer
	Log       *zap.Logger
	Now       func() time.Time
}

// Options tune a pipeline
type Options struct {
	Root             string
	Workers          int
	EmbedConcurrency int
	StartupAttempts  int
	StartupBackoff   time.Duration
	Dimension        int
	Full             bool // reprocess documents whose fingerprint is unchanged
}

// Pipeline indexes a source tree into a vector store
type Pipeline struct {
	deps Deps
	opts Options
	lock IndexLock
	log  *zap.Logger
}

// New validates deps and creates a pipeline
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Scanner == nil:
		return nil, errors.New("pipeline: scanner is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Splitter == nil:
		return nil, errors.New("pipeline: splitter is required")
	case deps.Embedder == nil:
		return nil, errors.New("pipeline: embedder is required")
	case deps.Vectors == nil:
		return nil, errors.New("pipeline: vector store is required")
	case deps.State == nil:
		return nil, errors.New("pipeline: state store is required")
	}

	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Observer == nil {
		deps.Observer = ObserverFunc(func(Event) {})
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.EmbedConcurrency <= 0 {
		opts.EmbedConcurrency = 1
	}
	if opts.StartupAttempts <= 0 {
		opts.StartupAttempts = 1
	}

	return &Pipeline{
		deps: deps,
		opts: opts,
		log:  deps.Log.With(zap.String("component", "pipeline")),
	}, nil
}

// Run performs one indexing pass. Dependency failures abort the run before
// any document is touched; document failures are reported in the summary.
// When ctx is cancelled, documents not yet started are left alone and the
// partial summary is returned with the context error.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if !p.lock.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer p.lock.Release()

	start := time.Now()
	log := p.log.With(zap.String("action", "run"), zap.String("root", p.opts.Root))

	if err := p.CheckDependencies(ctx); err != nil {
		return nil, err
	}

	if err := p.prepareCollection(ctx); err != nil {
		return nil, err
	}

	log.Info("run started",
		zap.Int("workers", p.opts.Workers),
		zap.Int("chunk_size", p.deps.Splitter.MaxSize()),
		zap.Int("chunk_overlap", p.deps.Splitter.Overlap()),
		zap.Bool("full", p.opts.Full),
	)

	docs, skipped, err := p.deps.Scanner.Scan(ctx, p.opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan source tree: %w", err)
	}

	p.deps.Observer.OnEvent(Event{Stage: StageScanned, Total: len(docs) + len(skipped)})

	summary := &Summary{}
	var mu sync.Mutex

	for _, s := range skipped {
		if ctx.Err() != nil {
			break
		}
		summary.add(p.skip(ctx, s))
	}

	g := new(errgroup.Group)
	g.SetLimit(p.opts.Workers)

	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			result := p.safeProcess(ctx, doc)

			mu.Lock()
			summary.add(result)
			mu.Unlock()
			return nil
		})
	}

	g.Wait()

	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].ID < summary.Results[j].ID
	})
	summary.Duration = time.Since(start)

	p.deps.Observer.OnEvent(Event{Stage: StageRunFinished, Total: len(summary.Results)})

	log.Info("run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("chunks", summary.Chunks),
		zap.Duration("duration", summary.Duration),
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// CheckDependencies pings the embedding service and the vector store until
// both answer or the attempts run out
func (p *Pipeline) CheckDependencies(ctx context.Context) error {
	log := p.log.With(zap.String("action", "startup"))

	backoff := p.opts.StartupBackoff
	var lastErr error

	for attempt := 1; attempt <= p.opts.StartupAttempts; attempt++ {
		lastErr = p.ping(ctx)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn("dependencies not ready",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.opts.StartupAttempts),
			zap.Error(lastErr),
		)

		if attempt == p.opts.StartupAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrDependencyUnavailable, p.opts.StartupAttempts, lastErr)
}

func (p *Pipeline) ping(ctx context.Context) error {
	if err := p.deps.Embedder.Ping(ctx); err != nil {
		return fmt.Errorf("embedding service: %w", err)
	}
	if err := p.deps.Vectors.Store().Ping(ctx); err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	return nil
}

// prepareCollection settles the vector dimension and ensures the collection
func (p *Pipeline) prepareCollection(ctx context.Context) error {
	dim := p.opts.Dimension
	if dim <= 0 {
		dim = p.deps.Embedder.Dimension()
	}

	if dim <= 0 {
		vec, err := p.deps.Embedder.Embed(ctx, "dimension probe")
		if err != nil {
			return fmt.Errorf("%w: failed to probe embedding dimension: %w", ErrDependencyUnavailable, err)
		}
		dim = len(vec)
		p.log.Info("embedding dimension probed", zap.Int("dimension", dim))
	}

	if err := p.deps.Vectors.Store().EnsureCollection(ctx, dim); err != nil {
		return fmt.Errorf("failed to prepare collection: %w", err)
	}

	return nil
}
