package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/AtomicBim/rag-service/config"
	"github.com/AtomicBim/rag-service/internal/chunker"
	"github.com/AtomicBim/rag-service/internal/db"
	"github.com/AtomicBim/rag-service/internal/documents"
	"github.com/AtomicBim/rag-service/internal/embeddings"
	"github.com/AtomicBim/rag-service/internal/pipeline"
	"github.com/AtomicBim/rag-service/internal/state"
	"github.com/AtomicBim/rag-service/internal/vectorstore"
	"github.com/AtomicBim/rag-service/internal/vectorstore/chromem"
	"github.com/AtomicBim/rag-service/internal/vectorstore/qdrant"
)

// loadConfig reads the config named by --config
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it globally. When
// logFile is set, logs go there instead of stderr.
func newLogger(cmd *cli.Command, cfg *config.Config, logFile string) (*zap.Logger, error) {
	var zc zap.Config
	if cmd.Bool("debug") {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()

		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to parse log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	if logFile != "" {
		zc.OutputPaths = []string{logFile}
		zc.ErrorOutputPaths = []string{logFile}
	}

	log, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	zap.ReplaceGlobals(log)
	return log, nil
}

// openEmbedder creates the configured embedding provider
func openEmbedder(cfg *config.Config, log *zap.Logger) (embeddings.Embedder, error) {
	return embeddings.New(embeddings.Options{
		Provider:   cfg.Embeddings.Provider,
		URL:        cfg.Embeddings.URL,
		Model:      cfg.Embeddings.Model,
		APIKey:     cfg.Embeddings.APIKey,
		Dimension:  cfg.Embeddings.Dimension,
		Timeout:    cfg.Embeddings.Timeout,
		MaxRetries: cfg.Embeddings.MaxRetries,
		CacheSize:  cfg.Embeddings.CacheSize,
		RateLimit:  cfg.Embeddings.RateLimit,
	}, log)
}

// openVectorStore connects the configured vector backend
func openVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.Vector.Backend {
	case "", "qdrant":
		store, err := qdrant.NewStore(qdrant.Config{
			Host:       cfg.Vector.Host,
			Port:       cfg.Vector.Port,
			APIKey:     cfg.Vector.APIKey,
			UseTLS:     cfg.Vector.APIKey != "",
			Collection: cfg.Vector.Collection,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "pgvector", "postgres":
		store, err := db.New(ctx, cfg.Vector.URL, cfg.Vector.Collection)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "chromem":
		store, err := chromem.NewStore(chromem.Config{
			Path:       cfg.Vector.Path,
			Persistent: cfg.Vector.Persistent,
			Collection: cfg.Vector.Collection,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %s", cfg.Vector.Backend)
	}
}

// indexer holds everything a pipeline needs and closes it together
type indexer struct {
	cfg      *config.Config
	log      *zap.Logger
	scanner  *documents.Scanner
	embedder embeddings.Embedder
	store    vectorstore.Store
	state    state.Store
	deps     pipeline.Deps
}

func openIndexer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*indexer, error) {
	ix := &indexer{cfg: cfg, log: log}

	splitter, err := chunker.New(cfg.Processing.ChunkSize, cfg.Processing.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	converter, err := documents.DetectConverter(cfg.Legacy.Converter)
	if err != nil {
		log.Warn("legacy documents will not be indexed", zap.Error(err))
		converter = nil
	} else {
		log.Info("legacy converter found", zap.String("path", converter.Path()))
	}

	ix.scanner = documents.NewScanner(cfg.Source.IgnorePrefixes, log)

	embedder, err := openEmbedder(cfg, log)
	if err != nil {
		return nil, err
	}
	ix.embedder = embedder

	store, err := openVectorStore(ctx, cfg)
	if err != nil {
		ix.Close()
		return nil, err
	}
	ix.store = store

	st, err := state.Open(cfg.State.Backend, cfg.State.Path, log)
	if err != nil {
		ix.Close()
		return nil, err
	}
	ix.state = st

	ix.deps = pipeline.Deps{
		Scanner:   ix.scanner,
		Extractor: documents.NewRegistry(converter),
		Splitter:  splitter,
		Embedder:  ix.embedder,
		Vectors:   vectorstore.NewSync(ix.store, cfg.Vector.BatchSize, log),
		State:     ix.state,
		Log:       log,
	}

	return ix, nil
}

// newPipeline creates a pipeline reporting to obs
func (ix *indexer) newPipeline(root string, workers int, full bool, obs pipeline.Observer) (*pipeline.Pipeline, error) {
	deps := ix.deps
	deps.Observer = obs

	return pipeline.New(deps, pipeline.Options{
		Root:             root,
		Workers:          workers,
		EmbedConcurrency: ix.cfg.Embeddings.Concurrency,
		StartupAttempts:  ix.cfg.Pipeline.StartupAttempts,
		StartupBackoff:   ix.cfg.Pipeline.StartupBackoff,
		Dimension:        ix.cfg.Embeddings.Dimension,
		Full:             full,
	})
}

func (ix *indexer) Close() error {
	var errs []error
	if ix.state != nil {
		errs = append(errs, ix.state.Close())
	}
	if ix.store != nil {
		errs = append(errs, ix.store.Close())
	}
	if ix.embedder != nil {
		errs = append(errs, ix.embedder.Close())
	}
	return errors.Join(errs...)
}

// tuiLogFile places logs next to the state file while the progress view
// owns the terminal
func tuiLogFile(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.State.Path), "rag-indexer.log")
}
