package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/AtomicBim/rag-service/internal/documents"
	"github.com/AtomicBim/rag-service/internal/embeddings"
	"github.com/AtomicBim/rag-service/internal/state"
	"github.com/AtomicBim/rag-service/internal/vectorstore"
)

var (
	// ErrDependencyUnavailable aborts a run before any document is touched
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrRunInProgress is returned when Run is called during another run
	ErrRunInProgress = errors.New("indexing run already in progress")

	// ErrStateCommit marks a document whose vectors were synced but whose
	// state could not be recorded
	ErrStateCommit = errors.New("state commit failed")

	// ErrPanic marks a document whose processing panicked
	ErrPanic = errors.New("panic while processing document")
)

// Kind groups document failures for reporting
type Kind string

const (
	KindNone        Kind = ""
	KindIO          Kind = "io"
	KindExtraction  Kind = "extraction"
	KindUnsupported Kind = "unsupported_platform"
	KindEmbedding   Kind = "embedding_service"
	KindVectorStore Kind = "vector_store"
	KindState       Kind = "state"
	KindDependency  Kind = "dependency_unavailable"
	KindCancelled   Kind = "cancelled"
	KindInternal    Kind = "internal"
	KindUnknown     Kind = "unknown"
)

// Classify maps an error to its kind
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, documents.ErrUnsupportedPlatform):
		return KindUnsupported
	case errors.Is(err, documents.ErrExtraction):
		return KindExtraction
	case errors.Is(err, embeddings.ErrEmbeddingService):
		return KindEmbedding
	case errors.Is(err, vectorstore.ErrVectorStore):
		return KindVectorStore
	case errors.Is(err, ErrStateCommit), errors.Is(err, state.ErrCorrupted):
		return KindState
	case errors.Is(err, ErrDependencyUnavailable):
		return KindDependency
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrPanic):
		return KindInternal
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return KindIO
	default:
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return KindIO
		}
		return KindUnknown
	}
}

// Status is the outcome of one document in a run
type Status string

const (
	StatusProcessed Status = "processed"
	StatusUnchanged Status = "unchanged"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// DocumentResult reports one document
type DocumentResult struct {
	ID       string
	Status   Status
	Stage    Stage // last stage reached
	Kind     Kind
	Err      error
	Reason   string
	Chunks   int
	Duration time.Duration
}

// Summary reports a run
type Summary struct {
	Processed int
	Skipped   int
	Unchanged int
	Failed    int
	Chunks    int
	Duration  time.Duration
	Results   []DocumentResult
}

// Failures returns the failed documents
func (s *Summary) Failures() []DocumentResult {
	var out []DocumentResult
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

func (s *Summary) add(r DocumentResult) {
	switch r.Status {
	case StatusProcessed:
		s.Processed++
		s.Chunks += r.Chunks
	case StatusUnchanged:
		s.Unchanged++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}
