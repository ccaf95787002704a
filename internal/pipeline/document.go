package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/AtomicBim/rag-service/internal/documents"
	"github.com/AtomicBim/rag-service/internal/embeddings"
	"github.com/AtomicBim/rag-service/internal/vectorstore"
)

// safeProcess turns a panic in one document into a failure of that document
func (p *Pipeline) safeProcess(ctx context.Context, doc documents.Document) (result DocumentResult) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("document processing panicked",
				zap.String("document", doc.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			result = p.fail(doc.ID, StageFailed, time.Now(), fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	return p.process(ctx, doc)
}

// process moves one document through every stage. State is written only
// after the vectors of the new version are synced.
func (p *Pipeline) process(ctx context.Context, doc documents.Document) DocumentResult {
	start := time.Now()
	emit := func(stage Stage, chunks int) {
		p.deps.Observer.OnEvent(Event{DocumentID: doc.ID, Stage: stage, Chunks: chunks})
	}

	emit(StageDiscovered, 0)

	data, fingerprint, err := doc.Load()
	if err != nil {
		return p.fail(doc.ID, StageDiscovered, start, err)
	}

	if !p.opts.Full {
		if rec, ok := p.deps.State.Get(doc.ID); ok && rec.Fingerprint == fingerprint {
			emit(StageUnchanged, 0)
			return DocumentResult{
				ID:       doc.ID,
				Status:   StatusUnchanged,
				Stage:    StageUnchanged,
				Duration: time.Since(start),
			}
		}
	}

	text, err := p.deps.Extractor.Extract(ctx, doc.Format, data)
	if err != nil {
		return p.fail(doc.ID, StageDiscovered, start, err)
	}
	emit(StageExtracted, 0)

	chunks := p.deps.Splitter.Split(text)
	if len(chunks) == 0 {
		return p.fail(doc.ID, StageExtracted, start, documents.ErrEmptyDocument)
	}
	emit(StageChunked, len(chunks))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := embeddings.EmbedAll(ctx, p.deps.Embedder, texts, p.opts.EmbedConcurrency)
	if err != nil {
		return p.fail(doc.ID, StageChunked, start, err)
	}
	emit(StageEmbedded, len(chunks))

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{
			ID:     vectorstore.PointID(doc.ID, fingerprint, c.Index),
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				Text:       c.Text,
				SourceFile: doc.ID,
				ChunkIndex: c.Index,
				Category:   doc.Category,
			},
		}
	}

	if err := p.deps.Vectors.Replace(ctx, doc.ID, points); err != nil {
		return p.fail(doc.ID, StageEmbedded, start, err)
	}
	emit(StageSynced, len(chunks))

	if err := p.commit(doc.ID, fingerprint); err != nil {
		return p.fail(doc.ID, StageSynced, start, err)
	}
	emit(StageCommitted, len(chunks))

	return DocumentResult{
		ID:       doc.ID,
		Status:   StatusProcessed,
		Stage:    StageCommitted,
		Chunks:   len(chunks),
		Duration: time.Since(start),
	}
}

// skip reports a file the scan passed over. A variant superseded by a
// higher-priority format loses the points and state it had from earlier runs.
func (p *Pipeline) skip(ctx context.Context, s documents.Skipped) DocumentResult {
	start := time.Now()

	if s.SupersededBy != "" {
		if _, ok := p.deps.State.Get(s.ID); ok || p.opts.Full {
			if err := p.retire(ctx, s.ID); err != nil {
				return p.fail(s.ID, StageDiscovered, start, err)
			}
			p.log.Info("superseded document removed from index",
				zap.String("document", s.ID),
				zap.String("kept", s.SupersededBy),
			)
		}
	}

	p.deps.Observer.OnEvent(Event{DocumentID: s.ID, Stage: StageSkipped, Err: errors.New(s.Reason)})

	return DocumentResult{
		ID:       s.ID,
		Status:   StatusSkipped,
		Stage:    StageSkipped,
		Reason:   s.Reason,
		Duration: time.Since(start),
	}
}

// retire drops the points of id, then its state record
func (p *Pipeline) retire(ctx context.Context, id string) error {
	if err := p.deps.Vectors.Remove(ctx, id); err != nil {
		return err
	}

	if _, ok := p.deps.State.Get(id); !ok {
		return nil
	}
	if err := p.deps.State.Remove(id); err != nil {
		return fmt.Errorf("%w: %w", ErrStateCommit, err)
	}
	if err := p.deps.State.Persist(); err != nil {
		return fmt.Errorf("%w: %w", ErrStateCommit, err)
	}
	return nil
}

func (p *Pipeline) commit(id, fingerprint string) error {
	if err := p.deps.State.Put(id, fingerprint, p.deps.Now()); err != nil {
		return fmt.Errorf("%w: %w", ErrStateCommit, err)
	}
	if err := p.deps.State.Persist(); err != nil {
		return fmt.Errorf("%w: %w", ErrStateCommit, err)
	}
	return nil
}

// fail records a failure; stage is the last stage the document completed
func (p *Pipeline) fail(id string, stage Stage, start time.Time, err error) DocumentResult {
	p.deps.Observer.OnEvent(Event{DocumentID: id, Stage: StageFailed, Err: err})

	return DocumentResult{
		ID:       id,
		Status:   StatusFailed,
		Stage:    stage,
		Kind:     Classify(err),
		Err:      err,
		Reason:   err.Error(),
		Duration: time.Since(start),
	}
}
