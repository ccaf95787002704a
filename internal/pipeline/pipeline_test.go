package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/AtomicBim/rag-service/internal/chunker"
	"github.com/AtomicBim/rag-service/internal/documents"
	"github.com/AtomicBim/rag-service/internal/embeddings"
	"github.com/AtomicBim/rag-service/internal/state"
	"github.com/AtomicBim/rag-service/internal/vectorstore"
)

// plainExtractor treats file bytes as the document text
type plainExtractor struct {
	calls atomic.Int32
}

func (e *plainExtractor) Extract(_ context.Context, _ documents.Format, data []byte) (string, error) {
	e.calls.Add(1)
	text := string(data)
	if strings.Contains(text, "PANIC") {
		panic("extractor exploded")
	}
	if strings.Contains(text, "BROKEN") {
		return "", fmt.Errorf("%w: unreadable", documents.ErrExtraction)
	}
	return documents.Normalize(text), nil
}

type fakeEmbedder struct {
	pingErr error
	pings   atomic.Int32
	embeds  atomic.Int32
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.embeds.Add(1)
	if strings.Contains(text, "UNEMBEDDABLE") {
		return nil, fmt.Errorf("%w: status 500", embeddings.ErrEmbeddingService)
	}
	return []float32{float32(len(text)), 1, 0, 0}, nil
}

func (e *fakeEmbedder) Ping(context.Context) error {
	e.pings.Add(1)
	return e.pingErr
}

func (e *fakeEmbedder) Dimension() int { return 4 }
func (e *fakeEmbedder) Model() string  { return "fake" }
func (e *fakeEmbedder) Close() error   { return nil }

type memoryStore struct {
	mu        sync.Mutex
	points    map[string]vectorstore.Point
	dimension int
	upserts   int
	deleted   []string
	failAt    int // fail the n-th upsert call when > 0
}

func newMemoryStore() *memoryStore {
	return &memoryStore{points: make(map[string]vectorstore.Point)}
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) EnsureCollection(_ context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	return nil
}

func (s *memoryStore) DeleteByDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	for k, p := range s.points {
		if p.Payload.SourceFile == id {
			delete(s.points, k)
		}
	}
	return nil
}

func (s *memoryStore) Upsert(_ context.Context, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failAt > 0 && s.upserts == s.failAt {
		return errors.New("connection reset")
	}
	for _, p := range points {
		s.points[p.ID] = p
	}
	return nil
}

func (s *memoryStore) Search(context.Context, []float32, int) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (s *memoryStore) DropCollection(context.Context) error { return nil }
func (s *memoryStore) Close() error                         { return nil }

func (s *memoryStore) pointsOf(id string) []vectorstore.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vectorstore.Point
	for _, p := range s.points {
		if p.Payload.SourceFile == id {
			out = append(out, p)
		}
	}
	return out
}

func (s *memoryStore) deletesOf(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.deleted {
		if d == id {
			n++
		}
	}
	return n
}

func (s *memoryStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

type harness struct {
	root      string
	pipeline  *Pipeline
	extractor *plainExtractor
	embedder  *fakeEmbedder
	store     *memoryStore
	state     state.Store
	events    *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) stages(id string) []Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Stage
	for _, e := range l.events {
		if e.DocumentID == id {
			out = append(out, e.Stage)
		}
	}
	return out
}

func newHarness(t *testing.T, root string, modify func(*Deps, *Options)) *harness {
	t.Helper()

	log := zaptest.NewLogger(t)

	st, err := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"), log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	splitter, err := chunker.New(800, 60)
	require.NoError(t, err)

	h := &harness{
		root:      root,
		extractor: &plainExtractor{},
		embedder:  &fakeEmbedder{},
		store:     newMemoryStore(),
		state:     st,
		events:    &eventLog{},
	}

	deps := Deps{
		Scanner:   documents.NewScanner([]string{"~$", "."}, log),
		Extractor: h.extractor,
		Splitter:  splitter,
		Embedder:  h.embedder,
		Vectors:   vectorstore.NewSync(h.store, 1, log),
		State:     st,
		Observer:  Observers{h.events, NewLoggingObserver(log)},
		Log:       log,
	}
	opts := Options{
		Root:             root,
		Workers:          2,
		EmbedConcurrency: 2,
		StartupAttempts:  2,
		StartupBackoff:   time.Millisecond,
	}
	if modify != nil {
		modify(&deps, &opts)
	}

	h.pipeline, err = New(deps, opts)
	require.NoError(t, err)
	return h
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "regulations")
	require.NoError(t, os.MkdirAll(root, 0o755))
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func policyText() string {
	return strings.Repeat("Policy clause text. ", 100)
}

func result(t *testing.T, s *Summary, id string) DocumentResult {
	t.Helper()
	for _, r := range s.Results {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("no result for %s", id)
	return DocumentResult{}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
}

func TestRun_MixedTree(t *testing.T) {
	root := writeTree(t, map[string]string{
		"hr/policy.docx":   policyText(),
		"hr/policy.pdf":    "old copy of the policy",
		"hr/memo.pdf":      strings.Repeat("Memo text. ", 50)[:500],
		"hr/~$policy.docx": "lock file",
	})
	h := newHarness(t, root, nil)

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 4, summary.Chunks)
	require.Len(t, summary.Results, 3)

	ids := []string{summary.Results[0].ID, summary.Results[1].ID, summary.Results[2].ID}
	assert.Equal(t, []string{"hr/memo.pdf", "hr/policy.docx", "hr/policy.pdf"}, ids)

	policy := h.store.pointsOf("hr/policy.docx")
	assert.Len(t, policy, 3)
	for _, p := range policy {
		assert.Equal(t, "hr", p.Payload.Category)
		assert.Equal(t, vectorstore.PointID("hr/policy.docx", documents.Fingerprint([]byte(policyText())), p.Payload.ChunkIndex), p.ID)
	}
	assert.Len(t, h.store.pointsOf("hr/memo.pdf"), 1)
	assert.Empty(t, h.store.pointsOf("hr/policy.pdf"))

	skipped := result(t, summary, "hr/policy.pdf")
	assert.Equal(t, StatusSkipped, skipped.Status)
	assert.Contains(t, skipped.Reason, "hr/policy.docx")

	rec, ok := h.state.Get("hr/policy.docx")
	require.True(t, ok)
	assert.Equal(t, documents.Fingerprint([]byte(policyText())), rec.Fingerprint)
	_, ok = h.state.Get("hr/policy.pdf")
	assert.False(t, ok)

	assert.Equal(t, 4, h.store.dimension)
	assert.Equal(t,
		[]Stage{StageDiscovered, StageExtracted, StageChunked, StageEmbedded, StageSynced, StageCommitted},
		h.events.stages("hr/memo.pdf"))
}

func TestRun_Idempotent(t *testing.T) {
	root := writeTree(t, map[string]string{
		"hr/policy.docx": policyText(),
		"memo.pdf":       "Short memo.",
	})
	h := newHarness(t, root, nil)

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	upserts := h.store.upsertCount()
	embeds := h.embedder.embeds.Load()
	extracts := h.extractor.calls.Load()

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Unchanged)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, upserts, h.store.upsertCount())
	assert.Equal(t, embeds, h.embedder.embeds.Load())
	assert.Equal(t, extracts, h.extractor.calls.Load())

	r := result(t, summary, "memo.pdf")
	assert.Equal(t, StatusUnchanged, r.Status)
}

func TestRun_TouchWithoutChangeIsUnchanged(t *testing.T) {
	root := writeTree(t, map[string]string{"memo.pdf": "Short memo."})
	h := newHarness(t, root, nil)

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "memo.pdf"), later, later))

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unchanged)
	assert.Equal(t, 0, summary.Processed)
}

func TestRun_FullReprocessesUnchanged(t *testing.T) {
	root := writeTree(t, map[string]string{"memo.pdf": "Short memo."})
	h := newHarness(t, root, func(_ *Deps, o *Options) { o.Full = true })

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Len(t, h.store.pointsOf("memo.pdf"), 1)
}

func TestRun_ContentChangeReplacesPoints(t *testing.T) {
	root := writeTree(t, map[string]string{
		"hr/policy.docx": policyText(),
		"hr/memo.pdf":    "Short memo.",
	})
	h := newHarness(t, root, nil)

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	before := h.store.pointsOf("hr/policy.docx")

	require.NoError(t, os.WriteFile(filepath.Join(root, "hr", "policy.docx"), []byte("Rewritten policy."), 0o644))

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusProcessed, result(t, summary, "hr/policy.docx").Status)
	assert.Equal(t, StatusUnchanged, result(t, summary, "hr/memo.pdf").Status)

	after := h.store.pointsOf("hr/policy.docx")
	require.Len(t, after, 1)
	assert.Equal(t, "Rewritten policy.", after[0].Payload.Text)
	for _, p := range before {
		assert.NotEqual(t, p.ID, after[0].ID)
	}
}

func TestRun_InterruptedReplaceIsRetried(t *testing.T) {
	root := writeTree(t, map[string]string{"hr/policy.docx": policyText()})
	h := newHarness(t, root, nil)
	h.store.failAt = 2

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	r := result(t, summary, "hr/policy.docx")
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, KindVectorStore, r.Kind)
	assert.Equal(t, StageEmbedded, r.Stage)
	assert.ErrorIs(t, r.Err, vectorstore.ErrVectorStore)

	_, ok := h.state.Get("hr/policy.docx")
	assert.False(t, ok, "failed sync must not be committed")

	h.store.mu.Lock()
	h.store.failAt = 0
	h.store.mu.Unlock()

	summary, err = h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Len(t, h.store.pointsOf("hr/policy.docx"), 3)

	_, ok = h.state.Get("hr/policy.docx")
	assert.True(t, ok)
}

func TestRun_SupersededVariantLeavesIndex(t *testing.T) {
	root := writeTree(t, map[string]string{"hr/policy.pdf": "Old copy of the policy."})
	h := newHarness(t, root, nil)

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.store.pointsOf("hr/policy.pdf"), 1)

	require.NoError(t, os.WriteFile(filepath.Join(root, "hr", "policy.docx"), []byte(policyText()), 0o644))

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, StatusSkipped, result(t, summary, "hr/policy.pdf").Status)

	assert.Empty(t, h.store.pointsOf("hr/policy.pdf"))
	assert.Len(t, h.store.pointsOf("hr/policy.docx"), 3)

	_, ok := h.state.Get("hr/policy.pdf")
	assert.False(t, ok)
	_, ok = h.state.Get("hr/policy.docx")
	assert.True(t, ok)

	// nothing left to retire on later runs
	deletes := h.store.deletesOf("hr/policy.pdf")
	_, err = h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, deletes, h.store.deletesOf("hr/policy.pdf"))
}

func TestRun_FailedChunkEmbeddingFailsDocument(t *testing.T) {
	bad := policyText()[:900] + " UNEMBEDDABLE " + policyText()[:900]
	root := writeTree(t, map[string]string{
		"bad.pdf":  bad,
		"good.pdf": "Fine document.",
	})
	h := newHarness(t, root, nil)

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	r := result(t, summary, "bad.pdf")
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, KindEmbedding, r.Kind)
	assert.Equal(t, StageChunked, r.Stage)
	assert.ErrorIs(t, r.Err, embeddings.ErrEmbeddingService)

	assert.Zero(t, h.store.deletesOf("bad.pdf"))
	assert.Empty(t, h.store.pointsOf("bad.pdf"))
	_, ok := h.state.Get("bad.pdf")
	assert.False(t, ok)

	assert.Equal(t, StatusProcessed, result(t, summary, "good.pdf").Status)
	assert.Len(t, h.store.pointsOf("good.pdf"), 1)
	_, ok = h.state.Get("good.pdf")
	assert.True(t, ok)
	assert.Equal(t, 1, h.store.upsertCount())
}

func TestRun_ExtractionFailureIsolated(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.pdf": "BROKEN",
		"b.pdf": "Fine document.",
		"c.pdf": "PANIC",
	})
	h := newHarness(t, root, nil)

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Failed)
	assert.Len(t, summary.Failures(), 2)

	broken := result(t, summary, "a.pdf")
	assert.Equal(t, KindExtraction, broken.Kind)

	panicked := result(t, summary, "c.pdf")
	assert.Equal(t, KindInternal, panicked.Kind)
	assert.ErrorIs(t, panicked.Err, ErrPanic)

	_, ok := h.state.Get("a.pdf")
	assert.False(t, ok)
	_, ok = h.state.Get("b.pdf")
	assert.True(t, ok)
}

func TestRun_EmptyDocumentFails(t *testing.T) {
	root := writeTree(t, map[string]string{"blank.pdf": "   \n\n  "})
	h := newHarness(t, root, nil)

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	r := result(t, summary, "blank.pdf")
	assert.Equal(t, StatusFailed, r.Status)
	assert.ErrorIs(t, r.Err, documents.ErrEmptyDocument)
}

func TestRun_DependencyUnavailable(t *testing.T) {
	root := writeTree(t, map[string]string{"memo.pdf": "Short memo."})
	h := newHarness(t, root, nil)
	h.embedder.pingErr = fmt.Errorf("%w: connection refused", embeddings.ErrEmbeddingService)

	summary, err := h.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.Equal(t, KindDependency, Classify(err))

	assert.EqualValues(t, 2, h.embedder.pings.Load())
	assert.Zero(t, h.extractor.calls.Load())
	assert.Zero(t, h.store.upsertCount())
	assert.Empty(t, h.state.LoadAll())
}

func TestRun_RunInProgress(t *testing.T) {
	h := newHarness(t, writeTree(t, nil), nil)

	require.True(t, h.pipeline.lock.TryAcquire())
	_, err := h.pipeline.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	h.pipeline.lock.Release()
	_, err = h.pipeline.Run(context.Background())
	assert.NoError(t, err)
}

func TestRun_CancelStopsNewDocuments(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.pdf": "First.",
		"b.pdf": "Second.",
		"c.pdf": "Third.",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, root, func(d *Deps, o *Options) {
		o.Workers = 1
		d.Observer = ObserverFunc(func(e Event) {
			if e.Stage == StageCommitted {
				cancel()
			}
		})
	})

	summary, err := h.pipeline.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Processed)

	_, ok := h.state.Get("a.pdf")
	assert.True(t, ok)
	_, ok = h.state.Get("c.pdf")
	assert.False(t, ok)
}

func TestRun_ProbesDimension(t *testing.T) {
	root := writeTree(t, map[string]string{"memo.pdf": "Short memo."})
	h := newHarness(t, root, func(d *Deps, _ *Options) {
		d.Embedder = unknownDimension{&fakeEmbedder{}}
	})

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, h.store.dimension)
}

type unknownDimension struct {
	*fakeEmbedder
}

func (unknownDimension) Dimension() int { return 0 }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"extraction", fmt.Errorf("x: %w", documents.ErrEmptyDocument), KindExtraction},
		{"unsupported", documents.ErrUnsupportedPlatform, KindUnsupported},
		{"embedding", embeddings.ErrEmbeddingService, KindEmbedding},
		{"vector", vectorstore.Wrap(errors.New("boom"), "upsert"), KindVectorStore},
		{"state", fmt.Errorf("%w: disk full", ErrStateCommit), KindState},
		{"cancelled", context.Canceled, KindCancelled},
		{"panic", ErrPanic, KindInternal},
		{"io", &fs.PathError{Op: "open", Path: "x", Err: fs.ErrPermission}, KindIO},
		{"unknown", errors.New("mystery"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
