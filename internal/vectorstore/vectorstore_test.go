package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore logs every call and can fail the nth upsert
type recordingStore struct {
	sync.Mutex
	ops        []string
	points     map[string]Point
	failUpsert int
	upserts    int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{points: make(map[string]Point)}
}

func (s *recordingStore) Ping(ctx context.Context) error { return nil }

func (s *recordingStore) EnsureCollection(ctx context.Context, dimension int) error { return nil }

func (s *recordingStore) DeleteByDocument(ctx context.Context, documentID string) error {
	s.Lock()
	defer s.Unlock()

	s.ops = append(s.ops, "delete:"+documentID)
	for id, p := range s.points {
		if p.Payload.SourceFile == documentID {
			delete(s.points, id)
		}
	}
	return nil
}

func (s *recordingStore) Upsert(ctx context.Context, points []Point) error {
	s.Lock()
	defer s.Unlock()

	s.upserts++
	s.ops = append(s.ops, fmt.Sprintf("upsert:%d", len(points)))
	if s.failUpsert == s.upserts {
		return errors.New("connection reset")
	}
	for _, p := range points {
		s.points[p.ID] = p
	}
	return nil
}

func (s *recordingStore) Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	return nil, nil
}

func (s *recordingStore) DropCollection(ctx context.Context) error { return nil }
func (s *recordingStore) Close() error                           { return nil }

func (s *recordingStore) pointsOf(documentID string) int {
	s.Lock()
	defer s.Unlock()

	n := 0
	for _, p := range s.points {
		if p.Payload.SourceFile == documentID {
			n++
		}
	}
	return n
}

func makePoints(documentID, fingerprint string, n int) []Point {
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{
			ID:     PointID(documentID, fingerprint, i),
			Vector: []float32{float32(i), 1},
			Payload: Payload{
				Text:       fmt.Sprintf("chunk %d", i),
				SourceFile: documentID,
				ChunkIndex: i,
				Category:   "hr",
			},
		}
	}
	return points
}

func TestReplaceDeletesBeforeBatchedUpsert(t *testing.T) {
	store := newRecordingStore()
	vs := NewSync(store, 32, nil)

	require.NoError(t, vs.Replace(context.Background(), "hr/policy.docx", makePoints("hr/policy.docx", "v1", 70)))

	assert.Equal(t, []string{"delete:hr/policy.docx", "upsert:32", "upsert:32", "upsert:6"}, store.ops)
	assert.Equal(t, 70, store.pointsOf("hr/policy.docx"))
}

func TestReplaceLeavesExactlyTheNewPoints(t *testing.T) {
	store := newRecordingStore()
	vs := NewSync(store, 32, nil)
	ctx := context.Background()

	require.NoError(t, vs.Replace(ctx, "a.pdf", makePoints("a.pdf", "v1", 10)))
	require.NoError(t, vs.Replace(ctx, "b.pdf", makePoints("b.pdf", "v1", 4)))
	require.NoError(t, vs.Replace(ctx, "a.pdf", makePoints("a.pdf", "v2", 3)))

	assert.Equal(t, 3, store.pointsOf("a.pdf"))
	assert.Equal(t, 4, store.pointsOf("b.pdf"))
}

func TestReplaceAbortsOnFailedBatch(t *testing.T) {
	store := newRecordingStore()
	store.failUpsert = 2
	vs := NewSync(store, 2, nil)

	err := vs.Replace(context.Background(), "a.pdf", makePoints("a.pdf", "v1", 6))
	assert.ErrorIs(t, err, ErrVectorStore)

	assert.Equal(t, []string{"delete:a.pdf", "upsert:2", "upsert:2"}, store.ops)
	assert.Equal(t, 2, store.pointsOf("a.pdf"))
}

func TestReplaceWithNoPointsOnlyDeletes(t *testing.T) {
	store := newRecordingStore()
	vs := NewSync(store, 32, nil)

	require.NoError(t, vs.Replace(context.Background(), "a.pdf", nil))
	assert.Equal(t, []string{"delete:a.pdf"}, store.ops)
}

type replacerStore struct {
	*recordingStore
	calls int
}

func (r *replacerStore) Replace(ctx context.Context, documentID string, points []Point, batchSize int) error {
	r.calls++
	return nil
}

func TestReplacePrefersTransactionalReplacer(t *testing.T) {
	store := &replacerStore{recordingStore: newRecordingStore()}

	require.NoError(t, NewSync(store, 8, nil).Replace(context.Background(), "a.pdf", makePoints("a.pdf", "v1", 3)))

	assert.Equal(t, 1, store.calls)
	assert.Empty(t, store.ops)
}

func TestPointIDIsStableAndVersioned(t *testing.T) {
	a := PointID("hr/policy.docx", "fp1", 0)

	assert.Equal(t, a, PointID("hr/policy.docx", "fp1", 0))
	assert.NotEqual(t, a, PointID("hr/policy.docx", "fp1", 1))
	assert.NotEqual(t, a, PointID("hr/policy.docx", "fp2", 0))
	assert.NotEqual(t, a, PointID("hr/other.docx", "fp1", 0))

	u, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), u.Version())
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(context.Canceled, "failed to upsert")
	assert.ErrorIs(t, err, ErrVectorStore)
	assert.ErrorIs(t, err, context.Canceled)

	again := Wrap(err, "failed to replace")
	assert.ErrorIs(t, again, ErrVectorStore)
	assert.Equal(t, "failed to replace: failed to upsert: vector store failed: context canceled", again.Error())
}
