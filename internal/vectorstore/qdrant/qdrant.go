// Package qdrant is the Qdrant vector store backend.
package qdrant

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/AtomicBim/rag-service/internal/vectorstore"
)

// Config addresses the Qdrant gRPC endpoint
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// Store keeps points in one Qdrant collection
type Store struct {
	client     *qdrant.Client
	collection string
}

// NewStore connects to Qdrant
func NewStore(cfg Config) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, vectorstore.Wrap(err, "failed to create qdrant client")
	}

	return &Store{
		client:     client,
		collection: cfg.Collection,
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return vectorstore.Wrap(err, "qdrant health check failed")
	}
	return nil
}

func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return vectorstore.Wrap(err, "failed to check collection")
	}

	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return vectorstore.Wrap(err, "failed to read collection")
		}

		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != uint64(dimension) {
			return fmt.Errorf("%w: collection %s holds %d, expected %d",
				vectorstore.ErrDimensionMismatch, s.collection, size, dimension)
		}
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return vectorstore.Wrap(err, "failed to create collection")
	}

	// filter-deletes by source_file run on every replace
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      vectorstore.KeySourceFile,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return vectorstore.Wrap(err, "failed to index source_file")
	}

	return nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
	})
	if err != nil {
		return vectorstore.Wrap(err, "failed to delete points")
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = toPointStruct(p)
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return vectorstore.Wrap(err, "failed to upsert points")
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]vectorstore.SearchResult, error) {
	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, vectorstore.Wrap(err, "failed to query")
	}

	results := make([]vectorstore.SearchResult, len(scored))
	for i, p := range scored {
		results[i] = vectorstore.SearchResult{
			Payload: fromPayload(p.GetPayload()),
			Score:   p.GetScore(),
		}
	}
	return results, nil
}

func (s *Store) DropCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return vectorstore.Wrap(err, "failed to check collection")
	}
	if !exists {
		return nil
	}

	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return vectorstore.Wrap(err, "failed to drop collection")
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(vectorstore.KeySourceFile, documentID),
		},
	}
}

func toPointStruct(p vectorstore.Point) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			vectorstore.KeyText:       p.Payload.Text,
			vectorstore.KeySourceFile: p.Payload.SourceFile,
			vectorstore.KeyChunkIndex: p.Payload.ChunkIndex,
			vectorstore.KeyCategory:   p.Payload.Category,
		}),
	}
}

func fromPayload(payload map[string]*qdrant.Value) vectorstore.Payload {
	return vectorstore.Payload{
		Text:       payload[vectorstore.KeyText].GetStringValue(),
		SourceFile: payload[vectorstore.KeySourceFile].GetStringValue(),
		ChunkIndex: int(payload[vectorstore.KeyChunkIndex].GetIntegerValue()),
		Category:   payload[vectorstore.KeyCategory].GetStringValue(),
	}
}
