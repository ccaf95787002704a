package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/AtomicBim/rag-service/internal/vectorstore"
)

// Chunk represents a text chunk with embedding
type Chunk struct {
	ID         uuid.UUID
	SourceFile string
	ChunkIndex int
	Category   string
	Content    string
	Embedding  *pgvector.Vector
	CreatedAt  time.Time
}

// chunkFromPoint converts a point into its row
func chunkFromPoint(p vectorstore.Point) (*Chunk, error) {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return nil, err
	}

	vec := pgvector.NewVector(p.Vector)

	return &Chunk{
		ID:         id,
		SourceFile: p.Payload.SourceFile,
		ChunkIndex: p.Payload.ChunkIndex,
		Category:   p.Payload.Category,
		Content:    p.Payload.Text,
		Embedding:  &vec,
	}, nil
}

// Payload returns the point payload of the row
func (c *Chunk) Payload() vectorstore.Payload {
	return vectorstore.Payload{
		Text:       c.Content,
		SourceFile: c.SourceFile,
		ChunkIndex: c.ChunkIndex,
		Category:   c.Category,
	}
}
