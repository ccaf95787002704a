package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/AtomicBim/rag-service/internal/vectorstore"
)

// wrap tags database errors as vector store failures
func wrap(err error, msg string) error {
	return vectorstore.Wrap(err, msg)
}

// EnsureCollection creates the pgvector extension, the chunk table and its
// source_file index. An existing table must have the same dimension.
func (db *DB) EnsureCollection(ctx context.Context, dimension int) error {
	if _, err := db.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return wrap(err, "failed to create vector extension")
	}

	var current int
	err := db.pool.QueryRow(ctx, db.t.dimension, db.t.name).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return wrap(err, "failed to read table dimension")
	case current > 0 && current != dimension:
		return fmt.Errorf("%w: table %s holds %d, expected %d",
			vectorstore.ErrDimensionMismatch, db.table, current, dimension)
	}

	create := strings.ReplaceAll(db.t.create, "{dimension}", strconv.Itoa(dimension))
	if _, err := db.pool.Exec(ctx, create); err != nil {
		return wrap(err, "failed to create table")
	}

	if _, err := db.pool.Exec(ctx, db.t.index); err != nil {
		return wrap(err, "failed to create index")
	}

	return nil
}

// DeleteByDocument deletes all chunks of a document
func (db *DB) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := db.pool.Exec(ctx, db.t.deleteByDoc, documentID); err != nil {
		return wrap(err, "failed to delete chunks")
	}
	return nil
}

// Upsert inserts multiple chunks in one batch
func (db *DB) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := db.upsertBatch(points)
	if err != nil {
		return err
	}

	br := db.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(points); i++ {
		if _, err := br.Exec(); err != nil {
			return wrap(err, fmt.Sprintf("failed to insert chunk %d", i))
		}
	}
	return nil
}

// Replace deletes the chunks of a document and inserts points in one
// transaction, batchSize rows per round trip
func (db *DB) Replace(ctx context.Context, documentID string, points []vectorstore.Point, batchSize int) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, db.t.deleteByDoc, documentID); err != nil {
		return wrap(err, "failed to delete chunks")
	}

	for start := 0; start < len(points); start += batchSize {
		end := min(start+batchSize, len(points))

		batch, err := db.upsertBatch(points[start:end])
		if err != nil {
			return err
		}

		br := tx.SendBatch(ctx, batch)
		for i := start; i < end; i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return wrap(err, fmt.Sprintf("failed to insert chunk %d", i))
			}
		}
		if err := br.Close(); err != nil {
			return wrap(err, "failed to close batch")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return wrap(err, "failed to commit")
	}
	return nil
}

func (db *DB) upsertBatch(points []vectorstore.Point) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for _, p := range points {
		chunk, err := chunkFromPoint(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid point id %q: %v", vectorstore.ErrVectorStore, p.ID, err)
		}

		batch.Queue(db.t.upsert,
			chunk.ID, chunk.SourceFile, chunk.ChunkIndex, chunk.Category, chunk.Content, chunk.Embedding,
		)
	}
	return batch, nil
}

// Search finds similar chunks using cosine distance
func (db *DB) Search(ctx context.Context, vector []float32, k int) ([]vectorstore.SearchResult, error) {
	embedding := pgvector.NewVector(vector)

	rows, err := db.pool.Query(ctx, db.t.search, embedding, k)
	if err != nil {
		return nil, wrap(err, "failed to search chunks")
	}
	defer rows.Close()

	var results []vectorstore.SearchResult
	for rows.Next() {
		var (
			chunk Chunk
			score float64
		)
		if err := rows.Scan(
			&chunk.ID, &chunk.SourceFile, &chunk.ChunkIndex, &chunk.Category,
			&chunk.Content, &chunk.CreatedAt, &score,
		); err != nil {
			return nil, wrap(err, "failed to scan chunk")
		}

		results = append(results, vectorstore.SearchResult{
			Payload: chunk.Payload(),
			Score:   float32(score),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, wrap(err, "failed to read chunks")
	}
	return results, nil
}

// DropCollection drops the chunk table
func (db *DB) DropCollection(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, db.t.drop); err != nil {
		return wrap(err, "failed to drop table")
	}
	return nil
}
