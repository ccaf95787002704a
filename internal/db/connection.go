// Package db is the PostgreSQL + pgvector vector store backend.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the database connection pool and the chunk table it manages
type DB struct {
	pool  *pgxpool.Pool
	table string
	t     tableSQL
}

// New creates a new database connection. table is the collection name; it
// is quoted as an identifier in every statement.
func New(ctx context.Context, connString, table string) (*DB, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{
		pool:  pool,
		table: table,
		t:     newTableSQL(table),
	}, nil
}

// Ping checks the database answers within five seconds
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.pool.Ping(ctx); err != nil {
		return wrap(err, "failed to ping database")
	}
	return nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// tableSQL holds the statements for one chunk table
type tableSQL struct {
	name        string
	create      string
	index       string
	dimension   string
	deleteByDoc string
	upsert      string
	search      string
	drop        string
}

func newTableSQL(table string) tableSQL {
	name := pgx.Identifier{table}.Sanitize()
	index := pgx.Identifier{table + "_source_file_idx"}.Sanitize()

	return tableSQL{
		name: name,
		create: `CREATE TABLE IF NOT EXISTS ` + name + ` (
			id UUID PRIMARY KEY,
			source_file TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding vector({dimension}) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		index: `CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + name + ` (source_file)`,
		dimension: `SELECT atttypmod FROM pg_attribute
			WHERE attrelid = to_regclass($1) AND attname = 'embedding'`,
		deleteByDoc: `DELETE FROM ` + name + ` WHERE source_file = $1`,
		upsert: `INSERT INTO ` + name + ` (id, source_file, chunk_index, category, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				source_file = EXCLUDED.source_file,
				chunk_index = EXCLUDED.chunk_index,
				category = EXCLUDED.category,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding`,
		search: `SELECT id, source_file, chunk_index, category, content, created_at,
				1 - (embedding <=> $1) AS score
			FROM ` + name + `
			ORDER BY embedding <=> $1
			LIMIT $2`,
		drop: `DROP TABLE IF EXISTS ` + name,
	}
}
