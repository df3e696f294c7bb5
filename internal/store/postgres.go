package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps entries in a pgvector table. Each row holds both the
// vector and its source text, so the parallel-collection invariant holds per
// row and Persist is a no-op.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	if _, err := s.db.Exec("CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS exchanges (
			id BIGSERIAL PRIMARY KEY,
			source_text TEXT NOT NULL,
			embedding vector(1536) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create exchanges table: %w", err)
	}

	// May fail on an empty table, which is fine; search falls back to a scan.
	indexSQL := "CREATE INDEX IF NOT EXISTS idx_exchanges_embedding ON exchanges USING ivfflat (embedding vector_l2_ops);"
	if _, err := s.db.Exec(indexSQL); err != nil {
		slog.Warn("Could not create vector index", "error", err)
	}

	return nil
}

func (s *PostgresStore) Append(ctx context.Context, vector []float32, text string) error {
	query := `INSERT INTO exchanges (source_text, embedding) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, text, pgvector.NewVector(vector)); err != nil {
		return fmt.Errorf("failed to store exchange: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, query []float32, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}

	sqlQuery := `
		SELECT source_text
		FROM exchanges
		ORDER BY embedding <-> $1
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, sqlQuery, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search exchanges: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

func (s *PostgresStore) Persist(ctx context.Context) error {
	// Rows are durable as soon as Append commits.
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exchanges").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count exchanges: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
