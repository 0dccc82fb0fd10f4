package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CreateGINIndexes creates the full-text-search GIN indexes that the embedded
// SQL migrations don't (they're derived expressions, easiest to keep in Go
// next to the recall code that depends on them) — a belt-and-suspenders
// split kept consistent with how derived indexes are handled elsewhere.
func CreateGINIndexes(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_memories_content_gin
			ON memories USING gin(to_tsvector('english', content))`,
		`CREATE INDEX IF NOT EXISTS idx_messages_content_gin
			ON messages USING gin(to_tsvector('english', content))`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create GIN index: %w", err)
		}
	}
	return nil
}
