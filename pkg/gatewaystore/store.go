// Package gatewaystore is the gateway's own persistence: the messages
// table (conversation turns, distinct from the memory service's derived
// memory rows), cost_tracking, and the capture side of the unlimited-recall
// conversation_messages/conversation_packages tables.
package gatewaystore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsync/memoryplane/pkg/models"
)

// Store writes gateway-owned rows against the shared Postgres pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a pool for gateway-side persistence.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertMessage appends one turn to the messages table (§3, append-only).
func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO messages
		(id, thread_id, user_id, role, content, created_at, important, provider, model, tokens_input, tokens_output)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.ThreadID, m.UserID, string(m.Role), m.Content, m.CreatedAt, m.Important, m.Provider, m.Model, m.TokensIn, m.TokensOut)
	if err != nil {
		return fmt.Errorf("gatewaystore: insert message: %w", err)
	}
	return nil
}

// RecordCost appends a cost_tracking row for one provider call.
func (s *Store) RecordCost(ctx context.Context, threadID uuid.UUID, userID, provider, model string, tokensIn, tokensOut int, estimatedCost float64) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO cost_tracking
		(id, thread_id, user_id, provider, model, tokens_input, tokens_output, estimated_cost)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		uuid.New(), threadID, userID, provider, model, tokensIn, tokensOut, estimatedCost)
	if err != nil {
		return fmt.Errorf("gatewaystore: record cost: %w", err)
	}
	return nil
}

// CaptureTurn appends a turn to conversation_messages and rolls up the
// owning conversation_packages row's counters, the unlimited-recall
// subsystem's own copy of conversation history used by the label/summary
// jobs (§4.4 capture).
func (s *Store) CaptureTurn(ctx context.Context, threadID uuid.UUID, userID, role, content string, tokens int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("gatewaystore: begin capture tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO conversation_messages (id, thread_id, user_id, role, content, tokens)
		VALUES ($1,$2,$3,$4,$5,$6)`, uuid.New(), threadID, userID, role, content, tokens); err != nil {
		return fmt.Errorf("gatewaystore: insert conversation message: %w", err)
	}

	now := time.Now()
	if _, err := tx.Exec(ctx, `INSERT INTO conversation_packages
			(thread_id, user_id, message_count, total_tokens, first_message_at, last_message_at)
		VALUES ($1,$2,1,$3,$4,$4)
		ON CONFLICT (thread_id) DO UPDATE SET
			message_count = conversation_packages.message_count + 1,
			total_tokens = conversation_packages.total_tokens + EXCLUDED.total_tokens,
			last_message_at = EXCLUDED.last_message_at`,
		threadID, userID, tokens, now); err != nil {
		return fmt.Errorf("gatewaystore: upsert conversation package: %w", err)
	}

	return tx.Commit(ctx)
}

// PackageCounters is the subset of conversation_packages used to decide
// whether capture thresholds (§4.4) have tripped.
type PackageCounters struct {
	MessageCount int
	TotalTokens  int
}

// Counters reads the current rollup for a thread.
func (s *Store) Counters(ctx context.Context, threadID uuid.UUID) (PackageCounters, error) {
	var c PackageCounters
	err := s.pool.QueryRow(ctx, `SELECT message_count, total_tokens FROM conversation_packages WHERE thread_id = $1`, threadID).
		Scan(&c.MessageCount, &c.TotalTokens)
	if err != nil {
		return PackageCounters{}, nil // no package yet: zero counters, not an error
	}
	return c, nil
}

// PackageSummary is the subset of conversation_packages exposed to
// cross-thread trigger resolution (§4.4): enough to judge a candidate
// thread's recency, time span, and summary without loading its transcript.
type PackageSummary struct {
	ThreadID       uuid.UUID
	Label          string
	Summary        string
	MessageCount   int
	TotalTokens    int
	FirstMessageAt time.Time
	LastMessageAt  time.Time
}

// ListOtherPackages returns userID's conversation packages other than
// excludeThreadID that have a generated summary, most-recently-active
// first. A resume/historical/semantic trigger fires in the context of the
// CURRENT thread but always resolves to a DIFFERENT past conversation, so
// every caller of this excludes the thread the trigger fired in.
func (s *Store) ListOtherPackages(ctx context.Context, userID string, excludeThreadID uuid.UUID, limit int) ([]PackageSummary, error) {
	rows, err := s.pool.Query(ctx, `SELECT thread_id, COALESCE(label, ''), summary, message_count, total_tokens, first_message_at, last_message_at
		FROM conversation_packages
		WHERE user_id = $1 AND thread_id != $2 AND summary IS NOT NULL AND summary != ''
		ORDER BY last_message_at DESC
		LIMIT $3`, userID, excludeThreadID, limit)
	if err != nil {
		return nil, fmt.Errorf("gatewaystore: list other packages: %w", err)
	}
	defer rows.Close()

	var out []PackageSummary
	for rows.Next() {
		var p PackageSummary
		if err := rows.Scan(&p.ThreadID, &p.Label, &p.Summary, &p.MessageCount, &p.TotalTokens, &p.FirstMessageAt, &p.LastMessageAt); err != nil {
			return nil, fmt.Errorf("gatewaystore: scan package summary: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
