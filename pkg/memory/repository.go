package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsync/memoryplane/pkg/models"
)

// ErrNotFound is returned when a memory lookup by ID matches no row.
var ErrNotFound = errors.New("memory: not found")

// Repository is the pgx-backed store for memories, audits, and thread
// summaries. Every method takes a context and is safe for concurrent use
// (pgxpool manages its own connection checkout).
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Repository bound to the memory-service pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Recent returns a user's non-deleted memories ordered by updatedAt DESC,
// the window Match/DetectTier scan over. limit 0 means no limit.
func (r *Repository) Recent(ctx context.Context, userID string, limit int) ([]*models.Memory, error) {
	query := `SELECT id, user_id, thread_id, content, normalized, tier, priority, confidence,
			entities, redaction_map, source_thread_id, repeats, thread_set, last_seen_ts,
			created_at, updated_at, deleted_at
		FROM memories WHERE user_id = $1 AND deleted_at IS NULL ORDER BY updated_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query recent: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ByThread returns a thread's non-deleted memories, most recently updated
// first, used by GET /memories?threadId=.
func (r *Repository) ByThread(ctx context.Context, userID string, threadID uuid.UUID) ([]*models.Memory, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, thread_id, content, normalized, tier, priority, confidence,
			entities, redaction_map, source_thread_id, repeats, thread_set, last_seen_ts,
			created_at, updated_at, deleted_at
		FROM memories WHERE user_id = $1 AND thread_id = $2 AND deleted_at IS NULL ORDER BY updated_at DESC`,
		userID, threadID)
	if err != nil {
		return nil, fmt.Errorf("memory: query by thread: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// FullTextSearch ranks a user's memories against query using Postgres'
// ts_rank over to_tsvector('english', content), bounded by ctx's deadline
// (§4.3 step 2). database.CreateGINIndexes defines a matching GIN index;
// nothing in the service runs it.
func (r *Repository) FullTextSearch(ctx context.Context, userID, query string, limit int) ([]*models.Memory, []float64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, thread_id, content, normalized, tier, priority, confidence,
			entities, redaction_map, source_thread_id, repeats, thread_set, last_seen_ts,
			created_at, updated_at, deleted_at,
			ts_rank(to_tsvector('english', content), plainto_tsquery('english', $2)) AS rank
		FROM memories
		WHERE user_id = $1 AND deleted_at IS NULL
			AND to_tsvector('english', content) @@ plainto_tsquery('english', $2)
		ORDER BY rank DESC LIMIT $3`, userID, query, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("memory: fts search: %w", err)
	}
	defer rows.Close()

	var out []*models.Memory
	var ranks []float64
	for rows.Next() {
		var m models.Memory
		var entities, redaction, threadSet []byte
		var tier string
		var rank float64
		if err := rows.Scan(&m.ID, &m.UserID, &m.ThreadID, &m.Content, &m.Normalized, &tier, &m.Priority,
			&m.Confidence, &entities, &redaction, &m.SourceThreadID, &m.Repeats, &threadSet, &m.LastSeenTS,
			&m.CreatedAt, &m.UpdatedAt, &m.DeletedAt, &rank); err != nil {
			return nil, nil, fmt.Errorf("memory: fts scan: %w", err)
		}
		m.Tier = models.Tier(tier)
		decodeJSONFields(&m, entities, redaction, threadSet)
		out = append(out, &m)
		ranks = append(ranks, rank)
	}
	return out, ranks, rows.Err()
}

// ByIDs fetches multiple memories in one round trip, preserving no
// particular order; used to hydrate vector-search hits by their stored ID.
func (r *Repository) ByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, thread_id, content, normalized, tier, priority, confidence,
			entities, redaction_map, source_thread_id, repeats, thread_set, last_seen_ts,
			created_at, updated_at, deleted_at
		FROM memories WHERE id = ANY($1) AND deleted_at IS NULL`, ids)
	if err != nil {
		return nil, fmt.Errorf("memory: by ids: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func decodeJSONFields(m *models.Memory, entities, redaction, threadSet []byte) {
	if len(entities) > 0 {
		_ = json.Unmarshal(entities, &m.Entities)
	}
	if len(redaction) > 0 {
		_ = json.Unmarshal(redaction, &m.RedactionMap)
	}
	if len(threadSet) > 0 {
		_ = json.Unmarshal(threadSet, &m.ThreadSet)
	}
}

// Get fetches one memory by ID, including soft-deleted rows (PATCH needs to
// be able to see what it is un-deleting).
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Memory, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, user_id, thread_id, content, normalized, tier, priority, confidence,
			entities, redaction_map, source_thread_id, repeats, thread_set, last_seen_ts,
			created_at, updated_at, deleted_at
		FROM memories WHERE id = $1`, id)
	m, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get: %w", err)
	}
	return m, nil
}

// Insert writes a brand-new memory row.
func (r *Repository) Insert(ctx context.Context, m *models.Memory) error {
	entities, err := json.Marshal(m.Entities)
	if err != nil {
		return fmt.Errorf("memory: marshal entities: %w", err)
	}
	redaction, err := json.Marshal(m.RedactionMap)
	if err != nil {
		return fmt.Errorf("memory: marshal redaction map: %w", err)
	}
	threadSet, err := json.Marshal(m.ThreadSet)
	if err != nil {
		return fmt.Errorf("memory: marshal thread set: %w", err)
	}

	_, err = r.pool.Exec(ctx, `INSERT INTO memories
		(id, user_id, thread_id, content, normalized, tier, priority, confidence, entities,
		 redaction_map, source_thread_id, repeats, thread_set, last_seen_ts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		m.ID, m.UserID, m.ThreadID, m.Content, m.Normalized, string(m.Tier), m.Priority, m.Confidence,
		entities, redaction, m.SourceThreadID, m.Repeats, threadSet, m.LastSeenTS, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("memory: insert: %w", err)
	}
	return nil
}

// Update persists the merge-path fields Merge() rewrites, plus anything a
// PATCH changed.
func (r *Repository) Update(ctx context.Context, m *models.Memory) error {
	entities, err := json.Marshal(m.Entities)
	if err != nil {
		return fmt.Errorf("memory: marshal entities: %w", err)
	}
	redaction, err := json.Marshal(m.RedactionMap)
	if err != nil {
		return fmt.Errorf("memory: marshal redaction map: %w", err)
	}
	threadSet, err := json.Marshal(m.ThreadSet)
	if err != nil {
		return fmt.Errorf("memory: marshal thread set: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `UPDATE memories SET content=$2, normalized=$3, tier=$4, priority=$5,
			confidence=$6, entities=$7, repeats=$8, thread_set=$9, last_seen_ts=$10, updated_at=$11,
			deleted_at=$12, redaction_map=$13
		WHERE id = $1`,
		m.ID, m.Content, m.Normalized, string(m.Tier), m.Priority, m.Confidence, entities,
		m.Repeats, threadSet, m.LastSeenTS, m.UpdatedAt, m.DeletedAt, redaction)
	if err != nil {
		return fmt.Errorf("memory: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEmbedding records a memory's vector-store point and mirrors it onto
// memories.embedding_id, the same pointer-plus-side-table pattern
// conversation embeddings use (pkg/recall's EmbeddingHandler).
func (r *Repository) SetEmbedding(ctx context.Context, memoryID, vecID uuid.UUID, model string, dims int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("memory: begin set embedding: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE memories SET embedding_id = $2 WHERE id = $1`, memoryID, vecID); err != nil {
		return fmt.Errorf("memory: set embedding_id: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO memory_embeddings (memory_id, vec_id, model, dims, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (memory_id) DO UPDATE SET
				vec_id = EXCLUDED.vec_id, model = EXCLUDED.model, dims = EXCLUDED.dims, updated_at = now()`,
		memoryID, vecID, model, dims); err != nil {
		return fmt.Errorf("memory: upsert memory_embeddings: %w", err)
	}
	return tx.Commit(ctx)
}

// Decay applies a flat priority reduction to every live memory of tier, used
// by the scheduler's daily decay sweep.
func (r *Repository) Decay(ctx context.Context, tier string, amount float64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE memories SET priority = GREATEST(0, priority - $2), updated_at = now()
		WHERE tier = $1 AND deleted_at IS NULL`, tier, amount)
	if err != nil {
		return 0, fmt.Errorf("memory: decay: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireTier soft-deletes every memory of tier whose lastSeenTs is older
// than ttlDays, used by the scheduler's hourly TTL sweep.
func (r *Repository) ExpireTier(ctx context.Context, tier string, ttlDays int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE memories SET deleted_at = now()
		WHERE tier = $1 AND deleted_at IS NULL AND last_seen_ts < now() - make_interval(days => $2)`,
		tier, ttlDays)
	if err != nil {
		return 0, fmt.Errorf("memory: expire tier: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertAudit appends an audits row.
func (r *Repository) InsertAudit(ctx context.Context, a *models.Audit) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO memory_audits
		(id, user_id, thread_id, start_msg_id, end_msg_id, token_count, score, saved, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.UserID, a.ThreadID, a.StartMsgID, a.EndMsgID, a.TokenCount, a.Score, a.Saved, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("memory: insert audit: %w", err)
	}
	return nil
}

// ThreadSummary returns the live summary row for a thread, or nil if none
// exists yet.
func (r *Repository) ThreadSummary(ctx context.Context, threadID uuid.UUID) (*models.ThreadSummary, error) {
	row := r.pool.QueryRow(ctx, `SELECT thread_id, user_id, summary, last_msg_id, token_count, updated_at, deleted_at
		FROM thread_summaries WHERE thread_id = $1 AND deleted_at IS NULL`, threadID)
	var s models.ThreadSummary
	err := row.Scan(&s.ThreadID, &s.UserID, &s.Summary, &s.LastMsgID, &s.TokenCount, &s.UpdatedAt, &s.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: thread summary: %w", err)
	}
	return &s, nil
}

// UpsertThreadSummary writes or replaces the single live summary row for a
// thread.
func (r *Repository) UpsertThreadSummary(ctx context.Context, s *models.ThreadSummary) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO thread_summaries (thread_id, user_id, summary, last_msg_id, token_count, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (thread_id) DO UPDATE SET
			summary = EXCLUDED.summary, last_msg_id = EXCLUDED.last_msg_id,
			token_count = EXCLUDED.token_count, updated_at = EXCLUDED.updated_at, deleted_at = NULL`,
		s.ThreadID, s.UserID, s.Summary, s.LastMsgID, s.TokenCount, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("memory: upsert thread summary: %w", err)
	}
	return nil
}

// Profile returns a user's distilled profile, or nil if none has been built
// yet.
func (r *Repository) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	row := r.pool.QueryRow(ctx, `SELECT user_id, profile_json, last_updated, deleted_at
		FROM user_profiles WHERE user_id = $1 AND deleted_at IS NULL`, userID)
	var p models.UserProfile
	err := row.Scan(&p.UserID, &p.ProfileJSON, &p.LastUpdated, &p.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: profile: %w", err)
	}
	return &p, nil
}

// UpsertProfile writes or replaces a user's distilled profile.
func (r *Repository) UpsertProfile(ctx context.Context, p *models.UserProfile) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_profiles (user_id, profile_json, last_updated)
		VALUES ($1,$2,$3)
		ON CONFLICT (user_id) DO UPDATE SET profile_json = EXCLUDED.profile_json, last_updated = EXCLUDED.last_updated, deleted_at = NULL`,
		p.UserID, p.ProfileJSON, p.LastUpdated)
	if err != nil {
		return fmt.Errorf("memory: upsert profile: %w", err)
	}
	return nil
}

// ConversationHeader is one row of the GET /conversations listing: a
// thread's latest summary, most recently updated first.
type ConversationHeader struct {
	ThreadID   uuid.UUID
	Summary    string
	TokenCount int
	UpdatedAt  time.Time
}

// ConversationHeaders returns a user's most recently updated thread
// summaries, newest first.
func (r *Repository) ConversationHeaders(ctx context.Context, userID string, limit int) ([]ConversationHeader, error) {
	rows, err := r.pool.Query(ctx, `SELECT thread_id, summary, token_count, updated_at
		FROM thread_summaries WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY updated_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: conversation headers: %w", err)
	}
	defer rows.Close()

	var out []ConversationHeader
	for rows.Next() {
		var h ConversationHeader
		if err := rows.Scan(&h.ThreadID, &h.Summary, &h.TokenCount, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("memory: conversation headers scan: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*models.Memory, error) {
	var m models.Memory
	var entities, redaction, threadSet []byte
	var tier string
	if err := row.Scan(&m.ID, &m.UserID, &m.ThreadID, &m.Content, &m.Normalized, &tier, &m.Priority,
		&m.Confidence, &entities, &redaction, &m.SourceThreadID, &m.Repeats, &threadSet, &m.LastSeenTS,
		&m.CreatedAt, &m.UpdatedAt, &m.DeletedAt); err != nil {
		return nil, err
	}
	m.Tier = models.Tier(tier)
	if len(entities) > 0 {
		if err := json.Unmarshal(entities, &m.Entities); err != nil {
			return nil, fmt.Errorf("memory: unmarshal entities: %w", err)
		}
	}
	if len(redaction) > 0 {
		if err := json.Unmarshal(redaction, &m.RedactionMap); err != nil {
			return nil, fmt.Errorf("memory: unmarshal redaction map: %w", err)
		}
	}
	if len(threadSet) > 0 {
		if err := json.Unmarshal(threadSet, &m.ThreadSet); err != nil {
			return nil, fmt.Errorf("memory: unmarshal thread set: %w", err)
		}
	}
	return &m, nil
}

func scanMemories(rows pgx.Rows) ([]*models.Memory, error) {
	var out []*models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
