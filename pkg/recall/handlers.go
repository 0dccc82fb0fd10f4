package recall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsync/memoryplane/pkg/llm"
	"github.com/tarsync/memoryplane/pkg/models"
	"github.com/tarsync/memoryplane/pkg/research"
	"github.com/tarsync/memoryplane/pkg/vectorstore"
)

// Embedder produces an embedding vector for a piece of text, satisfied by
// llm.OpenAIProvider.Embed.
type Embedder func(ctx context.Context, model, input string) ([]float32, error)

// packageRow is the subset of conversation_packages touched by the
// label/summary/embedding jobs.
type packageRow struct {
	Label   string
	Summary string
}

func loadPackage(ctx context.Context, pool *pgxpool.Pool, threadID uuid.UUID) (packageRow, error) {
	var row packageRow
	err := pool.QueryRow(ctx, `SELECT COALESCE(label, ''), COALESCE(summary, '')
		FROM conversation_packages WHERE thread_id = $1`, threadID).Scan(&row.Label, &row.Summary)
	if err != nil {
		return packageRow{}, fmt.Errorf("recall: load conversation package: %w", err)
	}
	return row, nil
}

func loadRecentTurns(ctx context.Context, pool *pgxpool.Pool, threadID uuid.UUID, limit int) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT role, content FROM conversation_messages
		WHERE thread_id = $1 ORDER BY created_at DESC LIMIT $2`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("recall: load recent turns: %w", err)
	}
	defer rows.Close()

	var turns []string
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		turns = append(turns, role+": "+content)
	}
	// rows were fetched newest-first; reverse to chronological order for prompting
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, rows.Err()
}

// LabelHandler generates a short topic label for the conversation package
// named by job.ThreadID, via a single short LLM completion (§4.4 label job).
func LabelHandler(pool *pgxpool.Pool, router *llm.Router, provider, model string) Handler {
	return func(ctx context.Context, job *models.RecallJob) error {
		turns, err := loadRecentTurns(ctx, pool, job.ThreadID, 20)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			return nil
		}

		prompt := "In three to six words, name the topic of this conversation. Reply with only the label.\n\n" + strings.Join(turns, "\n")
		label, err := router.Complete(ctx, llm.Request{
			Provider: provider, Model: model, MaxTokens: 32,
			Messages: []llm.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			label = fallbackLabel(turns)
		}
		label = strings.TrimSpace(strings.Trim(label, `"'`))
		if label == "" {
			label = fallbackLabel(turns)
		}

		primaryTopic := label
		if len(primaryTopic) > 80 {
			primaryTopic = primaryTopic[:80]
		}

		_, err = pool.Exec(ctx, `UPDATE conversation_packages
			SET label = $2, primary_topic = $3, label_generated_at = now()
			WHERE thread_id = $1`, job.ThreadID, label, primaryTopic)
		if err != nil {
			return fmt.Errorf("recall: write label: %w", err)
		}
		return Enqueue(ctx, pool, models.JobEmbedding, job.UserID, job.ThreadID, nil)
	}
}

func fallbackLabel(turns []string) string {
	if len(turns) == 0 {
		return "conversation"
	}
	words := strings.Fields(turns[0])
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}

// SummaryHandler regenerates conversation_packages.summary from the most
// recent turns in the package, mirroring the memory service's thread
// summary regeneration but scoped to the unlimited-recall package rather
// than the per-message-window audit (§4.4 summary job).
func SummaryHandler(pool *pgxpool.Pool, router *llm.Router, provider, model string) Handler {
	return func(ctx context.Context, job *models.RecallJob) error {
		turns, err := loadRecentTurns(ctx, pool, job.ThreadID, 40)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			return nil
		}

		prompt := "Summarize this conversation in two to four sentences, focused on what the user wants and any decisions made.\n\n" + strings.Join(turns, "\n")
		summary, err := router.Complete(ctx, llm.Request{
			Provider: provider, Model: model, MaxTokens: 200,
			Messages: []llm.Message{{Role: "user", Content: prompt}},
		})
		if err != nil || strings.TrimSpace(summary) == "" {
			summary = turns[0]
			if len(summary) > 300 {
				summary = summary[:300]
			}
		}

		_, err = pool.Exec(ctx, `UPDATE conversation_packages SET summary = $2 WHERE thread_id = $1`, job.ThreadID, summary)
		if err != nil {
			return fmt.Errorf("recall: write summary: %w", err)
		}
		return Enqueue(ctx, pool, models.JobEmbedding, job.UserID, job.ThreadID, nil)
	}
}

// EmbeddingHandler embeds the package's combined label+summary text and
// upserts it into the conversation vector collection, recording the point
// id (the thread id itself, since Qdrant point IDs are caller-assigned) in
// conversation_embeddings (§4.4 embedding job).
func EmbeddingHandler(pool *pgxpool.Pool, store *vectorstore.Store, embed Embedder, embeddingModel string) Handler {
	return func(ctx context.Context, job *models.RecallJob) error {
		pkg, err := loadPackage(ctx, pool, job.ThreadID)
		if err != nil {
			return err
		}
		combined := strings.TrimSpace(pkg.Label + ". " + pkg.Summary)
		if combined == "" || combined == "." {
			return nil
		}

		vec, err := embed(ctx, embeddingModel, combined)
		if err != nil {
			return fmt.Errorf("recall: embed conversation package: %w", err)
		}

		if err := store.Upsert(ctx, []vectorstore.Point{{
			ID:     job.ThreadID,
			Vector: vec,
			Payload: map[string]any{
				"thread_id": job.ThreadID.String(),
				"user_id":   job.UserID,
				"label":     pkg.Label,
			},
		}}); err != nil {
			return fmt.Errorf("recall: upsert conversation embedding: %w", err)
		}

		_, err = pool.Exec(ctx, `INSERT INTO conversation_embeddings (thread_id, combined_embedding_id, embedding_model, embedding_dimensions, updated_at)
			VALUES ($1, $1, $2, $3, now())
			ON CONFLICT (thread_id) DO UPDATE SET
				combined_embedding_id = EXCLUDED.combined_embedding_id,
				embedding_model = EXCLUDED.embedding_model,
				embedding_dimensions = EXCLUDED.embedding_dimensions,
				updated_at = now()`,
			job.ThreadID, embeddingModel, len(vec))
		if err != nil {
			return fmt.Errorf("recall: record conversation embedding pointer: %w", err)
		}
		return nil
	}
}

// AuditRunner is satisfied by *memory.Auditor, kept as an interface here so
// pkg/recall never imports pkg/memory directly (the dependency runs the
// other way: pkg/memoryapi wires both together).
type AuditRunner interface {
	Run(ctx context.Context, userID string, threadID uuid.UUID) (*models.Audit, error)
}

// AuditHandler lets the worker pool pick up audit jobs enqueued for threads
// whose cadence tripped while the memory service API process itself was
// busy or restarting, as a backstop to the synchronous best-effort
// goroutine kicked off by POST /events/message.
func AuditHandler(auditor AuditRunner) Handler {
	return func(ctx context.Context, job *models.RecallJob) error {
		_, err := auditor.Run(ctx, job.UserID, job.ThreadID)
		return err
	}
}

// researchJobPayload is the JSON shape expected in RecallJob.Payload for
// research jobs: the candidate URLs the query-analysis/strategy layer
// decided were worth fetching.
type researchJobPayload struct {
	URLs []string `json:"urls"`
}

// ResearchHandler fetches the job's candidate URLs, extracts claims and
// sources, and publishes a ResearchCapsule for the gateway's capsule
// injector to consume (§4.10).
func ResearchHandler(fetcher *research.Fetcher, publisher *research.Publisher) Handler {
	return func(ctx context.Context, job *models.RecallJob) error {
		var payload researchJobPayload
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("recall: decode research payload: %w", err)
			}
		}
		if len(payload.URLs) == 0 {
			return nil
		}

		batchID := job.ID.String()
		capsule := fetcher.BuildCapsule(ctx, job.ThreadID, batchID, payload.URLs)
		return publisher.Publish(ctx, capsule)
	}
}

// recallEventTimeout is a 25s ceiling for job-internal sub-steps (LLM calls,
// embedding calls). No handler applies it; each handler runs only under the
// pool's per-job timeout.
const recallEventTimeout = 25 * time.Second
