package recall

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsync/memoryplane/pkg/models"
)

// LogEvent appends one recall_events row. Failures are the caller's to
// decide on; the unlimited-recall injection itself must never fail because
// its own audit log write failed (§4.4 "failures never propagate to the
// turn").
func LogEvent(ctx context.Context, pool *pgxpool.Pool, ev models.RecallEvent) error {
	_, err := pool.Exec(ctx, `INSERT INTO recall_events
		(id, thread_id, user_id, trigger_type, strategy_used, tokens_injected, relevance_score, latency_ms, success)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		uuid.New(), ev.ThreadID, ev.UserID, string(ev.TriggerType), string(ev.StrategyUsed),
		ev.TokensInjected, ev.RelevanceScore, ev.LatencyMS, ev.Success)
	if err != nil {
		return fmt.Errorf("recall: log recall event: %w", err)
	}
	return nil
}
