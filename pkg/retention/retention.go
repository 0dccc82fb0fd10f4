// Package retention enforces the gateway's message/event retention policy
// (§6 TimeoutsConfig sibling table), using the same start/stop/ticker-loop
// shape as this codebase's other background services, applied here to
// message/recall-event soft-delete instead of session/event cleanup.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsync/memoryplane/pkg/config"
)

// Service periodically enforces retention policies on the gateway's own
// tables: soft-deletes messages past MessageRetentionDays and removes
// recall_events rows past EventTTL. All operations are idempotent and safe
// to run from multiple pods concurrently.
type Service struct {
	pool   *pgxpool.Pool
	config *config.RetentionConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service bound to the gateway's pool.
func NewService(pool *pgxpool.Pool, cfg *config.RetentionConfig) *Service {
	return &Service{pool: pool, config: cfg}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention service started",
		"message_retention_days", s.config.MessageRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.softDeleteOldMessages(ctx)
	s.cleanupOldRecallEvents(ctx)
}

func (s *Service) softDeleteOldMessages(ctx context.Context) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET deleted_at = now()
		WHERE deleted_at IS NULL
		  AND created_at < now() - make_interval(days => $1)`, s.config.MessageRetentionDays)
	if err != nil {
		slog.Error("retention: soft-delete messages failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("retention: soft-deleted old messages", "count", n)
	}
}

func (s *Service) cleanupOldRecallEvents(ctx context.Context) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM recall_events
		WHERE created_at < now() - make_interval(secs => $1)`, s.config.EventTTL.Seconds())
	if err != nil {
		slog.Error("retention: recall_events cleanup failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("retention: cleaned up old recall events", "count", n)
	}
}
