package recall

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsync/memoryplane/pkg/models"
)

const (
	labelAfterMessages   = 5
	summaryAfterMessages = 10
	summaryEveryMessages = 20
)

// JobsDue returns which jobs should be enqueued now that a thread's
// message count has just become count, per the ≥5/≥10/every-20 thresholds.
// Exported as a pure function so the gateway's capture path and this
// package's own tests can both exercise the threshold logic without a
// database.
func JobsDue(count int) []models.JobType {
	var due []models.JobType
	if count == labelAfterMessages {
		due = append(due, models.JobLabel)
	}
	if count == summaryAfterMessages || (count > summaryAfterMessages && (count-summaryAfterMessages)%summaryEveryMessages == 0) {
		due = append(due, models.JobSummary)
	}
	return due
}

// EnqueueDue enqueues every job JobsDue names for the thread's new message
// count, coalescing via Enqueue's ON CONFLICT DO NOTHING.
func EnqueueDue(ctx context.Context, pool *pgxpool.Pool, userID string, threadID uuid.UUID, count int) error {
	for _, jt := range JobsDue(count) {
		if err := Enqueue(ctx, pool, jt, userID, threadID, nil); err != nil {
			return err
		}
	}
	return nil
}
