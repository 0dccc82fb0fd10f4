// Package recall implements the unlimited-recall subsystem (§4.4): per-turn
// capture, background label/summary/embedding/audit/research jobs, trigger
// detection, and the four loader strategies.
package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsync/memoryplane/pkg/models"
)

// ErrNoJobsAvailable is returned by claimNextJob when the queue is empty for
// every job type this worker handles.
var ErrNoJobsAvailable = errors.New("recall: no jobs available")

// Enqueue inserts a pending job, coalescing onto any already-pending or
// already-running job of the same (threadId, jobType) via the unique
// partial index on recall_jobs — a duplicate enqueue is a silent no-op,
// matching the capture/audit rule that at most one job of a given type is
// ever in flight per thread (§4.4).
func Enqueue(ctx context.Context, pool *pgxpool.Pool, jobType models.JobType, userID string, threadID uuid.UUID, payload []byte) error {
	_, err := pool.Exec(ctx, `INSERT INTO recall_jobs (id, job_type, thread_id, user_id, payload)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT DO NOTHING`,
		uuid.New(), string(jobType), threadID, userID, payload)
	if err != nil {
		return fmt.Errorf("recall: enqueue %s job: %w", jobType, err)
	}
	// Wake idle workers; if the notification is lost the poll loop still
	// picks the job up on its next tick.
	if _, err := pool.Exec(ctx, "SELECT pg_notify($1, '')", jobsReadyChannel); err != nil {
		slog.Warn("recall: job-ready notify failed", "job_type", jobType, "error", err)
	}
	return nil
}

// Handler processes one claimed job to completion. The worker calls it via
// backoff.Retry, up to three attempts within the job's execution budget; if
// the last attempt still returns an error the job is marked failed and its
// RetryCount incremented. Failed jobs are not claimed again.
type Handler func(ctx context.Context, job *models.RecallJob) error

// WorkerConfig governs poll cadence, execution budget, and worker count.
type WorkerConfig struct {
	WorkerCount        int
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
	JobTimeout         time.Duration // per-job execution budget (§5, ~30s)
	HeartbeatInterval  time.Duration
}

// DefaultWorkerConfig matches the ~30s job execution budget named in §5.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WorkerCount:        4,
		PollInterval:       2 * time.Second,
		PollIntervalJitter: 500 * time.Millisecond,
		JobTimeout:         30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
	}
}

// WorkerStatus reports a worker's idle/working health state.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a point-in-time snapshot of one worker's activity.
type WorkerHealth struct {
	ID            string
	Status        WorkerStatus
	CurrentJobID  string
	JobsProcessed int
	LastActivity  time.Time
}

// PoolHealth aggregates every worker's health plus queue depth, used by the
// recall worker binary's health endpoint.
type PoolHealth struct {
	IsHealthy   bool
	PodID       string
	QueueDepth  int
	WorkerStats []WorkerHealth
}

// WorkerPool runs WorkerCount goroutines, each independently claiming and
// processing recall jobs via a FOR UPDATE SKIP LOCKED claim, jittered poll,
// heartbeat, graceful stop, and Health() reporting, scoped to per-(threadId,
// jobType) RecallJob processing. The JobNotifier ready channel supplements
// the poll loop as an additional wakeup source.
type WorkerPool struct {
	podID    string
	pool     *pgxpool.Pool
	cfg      WorkerConfig
	handlers map[models.JobType]Handler
	notifier *JobNotifier

	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewWorkerPool builds a pool bound to one handler per job type it should
// process. Job types with no registered handler are never claimed.
func NewWorkerPool(podID string, pool *pgxpool.Pool, cfg WorkerConfig, notifier *JobNotifier, handlers map[models.JobType]Handler) *WorkerPool {
	return &WorkerPool{
		podID:    podID,
		pool:     pool,
		cfg:      cfg,
		handlers: handlers,
		notifier: notifier,
		workers:  make([]*worker, 0, cfg.WorkerCount),
		stopCh:   make(chan struct{}),
	}
}

// Start spawns worker goroutines and the notifier's receive loop. Idempotent.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("recall worker pool already started, ignoring", "pod_id", p.podID)
		return
	}
	p.started = true

	if p.notifier != nil {
		go p.notifier.Run(ctx)
	}

	for i := 0; i < p.cfg.WorkerCount; i++ {
		w := newWorker(fmt.Sprintf("%s-worker-%d", p.podID, i), p.pool, p.cfg, p.handlers, p.readyCh())
		p.workers = append(p.workers, w)
		w.start(ctx)
	}
	slog.Info("recall worker pool started", "pod_id", p.podID, "worker_count", p.cfg.WorkerCount)
}

func (p *WorkerPool) readyCh() <-chan struct{} {
	if p.notifier == nil {
		return nil
	}
	return p.notifier.Ready()
}

// Stop signals every worker to finish its current job and exit, then waits.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		for _, w := range p.workers {
			w.stop()
		}
		close(p.stopCh)
	})
}

// Health reports queue depth and per-worker activity.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	var depth int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM recall_jobs WHERE status = 'pending'`).Scan(&depth)
	healthy := err == nil

	stats := make([]WorkerHealth, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.health()
	}

	return &PoolHealth{
		IsHealthy:   healthy,
		PodID:       p.podID,
		QueueDepth:  depth,
		WorkerStats: stats,
	}
}

// worker claims and processes jobs from one or more job types.
type worker struct {
	id       string
	pool     *pgxpool.Pool
	cfg      WorkerConfig
	handlers map[models.JobType]Handler
	ready    <-chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

func newWorker(id string, pool *pgxpool.Pool, cfg WorkerConfig, handlers map[models.JobType]Handler, ready <-chan struct{}) *worker {
	return &worker{
		id:           id,
		pool:         pool,
		cfg:          cfg,
		handlers:     handlers,
		ready:        ready,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

func (w *worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id)
	log.Info("recall worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("recall worker shutting down")
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := w.pollAndProcess(ctx); err != nil {
			if errors.Is(err, ErrNoJobsAvailable) {
				w.sleep(w.pollInterval())
				continue
			}
			log.Error("recall job processing error", "error", err)
			w.sleep(time.Second)
		}
	}
}

func (w *worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-w.ready:
	case <-time.After(d):
	}
}

func (w *worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *worker) jobTypes() []models.JobType {
	types := make([]models.JobType, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	return types
}

// pollAndProcess claims the oldest pending job across this worker's
// registered job types and runs its handler.
func (w *worker) pollAndProcess(ctx context.Context) error {
	job, err := w.claimNextJob(ctx)
	if err != nil {
		return err
	}

	log := slog.With("job_id", job.ID, "job_type", job.JobType, "worker_id", w.id)
	log.Info("recall job claimed")

	w.setStatus(WorkerStatusWorking, job.ID.String())
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	go w.runHeartbeat(heartbeatCtx, job.ID)

	handler := w.handlers[job.JobType]
	execErr := backoff.Retry(func() error {
		return handler(jobCtx, job)
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), jobCtx))

	cancelHeartbeat()

	if execErr != nil {
		if err := w.markFailed(context.Background(), job.ID, execErr); err != nil {
			log.Error("failed to mark job failed", "error", err)
		}
		return nil
	}
	if err := w.markCompleted(context.Background(), job.ID); err != nil {
		log.Error("failed to mark job completed", "error", err)
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("recall job completed")
	return nil
}

// claimNextJob atomically claims the oldest pending job among this worker's
// job types using SELECT ... FOR UPDATE SKIP LOCKED.
func (w *worker) claimNextJob(ctx context.Context) (*models.RecallJob, error) {
	types := w.jobTypes()
	if len(types) == 0 {
		return nil, ErrNoJobsAvailable
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("recall: begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id, job_type, thread_id, user_id, status, retry_count, payload,
		       created_at, started_at, completed_at, error
		FROM recall_jobs
		WHERE status = 'pending' AND job_type = ANY($1)
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, jobTypeStrings(types))

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("recall: query pending job: %w", err)
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `UPDATE recall_jobs SET status = 'running', started_at = $1 WHERE id = $2`, now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("recall: claim job: %w", err)
	}
	job.Status = models.JobRunning
	job.StartedAt = &now

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("recall: commit claim: %w", err)
	}
	return job, nil
}

// runHeartbeat periodically re-stamps started_at on a running job so a
// future orphan sweep can distinguish a live long-running job from one
// whose worker died mid-execution.
func (w *worker) runHeartbeat(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.pool.Exec(ctx, `UPDATE recall_jobs SET started_at = now() WHERE id = $1 AND status = 'running'`, jobID); err != nil {
				slog.Warn("recall job heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (w *worker) markCompleted(ctx context.Context, jobID uuid.UUID) error {
	_, err := w.pool.Exec(ctx, `UPDATE recall_jobs SET status = 'completed', completed_at = now() WHERE id = $1`, jobID)
	return err
}

func (w *worker) markFailed(ctx context.Context, jobID uuid.UUID, cause error) error {
	_, err := w.pool.Exec(ctx, `
		UPDATE recall_jobs
		SET status = 'failed', completed_at = now(), retry_count = retry_count + 1, error = $2
		WHERE id = $1`, jobID, cause.Error())
	return err
}

func jobTypeStrings(types []models.JobType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func scanJob(row pgx.Row) (*models.RecallJob, error) {
	var j models.RecallJob
	if err := row.Scan(&j.ID, &j.JobType, &j.ThreadID, &j.UserID, &j.Status, &j.RetryCount, &j.Payload,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.Error); err != nil {
		return nil, err
	}
	return &j, nil
}
