package recall

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// jobsReadyChannel is the single Postgres NOTIFY channel used to wake idle
// recall workers immediately on job insert, instead of waiting out the next
// poll interval. Every worker pool LISTENs on this one channel — there is no
// per-thread fanout here, unlike the cache package's per-thread
// factpack-ready channel, since any worker can claim any job.
const jobsReadyChannel = "recall_jobs_ready"

// JobNotifier maintains a dedicated LISTEN connection and exposes a Ready()
// channel that the worker pool selects on alongside its poll ticker. A
// single goroutine owns the connection and reconnects after a failure (see
// Run); there is no multi-channel subscribe/unsubscribe bookkeeping since
// this listener only ever watches jobsReadyChannel.
type JobNotifier struct {
	connString string
	ready      chan struct{}
}

// NewJobNotifier builds a notifier bound to connString, a plain Postgres
// DSN distinct from the shared pgxpool.Pool (LISTEN requires a dedicated
// connection for its lifetime).
func NewJobNotifier(connString string) *JobNotifier {
	return &JobNotifier{
		connString: connString,
		ready:      make(chan struct{}, 1),
	}
}

// Ready signals once per NOTIFY received, coalesced: a worker pool that is
// already awake and draining the queue does not need a second wakeup before
// it next blocks.
func (n *JobNotifier) Ready() <-chan struct{} { return n.ready }

// NotifyTx sends pg_notify(jobsReadyChannel, '') using tx, so the wakeup is
// only delivered if the enclosing transaction commits.
func NotifyTx(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, "SELECT pg_notify($1, '')", jobsReadyChannel)
	return err
}

// Run establishes the LISTEN connection and relays notifications to Ready()
// until ctx is cancelled. A failed connect or LISTEN is retried after a fixed
// one-second pause; a failed receive reconnects immediately.
func (n *JobNotifier) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := pgx.Connect(ctx, n.connString)
		if err != nil {
			slog.Error("recall notifier: connect failed", "error", err)
			if !sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		if _, err := conn.Exec(ctx, "LISTEN "+jobsReadyChannel); err != nil {
			slog.Error("recall notifier: LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			if !sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		n.receiveUntilError(ctx, conn)
		_ = conn.Close(ctx)
	}
}

// receiveUntilError blocks on WaitForNotification, forwarding each
// notification to Ready(), until ctx is cancelled or the connection errors.
func (n *JobNotifier) receiveUntilError(ctx context.Context, conn *pgx.Conn) {
	for {
		_, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("recall notifier: receive error, reconnecting", "error", err)
			return
		}
		select {
		case n.ready <- struct{}{}:
		default:
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
