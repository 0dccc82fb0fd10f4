// Package runtime owns the gateway's process-wide mutable state — per-user
// rate-limit buckets and concurrency semaphores — as a single value
// constructed once at startup and passed explicitly to every caller, per the
// design note against global mutable state (§9). It follows the same
// map-plus-mutex shape used elsewhere in this codebase for per-key runtime
// state, generalized from one global session map to one map-of-limiters per
// user.
package runtime

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/tarsync/memoryplane/pkg/config"
)

// Runtime holds per-user admission state for the gateway (§4.1 step 1, §5).
type Runtime struct {
	mu            sync.Mutex
	limiters      map[string]*rate.Limiter
	semaphores    map[string]chan struct{}
	rps           float64
	burst         int
	maxConcurrent int
}

// New constructs a Runtime from the auth configuration's rate/concurrency
// knobs.
func New(cfg *config.AuthConfig) *Runtime {
	return &Runtime{
		limiters:      make(map[string]*rate.Limiter),
		semaphores:    make(map[string]chan struct{}),
		rps:           cfg.RateLimitRPS,
		burst:         cfg.RateLimitBurst,
		maxConcurrent: cfg.MaxConcurrent,
	}
}

// AllowRequest applies the per-user token-bucket rate limit (default
// 10 req/s, burst 20). Returns false when the caller should be rejected
// with RateLimited.
func (r *Runtime) AllowRequest(userID string) bool {
	r.mu.Lock()
	lim, ok := r.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.rps), r.burst)
		r.limiters[userID] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}

// AcquireStream attempts to reserve one of the user's concurrent-stream
// slots (default 2). release must be called when the stream ends. Returns
// ok=false when the user is already at capacity (Backpressure).
func (r *Runtime) AcquireStream(userID string) (release func(), ok bool) {
	r.mu.Lock()
	sem, exists := r.semaphores[userID]
	if !exists {
		sem = make(chan struct{}, r.maxConcurrent)
		r.semaphores[userID] = sem
	}
	r.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true
	default:
		return nil, false
	}
}
