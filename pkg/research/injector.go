package research

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tarsync/memoryplane/pkg/cache"
	"github.com/tarsync/memoryplane/pkg/models"
)

// pollInterval and pollWindow implement §4.10's "polls the shared cache...
// for the first ~5s of the response" injection strategy.
const (
	pollInterval = 250 * time.Millisecond
	pollWindow   = 5 * time.Second
)

// Injector polls the capsule cache concurrently with a streaming response
// and hands any capsule that lands in time to the caller exactly once.
// Grounded on the same cache-polling shape pkg/recall's worker loop uses for
// job claiming, applied here to a read-only "did a capsule show up yet"
// check instead of a claim-and-run.
type Injector struct {
	cache *cache.Cache
}

// NewInjector builds an Injector over the shared capsule cache.
func NewInjector(c *cache.Cache) *Injector {
	return &Injector{cache: c}
}

// Watch polls factPack:{threadID}:* for a capsule published at or after
// since, and calls emit with the first one found. It stops polling on the
// first hit, when stop is closed (the caller's first token or its own
// stream end, whichever comes first — §5: "never after done"), when ctx is
// canceled, or after pollWindow elapses, matching §4.10's "stops" clause.
//
// The capsule is left in the cache — Watch only reports that one exists.
// Whichever consumer reads it for prompt content is responsible for the
// once-only DeleteCapsule (§3: "Consumed once, survives via TTL").
func (inj *Injector) Watch(ctx context.Context, threadID uuid.UUID, since time.Time, stop <-chan struct{}, emit func(models.ResearchCapsule) error) {
	deadline := time.NewTimer(pollWindow)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			capsule, ok := inj.poll(ctx, threadID, since)
			if !ok {
				continue
			}
			_ = emit(capsule)
			return
		}
	}
}

func (inj *Injector) poll(ctx context.Context, threadID uuid.UUID, since time.Time) (models.ResearchCapsule, bool) {
	keys, err := inj.cache.ScanCapsules(ctx, threadID.String())
	if err != nil || len(keys) == 0 {
		return models.ResearchCapsule{}, false
	}
	for _, key := range keys {
		raw, err := inj.cache.GetCapsule(ctx, key)
		if err != nil {
			continue
		}
		capsule, err := UnmarshalCapsule(raw)
		if err != nil {
			continue
		}
		if capsule.FetchedAt.Before(since) {
			continue
		}
		return capsule, true
	}
	return models.ResearchCapsule{}, false
}
