package memory

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/tarsync/memoryplane/pkg/config"
)

// Scheduler drives the two background sweeps the tier lifecycle table
// (§4.2.3) implies: per-tier priority decay and per-tier TTL expiry. Built on
// robfig/cron rather than a single shared ticker, so the two sweeps can run
// on independent schedules (decay daily, TTL sweep hourly).
type Scheduler struct {
	repo  *Repository
	tiers *config.TiersConfig
	cron  *cron.Cron
}

// NewScheduler builds a Scheduler bound to the tier TTL/decay configuration.
func NewScheduler(repo *Repository, tiers *config.TiersConfig) *Scheduler {
	return &Scheduler{
		repo:  repo,
		tiers: tiers,
		cron:  cron.New(),
	}
}

// Start registers the decay and TTL sweep jobs and starts the cron runner.
// Decay runs daily (the configured DecayPerWeek is applied pro-rated);
// TTL expiry runs hourly since it is cheap (a single bounded UPDATE) and
// bounds how long T1 recency-sensitive memories linger past relevance.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("0 3 * * *", func() { s.runDecay(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 * * * *", func() { s.runTTLSweep(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("memory scheduler started")
	return nil
}

// Stop waits for any in-flight job to finish then halts the cron runner.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// runDecay applies each tier's DecayPerWeek to Priority, pro-rated to a
// daily run (DecayPerWeek / 7 per day), floored at zero.
func (s *Scheduler) runDecay(ctx context.Context) {
	for tier, cfg := range s.tierMap() {
		dailyDecay := cfg.DecayPerWeek / 7
		if dailyDecay <= 0 {
			continue
		}
		n, err := s.repo.Decay(ctx, tier, dailyDecay)
		if err != nil {
			slog.Error("memory decay sweep failed", "tier", tier, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("memory decay sweep applied", "tier", tier, "rows", n, "decay", dailyDecay)
		}
	}
}

// runTTLSweep soft-deletes memories whose LastSeenTS has exceeded their
// tier's TTLDays.
func (s *Scheduler) runTTLSweep(ctx context.Context) {
	for tier, cfg := range s.tierMap() {
		if cfg.TTLDays <= 0 {
			continue
		}
		n, err := s.repo.ExpireTier(ctx, tier, cfg.TTLDays)
		if err != nil {
			slog.Error("memory ttl sweep failed", "tier", tier, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("memory ttl sweep expired memories", "tier", tier, "rows", n)
		}
	}
}

func (s *Scheduler) tierMap() map[string]config.TierConfig {
	return map[string]config.TierConfig{
		"T1": s.tiers.T1,
		"T2": s.tiers.T2,
		"T3": s.tiers.T3,
	}
}
