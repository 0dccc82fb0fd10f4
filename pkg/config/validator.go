package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// Validate runs go-playground/validator struct-tag validation across the
// config tree, then layers a handful of cross-field checks the tag language
// cannot express.
func Validate(cfg *Config) error {
	if err := structValidator.Struct(cfg.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := structValidator.Struct(cfg.Database); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := structValidator.Struct(cfg.Redis); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := structValidator.Struct(cfg.Qdrant); err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	if err := structValidator.Struct(cfg.Auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	for name, p := range cfg.Providers.Profiles {
		if err := structValidator.Struct(p); err != nil {
			return fmt.Errorf("providers.profiles.%s: %w", name, err)
		}
	}
	return validateRanges(cfg)
}

// validateRanges checks numeric invariants the struct tags can't express
// cleanly (cross-field comparisons, §4.2.1/§4.2.3 weight sums).
func validateRanges(cfg *Config) error {
	if cfg.Memory.Thresholds.Save <= 0 || cfg.Memory.Thresholds.Save > 1 {
		return fmt.Errorf("memory.thresholds.save must be in (0,1], got %v", cfg.Memory.Thresholds.Save)
	}
	if cfg.Memory.Thresholds.High < cfg.Memory.Thresholds.Save {
		return fmt.Errorf("memory.thresholds.high must be >= save threshold")
	}
	for name, t := range map[string]TierConfig{"t1": cfg.Tiers.T1, "t2": cfg.Tiers.T2, "t3": cfg.Tiers.T3} {
		sum := t.ScoreWeights.Relevance + t.ScoreWeights.Importance + t.ScoreWeights.Coherence + t.ScoreWeights.Recency
		if sum < 0.99 || sum > 1.01 {
			return fmt.Errorf("tiers.%s.score_weights must sum to ~1.0, got %v", name, sum)
		}
		if t.TTLDays <= 0 {
			return fmt.Errorf("tiers.%s.ttl_days must be positive", name)
		}
	}
	if cfg.Router.MaxInputTokens <= 0 {
		return fmt.Errorf("router.max_input_tokens must be positive")
	}
	return nil
}
