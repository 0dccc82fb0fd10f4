package memory

import "github.com/tarsync/memoryplane/pkg/config"

// WindowSignals are the four inputs to the composite quality score Q
// (§4.2.1 step 2), each pre-normalized to [0,1] by the caller.
type WindowSignals struct {
	Relevance  float64
	Importance float64
	Coherence  float64
	Recency    float64
}

// DefaultWeights are the base Q weights before any tier-aware shift:
// Q = 0.4*relevance + 0.3*importance + 0.2*coherence + 0.1*recency.
var DefaultWeights = config.ScoreWeights{
	Relevance:  0.4,
	Importance: 0.3,
	Coherence:  0.2,
	Recency:    0.1,
}

// Score computes Q for one candidate window using weights. Tier-aware
// weight shifting (T1 emphasizes relevance+recency, T2 emphasizes
// importance) is applied by the caller choosing which TierConfig's
// ScoreWeights to pass — ScoreDefault below is the tier-agnostic pass used
// before a tier has been detected.
func Score(s WindowSignals, w config.ScoreWeights) float64 {
	return w.Relevance*s.Relevance + w.Importance*s.Importance + w.Coherence*s.Coherence + w.Recency*s.Recency
}

// ScoreDefault scores with the un-shifted base weights, used for the first
// pass over a window before tier detection has happened.
func ScoreDefault(s WindowSignals) float64 {
	return Score(s, DefaultWeights)
}

// ThresholdFor returns the save threshold for a tier, falling back to the
// base 0.65 T1 threshold named in §4.2.1 step 3 when tier is unknown.
func ThresholdFor(tier string, tiers *config.TiersConfig) float64 {
	switch tier {
	case "T2":
		return tiers.T2.SaveThreshold
	case "T3":
		return tiers.T3.SaveThreshold
	default:
		return tiers.T1.SaveThreshold
	}
}
