// Package router selects (provider, model, maxTokens) for a turn (§4.9).
package router

import (
	"strings"

	"github.com/tarsync/memoryplane/pkg/config"
	"github.com/tarsync/memoryplane/pkg/queryanalyzer"
)

// Decision is the resolved routing outcome for one turn.
type Decision struct {
	Provider  string
	Model     string
	MaxTokens int
}

var mathOverride = []string{"what is", "calculate", "how much is", "+", "-", "*", "/", "="}

// Route applies the §4.9 profile table, then a per-query override that can
// only shrink maxTokens (never grow it) below the profile default.
func Route(a queryanalyzer.Analysis, query string, estimatedContextTokens int, profiles *config.ProvidersConfig) Decision {
	profile := profileFor(a, estimatedContextTokens, profiles)
	maxTokens := profile.MaxTokensCap

	if a.Complexity == queryanalyzer.ComplexitySimple && isShortFactualOrArithmetic(query) {
		maxTokens = min(maxTokens, 20)
	}
	if a.Intent == queryanalyzer.IntentConversationFollowup {
		maxTokens = min(maxTokens, 200)
	}
	if isMathQuery(query) {
		maxTokens = min(maxTokens, 10)
	}

	return Decision{Provider: profile.Provider, Model: profile.Model, MaxTokens: maxTokens}
}

func profileFor(a queryanalyzer.Analysis, estimatedContextTokens int, profiles *config.ProvidersConfig) config.ProviderProfile {
	name := "cost_optimized"
	switch {
	case estimatedContextTokens > 50000:
		name = "context_heavy"
	case isReasoningHeavy(a):
		name = "reasoning_heavy"
	case a.Complexity == queryanalyzer.ComplexitySimple && a.Intent == queryanalyzer.IntentFactual:
		name = "tiny"
	}
	return profiles.Profiles[name]
}

func isReasoningHeavy(a queryanalyzer.Analysis) bool {
	return a.Complexity == queryanalyzer.ComplexityComplex && a.Intent == queryanalyzer.IntentExplanatory
}

func isShortFactualOrArithmetic(query string) bool {
	lower := strings.ToLower(query)
	return isMathQuery(lower) || (len(strings.Fields(lower)) <= 6 && strings.HasSuffix(strings.TrimSpace(lower), "?"))
}

func isMathQuery(lower string) bool {
	for _, m := range mathOverride {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
