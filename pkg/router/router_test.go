package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tarsync/memoryplane/pkg/config"
	"github.com/tarsync/memoryplane/pkg/queryanalyzer"
)

func testProfiles() *config.ProvidersConfig {
	return &config.ProvidersConfig{
		Profiles: map[string]config.ProviderProfile{
			"cost_optimized":   {Provider: "openai", Model: "gpt-5-mini", MaxTokensCap: 2000},
			"context_heavy":    {Provider: "anthropic", Model: "claude-opus", MaxTokensCap: 8000},
			"reasoning_heavy":  {Provider: "anthropic", Model: "claude-opus", MaxTokensCap: 4000},
			"tiny":             {Provider: "openai", Model: "gpt-5-nano", MaxTokensCap: 500},
		},
	}
}

func TestRoute_ContextHeavyOverridesOnLargeContext(t *testing.T) {
	a := queryanalyzer.Analysis{Complexity: queryanalyzer.ComplexityModerate}
	d := Route(a, "summarize this whole thread for me", 60000, testProfiles())

	assert.Equal(t, "anthropic", d.Provider)
	assert.Equal(t, "claude-opus", d.Model)
	assert.Equal(t, 8000, d.MaxTokens)
}

func TestRoute_ReasoningHeavy(t *testing.T) {
	a := queryanalyzer.Analysis{Complexity: queryanalyzer.ComplexityComplex, Intent: queryanalyzer.IntentExplanatory}
	d := Route(a, "explain why this distributed algorithm converges", 1000, testProfiles())

	assert.Equal(t, "anthropic", d.Provider)
	assert.Equal(t, "claude-opus", d.Model)
	assert.Equal(t, 4000, d.MaxTokens)
}

func TestRoute_TinyFactual(t *testing.T) {
	a := queryanalyzer.Analysis{Complexity: queryanalyzer.ComplexitySimple, Intent: queryanalyzer.IntentFactual}
	d := Route(a, "who is the president of France?", 100, testProfiles())

	assert.Equal(t, "gpt-5-nano", d.Model)
	assert.Equal(t, 20, d.MaxTokens, "the short-factual-question override caps below the tiny profile's own MaxTokensCap")
}

func TestRoute_MathQueryCapsMaxTokens(t *testing.T) {
	a := queryanalyzer.Analysis{Complexity: queryanalyzer.ComplexityModerate}
	d := Route(a, "calculate 12 * 8", 100, testProfiles())

	assert.Equal(t, 10, d.MaxTokens)
}

func TestRoute_ShortFactualQuestionCapsMaxTokens(t *testing.T) {
	a := queryanalyzer.Analysis{Complexity: queryanalyzer.ComplexitySimple}
	d := Route(a, "is it raining?", 100, testProfiles())

	assert.Equal(t, 20, d.MaxTokens)
}

func TestRoute_DefaultCostOptimized(t *testing.T) {
	a := queryanalyzer.Analysis{Complexity: queryanalyzer.ComplexityModerate}
	d := Route(a, "tell me about your favorite book in a few paragraphs", 100, testProfiles())

	assert.Equal(t, "openai", d.Provider)
	assert.Equal(t, "gpt-5-mini", d.Model)
	assert.Equal(t, 2000, d.MaxTokens)
}
