package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tarsync/memoryplane/pkg/queryanalyzer"
)

func TestSelect_PersonalHistorical(t *testing.T) {
	a := queryanalyzer.Analysis{Complexity: queryanalyzer.ComplexitySimple}
	plan := Select(a, "what did I tell you about my trip", true, false)

	assert.True(t, plan.Memory)
	assert.True(t, plan.Vector)
	assert.True(t, plan.UnlimitedRecall)
	assert.False(t, plan.Web)
}

func TestSelect_PersonalHistorical_NoEmbeddings(t *testing.T) {
	a := queryanalyzer.Analysis{Complexity: queryanalyzer.ComplexitySimple}
	plan := Select(a, "have I mentioned my allergy before", false, false)

	assert.True(t, plan.Memory)
	assert.False(t, plan.Vector, "vector leg should be off without embeddings")
	assert.True(t, plan.UnlimitedRecall)
}

func TestSelect_NeedsWebSearch(t *testing.T) {
	a := queryanalyzer.Analysis{Intent: queryanalyzer.IntentNeedsWebSearch}
	plan := Select(a, "what's the latest on this", true, true)

	assert.True(t, plan.MemoryLight)
	assert.True(t, plan.Web)
	assert.True(t, plan.Ingestion)
	assert.False(t, plan.Memory)
}

func TestSelect_NeedsWebSearch_NoIngestionCache(t *testing.T) {
	a := queryanalyzer.Analysis{Intent: queryanalyzer.IntentNeedsWebSearch}
	plan := Select(a, "any news today", true, false)

	assert.False(t, plan.Ingestion)
}

func TestSelect_Explanatory(t *testing.T) {
	a := queryanalyzer.Analysis{Intent: queryanalyzer.IntentExplanatory}
	plan := Select(a, "explain how connection pooling works", true, false)

	assert.True(t, plan.Memory)
	assert.True(t, plan.Vector)
	assert.True(t, plan.Ingestion)
	assert.False(t, plan.Web)
}

func TestSelect_ComplexQuery(t *testing.T) {
	a := queryanalyzer.Analysis{Complexity: queryanalyzer.ComplexityComplex}
	plan := Select(a, "compare these distributed consensus algorithms in depth", true, false)

	assert.True(t, plan.Memory)
	assert.True(t, plan.Vector)
	assert.True(t, plan.Web)
	assert.True(t, plan.UnlimitedRecall)
	assert.True(t, plan.Ingestion)
}

func TestSelect_VagueShortQuery(t *testing.T) {
	a := queryanalyzer.Analysis{Complexity: queryanalyzer.ComplexitySimple}
	plan := Select(a, "ok cool", true, false)

	assert.True(t, plan.Memory)
	assert.True(t, plan.Vector)
	assert.False(t, plan.Web)
	assert.False(t, plan.UnlimitedRecall)
}

func TestSelect_Default(t *testing.T) {
	a := queryanalyzer.Analysis{Complexity: queryanalyzer.ComplexityModerate}
	plan := Select(a, "tell me about the history of the Roman empire in some detail", false, false)

	assert.True(t, plan.Memory)
	assert.False(t, plan.Vector, "no embeddings means vector leg stays off even on the default path")
}
