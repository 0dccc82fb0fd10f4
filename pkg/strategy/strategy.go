// Package strategy selects which gather layers fan out for a turn (§4.5).
// Pure function over queryanalyzer output plus a couple of cheap signals
// the caller already has in hand (whether embeddings exist, whether an
// ingestion cache entry exists for the topic).
package strategy

import (
	"strings"

	"github.com/tarsync/memoryplane/pkg/queryanalyzer"
)

// Plan names which gather layers should run for this turn. Layers not
// selected return immediately without doing work.
type Plan struct {
	Memory          bool // always at least a "light" fetch when true
	MemoryLight     bool // fetch fewer items, skip vector leg
	Vector          bool
	Web             bool
	UnlimitedRecall bool // trigger-detection only; the subsystem decides if it fires
	Ingestion       bool
}

// Select implements the §4.5 decision table. hasEmbeddings and
// ingestionCached are cheap pre-checks the caller performs before planning
// (an embeddings-enabled deployment flag, and a cache lookup result).
func Select(a queryanalyzer.Analysis, query string, hasEmbeddings, ingestionCached bool) Plan {
	lower := strings.ToLower(query)
	isPersonalHistorical := strings.Contains(lower, "what did i") || strings.Contains(lower, "have i")
	isVague := len(strings.Fields(query)) <= 3 && a.Complexity == queryanalyzer.ComplexitySimple

	switch {
	case isPersonalHistorical:
		return Plan{Memory: true, Vector: hasEmbeddings, UnlimitedRecall: true}

	case a.Intent == queryanalyzer.IntentNeedsWebSearch:
		return Plan{MemoryLight: true, Web: true, Ingestion: ingestionCached}

	case a.Intent == queryanalyzer.IntentExplanatory:
		return Plan{Memory: true, Vector: hasEmbeddings, Ingestion: true}

	case a.Complexity == queryanalyzer.ComplexityComplex:
		return Plan{Memory: true, Vector: hasEmbeddings, Web: true, UnlimitedRecall: true, Ingestion: true}

	case isVague:
		return Plan{Memory: true, Vector: hasEmbeddings}

	default:
		return Plan{Memory: true, Vector: hasEmbeddings}
	}
}
