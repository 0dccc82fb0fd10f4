// Package ingestion is the gather layer's "IngestionContext" source: a
// thin retrieval of document chunks previously ingested for a thread or
// topic, rendered through pkg/preprocessor like every other context block.
// The spec names this gather layer without defining an ingestion pipeline,
// so this package only covers retrieval of chunks some other process wrote
// to the cache; it does not itself chunk or embed documents.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tarsync/memoryplane/pkg/cache"
)

// Chunk is one previously ingested document fragment.
type Chunk struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// Store retrieves cached ingestion chunks.
type Store struct {
	cache *cache.Cache
}

// New wraps a cache client for ingestion-chunk lookups.
func New(c *cache.Cache) *Store {
	return &Store{cache: c}
}

// Lookup returns the cached chunks for a thread/topic pair, and whether any
// were found at all (a cache miss is not an error: it just means the
// strategy planner's ingestionCached pre-check was stale or this is the
// first turn on the topic).
func (s *Store) Lookup(ctx context.Context, threadID, topic string) ([]Chunk, bool, error) {
	raw, ok, err := s.cache.GetIngestionChunks(ctx, threadID, topic)
	if err != nil {
		return nil, false, fmt.Errorf("ingestion: lookup chunks: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var chunks []Chunk
	if err := json.Unmarshal(raw, &chunks); err != nil {
		return nil, false, fmt.Errorf("ingestion: decode chunks: %w", err)
	}
	return chunks, true, nil
}
