// Package tokencount is the single source of truth for token counting,
// shared by the memory auditor's per-audit token count, the prompt builder's
// budget enforcement, and the gateway's input-size estimate passed to the
// model router (§4.8, §4.9).
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter wraps a tiktoken-go encoding. Encodings are expensive to build, so
// one Counter is constructed once per process and shared.
type Counter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// New builds a Counter using the cl100k_base encoding, which approximates
// token counts well across the providers routed in pkg/llm (none of the
// three SDKs expose a first-party Go tokenizer for streaming estimates).
func New() (*Counter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &Counter{enc: enc}, nil
}

// Count returns the number of tokens in s.
func (c *Counter) Count(s string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(s, nil, nil))
}

// CountAll sums token counts across multiple strings; used for the gateway's
// routing estimate and the auditor's per-audit token count.
func (c *Counter) CountAll(ss ...string) int {
	total := 0
	for _, s := range ss {
		total += c.Count(s)
	}
	return total
}

// Truncate trims s to at most maxTokens tokens, returning the truncated text.
// The prompt builder does not call it: blocks that do not fit are skipped
// whole (§4.8).
func (c *Counter) Truncate(s string, maxTokens int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	toks := c.enc.Encode(s, nil, nil)
	if len(toks) <= maxTokens {
		return s
	}
	return c.enc.Decode(toks[:maxTokens])
}
