// Package llm routes a chat turn to one of three upstream providers
// (anthropic-sdk-go, openai-go/v2, google.golang.org/genai) and relays the
// response as a stream of chunks over a channel pair, rather than a
// grpc-backed client talking to a separately deployed proto service.
package llm

import (
	"context"
	"fmt"
)

// Message is one chat turn in a provider-agnostic shape.
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Request carries everything needed to start a streamed completion.
type Request struct {
	Provider    string
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// StreamChunk is one token/delta of a streamed response.
type StreamChunk struct {
	Text string
	Done bool
}

// Provider is implemented once per upstream SDK.
type Provider interface {
	// Name returns the provider identifier used in routing profiles
	// ("anthropic", "openai", "google").
	Name() string

	// Stream opens a streaming completion and returns a channel of text
	// chunks and a channel that carries at most one error. Both channels
	// close when the stream ends; ctx cancellation (client disconnect)
	// aborts the upstream call (§4.1 "State").
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error)

	// Complete performs a single non-streamed call, used for short
	// background generations (label/summary extraction, audit scoring).
	Complete(ctx context.Context, req Request) (string, error)
}

// Router dispatches a Request to the Provider named in req.Provider.
type Router struct {
	providers map[string]Provider
}

// NewRouter builds a Router from a set of constructed providers.
func NewRouter(providers ...Provider) *Router {
	r := &Router{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// ErrUnknownProvider is returned when req.Provider names no registered
// Provider.
type ErrUnknownProvider struct{ Provider string }

func (e ErrUnknownProvider) Error() string {
	return fmt.Sprintf("llm: unknown provider %q", e.Provider)
}

// Stream dispatches to the requested provider's Stream method.
func (r *Router) Stream(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error) {
	p, ok := r.providers[req.Provider]
	if !ok {
		errCh := make(chan error, 1)
		errCh <- ErrUnknownProvider{Provider: req.Provider}
		close(errCh)
		ch := make(chan StreamChunk)
		close(ch)
		return ch, errCh
	}
	return p.Stream(ctx, req)
}

// Complete dispatches to the requested provider's Complete method, used by
// the memory service's summary/label/extraction calls.
func (r *Router) Complete(ctx context.Context, req Request) (string, error) {
	p, ok := r.providers[req.Provider]
	if !ok {
		return "", ErrUnknownProvider{Provider: req.Provider}
	}
	return p.Complete(ctx, req)
}
