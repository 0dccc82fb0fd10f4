// Package sse encodes the gateway's streamed chat response as
// text/event-stream, including the error and done terminal events that end a
// stream after an upstream failure (§4.1 step 8, §5 ordering guarantees). The
// gateway does not retry a failed upstream call, before or after the first
// token.
// Uses the same typed-payload, channel-marshal shape as this codebase's other
// event encoders, trimmed down to a direct per-connection writer rather than
// NOTIFY/WebSocket distribution (the gateway has no cross-pod fanout
// requirement for a single client's own stream).
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
)

// Event type names, written as the SSE "event:" field.
const (
	EventDelta           = "delta"
	EventResearchCapsule = "research_capsule"
	EventResearchSummary = "research_summary"
	EventSources         = "sources"
	EventThinkingStep    = "thinking_step"
	EventDone            = "done"
	EventError           = "error"
)

// DeltaPayload is one streamed text fragment.
type DeltaPayload struct {
	Text string `json:"text"`
}

// ResearchSummaryPayload is the completed web-research synthesis.
type ResearchSummaryPayload struct {
	Summary string   `json:"summary"`
	Sources []string `json:"sources"`
}

// SourcesPayload lists research sources surfaced mid-stream.
type SourcesPayload struct {
	Sources []string `json:"sources"`
}

// ThinkingStepPayload is a UI affordance label, no semantic content.
type ThinkingStepPayload struct {
	Label string `json:"label"`
}

// ErrorPayload terminates the stream; a done event always follows it.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Writer serializes events to a single SSE connection. Not safe for
// concurrent use by multiple goroutines — one stream, one writer.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	bw      *bufio.Writer

	capsuleSent bool
	deltaSent   bool
	doneSent    bool
}

// NewWriter prepares an http.ResponseWriter for event-stream output. Returns
// an error if the writer does not support flushing (required for streaming).
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &Writer{w: w, flusher: flusher, bw: bufio.NewWriter(w)}, nil
}

// write emits one SSE frame and flushes immediately — streaming protocols
// have no batching benefit from buffering across frames.
func (sw *Writer) write(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal %s payload: %w", event, err)
	}
	if _, err := fmt.Fprintf(sw.bw, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if err := sw.bw.Flush(); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Delta emits a streamed text fragment.
func (sw *Writer) Delta(text string) error {
	sw.deltaSent = true
	return sw.write(EventDelta, DeltaPayload{Text: text})
}

// ResearchCapsule emits the fact-pack injection event. Per §5's ordering
// guarantee this must be called before the first Delta when the capsule
// arrives in time; the caller (pkg/research) is responsible for the race
// against the first token, this method only refuses a capsule emitted after
// the stream has already closed.
func (sw *Writer) ResearchCapsule(capsule any) error {
	if sw.doneSent {
		return fmt.Errorf("sse: research_capsule emitted after done")
	}
	sw.capsuleSent = true
	return sw.write(EventResearchCapsule, capsule)
}

// CapsuleSent reports whether a research_capsule has already been written,
// so callers racing the first token know the ordering guarantee already
// holds.
func (sw *Writer) CapsuleSent() bool { return sw.capsuleSent }

// ResearchSummary emits the completed web-research synthesis.
func (sw *Writer) ResearchSummary(p ResearchSummaryPayload) error {
	return sw.write(EventResearchSummary, p)
}

// Sources emits research sources surfaced mid-stream.
func (sw *Writer) Sources(sources []string) error {
	return sw.write(EventSources, SourcesPayload{Sources: sources})
}

// ThinkingStep emits a UI affordance label.
func (sw *Writer) ThinkingStep(label string) error {
	return sw.write(EventThinkingStep, ThinkingStepPayload{Label: label})
}

// Error emits the error event. Per §4.1 "Failure semantics" a done event
// must follow — callers should call Done immediately after.
func (sw *Writer) Error(code, message string) error {
	return sw.write(EventError, ErrorPayload{Code: code, Message: message})
}

// Done emits the terminal event. Idempotent: a second call is a no-op so
// deferred cleanup paths can call it unconditionally.
func (sw *Writer) Done() error {
	if sw.doneSent {
		return nil
	}
	sw.doneSent = true
	return sw.write(EventDone, struct{}{})
}
