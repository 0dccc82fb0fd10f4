package preprocessor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender_Memory_WithPrefix(t *testing.T) {
	out := Render(Block{Type: "memory", Content: "[Memory] user studied dopamine earlier"})
	assert.Equal(t, "You mentioned studied dopamine earlier.", out)
}

func TestRender_Memory_WithoutPrefix(t *testing.T) {
	out := Render(Block{Type: "memory", Content: "likes hiking"})
	assert.Equal(t, "You mentioned: likes hiking", out)
}

func TestRender_ConversationSummary(t *testing.T) {
	out := Render(Block{Type: "conversation_summary", Content: "summary: we discussed the Q3 roadmap"})
	assert.Equal(t, "In a previous conversation, we discussed the Q3 roadmap", out)
}

func TestRender_ConversationSummary_NoMarker(t *testing.T) {
	out := Render(Block{Type: "conversation_summary", Content: "we discussed pricing"})
	assert.Equal(t, "In a previous conversation, we discussed pricing", out)
}

func TestRender_ResearchCapsule(t *testing.T) {
	out := Render(Block{
		Type: "research_capsule",
		Extra: map[string]any{
			"claims":  []string{"Go 1.25 shipped in 2025."},
			"sources": []string{"https://go.dev/blog/go1.25"},
		},
	})
	assert.Contains(t, out, "Recent research found: Go 1.25 shipped in 2025.")
	assert.Contains(t, out, "(sources: go.dev)")
}

func TestRender_ResearchCapsule_NoSources(t *testing.T) {
	out := Render(Block{
		Type:  "research_capsule",
		Extra: map[string]any{"claims": []string{"A claim with no source."}},
	})
	assert.Equal(t, "Recent research found: A claim with no source.", out)
}

func TestRender_Ingestion(t *testing.T) {
	out := Render(Block{
		Type:    "ingestion",
		Content: "the refund policy is 30 days",
		Extra:   map[string]any{"topic": "refunds"},
	})
	assert.Equal(t, "You recently asked about refunds; here's the relevant excerpt: the refund policy is 30 days", out)
}

func TestRender_Ingestion_NoTopic(t *testing.T) {
	out := Render(Block{Type: "ingestion", Content: "some excerpt"})
	assert.Contains(t, out, "that topic")
}

func TestRender_UnknownTypePassesThrough(t *testing.T) {
	out := Render(Block{Type: "mystery", Content: "raw content"})
	assert.Equal(t, "raw content", out)
}
