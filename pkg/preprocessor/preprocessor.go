// Package preprocessor renders gathered context blocks into narrative prose
// fit for an LLM system message (§4.7). Never invents facts, never strips
// quoted content, and preserves order-relevant markers such as dates and
// source authority when present in the input.
package preprocessor

import (
	"fmt"
	"net/url"
	"strings"
)

// Block is one piece of gathered context, tagged by its origin.
type Block struct {
	Type    string // "memory", "conversation_summary", "research_capsule", "ingestion"
	Content string
	Extra   map[string]any // capsule claims/sources/entities, ingestion topic, etc.
}

// Render turns a Block into narrative prose. Unknown types pass through
// unchanged rather than being dropped, since an unrecognized block is still
// real content the caller chose to include.
func Render(b Block) string {
	switch b.Type {
	case "memory":
		return renderMemory(b.Content)
	case "conversation_summary":
		return renderConversationSummary(b)
	case "research_capsule":
		return renderCapsule(b)
	case "ingestion":
		return renderIngestion(b)
	default:
		return b.Content
	}
}

// renderMemory turns "[Memory] user studied dopamine earlier" style content
// into "You mentioned studied dopamine earlier." When the bracketed prefix
// is absent the trimmed content is returned after a "You mentioned: " prefix.
func renderMemory(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "[Memory]") {
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "[Memory]"))
		rest = strings.TrimPrefix(rest, "user ")
		return "You mentioned " + rest + "."
	}
	return "You mentioned: " + trimmed
}

// renderConversationSummary turns "Conversation 2 summary: ..." into
// "In a previous conversation, ...".
func renderConversationSummary(b Block) string {
	content := b.Content
	if idx := strings.Index(content, "summary:"); idx >= 0 {
		content = strings.TrimSpace(content[idx+len("summary:"):])
	}
	return "In a previous conversation, " + content
}

// renderCapsule turns a research capsule's claims/sources into a bullet-free
// summary with inline source hosts, e.g.
// "Recent research found: X (sources: example.com)".
func renderCapsule(b Block) string {
	claims, _ := b.Extra["claims"].([]string)
	sources, _ := b.Extra["sources"].([]string)

	hosts := make([]string, 0, len(sources))
	for _, s := range sources {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}

	var sb strings.Builder
	sb.WriteString("Recent research found: ")
	for i, claim := range claims {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(claim)
	}
	if len(hosts) > 0 {
		sb.WriteString(fmt.Sprintf(" (sources: %s)", strings.Join(hosts, ", ")))
	}
	return sb.String()
}

// renderIngestion turns a retrieved document chunk into
// "You recently asked about {topic}; here's the relevant excerpt: {excerpt}".
func renderIngestion(b Block) string {
	topic, _ := b.Extra["topic"].(string)
	if topic == "" {
		topic = "that topic"
	}
	return fmt.Sprintf("You recently asked about %s; here's the relevant excerpt: %s", topic, b.Content)
}
