package queryanalyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyze_Intent(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		wantIntent Intent
	}{
		{"memory list", "what do you remember about me", IntentMemoryList},
		{"memory save", "remember this: my favorite color is blue", IntentMemorySave},
		{"needs web search", "what's the latest news today", IntentNeedsWebSearch},
		{"explanatory", "can you explain how this works", IntentExplanatory},
		{"action", "write a function that sorts a list", IntentAction},
		{"factual", "what is the capital of France", IntentFactual},
		{"discussion fallback", "I've been thinking about my career lately", IntentDiscussion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.message, "")
			assert.Equal(t, tt.wantIntent, got.Intent)
		})
	}
}

func TestAnalyze_MemorySave_QuotedSpan(t *testing.T) {
	a := Analyze(`remember "I prefer dark mode"`, "")
	assert.Equal(t, IntentMemorySave, a.Intent)
	assert.Equal(t, "I prefer dark mode", a.MemoryContent)
}

func TestAnalyze_MemorySave_RememberThat(t *testing.T) {
	a := Analyze("remember that my dog's name is Biscuit", "")
	assert.Equal(t, IntentMemorySave, a.Intent)
	assert.Equal(t, "my dog's name is Biscuit", a.MemoryContent)
}

func TestAnalyze_MemorySave_UsesRecentAssistantMessage(t *testing.T) {
	a := Analyze("remember this", "your flight leaves at 6am")
	assert.Equal(t, IntentMemorySave, a.Intent)
	assert.Equal(t, "your flight leaves at 6am", a.MemoryContent)
}

func TestAnalyze_Complexity(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantComp Complexity
	}{
		{"short simple", "hi there", ComplexitySimple},
		{"technical explain", "explain the kubernetes scheduling algorithm and its architecture", ComplexityComplex},
		{"moderate length", "could you walk me through the steps of setting up a database connection pool please", ComplexityModerate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.message, "")
			assert.Equal(t, tt.wantComp, got.Complexity)
		})
	}
}

func TestAnalyze_FollowUp(t *testing.T) {
	a := Analyze("tell me more", "")
	assert.True(t, a.IsFollowUp)
	assert.Equal(t, IntentConversationFollowup, a.Intent)
}

func TestAnalyze_NotFollowUp(t *testing.T) {
	a := Analyze("what is the boiling point of water at sea level", "")
	assert.False(t, a.IsFollowUp)
}
