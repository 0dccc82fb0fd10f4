package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsync/memoryplane/pkg/models"
)

func TestMatch_JaccardAndContentSimilarity(t *testing.T) {
	threadID := uuid.New()
	existing := &models.Memory{
		ID:         uuid.New(),
		Normalized: Normalize("user prefers dark mode in the settings panel"),
	}
	c := NewCandidate("user prefers dark mode in the settings panel", threadID, nil)

	got := Match(c, []*models.Memory{existing})
	require.NotNil(t, got)
	assert.Equal(t, existing.ID, got.ID)
}

func TestMatch_NoMatchForUnrelatedContent(t *testing.T) {
	threadID := uuid.New()
	existing := &models.Memory{
		ID:         uuid.New(),
		Normalized: Normalize("user prefers dark mode in the settings panel"),
	}
	c := NewCandidate("user's favorite programming language is go", threadID, nil)

	assert.Nil(t, Match(c, []*models.Memory{existing}))
}

func TestMerge_KeepsClearerContentAndIncrementsRepeats(t *testing.T) {
	threadID := uuid.New()
	existing := &models.Memory{
		ID:         uuid.New(),
		Content:    "likes dark mode",
		Normalized: Normalize("likes dark mode"),
		Repeats:    1,
		ThreadSet:  []uuid.UUID{uuid.New()},
		Priority:   0.5,
	}
	c := NewCandidate("user explicitly prefers the dark mode theme across every device", threadID, nil)

	now := time.Now()
	updated := Merge(existing, c, now)

	assert.Equal(t, c.Content, updated.Content)
	assert.Equal(t, 2, updated.Repeats)
	assert.Contains(t, updated.ThreadSet, threadID)
	assert.InDelta(t, 0.55, updated.Priority, 1e-9)
}

func TestMatchByCosine_Threshold(t *testing.T) {
	assert.True(t, MatchByCosine(0.9))
	assert.False(t, MatchByCosine(0.5))
}

func TestEngineDedupe_FallsBackToMatchWithoutVectorStore(t *testing.T) {
	e := NewEngine(nil, nil, nil, "")
	threadID := uuid.New()
	existing := &models.Memory{
		ID:         uuid.New(),
		Normalized: Normalize("user prefers dark mode in the settings panel"),
	}
	c := NewCandidate("user prefers dark mode in the settings panel", threadID, nil)

	got := e.Dedupe(context.Background(), c, []*models.Memory{existing})
	require.NotNil(t, got)
	assert.Equal(t, existing.ID, got.ID)
}

func TestEngineDedupe_NoEmbeddingNoVectorLeg(t *testing.T) {
	e := NewEngine(nil, nil, nil, "")
	threadID := uuid.New()
	c := NewCandidate("completely unrelated new fact", threadID, nil)

	assert.Nil(t, e.Dedupe(context.Background(), c, nil))
}

func TestEngineIndex_NoopWithoutEmbedder(t *testing.T) {
	e := NewEngine(nil, nil, nil, "")
	m := &models.Memory{ID: uuid.New(), Content: "some content"}

	e.Index(context.Background(), m)
	assert.Nil(t, m.EmbeddingID)
}
