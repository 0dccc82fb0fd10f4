package recall

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsync/memoryplane/pkg/gatewaystore"
	"github.com/tarsync/memoryplane/pkg/models"
)

func TestResolveResume_PicksMostRecentCandidate(t *testing.T) {
	r := &Resolver{}
	candidates := []gatewaystore.PackageSummary{
		{ThreadID: uuid.New(), Summary: "most recent", TotalTokens: 500},
		{ThreadID: uuid.New(), Summary: "older", TotalTokens: 100},
	}

	resolved, ok := r.resolveResume(candidates)
	require.True(t, ok)
	assert.Equal(t, candidates[0].ThreadID, resolved.ThreadID)
	assert.Equal(t, "most recent", resolved.Summary)
	assert.Greater(t, resolved.RelevanceScore, 0.0)
}

func TestResolveHistorical_PicksOverlappingCandidate(t *testing.T) {
	r := &Resolver{}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	overlapping := gatewaystore.PackageSummary{
		ThreadID:       uuid.New(),
		Summary:        "five minutes ago thread",
		FirstMessageAt: now.Add(-10 * time.Minute),
		LastMessageAt:  now.Add(-4 * time.Minute),
	}
	distant := gatewaystore.PackageSummary{
		ThreadID:       uuid.New(),
		Summary:        "a week ago thread",
		FirstMessageAt: now.Add(-7 * 24 * time.Hour),
		LastMessageAt:  now.Add(-7*24*time.Hour + time.Hour),
	}

	trigger := Trigger{
		Type:        models.TriggerHistorical,
		HasWindow:   true,
		WindowStart: now.Add(-10 * time.Minute),
		WindowEnd:   now,
	}

	resolved, ok := r.resolveHistorical([]gatewaystore.PackageSummary{distant, overlapping}, trigger)
	require.True(t, ok)
	assert.Equal(t, overlapping.ThreadID, resolved.ThreadID)
	assert.GreaterOrEqual(t, resolved.RelevanceScore, 0.5)
}

func TestResolveHistorical_NoWindowFails(t *testing.T) {
	r := &Resolver{}
	_, ok := r.resolveHistorical([]gatewaystore.PackageSummary{{ThreadID: uuid.New()}}, Trigger{Type: models.TriggerHistorical})
	assert.False(t, ok)
}

func TestResolveSemantic_NoVectorStoreFails(t *testing.T) {
	r := &Resolver{}
	_, ok := r.resolveSemantic(nil, "user-1", nil, "how did we decide on sessions")
	assert.False(t, ok)
}

func TestWindowDistance_ZeroWhenOverlapping(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := gatewaystore.PackageSummary{FirstMessageAt: now.Add(-time.Hour), LastMessageAt: now}
	d := windowDistance(c, now.Add(-30*time.Minute), now.Add(30*time.Minute), now)
	assert.Equal(t, time.Duration(0), d)
}

func TestWindowDistance_PositiveWhenDisjoint(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := gatewaystore.PackageSummary{FirstMessageAt: now.Add(-48 * time.Hour), LastMessageAt: now.Add(-47 * time.Hour)}
	d := windowDistance(c, now.Add(-10*time.Minute), now, now.Add(-5*time.Minute))
	assert.Greater(t, d, time.Duration(0))
}
