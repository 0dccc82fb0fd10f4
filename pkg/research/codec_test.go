package research

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsync/memoryplane/pkg/models"
)

func TestMarshalUnmarshalCapsule_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	threadID := uuid.New()

	original := models.ResearchCapsule{
		ThreadID:  threadID,
		BatchID:   "batch-1",
		TTLClass:  "short",
		Entities:  []string{"golang", "webassembly"},
		FetchedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
		Claims: []models.ResearchClaim{
			{Text: "Go 1.25 shipped in 2025.", Confidence: 0.75, Date: &now},
		},
		Sources: []models.ResearchSource{
			{Host: "go.dev", URL: "https://go.dev/blog/go1.25", Date: &now, AuthorityTier: 1},
		},
	}

	payload, err := marshalCapsule(original)
	require.NoError(t, err)

	decoded, err := UnmarshalCapsule(payload)
	require.NoError(t, err)

	assert.Equal(t, original.ThreadID, decoded.ThreadID)
	assert.Equal(t, original.BatchID, decoded.BatchID)
	assert.Equal(t, original.TTLClass, decoded.TTLClass)
	assert.Equal(t, original.Entities, decoded.Entities)
	require.Len(t, decoded.Claims, 1)
	assert.Equal(t, original.Claims[0].Text, decoded.Claims[0].Text)
	assert.Equal(t, original.Claims[0].Confidence, decoded.Claims[0].Confidence)
	require.Len(t, decoded.Sources, 1)
	assert.Equal(t, original.Sources[0].Host, decoded.Sources[0].Host)
	assert.Equal(t, original.Sources[0].AuthorityTier, decoded.Sources[0].AuthorityTier)
}

func TestUnmarshalCapsule_InvalidJSON(t *testing.T) {
	_, err := UnmarshalCapsule([]byte("not json"))
	assert.Error(t, err)
}

func TestUnmarshalCapsule_InvalidThreadID(t *testing.T) {
	_, err := UnmarshalCapsule([]byte(`{"threadId":"not-a-uuid"}`))
	assert.Error(t, err)
}

func TestFirstSentences(t *testing.T) {
	text := "First sentence. Second sentence. Third sentence."
	assert.Equal(t, "First sentence. Second sentence.", firstSentences(text, 2))
}

func TestFirstSentences_FewerThanRequested(t *testing.T) {
	text := "Only one sentence here"
	assert.Equal(t, "Only one sentence here", firstSentences(text, 3))
}

func TestAuthorityTier(t *testing.T) {
	assert.Equal(t, 1, authorityTier("example.gov"))
	assert.Equal(t, 1, authorityTier("school.edu"))
	assert.Equal(t, 2, authorityTier("en.wikipedia.org"))
	assert.Equal(t, 3, authorityTier("example.com"))
}
