package research

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tarsync/memoryplane/pkg/models"
)

// wireCapsule mirrors models.ResearchCapsule with JSON tags, kept separate
// so the domain type stays free of wire concerns.
type wireCapsule struct {
	ThreadID  string        `json:"threadId"`
	BatchID   string        `json:"batchId"`
	Claims    []wireClaim   `json:"claims"`
	Sources   []wireSource  `json:"sources"`
	Entities  []string      `json:"entities"`
	TTLClass  string        `json:"ttlClass"`
	FetchedAt time.Time     `json:"fetchedAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

type wireClaim struct {
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Date       *time.Time `json:"date,omitempty"`
}

type wireSource struct {
	Host          string     `json:"host"`
	URL           string     `json:"url"`
	Date          *time.Time `json:"date,omitempty"`
	AuthorityTier int        `json:"authorityTier"`
}

func marshalCapsule(c models.ResearchCapsule) ([]byte, error) {
	w := wireCapsule{
		ThreadID: c.ThreadID.String(), BatchID: c.BatchID,
		Entities: c.Entities, TTLClass: c.TTLClass,
		FetchedAt: c.FetchedAt, ExpiresAt: c.ExpiresAt,
	}
	for _, claim := range c.Claims {
		w.Claims = append(w.Claims, wireClaim{Text: claim.Text, Confidence: claim.Confidence, Date: claim.Date})
	}
	for _, src := range c.Sources {
		w.Sources = append(w.Sources, wireSource{Host: src.Host, URL: src.URL, Date: src.Date, AuthorityTier: src.AuthorityTier})
	}
	return json.Marshal(w)
}

// UnmarshalCapsule decodes a capsule payload read back from the cache, the
// consuming side of the poll-based injector (§4.10).
func UnmarshalCapsule(raw []byte) (models.ResearchCapsule, error) {
	var w wireCapsule
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.ResearchCapsule{}, fmt.Errorf("research: decode capsule: %w", err)
	}
	threadID, err := uuid.Parse(w.ThreadID)
	if err != nil {
		return models.ResearchCapsule{}, fmt.Errorf("research: decode capsule thread id: %w", err)
	}

	c := models.ResearchCapsule{
		ThreadID: threadID, BatchID: w.BatchID,
		Entities: w.Entities, TTLClass: w.TTLClass,
		FetchedAt: w.FetchedAt, ExpiresAt: w.ExpiresAt,
	}
	for _, claim := range w.Claims {
		c.Claims = append(c.Claims, models.ResearchClaim{Text: claim.Text, Confidence: claim.Confidence, Date: claim.Date})
	}
	for _, src := range w.Sources {
		c.Sources = append(c.Sources, models.ResearchSource{Host: src.Host, URL: src.URL, Date: src.Date, AuthorityTier: src.AuthorityTier})
	}
	return c, nil
}
