package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversationPackage is the per-thread metadata row used by unlimited
// recall (§3): one per ThreadID, MessageCount must always equal the count
// of captured ConversationMessage rows for that thread.
type ConversationPackage struct {
	ThreadID         uuid.UUID
	UserID           string
	Label            string // ~10 tokens, generated after >= 5 messages
	Summary          string // ~125 tokens, generated after >= 10, refreshed every 20
	MessageCount     int
	TotalTokens      int
	FirstMessageAt   time.Time
	LastMessageAt    time.Time
	ImportanceScore  float64
	PrimaryTopic     string
	LabelGeneratedAt *time.Time
}

// ConversationEmbedding holds the per-thread vectors, created only after a
// summary exists.
type ConversationEmbedding struct {
	ThreadID            uuid.UUID
	LabelEmbeddingID    *uuid.UUID
	SummaryEmbeddingID  *uuid.UUID
	CombinedEmbeddingID *uuid.UUID
	EmbeddingModel      string
	EmbeddingDimensions int
	UpdatedAt           time.Time
}

// ConversationMessage is the 100%-capture row behind unlimited recall,
// distinct from the gateway's own Message row so capture never blocks on
// the live conversation path.
type ConversationMessage struct {
	ID        uuid.UUID
	ThreadID  uuid.UUID
	UserID    string
	Role      Role
	Content   string
	Tokens    int
	CreatedAt time.Time
}
