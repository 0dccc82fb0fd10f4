package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier classifies a Memory's durability and scoring weights (§4.2.3).
type Tier string

const (
	TierT1 Tier = "T1" // cross-thread recent
	TierT2 Tier = "T2" // preferences / goals
	TierT3 Tier = "T3" // general
)

// Memory is a compressed, durable fact or preference (§3). Per-user
// (Normalized, Tier) is effectively unique: a re-mention updates
// Repeats/ThreadSet/LastSeenTS rather than inserting a new row. Content is
// PII-redacted before write and is changed afterwards only by the dedup
// merge's "clearer content" rule (§4.2.2) or by a PATCH that supplies new
// content, which is redacted the same way.
type Memory struct {
	ID             uuid.UUID
	UserID         string
	ThreadID       uuid.UUID // creation thread
	Content        string    // <= 1024 chars
	Normalized     string    // fingerprint used for dedup/uniqueness
	Tier           Tier
	Priority       float64 // [0,1]
	Confidence     float64 // [0,1]
	Entities       []string
	RedactionMap   map[string]string // placeholder -> original, server-side reversal only
	SourceThreadID uuid.UUID
	Repeats        int // >= 1
	ThreadSet      []uuid.UUID
	LastSeenTS     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
	EmbeddingID    *uuid.UUID
}

// IsDeleted reports whether the memory has been soft-deleted.
func (m Memory) IsDeleted() bool { return m.DeletedAt != nil }

// Audit records one run of the audit pipeline over a thread window (§3),
// used for cadence bookkeeping.
type Audit struct {
	ID         uuid.UUID
	UserID     string
	ThreadID   uuid.UUID
	StartMsgID uuid.UUID
	EndMsgID   uuid.UUID
	TokenCount int
	Score      float64
	Saved      int
	CreatedAt  time.Time
}

// UserProfile holds per-user distilled attributes, rebuilt by the audit
// pipeline and read as a low-priority context block.
type UserProfile struct {
	UserID      string
	ProfileJSON string
	LastUpdated time.Time
	DeletedAt   *time.Time
}
