// Package models defines the plain data-transfer types shared across the
// gateway, memory service, and recall worker as ordinary Go structs rather
// than generated ent entities, since no ent client is wired into this repo.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the sender of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is the atomic unit of dialogue (§3). Messages are append-only and
// ordered by (ThreadID, CreatedAt, ID); soft-deleted messages are excluded
// from retrieval but kept for audit.
type Message struct {
	ID            uuid.UUID
	ThreadID      uuid.UUID
	UserID        string
	Role          Role
	Content       string
	CreatedAt     time.Time
	TokensIn      int
	TokensOut     int
	Provider      string
	Model         string
	Important     bool
	DeletedAt     *time.Time
}

// IsDeleted reports whether the message has been soft-deleted.
func (m Message) IsDeleted() bool { return m.DeletedAt != nil }

// ThreadSummary is the latest natural-language summary of a thread. At most
// one live row exists per thread; it is regenerated when stale, never
// appended to.
type ThreadSummary struct {
	ThreadID   uuid.UUID
	UserID     string
	Summary    string
	LastMsgID  uuid.UUID
	TokenCount int
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}
