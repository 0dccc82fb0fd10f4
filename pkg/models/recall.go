package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType is one of the unlimited-recall background job kinds (§3).
type JobType string

const (
	JobLabel     JobType = "label"
	JobSummary   JobType = "summary"
	JobEmbedding JobType = "embedding"
	JobAudit     JobType = "audit"
	JobResearch  JobType = "research"
)

// JobStatus is the lifecycle state of a RecallJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// RecallJob is a unit of background work. At most one pending|running job
// exists per (ThreadID, JobType); new enqueues coalesce onto it.
type RecallJob struct {
	ID          uuid.UUID
	JobType     JobType
	ThreadID    uuid.UUID
	UserID      string
	Status      JobStatus
	RetryCount  int
	Payload     []byte // JSON
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// TriggerType is the unlimited-recall classifier outcome (§4.4).
type TriggerType string

const (
	TriggerResume     TriggerType = "resume"
	TriggerHistorical TriggerType = "historical"
	TriggerSemantic   TriggerType = "semantic"
)

// LoaderStrategy is the shape of injected recall context (§4.4).
type LoaderStrategy string

const (
	StrategyFull         LoaderStrategy = "full"
	StrategyHierarchical LoaderStrategy = "hierarchical"
	StrategyCompressed   LoaderStrategy = "compressed"
	StrategySnippet      LoaderStrategy = "snippet"
)

// RecallEvent is an append-only audit log row of one recall injection.
type RecallEvent struct {
	ID             uuid.UUID
	ThreadID       uuid.UUID
	UserID         string
	TriggerType    TriggerType
	StrategyUsed   LoaderStrategy
	TokensInjected int
	RelevanceScore float64
	LatencyMS      int
	Success        bool
	CreatedAt      time.Time
}

// ResearchCapsule is the transient fact-pack published to the cache keyed by
// factPack:{threadId}:{batchId} (§3). It is consumed once and otherwise
// survives only via TTL.
type ResearchCapsule struct {
	ThreadID  uuid.UUID
	BatchID   string
	Claims    []ResearchClaim
	Sources   []ResearchSource
	Entities  []string
	TTLClass  string
	FetchedAt time.Time
	ExpiresAt time.Time
}

// ResearchClaim is one extracted fact with its source date and confidence.
type ResearchClaim struct {
	Text       string
	Confidence float64
	Date       *time.Time
}

// ResearchSource describes one web source backing a ResearchClaim.
type ResearchSource struct {
	Host         string
	URL          string
	Date         *time.Time
	AuthorityTier int // 1 = highest authority
}
