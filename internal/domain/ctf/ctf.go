package ctf

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event is the processor's durable, deduplicated copy of a bus message.
// ExternalID is the idempotency key; redelivery of the same bus message
// must not create a second row.
type Event struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID string         `gorm:"uniqueIndex;not null;column:external_id" json:"external_id"`
	Namespace  string         `gorm:"index;not null;column:namespace" json:"namespace"`
	UserID     string         `gorm:"index;column:user_id" json:"user_id"`
	SessionID  string         `gorm:"column:session_id" json:"session_id,omitempty"`
	WorkflowID string         `gorm:"index;column:workflow_id" json:"workflow_id,omitempty"`
	Category   string         `gorm:"not null;column:category" json:"category"`
	EventType  string         `gorm:"index;not null;column:event_type" json:"event_type"`
	Subtype    string         `gorm:"column:subtype" json:"subtype,omitempty"`
	Severity   string         `gorm:"column:severity" json:"severity,omitempty"`
	AgentName  string         `gorm:"column:agent_name" json:"agent_name,omitempty"`
	ToolName   string         `gorm:"column:tool_name" json:"tool_name,omitempty"`
	DurationMS int64          `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	Payload    datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	Summary    string         `gorm:"column:summary" json:"summary,omitempty"`
	OccurredAt time.Time      `gorm:"index;not null;column:occurred_at" json:"occurred_at"`
	CreatedAt  time.Time      `gorm:"not null;column:created_at" json:"created_at"`
}

func (Event) TableName() string { return "ctf_event" }

// ChallengeDefinition is upserted from declarative YAML, keyed by a
// human-chosen slug. DetectorClass must name a registered rule class or the
// definition is inert.
type ChallengeDefinition struct {
	ID             string         `gorm:"primaryKey;column:id" json:"id"`
	Version        int            `gorm:"not null;default:1;column:version" json:"version"`
	Title          string         `gorm:"not null;column:title" json:"title"`
	Description    string         `gorm:"column:description" json:"description"`
	Category       string         `gorm:"not null;column:category" json:"category"`
	Difficulty     string         `gorm:"not null;column:difficulty" json:"difficulty"`
	Points         int            `gorm:"not null;default:0;column:points" json:"points"`
	DetectorClass  string         `gorm:"not null;column:detector_class" json:"detector_class"`
	DetectorConfig datatypes.JSON `gorm:"column:detector_config" json:"detector_config,omitempty"`
	Active         bool           `gorm:"not null;default:true;column:active" json:"active"`
	CreatedAt      time.Time      `gorm:"not null;column:created_at" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;column:updated_at" json:"updated_at"`
}

func (ChallengeDefinition) TableName() string { return "challenge_definition" }

type BadgeDefinition struct {
	ID              string         `gorm:"primaryKey;column:id" json:"id"`
	Version         int            `gorm:"not null;default:1;column:version" json:"version"`
	Title           string         `gorm:"not null;column:title" json:"title"`
	Description     string         `gorm:"column:description" json:"description"`
	Rarity          string         `gorm:"not null;column:rarity" json:"rarity"`
	EvaluatorClass  string         `gorm:"not null;column:evaluator_class" json:"evaluator_class"`
	EvaluatorConfig datatypes.JSON `gorm:"column:evaluator_config" json:"evaluator_config,omitempty"`
	Active          bool           `gorm:"not null;default:true;column:active" json:"active"`
	CreatedAt       time.Time      `gorm:"not null;column:created_at" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;column:updated_at" json:"updated_at"`
}

func (BadgeDefinition) TableName() string { return "badge_definition" }

const (
	ProgressStatusLocked     = "locked"
	ProgressStatusAvailable  = "available"
	ProgressStatusInProgress = "in_progress"
	ProgressStatusCompleted  = "completed"
)

// ChallengeProgress is unique per (namespace, user, challenge). Status only
// advances; completed is terminal.
type ChallengeProgress struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Namespace      string         `gorm:"uniqueIndex:uniq_progress,priority:1;not null;column:namespace" json:"namespace"`
	UserID         string         `gorm:"uniqueIndex:uniq_progress,priority:2;not null;column:user_id" json:"user_id"`
	ChallengeID    string         `gorm:"uniqueIndex:uniq_progress,priority:3;not null;column:challenge_id" json:"challenge_id"`
	Status         string         `gorm:"not null;default:available;column:status" json:"status"`
	Attempts       int            `gorm:"not null;default:0;column:attempts" json:"attempts"`
	Failures       int            `gorm:"not null;default:0;column:failures" json:"failures"`
	HintsUsed      int            `gorm:"not null;default:0;column:hints_used" json:"hints_used"`
	FirstAttemptAt *time.Time     `gorm:"column:first_attempt_at" json:"first_attempt_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Evidence       datatypes.JSON `gorm:"column:evidence" json:"evidence,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;column:created_at" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;column:updated_at" json:"updated_at"`
}

func (ChallengeProgress) TableName() string { return "challenge_progress" }

// BadgeAward is insert-only; this subsystem never revokes an award.
type BadgeAward struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Namespace string         `gorm:"uniqueIndex:uniq_award,priority:1;not null;column:namespace" json:"namespace"`
	UserID    string         `gorm:"uniqueIndex:uniq_award,priority:2;not null;column:user_id" json:"user_id"`
	BadgeID   string         `gorm:"uniqueIndex:uniq_award,priority:3;not null;column:badge_id" json:"badge_id"`
	EarnedAt  time.Time      `gorm:"not null;column:earned_at" json:"earned_at"`
	Evidence  datatypes.JSON `gorm:"column:evidence" json:"evidence,omitempty"`
	CreatedAt time.Time      `gorm:"not null;column:created_at" json:"created_at"`
}

func (BadgeAward) TableName() string { return "badge_award" }
