package domain

import (
	"encoding/json"
	"time"
)

type Strategy struct {
	ID             string         `json:"id"`
	OrgID          string         `json:"org_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         StrategyStatus `json:"status" enum:"Active,Completed,Archived"`
	Progress       int            `json:"progress" minimum:"0" maximum:"100"`
	Readiness      *int           `json:"readiness,omitempty"`
	Risk           *int           `json:"risk,omitempty"`
	OwnerID        string         `json:"owner_id,omitempty"`
	CompletionDate *time.Time     `json:"completion_date,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type Project struct {
	ID                string        `json:"id"`
	OrgID             string        `json:"org_id"`
	StrategyID        string        `json:"strategy_id"`
	Title             string        `json:"title"`
	Description       string        `json:"description,omitempty"`
	Status            ProjectStatus `json:"status" enum:"NotYetStarted,OnTrack,OnHold,Behind,Completed"`
	Progress          int           `json:"progress" minimum:"0" maximum:"100"`
	OwnerID           string        `json:"owner_id,omitempty"`
	StartDate         *time.Time    `json:"start_date,omitempty"`
	DueDate           *time.Time    `json:"due_date,omitempty"`
	IsTemplate        bool          `json:"is_template"`
	IsArchived        bool          `json:"is_archived"`
	ArchiveReason     *string       `json:"archive_reason,omitempty"`
	ArchivedAt        *time.Time    `json:"archived_at,omitempty"`
	ArchivedBy        *string       `json:"archived_by,omitempty"`
	WakeUpDate        *time.Time    `json:"wake_up_date,omitempty"`
	ProgressAtArchive *int          `json:"progress_at_archive,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

type Action struct {
	ID           string       `json:"id"`
	OrgID        string       `json:"org_id"`
	ProjectID    *string      `json:"project_id,omitempty"`
	Title        string       `json:"title"`
	Status       ActionStatus `json:"status" enum:"not_started,in_progress,on_hold,achieved"`
	IsArchived   bool         `json:"is_archived"`
	DueDate      *time.Time   `json:"due_date,omitempty"`
	AchievedAt   *time.Time   `json:"achieved_at,omitempty"`
	TargetValue  *float64     `json:"target_value,omitempty"`
	CurrentValue *float64     `json:"current_value,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	OwnerID      string       `json:"owner_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type Barrier struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Severity  string    `json:"severity" enum:"low,medium,high"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

type Dependency struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	SourceType EntityType `json:"source_type" enum:"project,action"`
	SourceID   string     `json:"source_id"`
	TargetType EntityType `json:"target_type" enum:"project,action"`
	TargetID   string     `json:"target_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Snapshot is write-once; State is owned by whoever recorded it.
type Snapshot struct {
	ID         string          `json:"id"`
	OrgID      string          `json:"org_id"`
	EntityID   string          `json:"entity_id"`
	EntityType EntityType      `json:"entity_type"`
	Kind       SnapshotKind    `json:"kind" enum:"archive,unarchive"`
	State      json.RawMessage `json:"state"`
	Reason     string          `json:"reason,omitempty"`
	ActorID    string          `json:"actor_id"`
	TakenAt    time.Time       `json:"taken_at"`
	Seq        int64           `json:"seq"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
