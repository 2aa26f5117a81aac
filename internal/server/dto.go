package server

import (
	"encoding/json"
	"fmt"
	"time"

	"stratline/internal/domain"
	"stratline/internal/engine"
)

// Request payloads

type CreateStrategyRequest struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title" minLength:"1"`
	Description string `json:"description,omitempty"`
	Readiness   *int   `json:"readiness,omitempty" minimum:"0" maximum:"100"`
	Risk        *int   `json:"risk,omitempty" minimum:"0" maximum:"100"`
	OwnerID     string `json:"owner_id,omitempty"`
}

type UpdateStrategyRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Readiness   *int    `json:"readiness,omitempty" minimum:"0" maximum:"100"`
	Risk        *int    `json:"risk,omitempty" minimum:"0" maximum:"100"`
	OwnerID     *string `json:"owner_id,omitempty"`
}

type CreateProjectRequest struct {
	ID          string     `json:"id,omitempty"`
	StrategyID  string     `json:"strategy_id" minLength:"1"`
	Title       string     `json:"title" minLength:"1"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty" doc:"NotYetStarted, OnTrack, OnHold, Behind or Completed; legacy spellings accepted"`
	OwnerID     string     `json:"owner_id,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

type UpdateProjectRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	OwnerID     *string    `json:"owner_id,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

type ArchiveProjectRequest struct {
	Reason     string     `json:"reason,omitempty"`
	WakeUpDate *time.Time `json:"wake_up_date,omitempty"`
}

type UnarchiveProjectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CopyProjectRequest struct {
	ID         string `json:"id,omitempty"`
	NewTitle   string `json:"new_title,omitempty"`
	AsTemplate bool   `json:"as_template,omitempty"`
}

type CreateActionRequest struct {
	ID           string     `json:"id,omitempty"`
	ProjectID    string     `json:"project_id,omitempty"`
	Title        string     `json:"title" minLength:"1"`
	Status       string     `json:"status,omitempty" enum:"not_started,in_progress,on_hold,achieved"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	TargetValue  *float64   `json:"target_value,omitempty"`
	CurrentValue *float64   `json:"current_value,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	OwnerID      string     `json:"owner_id,omitempty"`
}

type UpdateActionRequest struct {
	Title        *string    `json:"title,omitempty"`
	Status       *string    `json:"status,omitempty" enum:"not_started,in_progress,on_hold,achieved"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	ClearDueDate bool       `json:"clear_due_date,omitempty"`
	TargetValue  *float64   `json:"target_value,omitempty"`
	CurrentValue *float64   `json:"current_value,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	OwnerID      *string    `json:"owner_id,omitempty"`
	ProjectID    *string    `json:"project_id,omitempty" doc:"Move the action; an empty string detaches it"`
}

type CreateBarrierRequest struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title" minLength:"1"`
	Severity string `json:"severity,omitempty" enum:"low,medium,high"`
}

type CreateDependencyRequest struct {
	ID         string `json:"id,omitempty"`
	SourceType string `json:"source_type" enum:"project,action"`
	SourceID   string `json:"source_id" minLength:"1"`
	TargetType string `json:"target_type" enum:"project,action"`
	TargetID   string `json:"target_id" minLength:"1"`
}

type CollectDependenciesRequest struct {
	ProjectIDs []string `json:"project_ids,omitempty"`
	ActionIDs  []string `json:"action_ids,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	OrgID   string `json:"org_id"`
}

// Responses

type ProjectMutationResponse struct {
	Project  domain.Project `json:"project"`
	Warnings []string       `json:"warnings"`
}

type ActionMutationResponse struct {
	Action   domain.Action `json:"action"`
	Warnings []string      `json:"warnings"`
}

type StrategyLifecycleResponse struct {
	Strategy            domain.Strategy `json:"strategy"`
	DependenciesRemoved int             `json:"dependencies_removed"`
}

type DeleteResponse struct {
	Deleted             bool     `json:"deleted"`
	DependenciesRemoved int      `json:"dependencies_removed,omitempty"`
	Warnings            []string `json:"warnings"`
}

type CollectResponse struct {
	Removed int `json:"removed"`
}

type ReconcileResponse struct {
	ProjectsChecked    int      `json:"projects_checked"`
	ProjectsRepaired   int      `json:"projects_repaired"`
	StrategiesChecked  int      `json:"strategies_checked"`
	StrategiesRepaired int      `json:"strategies_repaired"`
	Warnings           []string `json:"warnings"`
}

type SnapshotResponse struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	Kind       string    `json:"kind" enum:"archive,unarchive"`
	State      any       `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	ActorID    string    `json:"actor_id"`
	TakenAt    time.Time `json:"taken_at"`
	Seq        int64     `json:"seq"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	OrgID   string `json:"org_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func projectMutation(p domain.Project, res engine.CascadeResult) ProjectMutationResponse {
	return ProjectMutationResponse{Project: p, Warnings: res.WarningMessages()}
}

func actionMutation(a domain.Action, res engine.CascadeResult) ActionMutationResponse {
	return ActionMutationResponse{Action: a, Warnings: res.WarningMessages()}
}

func reconcileResponse(rep engine.ReconcileReport) ReconcileResponse {
	out := ReconcileResponse{
		ProjectsChecked:    rep.ProjectsChecked,
		ProjectsRepaired:   rep.ProjectsRepaired,
		StrategiesChecked:  rep.StrategiesChecked,
		StrategiesRepaired: rep.StrategiesRepaired,
		Warnings:           []string{},
	}
	for _, w := range rep.Warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}
	return out
}

func snapshotResponse(s domain.Snapshot) (SnapshotResponse, error) {
	var state any
	if len(s.State) > 0 {
		if err := json.Unmarshal(s.State, &state); err != nil {
			return SnapshotResponse{}, fmt.Errorf("decode snapshot %s state: %w", s.ID, err)
		}
	}
	return SnapshotResponse{
		ID:         s.ID,
		EntityID:   s.EntityID,
		EntityType: string(s.EntityType),
		Kind:       string(s.Kind),
		State:      state,
		Reason:     s.Reason,
		ActorID:    s.ActorID,
		TakenAt:    s.TakenAt,
		Seq:        s.Seq,
	}, nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
