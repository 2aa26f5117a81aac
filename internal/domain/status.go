package domain

import (
	"fmt"
	"strings"
)

type StrategyStatus string

const (
	StrategyActive    StrategyStatus = "Active"
	StrategyCompleted StrategyStatus = "Completed"
	StrategyArchived  StrategyStatus = "Archived"
)

type ProjectStatus string

const (
	ProjectNotYetStarted ProjectStatus = "NotYetStarted"
	ProjectOnTrack       ProjectStatus = "OnTrack"
	ProjectOnHold        ProjectStatus = "OnHold"
	ProjectBehind        ProjectStatus = "Behind"
	ProjectCompleted     ProjectStatus = "Completed"
)

// IsCompleted is the only completion test used by progress aggregation.
func (s ProjectStatus) IsCompleted() bool { return s == ProjectCompleted }

type ActionStatus string

const (
	ActionNotStarted ActionStatus = "not_started"
	ActionInProgress ActionStatus = "in_progress"
	ActionOnHold     ActionStatus = "on_hold"
	ActionAchieved   ActionStatus = "achieved"
)

type EntityType string

const (
	EntityProject EntityType = "project"
	EntityAction  EntityType = "action"
)

type SnapshotKind string

const (
	SnapshotArchive   SnapshotKind = "archive"
	SnapshotUnarchive SnapshotKind = "unarchive"
)

// statusKey folds case and separators so "On Track", "on-track" and "ONTRACK"
// compare equal.
func statusKey(raw string) string {
	r := strings.NewReplacer("_", "", "-", "", " ", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(raw)))
}

var strategyStatuses = map[string]StrategyStatus{
	"active":    StrategyActive,
	"completed": StrategyCompleted,
	"complete":  StrategyCompleted,
	"archived":  StrategyArchived,
}

var projectStatuses = map[string]ProjectStatus{
	"notyetstarted": ProjectNotYetStarted,
	"notstarted":    ProjectNotYetStarted,
	"nys":           ProjectNotYetStarted,
	"ontrack":       ProjectOnTrack,
	"onhold":        ProjectOnHold,
	"behind":        ProjectBehind,
	"completed":     ProjectCompleted,
	"achieved":      ProjectCompleted,
	"c":             ProjectCompleted,
}

var actionStatuses = map[string]ActionStatus{
	"notstarted": ActionNotStarted,
	"inprogress": ActionInProgress,
	"onhold":     ActionOnHold,
	"achieved":   ActionAchieved,
}

func ParseStrategyStatus(raw string) (StrategyStatus, error) {
	if s, ok := strategyStatuses[statusKey(raw)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown strategy status %q", raw)
}

// ParseProjectStatus maps every legacy spelling of a project status onto the
// closed enum, e.g. "achieved", "C" and "completed" all become ProjectCompleted.
func ParseProjectStatus(raw string) (ProjectStatus, error) {
	if s, ok := projectStatuses[statusKey(raw)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown project status %q", raw)
}

func ParseActionStatus(raw string) (ActionStatus, error) {
	if s, ok := actionStatuses[statusKey(raw)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown action status %q", raw)
}

func ParseEntityType(raw string) (EntityType, error) {
	switch EntityType(strings.ToLower(strings.TrimSpace(raw))) {
	case EntityProject:
		return EntityProject, nil
	case EntityAction:
		return EntityAction, nil
	}
	return "", fmt.Errorf("unknown entity type %q", raw)
}
