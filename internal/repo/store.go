package repo

import (
	"context"
	"time"

	"stratline/internal/domain"
)

// Store is the hierarchy repository the engine depends on. Derived fields
// (project progress, strategy progress/status) are only written through the
// Set* methods.
type Store interface {
	InTx(ctx context.Context, fn func(Store) error) error

	InsertStrategy(ctx context.Context, s domain.Strategy) error
	GetStrategy(ctx context.Context, id string) (domain.Strategy, error)
	ListStrategies(ctx context.Context, f StrategyFilters) ([]domain.Strategy, error)
	UpdateStrategy(ctx context.Context, s domain.Strategy) error
	SetStrategyRollup(ctx context.Context, id string, progress int, status domain.StrategyStatus, at time.Time) error
	SetStrategyStatus(ctx context.Context, id string, status domain.StrategyStatus, completionDate *time.Time, at time.Time) error
	DeleteStrategy(ctx context.Context, id string) error

	InsertProject(ctx context.Context, p domain.Project) error
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error)
	UpdateProject(ctx context.Context, p domain.Project) error
	SetProjectProgress(ctx context.Context, id string, progress int, at time.Time) error
	SetProjectsArchived(ctx context.Context, ids []string, archived bool, by string, at time.Time) error
	DeleteProject(ctx context.Context, id string) error

	InsertAction(ctx context.Context, a domain.Action) error
	GetAction(ctx context.Context, id string) (domain.Action, error)
	ListActions(ctx context.Context, f ActionFilters) ([]domain.Action, error)
	UpdateAction(ctx context.Context, a domain.Action) error
	SetActionsArchived(ctx context.Context, ids []string, archived bool, at time.Time) error
	DeleteAction(ctx context.Context, id string) error

	InsertBarrier(ctx context.Context, b domain.Barrier) error
	ListBarriers(ctx context.Context, projectID string) ([]domain.Barrier, error)

	InsertDependency(ctx context.Context, d domain.Dependency) error
	GetDependency(ctx context.Context, id string) (domain.Dependency, error)
	ListDependencies(ctx context.Context, f DependencyFilters) ([]domain.Dependency, error)
	DeleteDependency(ctx context.Context, id string) error
	DeleteDependenciesFor(ctx context.Context, projectIDs, actionIDs []string, orgID string) (int, error)

	InsertSnapshot(ctx context.Context, s domain.Snapshot) (domain.Snapshot, error)
	ListSnapshots(ctx context.Context, entityID string) ([]domain.Snapshot, error)

	AppendEvent(ctx context.Context, e domain.Event) error
	LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error)
}

type StrategyFilters struct {
	OrgID  string
	Status domain.StrategyStatus
	Limit  int
}

type ProjectFilters struct {
	OrgID           string
	StrategyID      string
	IncludeArchived bool
	Limit           int
}

type ActionFilters struct {
	OrgID           string
	ProjectID       string
	Unassigned      bool
	IncludeArchived bool
	Limit           int
}

type DependencyFilters struct {
	OrgID      string
	EntityType domain.EntityType
	EntityID   string
}

type EventFilters struct {
	OrgID      string
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	Cursor     int64
}
