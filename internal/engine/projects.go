package engine

import (
	"context"
	"time"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/metrics"
	"stratline/internal/repo"
)

type CreateProjectOptions struct {
	ID          string
	OrgID       string `validate:"required"`
	StrategyID  string `validate:"required"`
	Title       string `validate:"required"`
	Description string
	Status      string
	OwnerID     string
	StartDate   *time.Time
	DueDate     *time.Time
	ActorID     string
}

// CreateProject adds a project under a live strategy of the same org and
// rolls the strategy up again.
func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, CascadeResult, error) {
	if err := validateOptions(opts); err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	status := domain.ProjectNotYetStarted
	if opts.Status != "" {
		parsed, err := domain.ParseProjectStatus(opts.Status)
		if err != nil {
			return domain.Project{}, CascadeResult{}, invalid("status", err.Error())
		}
		status = parsed
	}
	if err := checkDates(opts.StartDate, opts.DueDate); err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	s, err := e.Store.GetStrategy(ctx, opts.StrategyID)
	if err != nil {
		return domain.Project{}, CascadeResult{}, notFound("strategy", opts.StrategyID, err)
	}
	if s.OrgID != opts.OrgID {
		return domain.Project{}, CascadeResult{}, &CrossTenantViolation{
			Op: "create project", EntityKind: "strategy", EntityID: s.ID, EntityOrg: s.OrgID, CallerOrg: opts.OrgID,
		}
	}
	if s.Status == domain.StrategyArchived {
		return domain.Project{}, CascadeResult{}, invalid("strategy_id", "strategy is archived")
	}
	now := e.now()
	p := domain.Project{
		ID:          newID(opts.ID),
		OrgID:       opts.OrgID,
		StrategyID:  s.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      status,
		OwnerID:     opts.OwnerID,
		StartDate:   opts.StartDate,
		DueDate:     opts.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.InsertProject(ctx, p); err != nil {
			return err
		}
		return e.audit(ctx, tx, "project.created", p.OrgID, "project", p.ID, opts.ActorID,
			events.EventPayload{"title": p.Title, "strategy_id": p.StrategyID, "status": p.Status})
	})
	if err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	res := e.cascadeFromStrategy(ctx, p.StrategyID)
	return p, res, nil
}

func (e Engine) GetProject(ctx context.Context, id, orgID string) (domain.Project, error) {
	return e.loadProject(ctx, e.Store, id, orgID)
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	return e.Store.ListProjects(ctx, f)
}

func (e Engine) loadProject(ctx context.Context, store repo.Store, id, orgID string) (domain.Project, error) {
	p, err := store.GetProject(ctx, id)
	if err != nil {
		return p, notFound("project", id, err)
	}
	if !sameOrg(orgID, p.OrgID) {
		return domain.Project{}, notFound("project", id, repo.ErrNotFound)
	}
	return p, nil
}

type UpdateProjectOptions struct {
	ID          string `validate:"required"`
	OrgID       string
	ActorID     string
	Title       *string
	Description *string
	Status      *string
	OwnerID     *string
	StartDate   *time.Time
	DueDate     *time.Time
}

// UpdateProject edits a live project. Progress is never taken from input; a
// status change can complete or reopen the strategy on the way up.
func (e Engine) UpdateProject(ctx context.Context, opts UpdateProjectOptions) (domain.Project, CascadeResult, error) {
	if err := validateOptions(opts); err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	if opts.Title != nil && *opts.Title == "" {
		return domain.Project{}, CascadeResult{}, invalid("title", "cannot be empty")
	}
	p, err := e.loadProject(ctx, e.Store, opts.ID, opts.OrgID)
	if err != nil {
		return p, CascadeResult{}, err
	}
	if p.IsArchived {
		return p, CascadeResult{}, invalid("project", "archived projects are read-only")
	}
	changes := events.EventPayload{}
	if opts.Status != nil {
		status, err := domain.ParseProjectStatus(*opts.Status)
		if err != nil {
			return p, CascadeResult{}, invalid("status", err.Error())
		}
		if status != p.Status {
			changes["status"] = map[string]any{"from": p.Status, "to": status}
		}
		p.Status = status
	}
	if opts.Title != nil {
		p.Title = *opts.Title
		changes["title"] = p.Title
	}
	if opts.Description != nil {
		p.Description = *opts.Description
		changes["description"] = p.Description
	}
	if opts.OwnerID != nil {
		p.OwnerID = *opts.OwnerID
		changes["owner_id"] = p.OwnerID
	}
	if opts.StartDate != nil {
		p.StartDate = opts.StartDate
		changes["start_date"] = p.StartDate
	}
	if opts.DueDate != nil {
		p.DueDate = opts.DueDate
		changes["due_date"] = p.DueDate
	}
	if err := checkDates(p.StartDate, p.DueDate); err != nil {
		return p, CascadeResult{}, err
	}
	p.UpdatedAt = e.now()
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.UpdateProject(ctx, p); err != nil {
			return err
		}
		return e.audit(ctx, tx, "project.updated", p.OrgID, "project", p.ID, opts.ActorID, changes)
	})
	if err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	res := e.cascadeFromProject(ctx, p.ID)
	if res.Project != nil {
		p = *res.Project
	}
	return p, res, nil
}

// DeleteProject removes the project with its actions and barriers. Edges
// touching any of them go first; snapshots stay.
func (e Engine) DeleteProject(ctx context.Context, id, orgID, actorID string) (CascadeResult, error) {
	p, err := e.loadProject(ctx, e.Store, id, orgID)
	if err != nil {
		return CascadeResult{}, err
	}
	var removed int
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		actions, err := tx.ListActions(ctx, repo.ActionFilters{ProjectID: p.ID, IncludeArchived: true})
		if err != nil {
			return err
		}
		if removed, err = e.collect(ctx, tx, []string{p.ID}, actionIDs(actions), p.OrgID); err != nil {
			return err
		}
		if err := tx.DeleteProject(ctx, p.ID); err != nil {
			return err
		}
		return e.audit(ctx, tx, "project.deleted", p.OrgID, "project", p.ID, actorID, events.EventPayload{
			"title":                p.Title,
			"dependencies_removed": removed,
		})
	})
	if err != nil {
		return CascadeResult{}, err
	}
	metrics.DependenciesRemoved.Add(float64(removed))
	return e.cascadeFromStrategy(ctx, p.StrategyID), nil
}

type ArchiveProjectOptions struct {
	ProjectID  string `validate:"required"`
	OrgID      string
	ActorID    string `validate:"required"`
	Reason     string
	WakeUpDate *time.Time
}

// ArchiveProject snapshots the project with its actions, archives the
// actions, drops their dependencies and records the archive fields, all in
// one transaction. The strategy is rolled up afterwards on a best-effort
// basis.
func (e Engine) ArchiveProject(ctx context.Context, opts ArchiveProjectOptions) (domain.Project, CascadeResult, error) {
	if err := validateOptions(opts); err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	p, err := e.loadProject(ctx, e.Store, opts.ProjectID, opts.OrgID)
	if err != nil {
		return p, CascadeResult{}, err
	}
	if p.IsArchived {
		return p, CascadeResult{}, invalid("project", "already archived")
	}
	actions, err := e.Store.ListActions(ctx, repo.ActionFilters{ProjectID: p.ID, IncludeArchived: true})
	if err != nil {
		return p, CascadeResult{}, err
	}
	now := e.now()
	var removed int
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		if _, err := e.recordSnapshot(ctx, tx, SnapshotInput{
			EntityID:   p.ID,
			EntityType: domain.EntityProject,
			State:      projectSubtree{Project: p, Actions: actions},
			Kind:       domain.SnapshotArchive,
			Reason:     opts.Reason,
			ActorID:    opts.ActorID,
			OrgID:      p.OrgID,
		}); err != nil {
			return err
		}
		ids := actionIDs(actions)
		if err := tx.SetActionsArchived(ctx, ids, true, now); err != nil {
			return err
		}
		var err error
		if removed, err = e.collect(ctx, tx, []string{p.ID}, ids, p.OrgID); err != nil {
			return err
		}
		progressAtArchive := p.Progress
		p.IsArchived = true
		p.ArchiveReason = optionalString(opts.Reason)
		p.ArchivedAt = &now
		p.ArchivedBy = optionalString(opts.ActorID)
		p.WakeUpDate = opts.WakeUpDate
		p.ProgressAtArchive = &progressAtArchive
		p.UpdatedAt = now
		if err := tx.UpdateProject(ctx, p); err != nil {
			return err
		}
		return e.audit(ctx, tx, "project.archived", p.OrgID, "project", p.ID, opts.ActorID, events.EventPayload{
			"reason":               opts.Reason,
			"actions":              len(ids),
			"dependencies_removed": removed,
			"progress_at_archive":  progressAtArchive,
		})
	})
	if err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	metrics.DependenciesRemoved.Add(float64(removed))
	res := e.cascadeFromStrategy(ctx, p.StrategyID)
	res.Project = &p
	return p, res, nil
}

type UnarchiveProjectOptions struct {
	ProjectID string `validate:"required"`
	OrgID     string
	ActorID   string `validate:"required"`
	Reason    string
}

// UnarchiveProject snapshots the archived state first, then restores the
// actions and clears the archive fields. ProgressAtArchive is kept as
// history.
func (e Engine) UnarchiveProject(ctx context.Context, opts UnarchiveProjectOptions) (domain.Project, CascadeResult, error) {
	if err := validateOptions(opts); err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	p, err := e.loadProject(ctx, e.Store, opts.ProjectID, opts.OrgID)
	if err != nil {
		return p, CascadeResult{}, err
	}
	if !p.IsArchived {
		return p, CascadeResult{}, invalid("project", "not archived")
	}
	s, err := e.Store.GetStrategy(ctx, p.StrategyID)
	if err != nil {
		return p, CascadeResult{}, notFound("strategy", p.StrategyID, err)
	}
	if s.Status == domain.StrategyArchived {
		return p, CascadeResult{}, invalid("strategy_id", "strategy is archived")
	}
	actions, err := e.Store.ListActions(ctx, repo.ActionFilters{ProjectID: p.ID, IncludeArchived: true})
	if err != nil {
		return p, CascadeResult{}, err
	}
	now := e.now()
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		if _, err := e.recordSnapshot(ctx, tx, SnapshotInput{
			EntityID:   p.ID,
			EntityType: domain.EntityProject,
			State:      projectSubtree{Project: p, Actions: actions},
			Kind:       domain.SnapshotUnarchive,
			Reason:     opts.Reason,
			ActorID:    opts.ActorID,
			OrgID:      p.OrgID,
		}); err != nil {
			return err
		}
		if err := tx.SetActionsArchived(ctx, actionIDs(actions), false, now); err != nil {
			return err
		}
		p.IsArchived = false
		p.ArchiveReason = nil
		p.ArchivedAt = nil
		p.ArchivedBy = nil
		p.WakeUpDate = nil
		p.UpdatedAt = now
		if err := tx.UpdateProject(ctx, p); err != nil {
			return err
		}
		return e.audit(ctx, tx, "project.unarchived", p.OrgID, "project", p.ID, opts.ActorID,
			events.EventPayload{"reason": opts.Reason, "actions": len(actions)})
	})
	if err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	res := e.cascadeFromProject(ctx, p.ID)
	if res.Project != nil {
		p = *res.Project
	}
	return p, res, nil
}

func actionIDs(actions []domain.Action) []string {
	ids := make([]string, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, a.ID)
	}
	return ids
}

func checkDates(start, due *time.Time) error {
	if start != nil && due != nil && due.Before(*start) {
		return invalid("due_date", "must not be before start_date")
	}
	return nil
}
