package engine

import (
	"context"
	"time"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/metrics"
	"stratline/internal/repo"
)

type CreateActionOptions struct {
	ID           string
	OrgID        string `validate:"required"`
	ProjectID    string
	Title        string `validate:"required"`
	Status       string
	DueDate      *time.Time
	TargetValue  *float64
	CurrentValue *float64
	Notes        string
	OwnerID      string
	ActorID      string
}

func (e Engine) CreateAction(ctx context.Context, opts CreateActionOptions) (domain.Action, CascadeResult, error) {
	if err := validateOptions(opts); err != nil {
		return domain.Action{}, CascadeResult{}, err
	}
	status := domain.ActionNotStarted
	if opts.Status != "" {
		parsed, err := domain.ParseActionStatus(opts.Status)
		if err != nil {
			return domain.Action{}, CascadeResult{}, invalid("status", err.Error())
		}
		status = parsed
	}
	if opts.ProjectID != "" {
		if err := e.checkAssignable(ctx, opts.ProjectID, opts.OrgID, "create action"); err != nil {
			return domain.Action{}, CascadeResult{}, err
		}
	}
	now := e.now()
	a := domain.Action{
		ID:           newID(opts.ID),
		OrgID:        opts.OrgID,
		ProjectID:    optionalString(opts.ProjectID),
		Title:        opts.Title,
		Status:       status,
		DueDate:      opts.DueDate,
		TargetValue:  opts.TargetValue,
		CurrentValue: opts.CurrentValue,
		Notes:        opts.Notes,
		OwnerID:      opts.OwnerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if status == domain.ActionAchieved {
		a.AchievedAt = &now
	}
	err := e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.InsertAction(ctx, a); err != nil {
			return err
		}
		return e.audit(ctx, tx, "action.created", a.OrgID, "action", a.ID, opts.ActorID,
			events.EventPayload{"title": a.Title, "status": a.Status, "project_id": opts.ProjectID})
	})
	if err != nil {
		return domain.Action{}, CascadeResult{}, err
	}
	defer metrics.ObserveCascade("action", time.Now())
	return a, e.cascadeFromAction(ctx, a), nil
}

// checkAssignable verifies an action may be placed under projectID.
func (e Engine) checkAssignable(ctx context.Context, projectID, orgID, op string) error {
	p, err := e.Store.GetProject(ctx, projectID)
	if err != nil {
		return notFound("project", projectID, err)
	}
	if p.OrgID != orgID {
		return &CrossTenantViolation{Op: op, EntityKind: "project", EntityID: p.ID, EntityOrg: p.OrgID, CallerOrg: orgID}
	}
	if p.IsArchived {
		return invalid("project_id", "project is archived")
	}
	return nil
}

func (e Engine) GetAction(ctx context.Context, id, orgID string) (domain.Action, error) {
	return e.loadAction(ctx, id, orgID)
}

func (e Engine) ListActions(ctx context.Context, f repo.ActionFilters) ([]domain.Action, error) {
	return e.Store.ListActions(ctx, f)
}

func (e Engine) loadAction(ctx context.Context, id, orgID string) (domain.Action, error) {
	a, err := e.Store.GetAction(ctx, id)
	if err != nil {
		return a, notFound("action", id, err)
	}
	if !sameOrg(orgID, a.OrgID) {
		return domain.Action{}, notFound("action", id, repo.ErrNotFound)
	}
	return a, nil
}

// UpdateActionOptions uses nil for "leave as is". ProjectID set to "" detaches
// the action.
type UpdateActionOptions struct {
	ID           string `validate:"required"`
	OrgID        string
	ActorID      string
	Title        *string
	Status       *string
	DueDate      *time.Time
	ClearDueDate bool
	TargetValue  *float64
	CurrentValue *float64
	Notes        *string
	OwnerID      *string
	ProjectID    *string
}

// UpdateAction persists the change, then rolls up the old parent (when the
// action moved) and the current one.
func (e Engine) UpdateAction(ctx context.Context, opts UpdateActionOptions) (domain.Action, CascadeResult, error) {
	if err := validateOptions(opts); err != nil {
		return domain.Action{}, CascadeResult{}, err
	}
	if opts.Title != nil && *opts.Title == "" {
		return domain.Action{}, CascadeResult{}, invalid("title", "cannot be empty")
	}
	a, err := e.loadAction(ctx, opts.ID, opts.OrgID)
	if err != nil {
		return a, CascadeResult{}, err
	}
	if a.IsArchived {
		return a, CascadeResult{}, invalid("action", "archived actions are read-only")
	}
	now := e.now()
	changes := events.EventPayload{}
	if opts.Status != nil {
		status, err := domain.ParseActionStatus(*opts.Status)
		if err != nil {
			return a, CascadeResult{}, invalid("status", err.Error())
		}
		if status != a.Status {
			changes["status"] = map[string]any{"from": a.Status, "to": status}
			switch {
			case status == domain.ActionAchieved:
				a.AchievedAt = &now
			case a.Status == domain.ActionAchieved:
				a.AchievedAt = nil
			}
		}
		a.Status = status
	}
	var previousProject *string
	moved := false
	if opts.ProjectID != nil && *opts.ProjectID != derefString(a.ProjectID) {
		if *opts.ProjectID != "" {
			if err := e.checkAssignable(ctx, *opts.ProjectID, a.OrgID, "reassign action"); err != nil {
				return a, CascadeResult{}, err
			}
		}
		previousProject = a.ProjectID
		moved = true
		a.ProjectID = optionalString(*opts.ProjectID)
		changes["project_id"] = map[string]any{"from": derefString(previousProject), "to": *opts.ProjectID}
	}
	if opts.Title != nil {
		a.Title = *opts.Title
		changes["title"] = a.Title
	}
	if opts.ClearDueDate {
		a.DueDate = nil
		changes["due_date"] = nil
	} else if opts.DueDate != nil {
		a.DueDate = opts.DueDate
		changes["due_date"] = a.DueDate
	}
	if opts.TargetValue != nil {
		a.TargetValue = opts.TargetValue
		changes["target_value"] = *a.TargetValue
	}
	if opts.CurrentValue != nil {
		a.CurrentValue = opts.CurrentValue
		changes["current_value"] = *a.CurrentValue
	}
	if opts.Notes != nil {
		a.Notes = *opts.Notes
		changes["notes"] = a.Notes
	}
	if opts.OwnerID != nil {
		a.OwnerID = *opts.OwnerID
		changes["owner_id"] = a.OwnerID
	}
	a.UpdatedAt = now
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.UpdateAction(ctx, a); err != nil {
			return err
		}
		return e.audit(ctx, tx, "action.updated", a.OrgID, "action", a.ID, opts.ActorID, changes)
	})
	if err != nil {
		return domain.Action{}, CascadeResult{}, err
	}
	defer metrics.ObserveCascade("action", time.Now())
	var res CascadeResult
	if moved && previousProject != nil {
		res.merge(e.cascadeFromProject(ctx, *previousProject))
	}
	res.merge(e.cascadeFromAction(ctx, a))
	return a, res, nil
}

// DeleteAction removes the action and its edges, then rolls up the parent.
func (e Engine) DeleteAction(ctx context.Context, id, orgID, actorID string) (CascadeResult, error) {
	a, err := e.loadAction(ctx, id, orgID)
	if err != nil {
		return CascadeResult{}, err
	}
	var removed int
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		var err error
		if removed, err = e.collect(ctx, tx, nil, []string{a.ID}, a.OrgID); err != nil {
			return err
		}
		if err := tx.DeleteAction(ctx, a.ID); err != nil {
			return err
		}
		return e.audit(ctx, tx, "action.deleted", a.OrgID, "action", a.ID, actorID,
			events.EventPayload{"title": a.Title, "dependencies_removed": removed})
	})
	if err != nil {
		return CascadeResult{}, err
	}
	metrics.DependenciesRemoved.Add(float64(removed))
	if a.ProjectID == nil {
		return CascadeResult{}, nil
	}
	return e.cascadeFromProject(ctx, *a.ProjectID), nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
