package engine

import (
	"context"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/metrics"
	"stratline/internal/repo"
)

type CreateStrategyOptions struct {
	ID          string
	OrgID       string `validate:"required"`
	Title       string `validate:"required"`
	Description string
	Readiness   *int `validate:"omitempty,min=0,max=100"`
	Risk        *int `validate:"omitempty,min=0,max=100"`
	OwnerID     string
	ActorID     string
}

func (e Engine) CreateStrategy(ctx context.Context, opts CreateStrategyOptions) (domain.Strategy, error) {
	if err := validateOptions(opts); err != nil {
		return domain.Strategy{}, err
	}
	now := e.now()
	s := domain.Strategy{
		ID:          newID(opts.ID),
		OrgID:       opts.OrgID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.StrategyActive,
		Readiness:   opts.Readiness,
		Risk:        opts.Risk,
		OwnerID:     opts.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.InsertStrategy(ctx, s); err != nil {
			return err
		}
		return e.audit(ctx, tx, "strategy.created", s.OrgID, "strategy", s.ID, opts.ActorID, events.EventPayload{"title": s.Title})
	})
	if err != nil {
		return domain.Strategy{}, err
	}
	return s, nil
}

func (e Engine) GetStrategy(ctx context.Context, id, orgID string) (domain.Strategy, error) {
	return e.loadStrategy(ctx, e.Store, id, orgID)
}

func (e Engine) ListStrategies(ctx context.Context, f repo.StrategyFilters) ([]domain.Strategy, error) {
	return e.Store.ListStrategies(ctx, f)
}

// loadStrategy hides strategies of other orgs behind NotFound.
func (e Engine) loadStrategy(ctx context.Context, store repo.Store, id, orgID string) (domain.Strategy, error) {
	s, err := store.GetStrategy(ctx, id)
	if err != nil {
		return s, notFound("strategy", id, err)
	}
	if !sameOrg(orgID, s.OrgID) {
		return domain.Strategy{}, notFound("strategy", id, repo.ErrNotFound)
	}
	return s, nil
}

// UpdateStrategyOptions only reaches editable fields; progress and status
// are derived or move through CompleteStrategy and ArchiveStrategy.
type UpdateStrategyOptions struct {
	ID          string `validate:"required"`
	OrgID       string
	ActorID     string
	Title       *string
	Description *string
	Readiness   *int `validate:"omitempty,min=0,max=100"`
	Risk        *int `validate:"omitempty,min=0,max=100"`
	OwnerID     *string
}

func (e Engine) UpdateStrategy(ctx context.Context, opts UpdateStrategyOptions) (domain.Strategy, error) {
	if err := validateOptions(opts); err != nil {
		return domain.Strategy{}, err
	}
	if opts.Title != nil && *opts.Title == "" {
		return domain.Strategy{}, invalid("title", "cannot be empty")
	}
	s, err := e.loadStrategy(ctx, e.Store, opts.ID, opts.OrgID)
	if err != nil {
		return s, err
	}
	if s.Status == domain.StrategyArchived {
		return s, invalid("status", "archived strategies are read-only")
	}
	changes := events.EventPayload{}
	if opts.Title != nil {
		s.Title = *opts.Title
		changes["title"] = s.Title
	}
	if opts.Description != nil {
		s.Description = *opts.Description
		changes["description"] = s.Description
	}
	if opts.Readiness != nil {
		s.Readiness = opts.Readiness
		changes["readiness"] = *s.Readiness
	}
	if opts.Risk != nil {
		s.Risk = opts.Risk
		changes["risk"] = *s.Risk
	}
	if opts.OwnerID != nil {
		s.OwnerID = *opts.OwnerID
		changes["owner_id"] = s.OwnerID
	}
	s.UpdatedAt = e.now()
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.UpdateStrategy(ctx, s); err != nil {
			return err
		}
		return e.audit(ctx, tx, "strategy.updated", s.OrgID, "strategy", s.ID, opts.ActorID, changes)
	})
	if err != nil {
		return domain.Strategy{}, err
	}
	return s, nil
}

// CompleteStrategy marks the strategy completed and drops every dependency
// touching its projects or actions. It returns the number of edges removed.
func (e Engine) CompleteStrategy(ctx context.Context, id, orgID, actorID string) (domain.Strategy, int, error) {
	s, err := e.loadStrategy(ctx, e.Store, id, orgID)
	if err != nil {
		return s, 0, err
	}
	switch s.Status {
	case domain.StrategyActive, domain.StrategyCompleted:
	default:
		return s, 0, invalid("status", "cannot complete a strategy in status "+string(s.Status))
	}
	old := s.Status
	now := e.now()
	var removed int
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		projectIDs, actionIDs, err := descendants(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		if err := tx.SetStrategyStatus(ctx, s.ID, domain.StrategyCompleted, &now, now); err != nil {
			return err
		}
		if removed, err = e.collect(ctx, tx, projectIDs, actionIDs, s.OrgID); err != nil {
			return err
		}
		return e.audit(ctx, tx, "strategy.completed", s.OrgID, "strategy", s.ID, actorID,
			events.EventPayload{"dependencies_removed": removed})
	})
	if err != nil {
		return domain.Strategy{}, 0, err
	}
	metrics.DependenciesRemoved.Add(float64(removed))
	s.Status = domain.StrategyCompleted
	s.CompletionDate = &now
	s.UpdatedAt = now
	e.notifyStatus(ctx, s, old)
	return s, removed, nil
}

// ArchiveStrategy is only allowed from Completed. Descendants get the
// archive flag without snapshots, and their dependencies are removed.
func (e Engine) ArchiveStrategy(ctx context.Context, id, orgID, actorID string) (domain.Strategy, int, error) {
	s, err := e.loadStrategy(ctx, e.Store, id, orgID)
	if err != nil {
		return s, 0, err
	}
	if s.Status != domain.StrategyCompleted {
		return s, 0, invalid("status", "only completed strategies can be archived")
	}
	now := e.now()
	var removed int
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		projectIDs, actionIDs, err := descendants(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		if err := tx.SetStrategyStatus(ctx, s.ID, domain.StrategyArchived, nil, now); err != nil {
			return err
		}
		if err := tx.SetProjectsArchived(ctx, projectIDs, true, actorID, now); err != nil {
			return err
		}
		if err := tx.SetActionsArchived(ctx, actionIDs, true, now); err != nil {
			return err
		}
		if removed, err = e.collect(ctx, tx, projectIDs, actionIDs, s.OrgID); err != nil {
			return err
		}
		return e.audit(ctx, tx, "strategy.archived", s.OrgID, "strategy", s.ID, actorID, events.EventPayload{
			"projects":             len(projectIDs),
			"actions":              len(actionIDs),
			"dependencies_removed": removed,
		})
	})
	if err != nil {
		return domain.Strategy{}, 0, err
	}
	metrics.DependenciesRemoved.Add(float64(removed))
	s.Status = domain.StrategyArchived
	s.UpdatedAt = now
	e.notifyStatus(ctx, s, domain.StrategyCompleted)
	return s, removed, nil
}

// DeleteStrategy removes the strategy and its subtree; dependencies touching
// the subtree go first. Snapshots are kept.
func (e Engine) DeleteStrategy(ctx context.Context, id, orgID, actorID string) (int, error) {
	s, err := e.loadStrategy(ctx, e.Store, id, orgID)
	if err != nil {
		return 0, err
	}
	var removed int
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		projectIDs, actionIDs, err := descendants(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		if removed, err = e.collect(ctx, tx, projectIDs, actionIDs, s.OrgID); err != nil {
			return err
		}
		if err := tx.DeleteStrategy(ctx, s.ID); err != nil {
			return err
		}
		return e.audit(ctx, tx, "strategy.deleted", s.OrgID, "strategy", s.ID, actorID, events.EventPayload{
			"title":                s.Title,
			"dependencies_removed": removed,
		})
	})
	if err != nil {
		return 0, err
	}
	metrics.DependenciesRemoved.Add(float64(removed))
	return removed, nil
}

// descendants lists every project of the strategy and every action of those
// projects, archived or not.
func descendants(ctx context.Context, store repo.Store, strategyID string) ([]string, []string, error) {
	projects, err := store.ListProjects(ctx, repo.ProjectFilters{StrategyID: strategyID, IncludeArchived: true})
	if err != nil {
		return nil, nil, err
	}
	var projectIDs, actionIDs []string
	for _, p := range projects {
		projectIDs = append(projectIDs, p.ID)
		actions, err := store.ListActions(ctx, repo.ActionFilters{ProjectID: p.ID, IncludeArchived: true})
		if err != nil {
			return nil, nil, err
		}
		for _, a := range actions {
			actionIDs = append(actionIDs, a.ID)
		}
	}
	return projectIDs, actionIDs, nil
}
