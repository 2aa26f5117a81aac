package engine

import (
	"context"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/metrics"
	"stratline/internal/repo"
)

// DeleteDependenciesForEntities removes every edge whose source or target is
// one of the given projects or actions, limited to orgID when set. Empty
// input is a no-op that never reaches the store; repeating a call removes
// nothing further.
func (e Engine) DeleteDependenciesForEntities(ctx context.Context, projectIDs, actionIDs []string, orgID string) (int, error) {
	if len(projectIDs) == 0 && len(actionIDs) == 0 {
		return 0, nil
	}
	for _, id := range projectIDs {
		if id == "" {
			return 0, invalid("project_ids", "must not contain empty ids")
		}
	}
	for _, id := range actionIDs {
		if id == "" {
			return 0, invalid("action_ids", "must not contain empty ids")
		}
	}
	var removed int
	err := e.Store.InTx(ctx, func(tx repo.Store) error {
		var err error
		if removed, err = e.collect(ctx, tx, projectIDs, actionIDs, orgID); err != nil {
			return err
		}
		if removed == 0 {
			return nil
		}
		return e.audit(ctx, tx, "dependencies.collected", orgID, "dependency", "", systemActor, events.EventPayload{
			"project_ids": projectIDs,
			"action_ids":  actionIDs,
			"removed":     removed,
		})
	})
	if err != nil {
		return 0, err
	}
	metrics.DependenciesRemoved.Add(float64(removed))
	return removed, nil
}

// collect is the store-level half of the collector, for callers already in a
// transaction.
func (e Engine) collect(ctx context.Context, store repo.Store, projectIDs, actionIDs []string, orgID string) (int, error) {
	projectIDs, actionIDs = uniqueIDs(projectIDs), uniqueIDs(actionIDs)
	if len(projectIDs) == 0 && len(actionIDs) == 0 {
		return 0, nil
	}
	return store.DeleteDependenciesFor(ctx, projectIDs, actionIDs, orgID)
}

type CreateDependencyOptions struct {
	ID         string
	OrgID      string `validate:"required"`
	SourceType string `validate:"required"`
	SourceID   string `validate:"required"`
	TargetType string `validate:"required"`
	TargetID   string `validate:"required"`
	ActorID    string
}

// CreateDependency links two live entities of the caller's org.
func (e Engine) CreateDependency(ctx context.Context, opts CreateDependencyOptions) (domain.Dependency, error) {
	if err := validateOptions(opts); err != nil {
		return domain.Dependency{}, err
	}
	sourceType, err := domain.ParseEntityType(opts.SourceType)
	if err != nil {
		return domain.Dependency{}, invalid("source_type", "must be project or action")
	}
	targetType, err := domain.ParseEntityType(opts.TargetType)
	if err != nil {
		return domain.Dependency{}, invalid("target_type", "must be project or action")
	}
	if sourceType == targetType && opts.SourceID == opts.TargetID {
		return domain.Dependency{}, invalid("target_id", "an entity cannot depend on itself")
	}
	for _, end := range []struct {
		kind domain.EntityType
		id   string
	}{{sourceType, opts.SourceID}, {targetType, opts.TargetID}} {
		org, archived, err := e.endpoint(ctx, end.kind, end.id)
		if err != nil {
			return domain.Dependency{}, err
		}
		if org != opts.OrgID {
			return domain.Dependency{}, &CrossTenantViolation{
				Op: "create dependency", EntityKind: string(end.kind), EntityID: end.id, EntityOrg: org, CallerOrg: opts.OrgID,
			}
		}
		if archived {
			return domain.Dependency{}, invalid(string(end.kind), end.id+" is archived")
		}
	}
	existing, err := e.Store.ListDependencies(ctx, repo.DependencyFilters{OrgID: opts.OrgID, EntityType: sourceType, EntityID: opts.SourceID})
	if err != nil {
		return domain.Dependency{}, err
	}
	for _, d := range existing {
		if d.SourceType == sourceType && d.SourceID == opts.SourceID && d.TargetType == targetType && d.TargetID == opts.TargetID {
			return domain.Dependency{}, invalid("dependency", "already exists")
		}
	}
	d := domain.Dependency{
		ID:         newID(opts.ID),
		OrgID:      opts.OrgID,
		SourceType: sourceType,
		SourceID:   opts.SourceID,
		TargetType: targetType,
		TargetID:   opts.TargetID,
		CreatedAt:  e.now(),
	}
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.InsertDependency(ctx, d); err != nil {
			return err
		}
		return e.audit(ctx, tx, "dependency.created", d.OrgID, "dependency", d.ID, opts.ActorID, events.EventPayload{
			"source": string(d.SourceType) + ":" + d.SourceID,
			"target": string(d.TargetType) + ":" + d.TargetID,
		})
	})
	if err != nil {
		return domain.Dependency{}, err
	}
	return d, nil
}

func (e Engine) endpoint(ctx context.Context, kind domain.EntityType, id string) (string, bool, error) {
	switch kind {
	case domain.EntityProject:
		p, err := e.Store.GetProject(ctx, id)
		if err != nil {
			return "", false, notFound("project", id, err)
		}
		return p.OrgID, p.IsArchived, nil
	default:
		a, err := e.Store.GetAction(ctx, id)
		if err != nil {
			return "", false, notFound("action", id, err)
		}
		return a.OrgID, a.IsArchived, nil
	}
}

// ListDependencies returns the org's edges, optionally only those touching
// one entity.
func (e Engine) ListDependencies(ctx context.Context, orgID, entityType, entityID string) ([]domain.Dependency, error) {
	f := repo.DependencyFilters{OrgID: orgID, EntityID: entityID}
	if entityType != "" {
		t, err := domain.ParseEntityType(entityType)
		if err != nil {
			return nil, invalid("entity_type", "must be project or action")
		}
		f.EntityType = t
	}
	return e.Store.ListDependencies(ctx, f)
}

func (e Engine) DeleteDependency(ctx context.Context, id, orgID, actorID string) error {
	d, err := e.Store.GetDependency(ctx, id)
	if err != nil {
		return notFound("dependency", id, err)
	}
	if !sameOrg(orgID, d.OrgID) {
		return notFound("dependency", id, repo.ErrNotFound)
	}
	return e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.DeleteDependency(ctx, d.ID); err != nil {
			return err
		}
		return e.audit(ctx, tx, "dependency.deleted", d.OrgID, "dependency", d.ID, actorID, nil)
	})
}
