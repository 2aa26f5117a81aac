package engine

import (
	"context"
	"strconv"
	"time"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/metrics"
	"stratline/internal/notify"
	"stratline/internal/progress"
	"stratline/internal/repo"
)

// CascadeResult carries the ancestors a cascade persisted and any warnings
// from ancestors it could not.
type CascadeResult struct {
	Project  *domain.Project
	Strategy *domain.Strategy
	Warnings []*AggregationWarning
}

// WarningMessages flattens the warnings for API responses.
func (r CascadeResult) WarningMessages() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Error())
	}
	return out
}

func (r *CascadeResult) merge(other CascadeResult) {
	if other.Project != nil {
		r.Project = other.Project
	}
	if other.Strategy != nil {
		r.Strategy = other.Strategy
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
}

func (e Engine) warn(ctx context.Context, res *CascadeResult, kind, id string, err error) {
	w := &AggregationWarning{EntityKind: kind, EntityID: id, Err: err}
	e.logger().WarnContext(ctx, "ancestor recompute failed", "entity_kind", kind, "entity_id", id, "err", err)
	metrics.AggregationWarnings.WithLabelValues(kind).Inc()
	res.Warnings = append(res.Warnings, w)
}

// OnActionChanged recomputes the action's project and then that project's
// strategy. Only a missing action is an error; ancestor failures come back
// as warnings.
func (e Engine) OnActionChanged(ctx context.Context, actionID string) (CascadeResult, error) {
	defer metrics.ObserveCascade("action", time.Now())
	a, err := e.Store.GetAction(ctx, actionID)
	if err != nil {
		return CascadeResult{}, notFound("action", actionID, err)
	}
	return e.cascadeFromAction(ctx, a), nil
}

// cascadeFromAction walks up from an action already in hand, so a mutation
// that has committed the action never fails on a second read.
func (e Engine) cascadeFromAction(ctx context.Context, a domain.Action) CascadeResult {
	if a.ProjectID == nil {
		return CascadeResult{}
	}
	return e.cascadeFromProject(ctx, *a.ProjectID)
}

// OnProjectChanged recomputes the project and then its strategy.
func (e Engine) OnProjectChanged(ctx context.Context, projectID string) (CascadeResult, error) {
	defer metrics.ObserveCascade("project", time.Now())
	if _, err := e.Store.GetProject(ctx, projectID); err != nil {
		return CascadeResult{}, notFound("project", projectID, err)
	}
	return e.cascadeFromProject(ctx, projectID), nil
}

// OnStrategyChanged recomputes the strategy from its non-archived projects.
func (e Engine) OnStrategyChanged(ctx context.Context, strategyID string) (CascadeResult, error) {
	defer metrics.ObserveCascade("strategy", time.Now())
	if _, err := e.Store.GetStrategy(ctx, strategyID); err != nil {
		return CascadeResult{}, notFound("strategy", strategyID, err)
	}
	return e.cascadeFromStrategy(ctx, strategyID), nil
}

// cascadeFromProject persists the project before the strategy reads it. A
// failed project step stops the walk.
func (e Engine) cascadeFromProject(ctx context.Context, projectID string) CascadeResult {
	var res CascadeResult
	p, _, err := e.recomputeProject(ctx, projectID)
	if err != nil {
		e.warn(ctx, &res, "project", projectID, err)
		return res
	}
	res.Project = &p
	res.merge(e.cascadeFromStrategy(ctx, p.StrategyID))
	return res
}

func (e Engine) cascadeFromStrategy(ctx context.Context, strategyID string) CascadeResult {
	var res CascadeResult
	s, _, err := e.recomputeStrategy(ctx, strategyID)
	if err != nil {
		e.warn(ctx, &res, "strategy", strategyID, err)
		return res
	}
	res.Strategy = &s
	return res
}

// recomputeProject writes the project's progress when it drifted. Archived
// projects are left as they are.
func (e Engine) recomputeProject(ctx context.Context, projectID string) (domain.Project, bool, error) {
	p, err := e.Store.GetProject(ctx, projectID)
	if err != nil {
		return p, false, err
	}
	if p.IsArchived {
		return p, false, nil
	}
	actions, err := e.Store.ListActions(ctx, repo.ActionFilters{ProjectID: p.ID})
	if err != nil {
		return p, false, err
	}
	next := progress.ProjectProgress(actions)
	if next == p.Progress {
		return p, false, nil
	}
	old := p.Progress
	now := e.now()
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.SetProjectProgress(ctx, p.ID, next, now); err != nil {
			return err
		}
		return e.audit(ctx, tx, "project.progress.recomputed", p.OrgID, "project", p.ID, systemActor,
			events.EventPayload{"old": old, "new": next})
	})
	if err != nil {
		return p, false, err
	}
	p.Progress = next
	p.UpdatedAt = now
	e.notifyMilestones(ctx, "project", p.ID, p.Title, p.OwnerID, p.OrgID, old, next)
	return p, true, nil
}

// recomputeStrategy writes progress and the auto-complete/auto-revert status.
// Archived strategies are never recomputed.
func (e Engine) recomputeStrategy(ctx context.Context, strategyID string) (domain.Strategy, bool, error) {
	s, err := e.Store.GetStrategy(ctx, strategyID)
	if err != nil {
		return s, false, err
	}
	if s.Status == domain.StrategyArchived {
		return s, false, nil
	}
	projects, err := e.Store.ListProjects(ctx, repo.ProjectFilters{StrategyID: s.ID})
	if err != nil {
		return s, false, err
	}
	roll := progress.RollupStrategy(s.Status, projects)
	if roll.Progress == s.Progress && roll.Status == s.Status {
		return s, false, nil
	}
	old := s
	now := e.now()
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.SetStrategyRollup(ctx, s.ID, roll.Progress, roll.Status, now); err != nil {
			return err
		}
		return e.audit(ctx, tx, "strategy.progress.recomputed", s.OrgID, "strategy", s.ID, systemActor, events.EventPayload{
			"old_progress": old.Progress, "new_progress": roll.Progress,
			"old_status": old.Status, "new_status": roll.Status,
		})
	})
	if err != nil {
		return s, false, err
	}
	s.Progress = roll.Progress
	s.Status = roll.Status
	s.UpdatedAt = now
	e.notifyMilestones(ctx, "strategy", s.ID, s.Title, s.OwnerID, s.OrgID, old.Progress, s.Progress)
	e.notifyStatus(ctx, s, old.Status)
	return s, true, nil
}

func (e Engine) notifyMilestones(ctx context.Context, entityType, id, title, ownerID, orgID string, old, next int) {
	for _, t := range notify.CrossedMilestones(old, next, e.config().Progress.Milestones) {
		e.send(ctx, notify.Notification{
			Kind:         notify.KindMilestone,
			EntityType:   entityType,
			EntityID:     id,
			Title:        title,
			OldValue:     strconv.Itoa(old),
			NewValue:     strconv.Itoa(t),
			RecipientIDs: recipients(ownerID),
			OrgID:        orgID,
			TS:           e.now(),
		})
	}
}

func (e Engine) notifyStatus(ctx context.Context, s domain.Strategy, old domain.StrategyStatus) {
	if s.Status == old {
		return
	}
	e.send(ctx, notify.Notification{
		Kind:         notify.KindStatusChanged,
		EntityType:   "strategy",
		EntityID:     s.ID,
		Title:        s.Title,
		OldValue:     string(old),
		NewValue:     string(s.Status),
		RecipientIDs: recipients(s.OwnerID),
		OrgID:        s.OrgID,
		TS:           e.now(),
	})
}

func (e Engine) send(ctx context.Context, n notify.Notification) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, n); err != nil {
		metrics.Notifications.WithLabelValues(n.Kind, "error").Inc()
		e.logger().WarnContext(ctx, "notification failed", "kind", n.Kind, "entity_id", n.EntityID, "err", err)
		return
	}
	metrics.Notifications.WithLabelValues(n.Kind, "ok").Inc()
}

func recipients(ownerID string) []string {
	if ownerID == "" {
		return nil
	}
	return []string{ownerID}
}

// ReconcileReport summarizes a drift repair pass.
type ReconcileReport struct {
	ProjectsChecked    int                   `json:"projects_checked"`
	ProjectsRepaired   int                   `json:"projects_repaired"`
	StrategiesChecked  int                   `json:"strategies_checked"`
	StrategiesRepaired int                   `json:"strategies_repaired"`
	Warnings           []*AggregationWarning `json:"-"`
}

// Reconcile recomputes every non-archived project and then every
// non-archived strategy of the org. Individual failures are reported as
// warnings; only a failed listing aborts.
func (e Engine) Reconcile(ctx context.Context, orgID string) (ReconcileReport, error) {
	defer metrics.ObserveCascade("reconcile", time.Now())
	var rep ReconcileReport
	var res CascadeResult
	projects, err := e.Store.ListProjects(ctx, repo.ProjectFilters{OrgID: orgID})
	if err != nil {
		return rep, err
	}
	for _, p := range projects {
		rep.ProjectsChecked++
		_, changed, err := e.recomputeProject(ctx, p.ID)
		if err != nil {
			e.warn(ctx, &res, "project", p.ID, err)
			continue
		}
		if changed {
			rep.ProjectsRepaired++
		}
	}
	strategies, err := e.Store.ListStrategies(ctx, repo.StrategyFilters{OrgID: orgID})
	if err != nil {
		return rep, err
	}
	for _, s := range strategies {
		if s.Status == domain.StrategyArchived {
			continue
		}
		rep.StrategiesChecked++
		_, changed, err := e.recomputeStrategy(ctx, s.ID)
		if err != nil {
			e.warn(ctx, &res, "strategy", s.ID, err)
			continue
		}
		if changed {
			rep.StrategiesRepaired++
		}
	}
	rep.Warnings = res.Warnings
	e.logger().InfoContext(ctx, "reconcile finished", "org_id", orgID,
		"projects_repaired", rep.ProjectsRepaired, "strategies_repaired", rep.StrategiesRepaired)
	return rep, nil
}
