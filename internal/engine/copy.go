package engine

import (
	"context"
	"time"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/repo"
)

type CopyProjectOptions struct {
	ID              string
	SourceProjectID string `validate:"required"`
	NewTitle        string
	ActorID         string
	OrgID           string
	AsTemplate      bool
}

// CopyProject duplicates a project and its live actions under the same
// strategy. A plain copy shifts every date by the days elapsed since the
// source started; a template resets dates relative to now and drops
// per-instance values.
func (e Engine) CopyProject(ctx context.Context, opts CopyProjectOptions) (domain.Project, CascadeResult, error) {
	if err := validateOptions(opts); err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	src, err := e.loadProject(ctx, e.Store, opts.SourceProjectID, opts.OrgID)
	if err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	s, err := e.Store.GetStrategy(ctx, src.StrategyID)
	if err != nil {
		return domain.Project{}, CascadeResult{}, notFound("strategy", src.StrategyID, err)
	}
	if s.Status == domain.StrategyArchived {
		return domain.Project{}, CascadeResult{}, invalid("strategy_id", "strategy is archived")
	}
	// archiving a project archives its actions, so an archived source copies
	// the actions it was archived with
	actions, err := e.Store.ListActions(ctx, repo.ActionFilters{ProjectID: src.ID, IncludeArchived: src.IsArchived})
	if err != nil {
		return domain.Project{}, CascadeResult{}, err
	}

	now := e.now()
	cfg := e.config()
	title := opts.NewTitle
	if title == "" {
		title = src.Title + " (copy)"
	}
	p := domain.Project{
		ID:          newID(opts.ID),
		OrgID:       src.OrgID,
		StrategyID:  src.StrategyID,
		Title:       title,
		Description: src.Description,
		Status:      domain.ProjectNotYetStarted,
		OwnerID:     src.OwnerID,
		IsTemplate:  opts.AsTemplate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	offset := 0
	if opts.AsTemplate {
		due := now.AddDate(0, 0, cfg.Templates.ProjectDueDays)
		p.StartDate = &now
		p.DueDate = &due
	} else {
		if src.StartDate != nil {
			offset = dayOffset(*src.StartDate, now)
		}
		p.StartDate = shiftDays(src.StartDate, offset)
		p.DueDate = shiftDays(src.DueDate, offset)
	}

	copies := make([]domain.Action, 0, len(actions))
	for _, a := range actions {
		c := domain.Action{
			ID:           newID(""),
			OrgID:        p.OrgID,
			ProjectID:    &p.ID,
			Title:        a.Title,
			Status:       domain.ActionNotStarted,
			TargetValue:  a.TargetValue,
			CurrentValue: a.CurrentValue,
			Notes:        a.Notes,
			OwnerID:      a.OwnerID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if opts.AsTemplate {
			due := now.AddDate(0, 0, cfg.Templates.ActionDueDays)
			c.DueDate = &due
			c.CurrentValue = nil
			c.Notes = ""
		} else {
			c.DueDate = shiftDays(a.DueDate, offset)
		}
		copies = append(copies, c)
	}

	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.InsertProject(ctx, p); err != nil {
			return err
		}
		for _, c := range copies {
			if err := tx.InsertAction(ctx, c); err != nil {
				return err
			}
		}
		return e.audit(ctx, tx, "project.copied", p.OrgID, "project", p.ID, opts.ActorID, events.EventPayload{
			"source_id":   src.ID,
			"as_template": opts.AsTemplate,
			"actions":     len(copies),
			"day_offset":  offset,
		})
	})
	if err != nil {
		return domain.Project{}, CascadeResult{}, err
	}
	res := e.cascadeFromStrategy(ctx, p.StrategyID)
	return p, res, nil
}

// dayOffset is the number of whole calendar days from start to now (UTC).
func dayOffset(start, now time.Time) int {
	from := truncateDay(start)
	to := truncateDay(now)
	return int(to.Sub(from).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func shiftDays(t *time.Time, days int) *time.Time {
	if t == nil {
		return nil
	}
	shifted := t.AddDate(0, 0, days)
	return &shifted
}
