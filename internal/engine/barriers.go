package engine

import (
	"context"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/repo"
)

type CreateBarrierOptions struct {
	ID        string
	OrgID     string `validate:"required"`
	ProjectID string `validate:"required"`
	Title     string `validate:"required"`
	Severity  string `validate:"omitempty,oneof=low medium high"`
	ActorID   string
}

func (e Engine) CreateBarrier(ctx context.Context, opts CreateBarrierOptions) (domain.Barrier, error) {
	if err := validateOptions(opts); err != nil {
		return domain.Barrier{}, err
	}
	p, err := e.loadProject(ctx, e.Store, opts.ProjectID, opts.OrgID)
	if err != nil {
		return domain.Barrier{}, err
	}
	if opts.Severity == "" {
		opts.Severity = "medium"
	}
	b := domain.Barrier{
		ID:        newID(opts.ID),
		OrgID:     p.OrgID,
		ProjectID: p.ID,
		Title:     opts.Title,
		Severity:  opts.Severity,
		CreatedAt: e.now(),
	}
	err = e.Store.InTx(ctx, func(tx repo.Store) error {
		if err := tx.InsertBarrier(ctx, b); err != nil {
			return err
		}
		return e.audit(ctx, tx, "barrier.created", b.OrgID, "barrier", b.ID, opts.ActorID,
			events.EventPayload{"project_id": b.ProjectID, "severity": b.Severity})
	})
	if err != nil {
		return domain.Barrier{}, err
	}
	return b, nil
}

func (e Engine) ListBarriers(ctx context.Context, projectID, orgID string) ([]domain.Barrier, error) {
	if _, err := e.loadProject(ctx, e.Store, projectID, orgID); err != nil {
		return nil, err
	}
	return e.Store.ListBarriers(ctx, projectID)
}
