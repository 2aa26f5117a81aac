package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"stratline/internal/domain"
	"stratline/internal/metrics"
	"stratline/internal/repo"
)

// SnapshotInput describes one append to an entity's history. State is
// serialized as-is; its shape belongs to the caller.
type SnapshotInput struct {
	EntityID   string `validate:"required"`
	EntityType domain.EntityType
	State      any
	Kind       domain.SnapshotKind
	Reason     string
	ActorID    string `validate:"required"`
	OrgID      string `validate:"required"`
}

// projectSubtree is the state recorded when a project is archived or restored.
type projectSubtree struct {
	Project domain.Project  `json:"project"`
	Actions []domain.Action `json:"actions"`
}

// RecordSnapshot appends a snapshot; earlier snapshots are never touched.
func (e Engine) RecordSnapshot(ctx context.Context, in SnapshotInput) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := e.Store.InTx(ctx, func(tx repo.Store) error {
		var err error
		snap, err = e.recordSnapshot(ctx, tx, in)
		return err
	})
	return snap, err
}

func (e Engine) recordSnapshot(ctx context.Context, store repo.Store, in SnapshotInput) (domain.Snapshot, error) {
	if err := validateOptions(in); err != nil {
		return domain.Snapshot{}, err
	}
	if _, err := domain.ParseEntityType(string(in.EntityType)); err != nil {
		return domain.Snapshot{}, invalid("entity_type", "must be project or action")
	}
	switch in.Kind {
	case domain.SnapshotArchive, domain.SnapshotUnarchive:
	default:
		return domain.Snapshot{}, invalid("kind", "must be archive or unarchive")
	}
	state, err := json.Marshal(in.State)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("marshal snapshot state: %w", err)
	}
	snap, err := store.InsertSnapshot(ctx, domain.Snapshot{
		ID:         newID(""),
		OrgID:      in.OrgID,
		EntityID:   in.EntityID,
		EntityType: in.EntityType,
		Kind:       in.Kind,
		State:      state,
		Reason:     in.Reason,
		ActorID:    in.ActorID,
		TakenAt:    e.now(),
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	metrics.SnapshotsRecorded.WithLabelValues(string(in.Kind)).Inc()
	return snap, nil
}

// ListSnapshots returns the entity's snapshots newest first, limited to
// orgID when set.
func (e Engine) ListSnapshots(ctx context.Context, entityID, orgID string) ([]domain.Snapshot, error) {
	snaps, err := e.Store.ListSnapshots(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		return snaps, nil
	}
	out := snaps[:0]
	for _, s := range snaps {
		if s.OrgID == orgID {
			out = append(out, s)
		}
	}
	return out, nil
}
