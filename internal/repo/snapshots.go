package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"stratline/internal/domain"
)

// InsertSnapshot assigns the next per-entity sequence number and stores the
// row. Call it inside InTx when ordering against concurrent writers matters.
func (r Repo) InsertSnapshot(ctx context.Context, s domain.Snapshot) (domain.Snapshot, error) {
	var seq int64
	if err := r.queryRow(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM snapshots WHERE entity_id=?`, s.EntityID).Scan(&seq); err != nil {
		return s, err
	}
	s.Seq = seq
	state := s.State
	if len(state) == 0 {
		state = json.RawMessage("null")
	}
	_, err := r.exec(ctx, `INSERT INTO snapshots(id,org_id,entity_id,entity_type,kind,state,reason,actor_id,taken_at,seq) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.OrgID, s.EntityID, string(s.EntityType), string(s.Kind), string(state), nullable(s.Reason), s.ActorID, formatTime(s.TakenAt), s.Seq)
	if err != nil {
		return s, err
	}
	s.State = state
	return s, nil
}

// ListSnapshots returns the entity's snapshots newest first.
func (r Repo) ListSnapshots(ctx context.Context, entityID string) ([]domain.Snapshot, error) {
	rows, err := r.query(ctx, `SELECT id,org_id,entity_id,entity_type,kind,state,reason,actor_id,taken_at,seq FROM snapshots WHERE entity_id=? ORDER BY taken_at DESC, seq DESC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Snapshot
	for rows.Next() {
		var s domain.Snapshot
		var entityType, kind, state, takenAt string
		var reason sql.NullString
		if err := rows.Scan(&s.ID, &s.OrgID, &s.EntityID, &entityType, &kind, &state, &reason, &s.ActorID, &takenAt, &s.Seq); err != nil {
			return nil, err
		}
		if s.EntityType, err = domain.ParseEntityType(entityType); err != nil {
			return nil, err
		}
		s.Kind = domain.SnapshotKind(kind)
		s.State = json.RawMessage(state)
		s.Reason = reason.String
		if s.TakenAt, err = parseTime(takenAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
