package repo

import (
	"context"

	"stratline/internal/domain"
)

func (r Repo) InsertBarrier(ctx context.Context, b domain.Barrier) error {
	_, err := r.exec(ctx, `INSERT INTO barriers(id,org_id,project_id,title,severity,resolved,created_at) VALUES (?,?,?,?,?,?,?)`,
		b.ID, b.OrgID, b.ProjectID, b.Title, b.Severity, boolInt(b.Resolved), formatTime(b.CreatedAt))
	return err
}

func (r Repo) ListBarriers(ctx context.Context, projectID string) ([]domain.Barrier, error) {
	rows, err := r.query(ctx, `SELECT id,org_id,project_id,title,severity,resolved,created_at FROM barriers WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Barrier
	for rows.Next() {
		var b domain.Barrier
		var createdAt string
		if err := rows.Scan(&b.ID, &b.OrgID, &b.ProjectID, &b.Title, &b.Severity, &b.Resolved, &createdAt); err != nil {
			return nil, err
		}
		if b.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
