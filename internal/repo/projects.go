package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"stratline/internal/domain"
)

const projectColumns = `id,org_id,strategy_id,title,description,status,progress,owner_id,start_date,due_date,is_template,is_archived,archive_reason,archived_at,archived_by,wake_up_date,progress_at_archive,created_at,updated_at`

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var desc, owner, start, due, reason, archivedAt, archivedBy, wake sql.NullString
	var atArchive sql.NullInt64
	var status, createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.OrgID, &p.StrategyID, &p.Title, &desc, &status, &p.Progress, &owner, &start, &due,
		&p.IsTemplate, &p.IsArchived, &reason, &archivedAt, &archivedBy, &wake, &atArchive, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if p.Status, err = domain.ParseProjectStatus(status); err != nil {
		return p, err
	}
	p.Description = desc.String
	p.OwnerID = owner.String
	p.ArchiveReason = stringPtr(reason)
	p.ArchivedBy = stringPtr(archivedBy)
	p.ProgressAtArchive = intPtr(atArchive)
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{{&p.StartDate, start}, {&p.DueDate, due}, {&p.ArchivedAt, archivedAt}, {&p.WakeUpDate, wake}} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return p, err
		}
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return p, err
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.exec(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.StrategyID, p.Title, nullable(p.Description), string(p.Status), p.Progress, nullable(p.OwnerID),
		nullableTime(p.StartDate), nullableTime(p.DueDate), boolInt(p.IsTemplate), boolInt(p.IsArchived),
		nullableStringPtr(p.ArchiveReason), nullableTime(p.ArchivedAt), nullableStringPtr(p.ArchivedBy),
		nullableTime(p.WakeUpDate), nullableIntPtr(p.ProgressAtArchive), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.queryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.StrategyID != "" {
		clauses = append(clauses, "strategy_id=?")
		args = append(args, f.StrategyID)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "is_archived=0")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProject writes every column except progress.
func (r Repo) UpdateProject(ctx context.Context, p domain.Project) error {
	res, err := r.exec(ctx, `UPDATE projects SET strategy_id=?, title=?, description=?, status=?, owner_id=?, start_date=?, due_date=?,
is_template=?, is_archived=?, archive_reason=?, archived_at=?, archived_by=?, wake_up_date=?, progress_at_archive=?, updated_at=? WHERE id=?`,
		p.StrategyID, p.Title, nullable(p.Description), string(p.Status), nullable(p.OwnerID), nullableTime(p.StartDate), nullableTime(p.DueDate),
		boolInt(p.IsTemplate), boolInt(p.IsArchived), nullableStringPtr(p.ArchiveReason), nullableTime(p.ArchivedAt), nullableStringPtr(p.ArchivedBy),
		nullableTime(p.WakeUpDate), nullableIntPtr(p.ProgressAtArchive), formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) SetProjectProgress(ctx context.Context, id string, progress int, at time.Time) error {
	res, err := r.exec(ctx, `UPDATE projects SET progress=?, updated_at=? WHERE id=?`, progress, formatTime(at), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// SetProjectsArchived flips the archive flag only; reason, wake-up date and
// progress-at-archive are left to the full project archive flow.
func (r Repo) SetProjectsArchived(ctx context.Context, ids []string, archived bool, by string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	in, idArgs := inClause(ids)
	var args []any
	if archived {
		args = append(args, 1, formatTime(at), nullable(by), formatTime(at))
	} else {
		args = append(args, 0, nil, nil, formatTime(at))
	}
	args = append(args, idArgs...)
	_, err := r.exec(ctx, `UPDATE projects SET is_archived=?, archived_at=?, archived_by=?, updated_at=? WHERE id IN `+in, args...)
	return err
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
