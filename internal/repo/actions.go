package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"stratline/internal/domain"
)

const actionColumns = `id,org_id,project_id,title,status,is_archived,due_date,achieved_at,target_value,current_value,notes,owner_id,created_at,updated_at`

func scanAction(row scanner) (domain.Action, error) {
	var a domain.Action
	var projectID, due, achieved, notes, owner sql.NullString
	var target, current sql.NullFloat64
	var status, createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.OrgID, &projectID, &a.Title, &status, &a.IsArchived, &due, &achieved,
		&target, &current, &notes, &owner, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if a.Status, err = domain.ParseActionStatus(status); err != nil {
		return a, err
	}
	a.ProjectID = stringPtr(projectID)
	a.TargetValue = floatPtr(target)
	a.CurrentValue = floatPtr(current)
	a.Notes = notes.String
	a.OwnerID = owner.String
	if a.DueDate, err = parseNullTime(due); err != nil {
		return a, err
	}
	if a.AchievedAt, err = parseNullTime(achieved); err != nil {
		return a, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return a, err
	}
	return a, nil
}

func (r Repo) InsertAction(ctx context.Context, a domain.Action) error {
	_, err := r.exec(ctx, `INSERT INTO actions(`+actionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OrgID, nullableStringPtr(a.ProjectID), a.Title, string(a.Status), boolInt(a.IsArchived),
		nullableTime(a.DueDate), nullableTime(a.AchievedAt), nullableFloatPtr(a.TargetValue), nullableFloatPtr(a.CurrentValue),
		nullable(a.Notes), nullable(a.OwnerID), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	return err
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.Action, error) {
	return scanAction(r.queryRow(ctx, `SELECT `+actionColumns+` FROM actions WHERE id=?`, id))
}

func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.Action, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	switch {
	case f.ProjectID != "":
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	case f.Unassigned:
		clauses = append(clauses, "project_id IS NULL")
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "is_archived=0")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + actionColumns + ` FROM actions ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAction(ctx context.Context, a domain.Action) error {
	res, err := r.exec(ctx, `UPDATE actions SET project_id=?, title=?, status=?, is_archived=?, due_date=?, achieved_at=?,
target_value=?, current_value=?, notes=?, owner_id=?, updated_at=? WHERE id=?`,
		nullableStringPtr(a.ProjectID), a.Title, string(a.Status), boolInt(a.IsArchived), nullableTime(a.DueDate), nullableTime(a.AchievedAt),
		nullableFloatPtr(a.TargetValue), nullableFloatPtr(a.CurrentValue), nullable(a.Notes), nullable(a.OwnerID), formatTime(a.UpdatedAt), a.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) SetActionsArchived(ctx context.Context, ids []string, archived bool, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	in, idArgs := inClause(ids)
	args := append([]any{boolInt(archived), formatTime(at)}, idArgs...)
	_, err := r.exec(ctx, `UPDATE actions SET is_archived=?, updated_at=? WHERE id IN `+in, args...)
	return err
}

func (r Repo) DeleteAction(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `DELETE FROM actions WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
