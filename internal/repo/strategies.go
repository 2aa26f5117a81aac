package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"stratline/internal/domain"
)

const strategyColumns = `id,org_id,title,description,status,progress,readiness,risk,owner_id,completion_date,created_at,updated_at`

func scanStrategy(row scanner) (domain.Strategy, error) {
	var s domain.Strategy
	var desc, owner, completion sql.NullString
	var readiness, risk sql.NullInt64
	var status, createdAt, updatedAt string
	err := row.Scan(&s.ID, &s.OrgID, &s.Title, &desc, &status, &s.Progress, &readiness, &risk, &owner, &completion, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.Status, err = domain.ParseStrategyStatus(status); err != nil {
		return s, err
	}
	s.Description = desc.String
	s.OwnerID = owner.String
	s.Readiness = intPtr(readiness)
	s.Risk = intPtr(risk)
	if s.CompletionDate, err = parseNullTime(completion); err != nil {
		return s, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return s, err
	}
	return s, nil
}

func (r Repo) InsertStrategy(ctx context.Context, s domain.Strategy) error {
	_, err := r.exec(ctx, `INSERT INTO strategies(`+strategyColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.OrgID, s.Title, nullable(s.Description), string(s.Status), s.Progress,
		nullableIntPtr(s.Readiness), nullableIntPtr(s.Risk), nullable(s.OwnerID), nullableTime(s.CompletionDate),
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	return err
}

func (r Repo) GetStrategy(ctx context.Context, id string) (domain.Strategy, error) {
	return scanStrategy(r.queryRow(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id=?`, id))
}

func (r Repo) ListStrategies(ctx context.Context, f StrategyFilters) ([]domain.Strategy, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + strategyColumns + ` FROM strategies ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateStrategy writes the editable fields. Progress, status and completion
// date are owned by SetStrategyRollup and SetStrategyStatus.
func (r Repo) UpdateStrategy(ctx context.Context, s domain.Strategy) error {
	res, err := r.exec(ctx, `UPDATE strategies SET title=?, description=?, readiness=?, risk=?, owner_id=?, updated_at=? WHERE id=?`,
		s.Title, nullable(s.Description), nullableIntPtr(s.Readiness), nullableIntPtr(s.Risk), nullable(s.OwnerID),
		formatTime(s.UpdatedAt), s.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) SetStrategyRollup(ctx context.Context, id string, progress int, status domain.StrategyStatus, at time.Time) error {
	res, err := r.exec(ctx, `UPDATE strategies SET progress=?, status=?, updated_at=? WHERE id=?`,
		progress, string(status), formatTime(at), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) SetStrategyStatus(ctx context.Context, id string, status domain.StrategyStatus, completionDate *time.Time, at time.Time) error {
	res, err := r.exec(ctx, `UPDATE strategies SET status=?, completion_date=COALESCE(?, completion_date), updated_at=? WHERE id=?`,
		string(status), nullableTime(completionDate), formatTime(at), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) DeleteStrategy(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `DELETE FROM strategies WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
