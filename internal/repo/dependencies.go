package repo

import (
	"context"
	"database/sql"
	"strings"

	"stratline/internal/domain"
)

const dependencyColumns = `id,org_id,source_type,source_id,target_type,target_id,created_at`

func scanDependency(row scanner) (domain.Dependency, error) {
	var d domain.Dependency
	var sourceType, targetType, createdAt string
	err := row.Scan(&d.ID, &d.OrgID, &sourceType, &d.SourceID, &targetType, &d.TargetID, &createdAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if d.SourceType, err = domain.ParseEntityType(sourceType); err != nil {
		return d, err
	}
	if d.TargetType, err = domain.ParseEntityType(targetType); err != nil {
		return d, err
	}
	d.CreatedAt, err = parseTime(createdAt)
	return d, err
}

func (r Repo) InsertDependency(ctx context.Context, d domain.Dependency) error {
	_, err := r.exec(ctx, `INSERT INTO dependencies(`+dependencyColumns+`) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.OrgID, string(d.SourceType), d.SourceID, string(d.TargetType), d.TargetID, formatTime(d.CreatedAt))
	return err
}

func (r Repo) GetDependency(ctx context.Context, id string) (domain.Dependency, error) {
	return scanDependency(r.queryRow(ctx, `SELECT `+dependencyColumns+` FROM dependencies WHERE id=?`, id))
}

// ListDependencies returns edges where the entity is either endpoint.
func (r Repo) ListDependencies(ctx context.Context, f DependencyFilters) ([]domain.Dependency, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.EntityID != "" {
		if f.EntityType != "" {
			clauses = append(clauses, "((source_type=? AND source_id=?) OR (target_type=? AND target_id=?))")
			args = append(args, string(f.EntityType), f.EntityID, string(f.EntityType), f.EntityID)
		} else {
			clauses = append(clauses, "(source_id=? OR target_id=?)")
			args = append(args, f.EntityID, f.EntityID)
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.query(ctx, `SELECT `+dependencyColumns+` FROM dependencies `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dependency
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) DeleteDependency(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `DELETE FROM dependencies WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// DeleteDependenciesFor removes every edge touching one of the given projects
// or actions on either side and reports how many rows went. An empty orgID
// matches all orgs.
func (r Repo) DeleteDependenciesFor(ctx context.Context, projectIDs, actionIDs []string, orgID string) (int, error) {
	var ors []string
	var args []any
	for _, set := range []struct {
		kind domain.EntityType
		ids  []string
	}{{domain.EntityProject, projectIDs}, {domain.EntityAction, actionIDs}} {
		if len(set.ids) == 0 {
			continue
		}
		in, idArgs := inClause(set.ids)
		ors = append(ors, "(source_type=? AND source_id IN "+in+")", "(target_type=? AND target_id IN "+in+")")
		args = append(args, string(set.kind))
		args = append(args, idArgs...)
		args = append(args, string(set.kind))
		args = append(args, idArgs...)
	}
	if len(ors) == 0 {
		return 0, nil
	}
	query := `DELETE FROM dependencies WHERE (` + strings.Join(ors, " OR ") + `)`
	if orgID != "" {
		query += " AND org_id=?"
		args = append(args, orgID)
	}
	res, err := r.exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
