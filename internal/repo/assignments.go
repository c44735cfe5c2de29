package repo

import (
	"context"
	"database/sql"
	"time"

	"caseline/internal/domain"
)

// AssignActor gives an actor a role on a case, replacing any prior role.
func (r Repo) AssignActor(ctx context.Context, caseID, actorID, role string) (domain.CaseAssignment, error) {
	if err := r.EnsureActor(ctx, actorID); err != nil {
		return domain.CaseAssignment{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO case_assignments(case_id,actor_id,role,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(case_id,actor_id) DO UPDATE SET role=excluded.role, updated_at=excluded.updated_at`,
		caseID, actorID, role, now, now)
	if err != nil {
		return domain.CaseAssignment{}, err
	}
	return r.GetAssignment(ctx, caseID, actorID)
}

func (r Repo) GetAssignment(ctx context.Context, caseID, actorID string) (domain.CaseAssignment, error) {
	var a domain.CaseAssignment
	err := r.DB.QueryRowContext(ctx, `SELECT case_id,actor_id,role,created_at,updated_at FROM case_assignments WHERE case_id=? AND actor_id=?`,
		caseID, actorID).Scan(&a.CaseID, &a.ActorID, &a.Role, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.CaseAssignment{}, ErrNotFound
	}
	if err != nil {
		return domain.CaseAssignment{}, err
	}
	return a, nil
}

func (r Repo) ListAssignments(ctx context.Context, caseID string) ([]domain.CaseAssignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT case_id,actor_id,role,created_at,updated_at FROM case_assignments WHERE case_id=? ORDER BY actor_id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseAssignment
	for rows.Next() {
		var a domain.CaseAssignment
		if err := rows.Scan(&a.CaseID, &a.ActorID, &a.Role, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UnassignActor(ctx context.Context, caseID, actorID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM case_assignments WHERE case_id=? AND actor_id=?`, caseID, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
