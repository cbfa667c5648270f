package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const findLimit = 50

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) IsActive(ctx context.Context, userID string) (bool, error) {
	const q = `SELECT active FROM users WHERE id = $1`
	var active bool
	if err := r.db.QueryRow(ctx, q, userID).Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load user %s: %w", userID, err)
	}
	return active, nil
}

func (r *Repository) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1
  FROM user_permissions p
  JOIN users u ON u.id = p.user_id
  WHERE p.user_id = $1 AND p.permission = $2 AND u.active
)
`
	var ok bool
	if err := r.db.QueryRow(ctx, q, userID, permission).Scan(&ok); err != nil {
		return false, fmt.Errorf("check permission %s for %s: %w", permission, userID, err)
	}
	return ok, nil
}

// FindApprovers lists active users matching search on name or email, optionally holding permission.
func (r *Repository) FindApprovers(ctx context.Context, search, permission string) ([]User, error) {
	const q = `
SELECT u.id, u.name, u.email, COALESCE(u.department_id, ''), u.active
FROM users u
WHERE u.active
  AND ($1 = '' OR u.name ILIKE '%' || $1 || '%' OR u.email ILIKE '%' || $1 || '%')
  AND ($2 = '' OR EXISTS (SELECT 1 FROM user_permissions p WHERE p.user_id = u.id AND p.permission = $2))
ORDER BY u.name ASC, u.id ASC
LIMIT $3
`
	rows, err := r.db.Query(ctx, q, strings.TrimSpace(search), permission, findLimit)
	if err != nil {
		return nil, fmt.Errorf("find approvers: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.DepartmentID, &u.Active); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DepartmentHead returns the head's user id, or "" when the department has none.
func (r *Repository) DepartmentHead(ctx context.Context, departmentID string) (string, error) {
	const q = `SELECT COALESCE(head_user_id, '') FROM departments WHERE id = $1`
	var head string
	if err := r.db.QueryRow(ctx, q, departmentID).Scan(&head); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("load department %s: %w", departmentID, err)
	}
	return head, nil
}
