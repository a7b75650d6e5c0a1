package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siep/siep/internal/rbac"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectUser = `SELECT id::text, email, COALESCE(name, ''), COALESCE(role, ''), COALESCE(center_id::text, ''), is_active, created_at, updated_at FROM users`

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.CenterID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	u.Role = rbac.Role(role)
	return u, err
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// ListUsers returns users ordered by name.
func (r *Repository) ListUsers(ctx context.Context, filter ListFilter) ([]User, error) {
	var (
		where []string
		args  []any
	)
	if filter.CenterID != "" {
		args = append(args, filter.CenterID)
		where = append(where, fmt.Sprintf("center_id::text = $%d", len(args)))
	}
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	query := selectUser
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := r.pool.Query(ctx, query+" ORDER BY name, email", args...)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// GetUser returns one user.
func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, selectUser+" WHERE id::text = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

// UpdateRole stores role for the user.
func (r *Repository) UpdateRole(ctx context.Context, id string, role rbac.Role) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id::text = $1`, id, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetGroup returns one group.
func (r *Repository) GetGroup(ctx context.Context, id string) (Group, error) {
	var g Group
	err := r.pool.QueryRow(ctx, `SELECT id::text, centro_id::text, nombre, tipo, activo FROM user_groups WHERE id::text = $1`, id).
		Scan(&g.ID, &g.CenterID, &g.Nombre, &g.Tipo, &g.Activo)
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, ErrGroupNotFound
	}
	return g, err
}

// GroupMembers returns the users belonging to a group ordered by name.
func (r *Repository) GroupMembers(ctx context.Context, groupID string) ([]User, error) {
	rows, err := r.pool.Query(ctx, selectUser+` WHERE id IN (
	SELECT user_id FROM user_group_members WHERE group_id::text = $1
) ORDER BY name, email`, groupID)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}
