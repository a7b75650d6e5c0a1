package solicitudes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siep/siep/internal/platform/db"
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

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const selectSolicitud = `SELECT s.id, s.titulo, s.tipo, COALESCE(s.descripcion, ''), s.center_id, COALESCE(c.name, ''),
	s.created_by, s.status, s.group_id, s.assigned_to_center_id, COALESCE(ac.name, ''),
	COALESCE(s.observaciones, ''), COALESCE(s.motivo_rechazo, ''), s.created_at, s.updated_at
FROM solicitudes s
LEFT JOIN centers c ON c.id = s.center_id
LEFT JOIN centers ac ON ac.id = s.assigned_to_center_id`

func scanSolicitud(row pgx.Row) (Solicitud, error) {
	var sol Solicitud
	var status string
	err := row.Scan(&sol.ID, &sol.Titulo, &sol.Tipo, &sol.Descripcion, &sol.CenterID, &sol.CenterName,
		&sol.CreatedBy, &status, &sol.GroupID, &sol.AssignedCenterID, &sol.AssignedCenterName,
		&sol.Observaciones, &sol.MotivoRechazo, &sol.CreatedAt, &sol.UpdatedAt)
	sol.Status = Status(status)
	return sol, err
}

// Get returns one solicitud.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Solicitud, error) {
	sol, err := scanSolicitud(r.pool.QueryRow(ctx, selectSolicitud+` WHERE s.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Solicitud{}, ErrNotFound
		}
		return Solicitud{}, err
	}
	return sol, nil
}

// List returns solicitudes ordered by newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Solicitud, error) {
	var (
		where []string
		args  []any
	)
	if filter.CenterID != nil {
		args = append(args, *filter.CenterID)
		where = append(where, fmt.Sprintf("s.center_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("s.status = $%d", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		where = append(where, fmt.Sprintf("s.created_by = $%d", len(args)))
	}
	query := selectSolicitud
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY s.created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Solicitud
	for rows.Next() {
		sol, err := scanSolicitud(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sol)
	}
	return out, rows.Err()
}

// History returns transition records oldest first.
func (r *Repository) History(ctx context.Context, id uuid.UUID) ([]HistorialItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, solicitud_id, estado_anterior, estado_nuevo, user_id,
	COALESCE(user_name, ''), user_role, COALESCE(comentario, ''), metadata, created_at
FROM solicitud_historial WHERE solicitud_id = $1 ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistorialItem
	for rows.Next() {
		var (
			item     HistorialItem
			anterior *string
			nuevo    string
			role     string
			meta     []byte
		)
		if err := rows.Scan(&item.ID, &item.SolicitudID, &anterior, &nuevo, &item.UserID,
			&item.UserName, &role, &item.Comentario, &meta, &item.CreatedAt); err != nil {
			return nil, err
		}
		if anterior != nil {
			s := Status(*anterior)
			item.EstadoAnterior = &s
		}
		item.EstadoNuevo = Status(nuevo)
		item.UserRole = rbac.Role(role)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &item.Metadata); err != nil {
				return nil, fmt.Errorf("decode historial metadata: %w", err)
			}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Comments returns comments oldest first.
func (r *Repository) Comments(ctx context.Context, id uuid.UUID) ([]Comment, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.id, c.solicitud_id, c.user_id, COALESCE(u.name, ''), c.comentario, c.tipo, c.adjuntos, c.created_at
FROM solicitud_comentarios c
LEFT JOIN users u ON u.id::text = c.user_id
WHERE c.solicitud_id = $1 ORDER BY c.created_at ASC, c.id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Comment
	for rows.Next() {
		var (
			c        Comment
			tipo     string
			adjuntos []byte
		)
		if err := rows.Scan(&c.ID, &c.SolicitudID, &c.UserID, &c.UserName, &c.Texto, &tipo, &adjuntos, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Tipo = CommentType(tipo)
		if len(adjuntos) > 0 {
			if err := json.Unmarshal(adjuntos, &c.Adjuntos); err != nil {
				return nil, fmt.Errorf("decode comment attachments: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddComment inserts a comment.
func (r *Repository) AddComment(ctx context.Context, c Comment) error {
	var adjuntos []byte
	if len(c.Adjuntos) > 0 {
		var err error
		if adjuntos, err = json.Marshal(c.Adjuntos); err != nil {
			return err
		}
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO solicitud_comentarios
	(id, solicitud_id, user_id, comentario, tipo, adjuntos, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.SolicitudID, c.UserID, c.Texto, string(c.Tipo), adjuntos, c.CreatedAt)
	return err
}

func (t *txRepo) Insert(ctx context.Context, sol Solicitud) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO solicitudes
	(id, titulo, tipo, descripcion, center_id, created_by, status, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		sol.ID, sol.Titulo, sol.Tipo, sol.Descripcion, sol.CenterID, sol.CreatedBy, string(sol.Status), sol.CreatedAt, sol.UpdatedAt)
	return err
}

func (t *txRepo) UpdateStatus(ctx context.Context, upd StatusUpdate) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE solicitudes SET
	status = $3,
	group_id = COALESCE($4, group_id),
	assigned_to_center_id = COALESCE($5, assigned_to_center_id),
	observaciones = COALESCE($6, observaciones),
	motivo_rechazo = COALESCE($7, motivo_rechazo),
	updated_at = $8
WHERE id = $1 AND status = $2`,
		upd.ID, string(upd.From), string(upd.To), upd.GroupID, upd.AssignedCenterID, upd.Observaciones, upd.MotivoRechazo, upd.At)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) AppendHistory(ctx context.Context, item HistorialItem) error {
	var anterior *string
	if item.EstadoAnterior != nil {
		s := string(*item.EstadoAnterior)
		anterior = &s
	}
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO solicitud_historial
	(id, solicitud_id, estado_anterior, estado_nuevo, user_id, user_name, user_role, comentario, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10)`,
		item.ID, item.SolicitudID, anterior, string(item.EstadoNuevo), item.UserID, item.UserName,
		string(item.UserRole), item.Comentario, meta, item.CreatedAt)
	return err
}
