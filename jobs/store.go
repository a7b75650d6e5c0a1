package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGNotificationStore implements NotificationStore on PostgreSQL.
type PGNotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore constructs the store.
func NewNotificationStore(pool *pgxpool.Pool) *PGNotificationStore {
	return &PGNotificationStore{pool: pool}
}

// GroupMembers lists users in the center's active notification group.
func (s *PGNotificationStore) GroupMembers(ctx context.Context, centerID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT m.user_id::text
FROM user_groups g
JOIN user_group_members m ON m.group_id = g.id
WHERE g.centro_id = $1 AND g.tipo = 'notificacion' AND g.activo = true
ORDER BY m.user_id`, centerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Summary loads the title and center name of a solicitud.
func (s *PGNotificationStore) Summary(ctx context.Context, solicitudID uuid.UUID) (SolicitudSummary, error) {
	var sum SolicitudSummary
	err := s.pool.QueryRow(ctx, `SELECT s.titulo, COALESCE(c.name, '')
FROM solicitudes s LEFT JOIN centers c ON c.id = s.center_id
WHERE s.id = $1`, solicitudID).Scan(&sum.Titulo, &sum.CenterName)
	if errors.Is(err, pgx.ErrNoRows) {
		return SolicitudSummary{}, nil
	}
	return sum, err
}

// InsertNotifications writes rows in one batch.
func (s *PGNotificationStore) InsertNotifications(ctx context.Context, rows []Notification) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, n := range rows {
		batch.Queue(`INSERT INTO notifications (user_id, type, title, message, link, read, created_at)
VALUES ($1, $2, $3, $4, $5, false, NOW())`, n.UserID, n.Type, n.Title, n.Message, n.Link)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

var _ NotificationStore = (*PGNotificationStore)(nil)
