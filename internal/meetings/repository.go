package meetings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siep/siep/internal/platform/db"
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

const selectMeeting = `SELECT id, center_id, title, COALESCE(description, ''), scheduled_at, duration_minutes,
	COALESCE(meeting_platform, ''), COALESCE(meeting_url, ''), status, created_by, created_at, updated_at
FROM meetings`

func scanMeeting(row pgx.Row) (Meeting, error) {
	var (
		m      Meeting
		status string
	)
	err := row.Scan(&m.ID, &m.CenterID, &m.Title, &m.Description, &m.ScheduledAt, &m.DurationMinutes,
		&m.Platform, &m.URL, &status, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	m.Status = Status(status)
	return m, err
}

// Get returns one meeting without participants.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Meeting, error) {
	m, err := scanMeeting(r.pool.QueryRow(ctx, selectMeeting+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Meeting{}, ErrNotFound
	}
	return m, err
}

// List returns meetings ordered by schedule, latest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Meeting, error) {
	var (
		where []string
		args  []any
	)
	if filter.CenterID != nil {
		args = append(args, *filter.CenterID)
		where = append(where, fmt.Sprintf("center_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := selectMeeting
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := r.pool.Query(ctx, query+" ORDER BY scheduled_at DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Participants returns the participants of a meeting, organizer first.
func (r *Repository) Participants(ctx context.Context, meetingID uuid.UUID) ([]Participant, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.meeting_id, p.user_id, COALESCE(u.name, ''), p.role, p.attendance_status, p.created_at
FROM meeting_participants p
LEFT JOIN users u ON u.id::text = p.user_id
WHERE p.meeting_id = $1
ORDER BY p.role = 'organizer' DESC, p.created_at ASC, p.user_id ASC`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Participant
	for rows.Next() {
		var (
			p          Participant
			role       string
			attendance string
		)
		if err := rows.Scan(&p.MeetingID, &p.UserID, &p.UserName, &role, &attendance, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Role = ParticipantRole(role)
		p.Attendance = Attendance(attendance)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *txRepo) Insert(ctx context.Context, m Meeting) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO meetings
	(id, center_id, title, description, scheduled_at, duration_minutes, meeting_platform, meeting_url, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12)`,
		m.ID, m.CenterID, m.Title, m.Description, m.ScheduledAt, m.DurationMinutes, m.Platform, m.URL,
		string(m.Status), m.CreatedBy, m.CreatedAt, m.UpdatedAt)
	return err
}

func (t *txRepo) Update(ctx context.Context, m Meeting) error {
	tag, err := t.tx.Exec(ctx, `UPDATE meetings SET
	title = $2, description = NULLIF($3, ''), scheduled_at = $4, duration_minutes = $5,
	meeting_platform = NULLIF($6, ''), meeting_url = NULLIF($7, ''), status = $8, updated_at = $9
WHERE id = $1`,
		m.ID, m.Title, m.Description, m.ScheduledAt, m.DurationMinutes, m.Platform, m.URL, string(m.Status), m.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) AddParticipant(ctx context.Context, p Participant) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO meeting_participants (meeting_id, user_id, role, attendance_status, created_at)
VALUES ($1, $2, $3, $4, $5)`, p.MeetingID, p.UserID, string(p.Role), string(p.Attendance), p.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateParticipant
	}
	return err
}

func (t *txRepo) RemoveParticipant(ctx context.Context, meetingID uuid.UUID, userID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM meeting_participants WHERE meeting_id = $1 AND user_id = $2`, meetingID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) SetAttendance(ctx context.Context, meetingID uuid.UUID, userID string, a Attendance) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE meeting_participants SET attendance_status = $3 WHERE meeting_id = $1 AND user_id = $2`,
		meetingID, userID, string(a))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
