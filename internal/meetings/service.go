package meetings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/siep/siep/internal/rbac"
	"github.com/siep/siep/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Meeting, error)
	List(ctx context.Context, filter ListFilter) ([]Meeting, error)
	Participants(ctx context.Context, meetingID uuid.UUID) ([]Participant, error)
}

// TxRepository exposes transactional mutations.
type TxRepository interface {
	Insert(ctx context.Context, m Meeting) error
	Update(ctx context.Context, m Meeting) error
	// AddParticipant returns ErrDuplicateParticipant when the user is already listed.
	AddParticipant(ctx context.Context, p Participant) error
	RemoveParticipant(ctx context.Context, meetingID uuid.UUID, userID string) (bool, error)
	SetAttendance(ctx context.Context, meetingID uuid.UUID, userID string, a Attendance) (bool, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit  AuditPort
	Logger *slog.Logger
}

// Service manages meetings and their participants.
type Service struct {
	repo   RepositoryPort
	matrix rbac.Matrix
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the meeting service. matrix decides who holds meetings:admin.
func NewService(repo RepositoryPort, matrix rbac.Matrix, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		matrix: matrix,
		audit:  cfg.Audit,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create schedules a meeting. The creator becomes its organizer and every
// other listed user is invited.
func (s *Service) Create(ctx context.Context, id rbac.Identity, input CreateInput) (Meeting, error) {
	title := strings.TrimSpace(input.Title)
	switch {
	case title == "":
		return Meeting{}, fmt.Errorf("%w: title is required", ErrValidation)
	case input.CenterID == uuid.Nil:
		return Meeting{}, fmt.Errorf("%w: center is required", ErrValidation)
	case input.ScheduledAt.IsZero():
		return Meeting{}, fmt.Errorf("%w: scheduled_at is required", ErrValidation)
	}
	if input.DurationMinutes == 0 {
		input.DurationMinutes = 60
	}
	if err := validDuration(input.DurationMinutes); err != nil {
		return Meeting{}, err
	}
	if !s.global(id) && input.CenterID.String() != id.CenterID {
		return Meeting{}, fmt.Errorf("%w: meetings can only be created in your own center", ErrForbidden)
	}

	now := s.now()
	m := Meeting{
		ID:              uuid.New(),
		CenterID:        input.CenterID,
		Title:           title,
		Description:     input.Description,
		ScheduledAt:     input.ScheduledAt.UTC(),
		DurationMinutes: input.DurationMinutes,
		Platform:        input.Platform,
		URL:             input.URL,
		Status:          StatusScheduled,
		CreatedBy:       id.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.Participants = append(m.Participants, Participant{
		MeetingID: m.ID, UserID: id.UserID, UserName: id.Name, Role: RoleOrganizer, Attendance: AttendanceAccepted, CreatedAt: now,
	})
	seen := map[string]bool{id.UserID: true}
	for _, userID := range input.ParticipantIDs {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		m.Participants = append(m.Participants, Participant{
			MeetingID: m.ID, UserID: userID, Role: RoleParticipant, Attendance: AttendanceInvited, CreatedAt: now,
		})
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, m); err != nil {
			return fmt.Errorf("insert meeting: %w", err)
		}
		for _, p := range m.Participants {
			if err := tx.AddParticipant(ctx, p); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Meeting{}, err
	}
	s.recordAudit(ctx, id.UserID, "MEETING_CREATE", m.ID, map[string]any{"title": m.Title, "participants": len(m.Participants)})
	return m, nil
}

// Get returns a visible meeting with its participants.
func (s *Service) Get(ctx context.Context, id rbac.Identity, meetingID uuid.UUID) (Meeting, error) {
	m, err := s.visible(ctx, id, meetingID)
	if err != nil {
		return Meeting{}, err
	}
	if m.Participants, err = s.repo.Participants(ctx, meetingID); err != nil {
		return Meeting{}, err
	}
	return m, nil
}

// List returns meetings newest first. Only administradores see other centers.
func (s *Service) List(ctx context.Context, id rbac.Identity, filter ListFilter) ([]Meeting, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	if !s.global(id) {
		center, err := uuid.Parse(id.CenterID)
		if err != nil {
			// no center assigned
			return nil, nil
		}
		filter.CenterID = &center
	}
	return s.repo.List(ctx, filter)
}

// Update changes a meeting. Only its organizer or a meetings administrator may do so.
func (s *Service) Update(ctx context.Context, id rbac.Identity, meetingID uuid.UUID, input UpdateInput) (Meeting, error) {
	m, err := s.manageable(ctx, id, meetingID)
	if err != nil {
		return Meeting{}, err
	}
	if m.Status.Closed() {
		return Meeting{}, ErrClosed
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return Meeting{}, fmt.Errorf("%w: title cannot be empty", ErrValidation)
		}
		m.Title = title
	}
	if input.Description != nil {
		m.Description = *input.Description
	}
	if input.ScheduledAt != nil {
		m.ScheduledAt = input.ScheduledAt.UTC()
	}
	if input.DurationMinutes != nil {
		if err := validDuration(*input.DurationMinutes); err != nil {
			return Meeting{}, err
		}
		m.DurationMinutes = *input.DurationMinutes
	}
	if input.Platform != nil {
		m.Platform = *input.Platform
	}
	if input.URL != nil {
		m.URL = *input.URL
	}
	if input.Status != nil {
		if !input.Status.Valid() {
			return Meeting{}, fmt.Errorf("%w: unknown status %q", ErrValidation, *input.Status)
		}
		m.Status = *input.Status
	}
	m.UpdatedAt = s.now()
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Update(ctx, m)
	}); err != nil {
		return Meeting{}, fmt.Errorf("update meeting: %w", err)
	}
	s.recordAudit(ctx, id.UserID, "MEETING_UPDATE", m.ID, map[string]any{"status": string(m.Status)})
	return m, nil
}

// Cancel marks a meeting cancelled. Meetings are never deleted.
func (s *Service) Cancel(ctx context.Context, id rbac.Identity, meetingID uuid.UUID) (Meeting, error) {
	cancelled := StatusCancelled
	return s.Update(ctx, id, meetingID, UpdateInput{Status: &cancelled})
}

// Participants lists the participants of a visible meeting.
func (s *Service) Participants(ctx context.Context, id rbac.Identity, meetingID uuid.UUID) ([]Participant, error) {
	if _, err := s.visible(ctx, id, meetingID); err != nil {
		return nil, err
	}
	return s.repo.Participants(ctx, meetingID)
}

// AddParticipant invites userID to the meeting.
func (s *Service) AddParticipant(ctx context.Context, id rbac.Identity, meetingID uuid.UUID, userID string) (Participant, error) {
	if userID == "" {
		return Participant{}, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	m, err := s.manageable(ctx, id, meetingID)
	if err != nil {
		return Participant{}, err
	}
	if m.Status.Closed() {
		return Participant{}, ErrClosed
	}
	p := Participant{MeetingID: m.ID, UserID: userID, Role: RoleParticipant, Attendance: AttendanceInvited, CreatedAt: s.now()}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.AddParticipant(ctx, p)
	}); err != nil {
		return Participant{}, err
	}
	s.recordAudit(ctx, id.UserID, "MEETING_PARTICIPANT_ADD", m.ID, map[string]any{"user_id": userID})
	return p, nil
}

// RemoveParticipant drops userID from the meeting. The organizer cannot be removed.
func (s *Service) RemoveParticipant(ctx context.Context, id rbac.Identity, meetingID uuid.UUID, userID string) error {
	m, err := s.manageable(ctx, id, meetingID)
	if err != nil {
		return err
	}
	if userID == m.CreatedBy {
		return ErrOrganizerRemoval
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.RemoveParticipant(ctx, meetingID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, id.UserID, "MEETING_PARTICIPANT_REMOVE", m.ID, map[string]any{"user_id": userID})
	return nil
}

// SetAttendance records a participant's response. Participants answer for
// themselves; the organizer and meetings administrators may answer for anyone.
func (s *Service) SetAttendance(ctx context.Context, id rbac.Identity, meetingID uuid.UUID, userID string, a Attendance) error {
	if !a.Valid() {
		return fmt.Errorf("%w: unknown attendance status %q", ErrValidation, a)
	}
	m, err := s.visible(ctx, id, meetingID)
	if err != nil {
		return err
	}
	if userID != id.UserID && !s.canManage(id, m) {
		return ErrForbidden
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.SetAttendance(ctx, meetingID, userID, a)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Service) global(id rbac.Identity) bool {
	return id.Role == rbac.RoleAdministrador
}

func (s *Service) canManage(id rbac.Identity, m Meeting) bool {
	return m.CreatedBy == id.UserID || s.matrix.HasPermissionForRole(id.Role, rbac.ResourceMeetings, rbac.LevelAdmin)
}

func (s *Service) visible(ctx context.Context, id rbac.Identity, meetingID uuid.UUID) (Meeting, error) {
	m, err := s.repo.Get(ctx, meetingID)
	if err != nil {
		return Meeting{}, err
	}
	if !s.global(id) && m.CenterID.String() != id.CenterID {
		return Meeting{}, ErrNotFound
	}
	return m, nil
}

func (s *Service) manageable(ctx context.Context, id rbac.Identity, meetingID uuid.UUID) (Meeting, error) {
	m, err := s.visible(ctx, id, meetingID)
	if err != nil {
		return Meeting{}, err
	}
	if !s.canManage(id, m) {
		return Meeting{}, ErrForbidden
	}
	return m, nil
}

func validDuration(minutes int) error {
	if minutes < 1 || minutes > 24*60 {
		return fmt.Errorf("%w: duration_minutes must be between 1 and 1440", ErrValidation)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID, action string, meetingID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "meeting",
		EntityID: meetingID.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit meeting", slog.String("action", action), slog.Any("error", err))
	}
}
