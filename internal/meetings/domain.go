package meetings

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/siep/siep/internal/platform/httpx"
)

// Status is the lifecycle state of a meeting.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Closed reports whether the meeting no longer accepts changes.
func (s Status) Closed() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParticipantRole distinguishes the organizer from invitees.
type ParticipantRole string

const (
	RoleOrganizer   ParticipantRole = "organizer"
	RoleParticipant ParticipantRole = "participant"
)

// Attendance is a participant's response or recorded presence.
type Attendance string

const (
	AttendanceInvited     Attendance = "invited"
	AttendanceAccepted    Attendance = "accepted"
	AttendanceDeclined    Attendance = "declined"
	AttendanceMaybe       Attendance = "maybe"
	AttendanceAttended    Attendance = "attended"
	AttendanceNotAttended Attendance = "not_attended"
)

// Valid reports whether a is a known attendance value.
func (a Attendance) Valid() bool {
	switch a {
	case AttendanceInvited, AttendanceAccepted, AttendanceDeclined, AttendanceMaybe, AttendanceAttended, AttendanceNotAttended:
		return true
	}
	return false
}

// Meeting is a scheduled session of a center.
type Meeting struct {
	ID              uuid.UUID     `json:"id"`
	CenterID        uuid.UUID     `json:"center_id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	ScheduledAt     time.Time     `json:"scheduled_at"`
	DurationMinutes int           `json:"duration_minutes"`
	Platform        string        `json:"meeting_platform,omitempty"`
	URL             string        `json:"meeting_url,omitempty"`
	Status          Status        `json:"status"`
	CreatedBy       string        `json:"created_by"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Participants    []Participant `json:"participants,omitempty"`
}

// Participant links a user to a meeting.
type Participant struct {
	MeetingID  uuid.UUID       `json:"meeting_id"`
	UserID     string          `json:"user_id"`
	UserName   string          `json:"user_name,omitempty"`
	Role       ParticipantRole `json:"role"`
	Attendance Attendance      `json:"attendance_status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ListFilter narrows List results.
type ListFilter struct {
	CenterID *uuid.UUID
	Status   Status
}

// CreateInput describes a new meeting.
type CreateInput struct {
	CenterID        uuid.UUID
	Title           string
	Description     string
	ScheduledAt     time.Time
	DurationMinutes int
	Platform        string
	URL             string
	ParticipantIDs  []string
}

// UpdateInput carries optional changes; nil fields are left untouched.
type UpdateInput struct {
	Title           *string
	Description     *string
	ScheduledAt     *time.Time
	DurationMinutes *int
	Platform        *string
	URL             *string
	Status          *Status
}

var (
	// ErrNotFound indicates the meeting or participant does not exist or is not visible.
	ErrNotFound = fmt.Errorf("meetings: %w", httpx.ErrNotFound)
	// ErrValidation indicates invalid caller input.
	ErrValidation = fmt.Errorf("meetings: %w", httpx.ErrValidation)
	// ErrForbidden indicates the actor is neither the organizer nor a meetings administrator.
	ErrForbidden = fmt.Errorf("meetings: insufficient permissions: %w", httpx.ErrForbidden)
	// ErrClosed indicates the meeting is completed or cancelled.
	ErrClosed = fmt.Errorf("meetings: meeting is closed: %w", httpx.ErrConflict)
	// ErrDuplicateParticipant indicates the user is already a participant.
	ErrDuplicateParticipant = fmt.Errorf("meetings: user is already a participant: %w", httpx.ErrConflict)
	// ErrOrganizerRemoval indicates an attempt to remove the organizer.
	ErrOrganizerRemoval = fmt.Errorf("meetings: the organizer cannot be removed: %w", httpx.ErrValidation)
)
