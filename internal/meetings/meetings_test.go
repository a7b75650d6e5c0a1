package meetings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/siep/siep/internal/rbac"
	"github.com/siep/siep/internal/shared"
)

type memoryRepo struct {
	mu           sync.Mutex
	meetings     map[uuid.UUID]Meeting
	participants map[uuid.UUID][]Participant
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{meetings: map[uuid.UUID]Meeting{}, participants: map[uuid.UUID][]Participant{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{meetings: map[uuid.UUID]Meeting{}, participants: map[uuid.UUID][]Participant{}}
	for k, v := range m.meetings {
		tx.meetings[k] = v
	}
	for k, v := range m.participants {
		tx.participants[k] = append([]Participant(nil), v...)
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.meetings, m.participants = tx.meetings, tx.participants
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meeting, ok := m.meetings[id]
	if !ok {
		return Meeting{}, ErrNotFound
	}
	return meeting, nil
}

func (m *memoryRepo) List(_ context.Context, filter ListFilter) ([]Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Meeting
	for _, meeting := range m.meetings {
		if filter.CenterID != nil && meeting.CenterID != *filter.CenterID {
			continue
		}
		if filter.Status != "" && meeting.Status != filter.Status {
			continue
		}
		out = append(out, meeting)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return out, nil
}

func (m *memoryRepo) Participants(_ context.Context, meetingID uuid.UUID) ([]Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Participant(nil), m.participants[meetingID]...), nil
}

type memoryTx struct {
	meetings     map[uuid.UUID]Meeting
	participants map[uuid.UUID][]Participant
}

func (t *memoryTx) Insert(_ context.Context, m Meeting) error {
	m.Participants = nil
	t.meetings[m.ID] = m
	return nil
}

func (t *memoryTx) Update(_ context.Context, m Meeting) error {
	if _, ok := t.meetings[m.ID]; !ok {
		return ErrNotFound
	}
	m.Participants = nil
	t.meetings[m.ID] = m
	return nil
}

func (t *memoryTx) AddParticipant(_ context.Context, p Participant) error {
	for _, existing := range t.participants[p.MeetingID] {
		if existing.UserID == p.UserID {
			return ErrDuplicateParticipant
		}
	}
	t.participants[p.MeetingID] = append(t.participants[p.MeetingID], p)
	return nil
}

func (t *memoryTx) RemoveParticipant(_ context.Context, meetingID uuid.UUID, userID string) (bool, error) {
	list := t.participants[meetingID]
	for i, p := range list {
		if p.UserID == userID {
			t.participants[meetingID] = append(list[:i:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) SetAttendance(_ context.Context, meetingID uuid.UUID, userID string, a Attendance) (bool, error) {
	list := t.participants[meetingID]
	for i := range list {
		if list[i].UserID == userID {
			list[i].Attendance = a
			return true, nil
		}
	}
	return false, nil
}

type auditSink struct{ logs []shared.AuditLog }

func (a *auditSink) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

var (
	centerNorte = uuid.MustParse("6a1f6a2e-0000-4000-8000-000000000001")
	centerSur   = uuid.MustParse("6a1f6a2e-0000-4000-8000-000000000002")

	coordinador = rbac.Identity{UserID: "u-coord", Name: "Marta", Role: rbac.RoleCoordinadorCentro, CenterID: centerNorte.String()}
	director    = rbac.Identity{UserID: "u-dir", Name: "Jorge", Role: rbac.RoleDirectorCentro, CenterID: centerNorte.String()}
	operacion   = rbac.Identity{UserID: "u-op", Name: "Pablo", Role: rbac.RoleOperacion, CenterID: centerNorte.String()}
	consulta    = rbac.Identity{UserID: "u-cons", Name: "Eva", Role: rbac.RoleConsulta, CenterID: centerNorte.String()}
	foraneo     = rbac.Identity{UserID: "u-sur", Name: "Rosa", Role: rbac.RoleCoordinadorCentro, CenterID: centerSur.String()}
	admin       = rbac.Identity{UserID: "u-admin", Name: "Root", Role: rbac.RoleAdministrador}
)

func newTestService(t *testing.T) (*Service, *memoryRepo, *auditSink) {
	t.Helper()
	repo := newMemoryRepo()
	audit := &auditSink{}
	svc := NewService(repo, rbac.DefaultMatrix(), ServiceConfig{Audit: audit})
	svc.now = func() time.Time { return time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC) }
	return svc, repo, audit
}

func schedule(t *testing.T, svc *Service, id rbac.Identity, invitees ...string) Meeting {
	t.Helper()
	m, err := svc.Create(context.Background(), id, CreateInput{
		CenterID:       centerNorte,
		Title:          "Comité mensual",
		ScheduledAt:    time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		ParticipantIDs: invitees,
	})
	require.NoError(t, err)
	return m
}

func TestCreateAddsOrganizerAndInvitees(t *testing.T) {
	svc, repo, audit := newTestService(t)
	m := schedule(t, svc, coordinador, "u-op", "u-cons", "u-op", coordinador.UserID)

	require.Equal(t, StatusScheduled, m.Status)
	require.Equal(t, 60, m.DurationMinutes)
	participants := repo.participants[m.ID]
	require.Len(t, participants, 3)
	require.Equal(t, RoleOrganizer, participants[0].Role)
	require.Equal(t, AttendanceAccepted, participants[0].Attendance)
	require.Equal(t, AttendanceInvited, participants[1].Attendance)
	require.Equal(t, "MEETING_CREATE", audit.logs[0].Action)

	_, err := svc.Create(context.Background(), coordinador, CreateInput{CenterID: centerNorte, ScheduledAt: time.Now()})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.Create(context.Background(), coordinador, CreateInput{CenterID: centerNorte, Title: "x", ScheduledAt: time.Now(), DurationMinutes: -5})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.Create(context.Background(), coordinador, CreateInput{CenterID: centerSur, Title: "x", ScheduledAt: time.Now()})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Create(context.Background(), admin, CreateInput{CenterID: centerSur, Title: "x", ScheduledAt: time.Now()})
	require.NoError(t, err)
}

func TestMeetingsAreScopedToCenter(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	m := schedule(t, svc, coordinador)

	items, err := svc.List(ctx, consulta, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = svc.List(ctx, foraneo, ListFilter{CenterID: &centerNorte})
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = svc.Get(ctx, foraneo, m.ID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := svc.Get(ctx, admin, m.ID)
	require.NoError(t, err)
	require.Len(t, got.Participants, 1)

	_, err = svc.List(ctx, admin, ListFilter{Status: "postponed"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateRequiresOrganizerOrMeetingsAdmin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	m := schedule(t, svc, coordinador)
	title := "Comité extraordinario"

	_, err := svc.Update(ctx, operacion, m.ID, UpdateInput{Title: &title})
	require.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.Update(ctx, director, m.ID, UpdateInput{Title: &title})
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)

	cancelled, err := svc.Cancel(ctx, coordinador, m.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Update(ctx, coordinador, m.ID, UpdateInput{Title: &title})
	require.ErrorIs(t, err, ErrClosed)
	_, err = svc.AddParticipant(ctx, coordinador, m.ID, "u-op")
	require.ErrorIs(t, err, ErrClosed)
}

func TestParticipantManagement(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	m := schedule(t, svc, coordinador, "u-cons")

	p, err := svc.AddParticipant(ctx, coordinador, m.ID, "u-op")
	require.NoError(t, err)
	require.Equal(t, AttendanceInvited, p.Attendance)
	_, err = svc.AddParticipant(ctx, coordinador, m.ID, "u-op")
	require.ErrorIs(t, err, ErrDuplicateParticipant)
	_, err = svc.AddParticipant(ctx, consulta, m.ID, "u-x")
	require.ErrorIs(t, err, ErrForbidden)

	require.ErrorIs(t, svc.RemoveParticipant(ctx, director, m.ID, coordinador.UserID), ErrOrganizerRemoval)
	require.ErrorIs(t, svc.RemoveParticipant(ctx, coordinador, m.ID, "u-nobody"), ErrNotFound)
	require.NoError(t, svc.RemoveParticipant(ctx, coordinador, m.ID, "u-op"))

	require.NoError(t, svc.SetAttendance(ctx, consulta, m.ID, "u-cons", AttendanceDeclined))
	require.ErrorIs(t, svc.SetAttendance(ctx, consulta, m.ID, coordinador.UserID, AttendanceAttended), ErrForbidden)
	require.ErrorIs(t, svc.SetAttendance(ctx, consulta, m.ID, "u-cons", "late"), ErrValidation)
	require.NoError(t, svc.SetAttendance(ctx, coordinador, m.ID, "u-cons", AttendanceAttended))

	items, err := svc.Participants(ctx, consulta, m.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, AttendanceAttended, items[1].Attendance)
}

func newTestRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t)
	h := NewHandler(nil, svc, rbac.Middleware{Matrix: rbac.DefaultMatrix()})
	r := chi.NewRouter()
	r.Route("/meetings", h.MountRoutes)
	return r, svc
}

func call(h http.Handler, id rbac.Identity, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(rbac.ContextWithIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMeetingEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := call(router, coordinador, http.MethodPost, "/meetings",
		`{"title":"Planificación","scheduled_at":"2024-06-01T10:00:00Z","center_id":"`+centerNorte.String()+`","participant_ids":["u-cons"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Meeting
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	base := "/meetings/" + created.ID.String()

	rec = call(router, consulta, http.MethodPost, "/meetings",
		`{"title":"x","scheduled_at":"2024-06-01T10:00:00Z","center_id":"`+centerNorte.String()+`"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(router, consulta, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got Meeting
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Participants, 2)

	rec = call(router, consulta, http.MethodPatch, base+"/participants/u-cons", `{"attendance_status":"accepted"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(router, coordinador, http.MethodPost, base+"/participants", `{"user_id":"u-cons"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = call(router, coordinador, http.MethodDelete, base+"/participants/u-coord", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(router, coordinador, http.MethodPatch, base, `{"status":"postponed"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(router, coordinador, http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(router, foraneo, http.MethodGet, base, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(router, rbac.Identity{UserID: "u-f", Role: rbac.RoleFuncionario}, http.MethodGet, "/meetings", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(router, coordinador, http.MethodGet, "/meetings?status=cancelled", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []Meeting `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
}
