package meetings

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/siep/siep/internal/platform/httpx"
	"github.com/siep/siep/internal/rbac"
)

// Handler exposes meeting endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: mw, validator: validator.New()}
}

// MountRoutes registers meeting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceMeetings, rbac.LevelRead))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/participants", h.participants)
		r.Patch("/{id}/participants/{userID}", h.setAttendance)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceMeetings, rbac.LevelWrite))
		r.Post("/", h.create)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.cancel)
		r.Post("/{id}/participants", h.addParticipant)
		r.Delete("/{id}/participants/{userID}", h.removeParticipant)
	})
}

type createRequest struct {
	Title           string    `json:"title" validate:"required,max=200"`
	Description     string    `json:"description" validate:"max=4000"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	CenterID        string    `json:"center_id" validate:"required,uuid"`
	Platform        string    `json:"meeting_platform" validate:"max=80"`
	URL             string    `json:"meeting_url" validate:"omitempty,url"`
	ParticipantIDs  []string  `json:"participant_ids" validate:"max=200"`
}

type updateRequest struct {
	Title           *string    `json:"title" validate:"omitempty,max=200"`
	Description     *string    `json:"description" validate:"omitempty,max=4000"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
	DurationMinutes *int       `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	Platform        *string    `json:"meeting_platform" validate:"omitempty,max=80"`
	URL             *string    `json:"meeting_url" validate:"omitempty,url"`
	Status          *string    `json:"status" validate:"omitempty,oneof=scheduled in_progress completed cancelled"`
}

type participantRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

type attendanceRequest struct {
	Attendance string `json:"attendance_status" validate:"required,oneof=invited accepted declined maybe attended not_attended"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	if raw := q.Get("center_id"); raw != "" {
		centerID, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "center_id must be a uuid")
			return
		}
		filter.CenterID = &centerID
	}
	items, err := h.service.List(r.Context(), id, filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if items == nil {
		items = []Meeting{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	meetingID, ok := parseID(w, r)
	if !ok {
		return
	}
	m, err := h.service.Get(r.Context(), id, meetingID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.Create(r.Context(), id, CreateInput{
		CenterID:        uuid.MustParse(req.CenterID),
		Title:           req.Title,
		Description:     req.Description,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Platform:        req.Platform,
		URL:             req.URL,
		ParticipantIDs:  req.ParticipantIDs,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	meetingID, ok := parseID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := UpdateInput{
		Title:           req.Title,
		Description:     req.Description,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Platform:        req.Platform,
		URL:             req.URL,
	}
	if req.Status != nil {
		status := Status(*req.Status)
		input.Status = &status
	}
	m, err := h.service.Update(r.Context(), id, meetingID, input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	meetingID, ok := parseID(w, r)
	if !ok {
		return
	}
	m, err := h.service.Cancel(r.Context(), id, meetingID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) participants(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	meetingID, ok := parseID(w, r)
	if !ok {
		return
	}
	items, err := h.service.Participants(r.Context(), id, meetingID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if items == nil {
		items = []Participant{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) addParticipant(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	meetingID, ok := parseID(w, r)
	if !ok {
		return
	}
	var req participantRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.AddParticipant(r.Context(), id, meetingID, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) removeParticipant(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	meetingID, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveParticipant(r.Context(), id, meetingID, chi.URLParam(r, "userID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setAttendance(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	meetingID, ok := parseID(w, r)
	if !ok {
		return
	}
	var req attendanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := h.service.SetAttendance(r.Context(), id, meetingID, userID, Attendance(req.Attendance)); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "attendance_status": req.Attendance})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		detail := err.Error()
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			detail = verrs[0].Field() + " failed " + verrs[0].Tag()
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", detail)
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid meeting id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("meeting request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
