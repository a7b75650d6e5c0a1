package solicitudes

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/siep/siep/internal/platform/httpx"
	"github.com/siep/siep/internal/rbac"
)

// Handler exposes the solicitud workflow over JSON.
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

// MountRoutes registers solicitud routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceSolicitudes, rbac.LevelRead))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/historial", h.history)
		r.Get("/{id}/comentarios", h.comments)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceSolicitudes, rbac.LevelWrite))
		r.Post("/", h.create)
		r.Post("/{id}/comentarios", h.addComment)
		r.Patch("/{id}/{action}", h.apply)
	})
}

type createRequest struct {
	Titulo      string `json:"titulo" validate:"required,max=200"`
	Tipo        string `json:"tipo" validate:"required,max=80"`
	Descripcion string `json:"descripcion" validate:"max=4000"`
	CenterID    string `json:"center_id" validate:"required,uuid"`
	CenterName  string `json:"center_name"`
}

type transitionRequest struct {
	Comentario         string `json:"comentario"`
	Observaciones      string `json:"observaciones"`
	MotivoRechazo      string `json:"motivo_rechazo"`
	Motivo             string `json:"motivo"`
	GroupID            string `json:"group_id" validate:"omitempty,uuid"`
	AssignedToCenterID string `json:"assigned_to_center_id" validate:"omitempty,uuid"`
	AssignedCenterName string `json:"assigned_to_center_name"`
}

type commentRequest struct {
	Comentario string   `json:"comentario" validate:"required,max=4000"`
	Tipo       string   `json:"tipo" validate:"omitempty,oneof=aprobacion rechazo revision aclaracion"`
	Adjuntos   []string `json:"adjuntos" validate:"max=10,dive,url"`
}

type solicitudResponse struct {
	Solicitud
	Acciones []Action `json:"acciones"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	sol, err := h.service.Create(r.Context(), id, CreateInput{
		Titulo:      req.Titulo,
		Tipo:        req.Tipo,
		Descripcion: req.Descripcion,
		CenterID:    uuid.MustParse(req.CenterID),
		CenterName:  req.CenterName,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, solicitudResponse{Solicitud: sol, Acciones: h.service.Available(id, sol)})
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	solID, ok := parseID(w, r)
	if !ok {
		return
	}
	action, ok := actionFromPath(chi.URLParam(r, "action"))
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown action")
		return
	}
	var req transitionRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	sol, err := h.service.Apply(r.Context(), id, solID, action, req.input(action))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, solicitudResponse{Solicitud: sol, Acciones: h.service.Available(id, sol)})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	solID, ok := parseID(w, r)
	if !ok {
		return
	}
	sol, err := h.service.Get(r.Context(), id, solID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, solicitudResponse{Solicitud: sol, Acciones: h.service.Available(id, sol)})
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
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	items, err := h.service.List(r.Context(), id, filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if items == nil {
		items = []Solicitud{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	solID, ok := parseID(w, r)
	if !ok {
		return
	}
	items, err := h.service.History(r.Context(), id, solID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if items == nil {
		items = []HistorialItem{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) comments(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	solID, ok := parseID(w, r)
	if !ok {
		return
	}
	items, err := h.service.Comments(r.Context(), id, solID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if items == nil {
		items = []Comment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) addComment(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.IdentityFromContext(r.Context())
	solID, ok := parseID(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	c, err := h.service.AddComment(r.Context(), id, solID, CommentInput{
		Texto:    req.Comentario,
		Tipo:     CommentType(req.Tipo),
		Adjuntos: req.Adjuntos,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (req transitionRequest) input(action Action) TransitionInput {
	in := TransitionInput{Comentario: req.Comentario, AssignedCenterName: req.AssignedCenterName}
	switch action {
	case ActionObservar:
		if req.Observaciones != "" {
			in.Comentario = req.Observaciones
		}
	case ActionRechazar:
		if req.MotivoRechazo != "" {
			in.Comentario = req.MotivoRechazo
		}
	case ActionCancelar:
		if req.Motivo != "" {
			in.Comentario = req.Motivo
		}
	}
	if req.GroupID != "" {
		g := uuid.MustParse(req.GroupID)
		in.GroupID = &g
	}
	if req.AssignedToCenterID != "" {
		c := uuid.MustParse(req.AssignedToCenterID)
		in.AssignedCenterID = &c
	}
	return in
}

// actionFromPath accepts both enviar_comite and the enviar-comite route form.
func actionFromPath(raw string) (Action, bool) {
	if raw == "enviar-comite" {
		return ActionEnviarComite, true
	}
	for _, a := range Actions() {
		if string(a) == raw {
			return a, true
		}
	}
	return "", false
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid solicitud id")
		return uuid.Nil, false
	}
	return id, true
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field() + " failed " + verrs[0].Tag()
	}
	return err.Error()
}

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorizedAction):
		return http.StatusForbidden
	case errors.Is(err, ErrTerminalState), errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrConcurrentUpdate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("solicitud request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, status, "Internal Error", "")
		return
	}
	detail := err.Error()
	var terr *TransitionError
	if errors.As(err, &terr) {
		detail = terr.Unwrap().Error()
	}
	httpx.Problem(w, status, http.StatusText(status), detail)
}
