package solicitudes

import (
	"context"
	"errors"
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
	Get(ctx context.Context, id uuid.UUID) (Solicitud, error)
	List(ctx context.Context, filter ListFilter) ([]Solicitud, error)
	History(ctx context.Context, id uuid.UUID) ([]HistorialItem, error)
	Comments(ctx context.Context, id uuid.UUID) ([]Comment, error)
	AddComment(ctx context.Context, c Comment) error
}

// TxRepository exposes transactional mutations.
type TxRepository interface {
	Insert(ctx context.Context, sol Solicitud) error
	// UpdateStatus writes upd only if the stored status still equals upd.From.
	UpdateStatus(ctx context.Context, upd StatusUpdate) (bool, error)
	AppendHistory(ctx context.Context, item HistorialItem) error
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notification describes a lifecycle event to fan out to interested users.
type Notification struct {
	SolicitudID uuid.UUID
	CenterID    uuid.UUID
	CreatedBy   string
	ActorID     string
	// AssignedCenterID is set once a receiving center has taken the solicitud.
	AssignedCenterID *uuid.UUID
	EstadoAnterior   *Status
	EstadoNuevo      Status
}

// Notifier enqueues notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Observer receives transition outcomes for instrumentation.
type Observer interface {
	ObserveTransition(action, outcome string)
}

// StatusUpdate is an optimistic status write.
type StatusUpdate struct {
	ID               uuid.UUID
	From             Status
	To               Status
	GroupID          *uuid.UUID
	AssignedCenterID *uuid.UUID
	Observaciones    *string
	MotivoRechazo    *string
	At               time.Time
}

// ListFilter narrows List results.
type ListFilter struct {
	CenterID  *uuid.UUID
	Status    Status
	CreatedBy string
	Limit     int
	Offset    int
}

// CreateInput describes a new solicitud.
type CreateInput struct {
	Titulo      string
	Tipo        string
	Descripcion string
	CenterID    uuid.UUID
	CenterName  string
}

// TransitionInput carries the caller-supplied data for an action.
type TransitionInput struct {
	Comentario         string
	GroupID            *uuid.UUID
	AssignedCenterID   *uuid.UUID
	AssignedCenterName string
}

// Service orchestrates the solicitud workflow.
type Service struct {
	repo     RepositoryPort
	machine  *Machine
	audit    AuditPort
	notifier Notifier
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit    AuditPort
	Notifier Notifier
	Observer Observer
	Logger   *slog.Logger
}

// NewService constructs the solicitud service.
func NewService(repo RepositoryPort, machine *Machine, cfg ServiceConfig) *Service {
	return &Service{
		repo:     repo,
		machine:  machine,
		audit:    cfg.Audit,
		notifier: cfg.Notifier,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a solicitud in nuevo and writes the creation history entry.
func (s *Service) Create(ctx context.Context, id rbac.Identity, input CreateInput) (Solicitud, error) {
	actor := Actor{UserID: id.UserID, Name: id.Name, Role: id.Role, IsCreator: true}
	if err := s.machine.CanCreate(actor); err != nil {
		s.observe("crear", err)
		return Solicitud{}, err
	}
	input.Titulo = strings.TrimSpace(input.Titulo)
	input.Tipo = strings.TrimSpace(input.Tipo)
	if input.Titulo == "" || input.Tipo == "" || input.CenterID == uuid.Nil {
		return Solicitud{}, fmt.Errorf("%w: titulo, tipo and center are required", ErrValidation)
	}
	now := s.now()
	sol := Solicitud{
		ID:          uuid.New(),
		Titulo:      input.Titulo,
		Tipo:        input.Tipo,
		Descripcion: strings.TrimSpace(input.Descripcion),
		CenterID:    input.CenterID,
		CenterName:  input.CenterName,
		CreatedBy:   id.UserID,
		Status:      StatusNuevo,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	item := HistorialItem{
		ID:          uuid.New(),
		SolicitudID: sol.ID,
		EstadoNuevo: StatusNuevo,
		UserID:      id.UserID,
		UserName:    id.Name,
		UserRole:    id.Role,
		Comentario:  "Solicitud creada",
		Metadata:    centerMetadata(sol),
		CreatedAt:   now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, sol); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, item)
	})
	if err != nil {
		return Solicitud{}, err
	}
	s.observe("crear", nil)
	s.recordAudit(ctx, id.UserID, "SOLICITUD_CREATE", sol.ID, map[string]any{"titulo": sol.Titulo, "tipo": sol.Tipo})
	s.notify(ctx, Notification{SolicitudID: sol.ID, CenterID: sol.CenterID, CreatedBy: sol.CreatedBy, ActorID: id.UserID, EstadoNuevo: StatusNuevo})
	return sol, nil
}

// Apply performs action on the solicitud on behalf of id.
// Solicitudes id cannot see report ErrNotFound before any permission check.
func (s *Service) Apply(ctx context.Context, id rbac.Identity, solicitudID uuid.UUID, action Action, input TransitionInput) (Solicitud, error) {
	sol, err := s.Get(ctx, id, solicitudID)
	if err != nil {
		return Solicitud{}, err
	}
	actor := ActorFor(id, sol)
	next, err := s.machine.Transition(sol.Status, action, actor)
	if err != nil {
		s.observe(string(action), err)
		return Solicitud{}, err
	}
	input.Comentario = strings.TrimSpace(input.Comentario)
	if err := validateInput(action, input); err != nil {
		return Solicitud{}, err
	}

	now := s.now()
	upd := StatusUpdate{ID: sol.ID, From: sol.Status, To: next, At: now}
	switch action {
	case ActionRecibir:
		upd.AssignedCenterID = input.AssignedCenterID
	case ActionEnviarComite:
		upd.GroupID = input.GroupID
	case ActionObservar:
		upd.Observaciones = &input.Comentario
	case ActionRechazar:
		upd.MotivoRechazo = &input.Comentario
	}

	prev := sol.Status
	metadata := centerMetadata(sol)
	if input.AssignedCenterName != "" {
		metadata["assigned_to_center_name"] = input.AssignedCenterName
	}
	if input.GroupID != nil {
		metadata["group_id"] = input.GroupID.String()
	}
	item := HistorialItem{
		ID:             uuid.New(),
		SolicitudID:    sol.ID,
		EstadoAnterior: &prev,
		EstadoNuevo:    next,
		UserID:         id.UserID,
		UserName:       id.Name,
		UserRole:       id.Role,
		Comentario:     input.Comentario,
		Metadata:       metadata,
		CreatedAt:      now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.UpdateStatus(ctx, upd)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentUpdate
		}
		return tx.AppendHistory(ctx, item)
	})
	if err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			s.observe(string(action), err)
		}
		return Solicitud{}, err
	}
	s.observe(string(action), nil)

	sol.Status = next
	sol.UpdatedAt = now
	applyUpdate(&sol, upd, input)

	s.recordAudit(ctx, id.UserID, "SOLICITUD_"+strings.ToUpper(string(action)), sol.ID, map[string]any{
		"estado_anterior": string(prev),
		"estado_nuevo":    string(next),
	})
	s.notify(ctx, Notification{
		SolicitudID:      sol.ID,
		CenterID:         sol.CenterID,
		AssignedCenterID: sol.AssignedCenterID,
		CreatedBy:        sol.CreatedBy,
		ActorID:          id.UserID,
		EstadoAnterior:   &prev,
		EstadoNuevo:      next,
	})
	return sol, nil
}

// Get returns a solicitud visible to id.
func (s *Service) Get(ctx context.Context, id rbac.Identity, solicitudID uuid.UUID) (Solicitud, error) {
	sol, err := s.repo.Get(ctx, solicitudID)
	if err != nil {
		return Solicitud{}, err
	}
	if ownOnly(id) && sol.CreatedBy != id.UserID {
		return Solicitud{}, ErrNotFound
	}
	return sol, nil
}

// List returns solicitudes matching filter; funcionarios only see their own.
func (s *Service) List(ctx context.Context, id rbac.Identity, filter ListFilter) ([]Solicitud, error) {
	if ownOnly(id) {
		filter.CreatedBy = id.UserID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

// History returns the ordered transition log of a visible solicitud.
func (s *Service) History(ctx context.Context, id rbac.Identity, solicitudID uuid.UUID) ([]HistorialItem, error) {
	if _, err := s.Get(ctx, id, solicitudID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, solicitudID)
}

// Available lists actions id may perform on the solicitud right now.
func (s *Service) Available(id rbac.Identity, sol Solicitud) []Action {
	return s.machine.Available(sol.Status, ActorFor(id, sol))
}

func validateInput(action Action, input TransitionInput) error {
	switch action {
	case ActionRechazar, ActionCancelar:
		if input.Comentario == "" {
			return fmt.Errorf("%w: a reason is required to %s", ErrValidation, action)
		}
	case ActionObservar:
		if input.Comentario == "" {
			return fmt.Errorf("%w: observaciones are required", ErrValidation)
		}
	case ActionEnviarComite:
		if input.GroupID == nil || *input.GroupID == uuid.Nil {
			return fmt.Errorf("%w: committee group is required", ErrValidation)
		}
	}
	return nil
}

func applyUpdate(sol *Solicitud, upd StatusUpdate, input TransitionInput) {
	if upd.GroupID != nil {
		sol.GroupID = upd.GroupID
	}
	if upd.AssignedCenterID != nil {
		sol.AssignedCenterID = upd.AssignedCenterID
		sol.AssignedCenterName = input.AssignedCenterName
	}
	if upd.Observaciones != nil {
		sol.Observaciones = *upd.Observaciones
	}
	if upd.MotivoRechazo != nil {
		sol.MotivoRechazo = *upd.MotivoRechazo
	}
}

func ownOnly(id rbac.Identity) bool {
	return id.Role == rbac.RoleFuncionario
}

func centerMetadata(sol Solicitud) map[string]any {
	meta := map[string]any{}
	if sol.CenterName != "" {
		meta["center_name"] = sol.CenterName
	}
	return meta
}

func (s *Service) observe(action string, err error) {
	if s.observer == nil {
		return
	}
	outcome := "ok"
	var terr *TransitionError
	switch {
	case err == nil:
	case errors.As(err, &terr):
		outcome = terr.Kind.String()
	case errors.Is(err, ErrConcurrentUpdate):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	s.observer.ObserveTransition(action, outcome)
}

func (s *Service) recordAudit(ctx context.Context, actorID, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "solicitud",
		EntityID: entityID.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit solicitud", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil && s.logger != nil {
		s.logger.Warn("enqueue solicitud notification",
			slog.String("solicitud", n.SolicitudID.String()),
			slog.Any("error", err))
	}
}
