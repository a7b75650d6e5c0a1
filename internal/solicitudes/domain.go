package solicitudes

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/siep/siep/internal/rbac"
)

// Status is the lifecycle state of a solicitud.
type Status string

const (
	StatusNuevo     Status = "nuevo"
	StatusRecibido  Status = "recibido"
	StatusEnComite  Status = "en_comite"
	StatusObservado Status = "observado"
	StatusAprobado  Status = "aprobado"
	StatusRechazado Status = "rechazado"
	StatusCancelado Status = "cancelado"
)

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusNuevo,
		StatusRecibido,
		StatusEnComite,
		StatusObservado,
		StatusAprobado,
		StatusRechazado,
		StatusCancelado,
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, c := range Statuses() {
		if s == c {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusAprobado || s == StatusRechazado || s == StatusCancelado
}

// Label returns the display label used in notifications and timelines.
func (s Status) Label() string {
	switch s {
	case StatusNuevo:
		return "Nuevo"
	case StatusRecibido:
		return "Recibido"
	case StatusEnComite:
		return "En Comité"
	case StatusObservado:
		return "Observado"
	case StatusAprobado:
		return "Aprobado"
	case StatusRechazado:
		return "Rechazado"
	case StatusCancelado:
		return "Cancelado"
	}
	return string(s)
}

// Action names a state change requested on a solicitud.
type Action string

const (
	ActionRecibir      Action = "recibir"
	ActionEnviarComite Action = "enviar_comite"
	ActionAprobar      Action = "aprobar"
	ActionObservar     Action = "observar"
	ActionDevolver     Action = "devolver"
	ActionRechazar     Action = "rechazar"
	ActionCancelar     Action = "cancelar"
)

// Actions returns every action.
func Actions() []Action {
	return []Action{
		ActionRecibir,
		ActionEnviarComite,
		ActionAprobar,
		ActionObservar,
		ActionDevolver,
		ActionRechazar,
		ActionCancelar,
	}
}

// Solicitud is a request routed through a center's review workflow.
type Solicitud struct {
	ID                 uuid.UUID  `json:"id"`
	Titulo             string     `json:"titulo"`
	Tipo               string     `json:"tipo"`
	Descripcion        string     `json:"descripcion,omitempty"`
	CenterID           uuid.UUID  `json:"center_id"`
	CenterName         string     `json:"center_name,omitempty"`
	CreatedBy          string     `json:"created_by"`
	Status             Status     `json:"status"`
	GroupID            *uuid.UUID `json:"group_id,omitempty"`
	AssignedCenterID   *uuid.UUID `json:"assigned_to_center_id,omitempty"`
	AssignedCenterName string     `json:"assigned_to_center_name,omitempty"`
	Observaciones      string     `json:"observaciones,omitempty"`
	MotivoRechazo      string     `json:"motivo_rechazo,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HistorialItem is an immutable record of one transition. EstadoAnterior is
// nil only for the creation event.
type HistorialItem struct {
	ID             uuid.UUID      `json:"id"`
	SolicitudID    uuid.UUID      `json:"solicitud_id"`
	EstadoAnterior *Status        `json:"estado_anterior"`
	EstadoNuevo    Status         `json:"estado_nuevo"`
	UserID         string         `json:"user_id"`
	UserName       string         `json:"user_name,omitempty"`
	UserRole       rbac.Role      `json:"user_role"`
	Comentario     string         `json:"comentario,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Actor is the identity attempting a transition, bound to one solicitud.
type Actor struct {
	UserID    string
	Name      string
	Role      rbac.Role
	IsCreator bool
}

// ActorFor binds identity to sol.
func ActorFor(id rbac.Identity, sol Solicitud) Actor {
	return Actor{
		UserID:    id.UserID,
		Name:      id.Name,
		Role:      id.Role,
		IsCreator: id.UserID != "" && id.UserID == sol.CreatedBy,
	}
}

var (
	// ErrUnauthorizedAction indicates the actor lacks the required permission.
	ErrUnauthorizedAction = errors.New("solicitudes: insufficient permissions")
	// ErrIllegalTransition indicates the requested change is not in the transition table.
	ErrIllegalTransition = errors.New("solicitudes: this request cannot change to that state from its current state")
	// ErrTerminalState indicates the solicitud is already aprobado, rechazado or cancelado.
	ErrTerminalState = errors.New("solicitudes: request is in a terminal state")
	// ErrNotFound indicates the solicitud does not exist or is not visible.
	ErrNotFound = errors.New("solicitudes: not found")
	// ErrValidation indicates invalid caller input.
	ErrValidation = errors.New("solicitudes: invalid input")
	// ErrConcurrentUpdate indicates the stored status changed since it was read.
	ErrConcurrentUpdate = errors.New("solicitudes: status changed concurrently")
	// ErrInvalidHistory indicates a history that does not replay through the machine.
	ErrInvalidHistory = errors.New("solicitudes: invalid history")
)

// ErrorKind classifies a rejected transition.
type ErrorKind int

const (
	KindIllegalTransition ErrorKind = iota + 1
	KindUnauthorized
	KindTerminalState
)

func (k ErrorKind) String() string {
	switch k {
	case KindIllegalTransition:
		return "illegal_transition"
	case KindUnauthorized:
		return "unauthorized"
	case KindTerminalState:
		return "terminal_state"
	}
	return "unknown"
}

// TransitionError reports why Machine.Transition rejected a request.
type TransitionError struct {
	Kind   ErrorKind
	From   Status
	Action Action
	Role   rbac.Role
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s (from=%s action=%s role=%s)", e.Unwrap().Error(), e.From, e.Action, e.Role)
}

// Unwrap maps the kind onto its sentinel so errors.Is works.
func (e *TransitionError) Unwrap() error {
	switch e.Kind {
	case KindUnauthorized:
		return ErrUnauthorizedAction
	case KindTerminalState:
		return ErrTerminalState
	default:
		return ErrIllegalTransition
	}
}
