package solicitudes

import (
	"fmt"
	"sort"

	"github.com/siep/siep/internal/rbac"
)

type rule struct {
	from        []Status
	to          Status
	level       rbac.Level
	creatorOnly bool
}

func (r rule) allows(current Status) bool {
	for _, s := range r.from {
		if s == current {
			return true
		}
	}
	return false
}

var openStatuses = []Status{StatusNuevo, StatusRecibido, StatusEnComite, StatusObservado}

var transitions = map[Action]rule{
	ActionRecibir:      {from: []Status{StatusNuevo}, to: StatusRecibido, level: rbac.LevelWrite},
	ActionEnviarComite: {from: []Status{StatusRecibido}, to: StatusEnComite, level: rbac.LevelWrite},
	ActionAprobar:      {from: []Status{StatusEnComite}, to: StatusAprobado, level: rbac.LevelAdmin},
	ActionObservar:     {from: []Status{StatusEnComite}, to: StatusObservado, level: rbac.LevelWrite},
	ActionDevolver:     {from: []Status{StatusObservado}, to: StatusNuevo, level: rbac.LevelWrite},
	ActionRechazar:     {from: openStatuses, to: StatusRechazado, level: rbac.LevelAdmin},
	ActionCancelar:     {from: openStatuses, to: StatusCancelado, level: rbac.LevelWrite, creatorOnly: true},
}

// Machine validates solicitud transitions against a permission matrix.
// It holds no mutable state and is safe for concurrent use.
type Machine struct {
	matrix rbac.Matrix
}

// NewMachine returns a Machine that authorises actors with matrix.
func NewMachine(matrix rbac.Matrix) *Machine {
	return &Machine{matrix: matrix}
}

// Transition returns the status reached by applying action to current on
// behalf of actor, or a *TransitionError describing the rejection.
func (m *Machine) Transition(current Status, action Action, actor Actor) (Status, error) {
	if current.Terminal() {
		return current, &TransitionError{Kind: KindTerminalState, From: current, Action: action, Role: actor.Role}
	}
	r, ok := transitions[action]
	if !ok || !r.allows(current) {
		return current, &TransitionError{Kind: KindIllegalTransition, From: current, Action: action, Role: actor.Role}
	}
	if !m.matrix.HasPermissionForRole(actor.Role, rbac.ResourceSolicitudes, r.level) {
		return current, &TransitionError{Kind: KindUnauthorized, From: current, Action: action, Role: actor.Role}
	}
	if r.creatorOnly && !actor.IsCreator {
		return current, &TransitionError{Kind: KindUnauthorized, From: current, Action: action, Role: actor.Role}
	}
	return r.to, nil
}

// TransitionTo is Transition addressed by target status instead of action.
func (m *Machine) TransitionTo(current, target Status, actor Actor) (Status, error) {
	if current.Terminal() {
		return current, &TransitionError{Kind: KindTerminalState, From: current, Role: actor.Role}
	}
	action, ok := ActionBetween(current, target)
	if !ok {
		return current, &TransitionError{Kind: KindIllegalTransition, From: current, Role: actor.Role}
	}
	return m.Transition(current, action, actor)
}

// CanCreate reports whether actor may open a new solicitud.
func (m *Machine) CanCreate(actor Actor) error {
	if !m.matrix.HasPermissionForRole(actor.Role, rbac.ResourceSolicitudes, rbac.LevelWrite) {
		return &TransitionError{Kind: KindUnauthorized, Role: actor.Role}
	}
	return nil
}

// Available lists the actions actor may apply from current, in table order.
func (m *Machine) Available(current Status, actor Actor) []Action {
	var out []Action
	for _, a := range Actions() {
		if _, err := m.Transition(current, a, actor); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// Targets lists the statuses reachable from current in one step, ignoring
// permissions.
func Targets(current Status) []Status {
	if current.Terminal() {
		return nil
	}
	seen := make(map[Status]struct{})
	for _, r := range transitions {
		if r.allows(current) {
			seen[r.to] = struct{}{}
		}
	}
	out := make([]Status, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return statusRank(out[i]) < statusRank(out[j]) })
	return out
}

// ActionBetween finds the action that moves current to target.
func ActionBetween(current, target Status) (Action, bool) {
	for _, a := range Actions() {
		r := transitions[a]
		if r.to == target && r.allows(current) {
			return a, true
		}
	}
	return "", false
}

// ValidateHistory checks that items, ordered by CreatedAt, replay a legal
// path starting with the creation event.
func ValidateHistory(items []HistorialItem) error {
	if len(items) == 0 {
		return nil
	}
	ordered := append([]HistorialItem(nil), items...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })

	first := ordered[0]
	if first.EstadoAnterior != nil || first.EstadoNuevo != StatusNuevo {
		return fmt.Errorf("%w: first entry must be the creation event", ErrInvalidHistory)
	}
	prev := first.EstadoNuevo
	for i, item := range ordered[1:] {
		if item.EstadoAnterior == nil {
			return fmt.Errorf("%w: entry %d has no previous status", ErrInvalidHistory, i+1)
		}
		if *item.EstadoAnterior != prev {
			return fmt.Errorf("%w: entry %d starts at %s, expected %s", ErrInvalidHistory, i+1, *item.EstadoAnterior, prev)
		}
		if prev.Terminal() {
			return fmt.Errorf("%w: entry %d leaves terminal status %s", ErrInvalidHistory, i+1, prev)
		}
		if _, ok := ActionBetween(prev, item.EstadoNuevo); !ok {
			return fmt.Errorf("%w: entry %d %s -> %s", ErrInvalidHistory, i+1, prev, item.EstadoNuevo)
		}
		prev = item.EstadoNuevo
	}
	return nil
}

func statusRank(s Status) int {
	for i, c := range Statuses() {
		if c == s {
			return i
		}
	}
	return len(Statuses())
}
