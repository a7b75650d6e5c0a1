package solicitudes

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siep/siep/internal/rbac"
)

func newMachine() *Machine {
	return NewMachine(rbac.DefaultMatrix())
}

func admin() Actor {
	return Actor{UserID: "u-admin", Role: rbac.RoleAdministrador}
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var terr *TransitionError
	require.True(t, errors.As(err, &terr), "expected TransitionError, got %v", err)
	require.Equal(t, kind, terr.Kind)
}

func TestTargetsFromNuevo(t *testing.T) {
	require.Equal(t, []Status{StatusRecibido, StatusRechazado, StatusCancelado}, Targets(StatusNuevo))
	require.Equal(t, []Status{StatusEnComite, StatusRechazado, StatusCancelado}, Targets(StatusRecibido))
	require.Equal(t, []Status{StatusObservado, StatusAprobado, StatusRechazado, StatusCancelado}, Targets(StatusEnComite))
	require.Equal(t, []Status{StatusNuevo, StatusRechazado, StatusCancelado}, Targets(StatusObservado))
}

func TestNuevoToAprobadoIsIllegal(t *testing.T) {
	m := newMachine()
	next, err := m.TransitionTo(StatusNuevo, StatusAprobado, admin())
	require.Equal(t, StatusNuevo, next)
	requireKind(t, err, KindIllegalTransition)
	require.ErrorIs(t, err, ErrIllegalTransition)

	_, err = m.Transition(StatusNuevo, ActionAprobar, admin())
	requireKind(t, err, KindIllegalTransition)
}

func TestTerminalStatesRejectEveryAction(t *testing.T) {
	m := newMachine()
	creator := admin()
	creator.IsCreator = true
	for _, s := range []Status{StatusAprobado, StatusRechazado, StatusCancelado} {
		require.Empty(t, Targets(s))
		require.Empty(t, m.Available(s, creator))
		for _, a := range Actions() {
			next, err := m.Transition(s, a, creator)
			require.Equal(t, s, next)
			requireKind(t, err, KindTerminalState)
			require.ErrorIs(t, err, ErrTerminalState)
		}
		for _, target := range Statuses() {
			_, err := m.TransitionTo(s, target, creator)
			requireKind(t, err, KindTerminalState)
		}
	}
}

func TestUnknownActionIsIllegal(t *testing.T) {
	_, err := newMachine().Transition(StatusNuevo, Action("archivar"), admin())
	requireKind(t, err, KindIllegalTransition)
}

func TestLegalPathThroughObservation(t *testing.T) {
	m := newMachine()
	actor := admin()
	path := []Status{StatusObservado, StatusNuevo, StatusRecibido, StatusEnComite, StatusAprobado}

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	history := []HistorialItem{{EstadoNuevo: StatusNuevo, CreatedAt: start}}
	for i := 0; i+1 < len(path); i++ {
		next, err := m.TransitionTo(path[i], path[i+1], actor)
		require.NoError(t, err)
		require.Equal(t, path[i+1], next)
		from := path[i]
		history = append(history, HistorialItem{EstadoAnterior: &from, EstadoNuevo: next})
	}
	require.Len(t, history, 5)
	require.Nil(t, history[0].EstadoAnterior)
	for i, item := range history[1:] {
		require.Equal(t, path[i], *item.EstadoAnterior)
		require.Equal(t, path[i+1], item.EstadoNuevo)
	}
}

func TestCoordinadorCannotApprove(t *testing.T) {
	m := newMachine()
	next, err := m.Transition(StatusEnComite, ActionAprobar, Actor{UserID: "u1", Role: rbac.RoleCoordinadorCentro})
	require.Equal(t, StatusEnComite, next)
	requireKind(t, err, KindUnauthorized)
	require.ErrorIs(t, err, ErrUnauthorizedAction)

	next, err = m.Transition(StatusEnComite, ActionAprobar, Actor{UserID: "u2", Role: rbac.RoleDirectorCentro})
	require.NoError(t, err)
	require.Equal(t, StatusAprobado, next)
}

func TestOnlyCreatorMayCancel(t *testing.T) {
	m := newMachine()
	other := Actor{UserID: "u2", Role: rbac.RoleFuncionario}
	_, err := m.Transition(StatusNuevo, ActionCancelar, other)
	requireKind(t, err, KindUnauthorized)

	owner := Actor{UserID: "u1", Role: rbac.RoleFuncionario, IsCreator: true}
	next, err := m.Transition(StatusNuevo, ActionCancelar, owner)
	require.NoError(t, err)
	require.Equal(t, StatusCancelado, next)
}

func TestConsultaCannotWrite(t *testing.T) {
	m := newMachine()
	viewer := Actor{UserID: "u3", Role: rbac.RoleConsulta, IsCreator: true}
	_, err := m.Transition(StatusNuevo, ActionRecibir, viewer)
	requireKind(t, err, KindUnauthorized)
	require.Error(t, m.CanCreate(viewer))
	require.NoError(t, m.CanCreate(Actor{Role: rbac.RoleFuncionario}))
	require.Empty(t, m.Available(StatusNuevo, viewer))
}

func TestRejectionPrecedence(t *testing.T) {
	m := newMachine()
	// an illegal edge is reported before the missing permission
	_, err := m.Transition(StatusNuevo, ActionAprobar, Actor{UserID: "u", Role: rbac.RoleConsulta})
	requireKind(t, err, KindIllegalTransition)
	// an unknown role has no permissions at all
	_, err = m.Transition(StatusNuevo, ActionRecibir, Actor{UserID: "u", Role: rbac.Role("jefe_de_area")})
	requireKind(t, err, KindUnauthorized)
}

func TestAvailableActions(t *testing.T) {
	m := newMachine()
	director := Actor{UserID: "d", Role: rbac.RoleDirectorCentro}
	require.Equal(t, []Action{ActionAprobar, ActionObservar, ActionRechazar}, m.Available(StatusEnComite, director))

	owner := Actor{UserID: "f", Role: rbac.RoleFuncionario, IsCreator: true}
	require.Equal(t, []Action{ActionRecibir, ActionCancelar}, m.Available(StatusNuevo, owner))
}

func TestValidateHistory(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	st := func(s Status) *Status { return &s }
	valid := []HistorialItem{
		{EstadoAnterior: st(StatusRecibido), EstadoNuevo: StatusEnComite, CreatedAt: base.Add(2 * time.Minute)},
		{EstadoNuevo: StatusNuevo, CreatedAt: base},
		{EstadoAnterior: st(StatusNuevo), EstadoNuevo: StatusRecibido, CreatedAt: base.Add(time.Minute)},
		{EstadoAnterior: st(StatusEnComite), EstadoNuevo: StatusObservado, CreatedAt: base.Add(3 * time.Minute)},
		{EstadoAnterior: st(StatusObservado), EstadoNuevo: StatusNuevo, CreatedAt: base.Add(4 * time.Minute)},
	}
	require.NoError(t, ValidateHistory(valid))
	require.NoError(t, ValidateHistory(nil))

	skip := []HistorialItem{
		{EstadoNuevo: StatusNuevo, CreatedAt: base},
		{EstadoAnterior: st(StatusNuevo), EstadoNuevo: StatusAprobado, CreatedAt: base.Add(time.Minute)},
	}
	require.ErrorIs(t, ValidateHistory(skip), ErrInvalidHistory)

	gap := []HistorialItem{
		{EstadoNuevo: StatusNuevo, CreatedAt: base},
		{EstadoAnterior: st(StatusRecibido), EstadoNuevo: StatusEnComite, CreatedAt: base.Add(time.Minute)},
	}
	require.ErrorIs(t, ValidateHistory(gap), ErrInvalidHistory)

	afterTerminal := []HistorialItem{
		{EstadoNuevo: StatusNuevo, CreatedAt: base},
		{EstadoAnterior: st(StatusNuevo), EstadoNuevo: StatusCancelado, CreatedAt: base.Add(time.Minute)},
		{EstadoAnterior: st(StatusCancelado), EstadoNuevo: StatusNuevo, CreatedAt: base.Add(2 * time.Minute)},
	}
	require.ErrorIs(t, ValidateHistory(afterTerminal), ErrInvalidHistory)

	noCreation := []HistorialItem{
		{EstadoAnterior: st(StatusNuevo), EstadoNuevo: StatusRecibido, CreatedAt: base},
	}
	require.ErrorIs(t, ValidateHistory(noCreation), ErrInvalidHistory)
}
