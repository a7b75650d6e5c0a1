package solicitudes

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/siep/siep/internal/rbac"
	"github.com/siep/siep/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	items     map[uuid.UUID]Solicitud
	history   []HistorialItem
	comments  []Comment
	failWrite bool
	// stale forces the next UpdateStatus to lose the compare-and-set.
	stale bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[uuid.UUID]Solicitud)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{items: make(map[uuid.UUID]Solicitud), repo: m}
	for k, v := range m.items {
		tx.items[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.items = tx.items
	m.history = append(m.history, tx.history...)
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (Solicitud, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sol, ok := m.items[id]
	if !ok {
		return Solicitud{}, ErrNotFound
	}
	return sol, nil
}

func (m *memoryRepo) List(_ context.Context, filter ListFilter) ([]Solicitud, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Solicitud
	for _, sol := range m.items {
		if filter.CreatedBy != "" && sol.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.Status != "" && sol.Status != filter.Status {
			continue
		}
		if filter.CenterID != nil && sol.CenterID != *filter.CenterID {
			continue
		}
		out = append(out, sol)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Titulo < out[j].Titulo })
	return out, nil
}

func (m *memoryRepo) History(_ context.Context, id uuid.UUID) ([]HistorialItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistorialItem
	for _, item := range m.history {
		if item.SolicitudID == id {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memoryRepo) Comments(_ context.Context, id uuid.UUID) ([]Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Comment
	for _, c := range m.comments {
		if c.SolicitudID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryRepo) AddComment(_ context.Context, c Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments = append(m.comments, c)
	return nil
}

type memoryTx struct {
	repo    *memoryRepo
	items   map[uuid.UUID]Solicitud
	history []HistorialItem
}

func (t *memoryTx) Insert(_ context.Context, sol Solicitud) error {
	t.items[sol.ID] = sol
	return nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, upd StatusUpdate) (bool, error) {
	if t.repo.stale {
		t.repo.stale = false
		return false, nil
	}
	sol, ok := t.items[upd.ID]
	if !ok || sol.Status != upd.From {
		return false, nil
	}
	sol.Status = upd.To
	sol.UpdatedAt = upd.At
	if upd.GroupID != nil {
		sol.GroupID = upd.GroupID
	}
	if upd.Observaciones != nil {
		sol.Observaciones = *upd.Observaciones
	}
	if upd.MotivoRechazo != nil {
		sol.MotivoRechazo = *upd.MotivoRechazo
	}
	t.items[upd.ID] = sol
	return true, nil
}

func (t *memoryTx) AppendHistory(_ context.Context, item HistorialItem) error {
	if t.repo.failWrite {
		return errors.New("disk full")
	}
	t.history = append(t.history, item)
	return nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type countingObserver struct {
	outcomes map[string]int
}

func (o *countingObserver) ObserveTransition(action, outcome string) {
	o.outcomes[action+"/"+outcome]++
}

type fixture struct {
	svc      *Service
	repo     *memoryRepo
	audit    *recordingAudit
	observer *countingObserver
	notes    []Notification
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemoryRepo(),
		audit:    &recordingAudit{},
		observer: &countingObserver{outcomes: map[string]int{}},
	}
	f.svc = NewService(f.repo, NewMachine(rbac.DefaultMatrix()), ServiceConfig{
		Audit:    f.audit,
		Observer: f.observer,
		Notifier: NotifierFunc(func(_ context.Context, n Notification) error {
			f.notes = append(f.notes, n)
			return nil
		}),
	})
	clock := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return f
}

var (
	funcionario = rbac.Identity{UserID: "u-func", Name: "Ana", Role: rbac.RoleFuncionario}
	otroFunc    = rbac.Identity{UserID: "u-func-2", Name: "Luis", Role: rbac.RoleFuncionario}
	coordinador = rbac.Identity{UserID: "u-coord", Name: "Marta", Role: rbac.RoleCoordinadorCentro}
	director    = rbac.Identity{UserID: "u-dir", Name: "Jorge", Role: rbac.RoleDirectorCentro}
	consulta    = rbac.Identity{UserID: "u-cons", Name: "Eva", Role: rbac.RoleConsulta}
)

func (f *fixture) create(t *testing.T, id rbac.Identity) Solicitud {
	t.Helper()
	sol, err := f.svc.Create(context.Background(), id, CreateInput{
		Titulo:     "Equipamiento laboratorio",
		Tipo:       "compra",
		CenterID:   uuid.New(),
		CenterName: "Centro Norte",
	})
	require.NoError(t, err)
	return sol
}

func TestCreateWritesCreationHistory(t *testing.T) {
	f := newFixture(t)
	sol := f.create(t, funcionario)
	require.Equal(t, StatusNuevo, sol.Status)
	require.Equal(t, funcionario.UserID, sol.CreatedBy)

	items, err := f.svc.History(context.Background(), funcionario, sol.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Nil(t, items[0].EstadoAnterior)
	require.Equal(t, StatusNuevo, items[0].EstadoNuevo)
	require.Equal(t, "Centro Norte", items[0].Metadata["center_name"])
	require.Len(t, f.audit.logs, 1)
	require.Equal(t, "SOLICITUD_CREATE", f.audit.logs[0].Action)
	require.Len(t, f.notes, 1)
}

func TestCreateRequiresWritePermission(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), consulta, CreateInput{Titulo: "x", Tipo: "y", CenterID: uuid.New()})
	require.ErrorIs(t, err, ErrUnauthorizedAction)

	_, err = f.svc.Create(context.Background(), funcionario, CreateInput{Titulo: " ", Tipo: "y", CenterID: uuid.New()})
	require.ErrorIs(t, err, ErrValidation)
}

func TestFullLifecycleProducesReplayableHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sol := f.create(t, funcionario)
	group := uuid.New()

	steps := []struct {
		who    rbac.Identity
		action Action
		input  TransitionInput
		want   Status
	}{
		{director, ActionRecibir, TransitionInput{}, StatusRecibido},
		{director, ActionEnviarComite, TransitionInput{GroupID: &group}, StatusEnComite},
		{director, ActionObservar, TransitionInput{Comentario: "falta presupuesto"}, StatusObservado},
		{director, ActionDevolver, TransitionInput{}, StatusNuevo},
		{director, ActionRecibir, TransitionInput{}, StatusRecibido},
		{director, ActionEnviarComite, TransitionInput{GroupID: &group}, StatusEnComite},
		{director, ActionAprobar, TransitionInput{Comentario: "ok"}, StatusAprobado},
	}
	for _, step := range steps {
		updated, err := f.svc.Apply(ctx, step.who, sol.ID, step.action, step.input)
		require.NoError(t, err, step.action)
		require.Equal(t, step.want, updated.Status)
	}

	items, err := f.svc.History(ctx, director, sol.ID)
	require.NoError(t, err)
	require.Len(t, items, len(steps)+1)
	require.NoError(t, ValidateHistory(items))
	require.Equal(t, rbac.RoleDirectorCentro, items[len(items)-1].UserRole)

	stored, err := f.repo.Get(ctx, sol.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAprobado, stored.Status)
	require.Equal(t, &group, stored.GroupID)
	require.Equal(t, "falta presupuesto", stored.Observaciones)

	_, err = f.svc.Apply(ctx, director, sol.ID, ActionRechazar, TransitionInput{Comentario: "tarde"})
	require.ErrorIs(t, err, ErrTerminalState)
	require.Equal(t, 1, f.observer.outcomes["rechazar/terminal_state"])
}

func TestApplyRejectionsLeaveStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sol := f.create(t, funcionario)

	_, err := f.svc.Apply(ctx, director, sol.ID, ActionAprobar, TransitionInput{})
	require.ErrorIs(t, err, ErrIllegalTransition)

	_, err = f.svc.Apply(ctx, otroFunc, sol.ID, ActionCancelar, TransitionInput{Comentario: "no"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Apply(ctx, consulta, sol.ID, ActionRecibir, TransitionInput{})
	require.ErrorIs(t, err, ErrUnauthorizedAction)

	_, err = f.svc.Apply(ctx, coordinador, sol.ID, ActionRecibir, TransitionInput{})
	require.ErrorIs(t, err, ErrUnauthorizedAction)

	stored, err := f.repo.Get(ctx, sol.ID)
	require.NoError(t, err)
	require.Equal(t, StatusNuevo, stored.Status)
	items, err := f.repo.History(ctx, sol.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestApplyValidatesReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sol := f.create(t, funcionario)

	_, err := f.svc.Apply(ctx, funcionario, sol.ID, ActionCancelar, TransitionInput{Comentario: "  "})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.Apply(ctx, director, sol.ID, ActionRechazar, TransitionInput{})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Apply(ctx, director, sol.ID, ActionRecibir, TransitionInput{})
	require.NoError(t, err)
	_, err = f.svc.Apply(ctx, director, sol.ID, ActionEnviarComite, TransitionInput{})
	require.ErrorIs(t, err, ErrValidation)

	cancelled, err := f.svc.Apply(ctx, funcionario, sol.ID, ActionCancelar, TransitionInput{Comentario: "duplicada"})
	require.NoError(t, err)
	require.Equal(t, StatusCancelado, cancelled.Status)
}

func TestApplyDetectsConcurrentUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sol := f.create(t, funcionario)

	f.repo.stale = true
	_, err := f.svc.Apply(ctx, director, sol.ID, ActionRecibir, TransitionInput{})
	require.ErrorIs(t, err, ErrConcurrentUpdate)
	require.Equal(t, 1, f.observer.outcomes["recibir/conflict"])

	items, err := f.repo.History(ctx, sol.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestApplyRollsBackOnHistoryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sol := f.create(t, funcionario)

	f.repo.failWrite = true
	_, err := f.svc.Apply(ctx, director, sol.ID, ActionRecibir, TransitionInput{})
	require.Error(t, err)

	stored, err := f.repo.Get(ctx, sol.ID)
	require.NoError(t, err)
	require.Equal(t, StatusNuevo, stored.Status)
}

func TestFuncionarioSeesOnlyOwnSolicitudes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.create(t, funcionario)
	theirs := f.create(t, otroFunc)

	items, err := f.svc.List(ctx, funcionario, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, mine.ID, items[0].ID)

	_, err = f.svc.Get(ctx, funcionario, theirs.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.History(ctx, funcionario, theirs.ID)
	require.ErrorIs(t, err, ErrNotFound)

	items, err = f.svc.List(ctx, director, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	_, err = f.svc.List(ctx, director, ListFilter{Status: Status("archivado")})
	require.ErrorIs(t, err, ErrValidation)
}

func TestApplyHidesOtherUsersSolicitudes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	theirs := f.create(t, otroFunc)
	sent := len(f.notes)

	_, err := f.svc.Apply(ctx, funcionario, theirs.ID, ActionRecibir, TransitionInput{})
	require.ErrorIs(t, err, ErrNotFound)

	got, err := f.svc.Get(ctx, director, theirs.ID)
	require.NoError(t, err)
	require.Equal(t, StatusNuevo, got.Status)
	items, err := f.repo.History(ctx, theirs.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Len(t, f.notes, sent)
}

func TestCommentsRestrictedToCreatorAndAdministrador(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := rbac.Identity{UserID: "u-admin", Name: "Root", Role: rbac.RoleAdministrador}
	sol := f.create(t, funcionario)

	c, err := f.svc.AddComment(ctx, funcionario, sol.ID, CommentInput{Texto: "  adjunto factura  "})
	require.NoError(t, err)
	require.Equal(t, "adjunto factura", c.Texto)
	require.Equal(t, CommentAclaracion, c.Tipo)
	require.Equal(t, "Ana", c.UserName)

	_, err = f.svc.AddComment(ctx, admin, sol.ID, CommentInput{Texto: "revisado", Tipo: CommentRevision})
	require.NoError(t, err)

	items, err := f.svc.Comments(ctx, funcionario, sol.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, CommentRevision, items[1].Tipo)

	_, err = f.svc.Comments(ctx, director, sol.ID)
	require.ErrorIs(t, err, ErrUnauthorizedAction)
	_, err = f.svc.AddComment(ctx, director, sol.ID, CommentInput{Texto: "x"})
	require.ErrorIs(t, err, ErrUnauthorizedAction)
	_, err = f.svc.Comments(ctx, otroFunc, sol.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.AddComment(ctx, funcionario, sol.ID, CommentInput{Texto: " "})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.AddComment(ctx, funcionario, sol.ID, CommentInput{Texto: "x", Tipo: "felicitacion"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.AddComment(ctx, funcionario, uuid.New(), CommentInput{Texto: "x"})
	require.ErrorIs(t, err, ErrNotFound)

	require.Len(t, f.repo.comments, 2)
	require.Equal(t, "SOLICITUD_COMMENT", f.audit.logs[len(f.audit.logs)-1].Action)
}

func TestAvailableReflectsActor(t *testing.T) {
	f := newFixture(t)
	sol := f.create(t, funcionario)
	require.Equal(t, []Action{ActionRecibir, ActionCancelar}, f.svc.Available(funcionario, sol))
	require.Equal(t, []Action{ActionRecibir}, f.svc.Available(otroFunc, sol))
	require.Equal(t, []Action{ActionRecibir, ActionRechazar}, f.svc.Available(director, sol))
	require.Empty(t, f.svc.Available(consulta, sol))
}
