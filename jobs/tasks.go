package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/siep/siep/internal/jobs"
	"github.com/siep/siep/internal/shared"
	"github.com/siep/siep/internal/solicitudes"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSolicitudNotify fans a solicitud lifecycle event out to users.
	TaskSolicitudNotify = "solicitud:notify"
)

// NotifyPayload describes a solicitud lifecycle event.
type NotifyPayload struct {
	SolicitudID    uuid.UUID `json:"solicitud_id"`
	CenterID       uuid.UUID `json:"center_id"`
	CreatedBy      string    `json:"created_by"`
	ActorID        string    `json:"actor_id"`
	EstadoAnterior string    `json:"estado_anterior,omitempty"`
	EstadoNuevo    string    `json:"estado_nuevo"`
}

// PayloadFromNotification converts a service notification into a task payload.
// The receiving center's group is notified once one is assigned.
func PayloadFromNotification(n solicitudes.Notification) NotifyPayload {
	p := NotifyPayload{
		SolicitudID: n.SolicitudID,
		CenterID:    n.CenterID,
		CreatedBy:   n.CreatedBy,
		ActorID:     n.ActorID,
		EstadoNuevo: string(n.EstadoNuevo),
	}
	if n.AssignedCenterID != nil {
		p.CenterID = *n.AssignedCenterID
	}
	if n.EstadoAnterior != nil {
		p.EstadoAnterior = string(*n.EstadoAnterior)
	}
	return p
}

// NewSolicitudNotifyTask constructs an Asynq task.
func NewSolicitudNotifyTask(payload NotifyPayload) (*asynq.Task, error) {
	if payload.SolicitudID == uuid.Nil {
		return nil, errors.New("jobs: solicitud id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSolicitudNotify, data, asynq.MaxRetry(5)), nil
}

// Notification is one row in the notifications table.
type Notification struct {
	UserID  string
	Type    string
	Title   string
	Message string
	Link    string
}

// SolicitudSummary is the minimum solicitud data a message needs.
type SolicitudSummary struct {
	Titulo     string
	CenterName string
}

// NotificationStore resolves recipients and persists notifications.
type NotificationStore interface {
	GroupMembers(ctx context.Context, centerID uuid.UUID) ([]string, error)
	Summary(ctx context.Context, solicitudID uuid.UUID) (SolicitudSummary, error)
	InsertNotifications(ctx context.Context, rows []Notification) error
}

// NotifyProcessor handles TaskSolicitudNotify.
type NotifyProcessor struct {
	store   NotificationStore
	idem    *shared.IdempotencyStore
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
	printer *message.Printer
}

// NewNotifyProcessor builds the processor. idem and metrics may be nil.
func NewNotifyProcessor(store NotificationStore, idem *shared.IdempotencyStore, metrics *jobmetrics.Metrics, logger *slog.Logger) *NotifyProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyProcessor{
		store:   store,
		idem:    idem,
		metrics: metrics,
		logger:  logger,
		printer: newNotifyPrinter(language.Spanish),
	}
}

// ProcessTask implements asynq.Handler.
func (p *NotifyProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	tracker := p.metrics.Track(TaskSolicitudNotify)
	var payload NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry))
	}
	key := taskID(t)
	if p.idem != nil && key != "" {
		if err := p.idem.CheckAndInsert(ctx, key, TaskSolicitudNotify); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				p.logger.Info("notification already delivered", slog.String("key", key))
				return tracker.End(nil)
			}
			return tracker.End(err)
		}
	}
	count, err := p.Notify(ctx, payload)
	if err != nil {
		if p.idem != nil && key != "" {
			_ = p.idem.Delete(ctx, key, TaskSolicitudNotify)
		}
		return tracker.End(err)
	}
	p.metrics.AddNotifications(payload.EstadoNuevo, count)
	return tracker.End(nil)
}

// Notify writes one notification per recipient and returns how many were written.
func (p *NotifyProcessor) Notify(ctx context.Context, payload NotifyPayload) (int, error) {
	var (
		members []string
		summary SolicitudSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		members, err = p.store.GroupMembers(gctx, payload.CenterID)
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = p.store.Summary(gctx, payload.SolicitudID)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	recipients := Recipients(members, payload.CreatedBy, payload.ActorID)
	if len(recipients) == 0 {
		return 0, nil
	}
	title, body := p.Message(payload, summary)
	rows := make([]Notification, 0, len(recipients))
	for _, userID := range recipients {
		rows = append(rows, Notification{
			UserID:  userID,
			Type:    notificationType(payload.EstadoNuevo),
			Title:   title,
			Message: body,
			Link:    "/solicitudes/" + payload.SolicitudID.String(),
		})
	}
	if err := p.store.InsertNotifications(ctx, rows); err != nil {
		return 0, err
	}
	p.logger.Info("solicitud notifications created",
		slog.String("solicitud", payload.SolicitudID.String()),
		slog.String("estado", payload.EstadoNuevo),
		slog.Int("recipients", len(rows)))
	return len(rows), nil
}

// Recipients merges group members with the creator, dropping the actor and duplicates.
func Recipients(members []string, createdBy, actorID string) []string {
	seen := make(map[string]struct{}, len(members)+1)
	out := make([]string, 0, len(members)+1)
	for _, id := range append(append([]string(nil), members...), createdBy) {
		if id == "" || id == actorID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Message renders the Spanish title and body for payload.
func (p *NotifyProcessor) Message(payload NotifyPayload, summary SolicitudSummary) (string, string) {
	nuevo := solicitudes.Status(payload.EstadoNuevo)
	ref := summary.Titulo
	if ref == "" {
		ref = "#" + payload.SolicitudID.String()[:8]
	}
	if payload.EstadoAnterior == "" {
		title := p.printer.Sprintf(msgNewTitle)
		if summary.CenterName != "" {
			return title, p.printer.Sprintf(msgCreatedIn, ref, summary.CenterName)
		}
		return title, p.printer.Sprintf(msgCreated, ref)
	}
	anterior := solicitudes.Status(payload.EstadoAnterior)
	title := p.printer.Sprintf(msgTransitionTitle, nuevo.Label())
	return title, p.printer.Sprintf(msgTransition, ref, anterior.Label(), nuevo.Label())
}

func notificationType(estado string) string {
	switch solicitudes.Status(estado) {
	case solicitudes.StatusAprobado:
		return "success"
	case solicitudes.StatusRechazado, solicitudes.StatusCancelado:
		return "error"
	case solicitudes.StatusObservado:
		return "warning"
	}
	return "info"
}

// taskID is stable across retries of the same enqueued task; empty when the
// task was not delivered by a server.
func taskID(t *asynq.Task) string {
	if rw := t.ResultWriter(); rw != nil {
		return rw.TaskID()
	}
	return ""
}
