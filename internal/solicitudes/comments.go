package solicitudes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/siep/siep/internal/rbac"
)

// CommentType classifies a comment left on a solicitud.
type CommentType string

const (
	CommentAprobacion CommentType = "aprobacion"
	CommentRechazo    CommentType = "rechazo"
	CommentRevision   CommentType = "revision"
	CommentAclaracion CommentType = "aclaracion"
)

// Valid reports whether t is a known comment type.
func (t CommentType) Valid() bool {
	switch t {
	case CommentAprobacion, CommentRechazo, CommentRevision, CommentAclaracion:
		return true
	}
	return false
}

// Comment is a free-form note attached to a solicitud outside its status history.
type Comment struct {
	ID          uuid.UUID   `json:"id"`
	SolicitudID uuid.UUID   `json:"solicitud_id"`
	UserID      string      `json:"user_id"`
	UserName    string      `json:"user_name,omitempty"`
	Texto       string      `json:"comentario"`
	Tipo        CommentType `json:"tipo"`
	Adjuntos    []string    `json:"adjuntos,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// CommentInput describes a new comment. An empty Tipo means aclaracion.
type CommentInput struct {
	Texto    string
	Tipo     CommentType
	Adjuntos []string
}

// Comments returns the comments of a solicitud oldest first.
func (s *Service) Comments(ctx context.Context, id rbac.Identity, solicitudID uuid.UUID) ([]Comment, error) {
	if _, err := s.commentable(ctx, id, solicitudID); err != nil {
		return nil, err
	}
	return s.repo.Comments(ctx, solicitudID)
}

// AddComment stores a comment written by id.
func (s *Service) AddComment(ctx context.Context, id rbac.Identity, solicitudID uuid.UUID, input CommentInput) (Comment, error) {
	texto := strings.TrimSpace(input.Texto)
	if texto == "" {
		return Comment{}, fmt.Errorf("%w: comment text is required", ErrValidation)
	}
	if input.Tipo == "" {
		input.Tipo = CommentAclaracion
	}
	if !input.Tipo.Valid() {
		return Comment{}, fmt.Errorf("%w: unknown comment type %q", ErrValidation, input.Tipo)
	}
	sol, err := s.commentable(ctx, id, solicitudID)
	if err != nil {
		return Comment{}, err
	}
	c := Comment{
		ID:          uuid.New(),
		SolicitudID: sol.ID,
		UserID:      id.UserID,
		UserName:    id.Name,
		Texto:       texto,
		Tipo:        input.Tipo,
		Adjuntos:    input.Adjuntos,
		CreatedAt:   s.now(),
	}
	if err := s.repo.AddComment(ctx, c); err != nil {
		return Comment{}, fmt.Errorf("store comment: %w", err)
	}
	s.recordAudit(ctx, id.UserID, "SOLICITUD_COMMENT", sol.ID, map[string]any{"tipo": string(c.Tipo)})
	return c, nil
}

// commentable loads the solicitud and checks that id is its creator or an administrador.
func (s *Service) commentable(ctx context.Context, id rbac.Identity, solicitudID uuid.UUID) (Solicitud, error) {
	sol, err := s.Get(ctx, id, solicitudID)
	if err != nil {
		return Solicitud{}, err
	}
	if sol.CreatedBy != id.UserID && id.Role != rbac.RoleAdministrador {
		return Solicitud{}, fmt.Errorf("%w: only the creator or an administrador may see comments", ErrUnauthorizedAction)
	}
	return sol, nil
}
