package users

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siep/siep/internal/rbac"
	"github.com/siep/siep/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, filter ListFilter) ([]User, error)
	GetUser(ctx context.Context, id string) (User, error)
	UpdateRole(ctx context.Context, id string, role rbac.Role) error
	GetGroup(ctx context.Context, id string) (Group, error)
	GroupMembers(ctx context.Context, groupID string) ([]User, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service instance. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// ListUsers returns users visible to actor. Directors only see their own center.
func (s *Service) ListUsers(ctx context.Context, actor rbac.Identity, filter ListFilter) ([]User, error) {
	if actor.Role == rbac.RoleDirectorCentro {
		filter.CenterID = actor.CenterID
	}
	return s.resolved(s.repo.ListUsers(ctx, filter))
}

// UpdateRole assigns a new role to a user. Legacy names are accepted and
// stored canonically; anything else is rejected.
func (s *Service) UpdateRole(ctx context.Context, actor rbac.Identity, userID, raw string) (User, error) {
	role := rbac.Resolve(raw)
	if raw == "" || !role.IsCanonical() {
		return User{}, fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
	if userID == actor.UserID {
		return User{}, fmt.Errorf("%w: cannot change own role", ErrForbidden)
	}
	if role == rbac.RoleAdministrador && actor.Role != rbac.RoleAdministrador {
		return User{}, fmt.Errorf("%w: only administradores grant administrador", ErrForbidden)
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if actor.Role != rbac.RoleAdministrador && user.CenterID != actor.CenterID {
		return User{}, fmt.Errorf("%w: user belongs to another center", ErrForbidden)
	}
	previous := rbac.Resolve(string(user.Role))
	if err := s.repo.UpdateRole(ctx, userID, role); err != nil {
		return User{}, err
	}
	user.Role = role
	s.recordAudit(ctx, actor.UserID, "USER_ROLE_UPDATE", userID, map[string]any{"from": string(previous), "to": string(role)})
	return user, nil
}

// GroupMembers returns the members of a group. Non-administradores only see
// groups of their own center.
func (s *Service) GroupMembers(ctx context.Context, actor rbac.Identity, groupID string) ([]User, error) {
	if _, err := s.group(ctx, actor, groupID); err != nil {
		return nil, err
	}
	return s.resolved(s.repo.GroupMembers(ctx, groupID))
}

// AvailableUsers returns active users of the group's center that are not yet members.
func (s *Service) AvailableUsers(ctx context.Context, actor rbac.Identity, groupID string) ([]User, error) {
	group, err := s.group(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.GroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{}, len(members))
	for _, m := range members {
		taken[m.ID] = struct{}{}
	}
	candidates, err := s.repo.ListUsers(ctx, ListFilter{CenterID: group.CenterID})
	if err != nil {
		return nil, err
	}
	available := make([]User, 0, len(candidates))
	for _, u := range candidates {
		if _, ok := taken[u.ID]; ok || !u.IsActive {
			continue
		}
		available = append(available, u)
	}
	return s.resolved(available, nil)
}

func (s *Service) group(ctx context.Context, actor rbac.Identity, groupID string) (Group, error) {
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return Group{}, err
	}
	if actor.Role != rbac.RoleAdministrador && group.CenterID != actor.CenterID {
		return Group{}, ErrGroupNotFound
	}
	return group, nil
}

func (s *Service) resolved(users []User, err error) ([]User, error) {
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Role = rbac.Resolve(string(users[i].Role))
	}
	return users, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID, action, userID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: userID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit user", slog.String("action", action), slog.String("user", userID), slog.Any("error", err))
	}
}
