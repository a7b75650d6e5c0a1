package roles

import (
	"context"
	"errors"

	"github.com/siep/siep/internal/rbac"
)

// ErrUnknownLevel is returned for a level outside read/write/delete/admin.
var ErrUnknownLevel = errors.New("roles: unknown permission level")

// RepositoryPort defines data access needed by the catalog.
type RepositoryPort interface {
	CountByStoredRole(ctx context.Context) (map[string]int, error)
}

// Service exposes the permission matrix as a read-only catalog.
type Service struct {
	repo   RepositoryPort
	matrix rbac.Matrix
}

// NewService builds Service instance. repo may be nil, in which case user
// counts are reported as zero.
func NewService(repo RepositoryPort, matrix rbac.Matrix) *Service {
	return &Service{repo: repo, matrix: matrix}
}

// ListRoles returns every role in the matrix. Users stored under legacy
// names are counted against the role they resolve to.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	counts := map[rbac.Role]int{}
	if s.repo != nil {
		stored, err := s.repo.CountByStoredRole(ctx)
		if err != nil {
			return nil, err
		}
		for raw, n := range stored {
			counts[rbac.Resolve(raw)] += n
		}
	}
	names := s.matrix.Roles()
	if !containsRole(names, rbac.RoleAdministrador) {
		names = append([]rbac.Role{rbac.RoleAdministrador}, names...)
	}
	out := make([]Role, 0, len(names))
	for _, name := range names {
		grants := s.matrix.Grants(name)
		if grants == nil {
			grants = []rbac.Grant{}
		}
		out = append(out, Role{Name: name, Grants: grants, UserCount: counts[name]})
	}
	return out, nil
}

// Check evaluates a single permission for a raw role name.
func (s *Service) Check(raw, resource string, level rbac.Level) (Check, error) {
	if !validLevel(level) {
		return Check{}, ErrUnknownLevel
	}
	role := rbac.Resolve(raw)
	return Check{
		Role:     role,
		Resource: resource,
		Level:    level,
		Allowed:  s.matrix.HasPermissionForRole(role, resource, level),
	}, nil
}

func validLevel(level rbac.Level) bool {
	for _, l := range rbac.Levels() {
		if l == level {
			return true
		}
	}
	return false
}

func containsRole(roles []rbac.Role, want rbac.Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
