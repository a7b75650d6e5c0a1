package users

import (
	"errors"
	"fmt"
	"time"

	"github.com/siep/siep/internal/platform/httpx"
	"github.com/siep/siep/internal/rbac"
)

// User represents a user account for management. Role is always canonical.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      rbac.Role `json:"role"`
	CenterID  string    `json:"center_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows ListUsers.
type ListFilter struct {
	CenterID string
	Role     rbac.Role
}

// Group is a named set of users within one center, used for committees and notifications.
type Group struct {
	ID       string `json:"id"`
	CenterID string `json:"centro_id"`
	Nombre   string `json:"nombre"`
	Tipo     string `json:"tipo"`
	Activo   bool   `json:"activo"`
}

var (
	// ErrGroupNotFound indicates the group does not exist.
	ErrGroupNotFound = fmt.Errorf("users: group %w", httpx.ErrNotFound)
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrInvalidRole indicates a role outside the canonical set.
	ErrInvalidRole = errors.New("users: role is not a canonical role")
	// ErrForbidden indicates the actor may not perform the change.
	ErrForbidden = errors.New("users: insufficient permissions")
)
