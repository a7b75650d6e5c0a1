package auth

import (
	"time"

	"github.com/siep/siep/internal/rbac"
)

// User represents an authenticated user account. Role holds the raw stored
// value; it is resolved per request.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	CenterID     string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is returned by login and /auth/me.
type Profile struct {
	User      rbac.Identity `json:"user"`
	Permisos  []rbac.Grant  `json:"permisos"`
	CSRFToken string        `json:"csrf_token,omitempty"`
}
