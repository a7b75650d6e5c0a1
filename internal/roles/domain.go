package roles

import "github.com/siep/siep/internal/rbac"

// Role describes one canonical role with its flattened grants.
type Role struct {
	Name      rbac.Role    `json:"name"`
	Grants    []rbac.Grant `json:"grants"`
	UserCount int          `json:"user_count"`
}

// Check is the result of a single permission evaluation.
type Check struct {
	Role     rbac.Role  `json:"role"`
	Resource string     `json:"resource"`
	Level    rbac.Level `json:"level"`
	Allowed  bool       `json:"allowed"`
}
