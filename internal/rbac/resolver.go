package rbac

// DefaultRole is assigned when the session carries no role at all.
const DefaultRole = RoleFuncionario

var legacyAliases = map[string]Role{
	"superadmin": RoleAdministrador,
	"admin":      RoleDirectorCentro,
	"manager":    RoleDirectorCentro,
	"editor":     RoleFuncionario,
	"viewer":     RoleConsulta,
	"usuario":    RoleFuncionario,
}

// Resolve maps a raw role string from the session provider onto a canonical
// role. Empty input yields DefaultRole and unknown strings pass through
// unchanged; callers treat an unrecognised role as having no permissions.
func Resolve(raw string) Role {
	if raw == "" {
		return DefaultRole
	}
	if role, ok := legacyAliases[raw]; ok {
		return role
	}
	return Role(raw)
}

// LegacyAliases returns a copy of the alias table.
func LegacyAliases() map[string]Role {
	out := make(map[string]Role, len(legacyAliases))
	for k, v := range legacyAliases {
		out[k] = v
	}
	return out
}
