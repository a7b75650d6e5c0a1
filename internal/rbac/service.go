package rbac

import "sort"

// Matrix is an immutable role → resource → levels permission table.
// Build one with NewMatrix or DefaultMatrix and share it freely.
type Matrix struct {
	roles map[Role]map[string][]Level
}

// NewMatrix deep-copies the supplied table into a Matrix.
func NewMatrix(table map[Role]map[string][]Level) Matrix {
	roles := make(map[Role]map[string][]Level, len(table))
	for role, resources := range table {
		copied := make(map[string][]Level, len(resources))
		for resource, levels := range resources {
			copied[resource] = append([]Level(nil), levels...)
		}
		roles[role] = copied
	}
	return Matrix{roles: roles}
}

// DefaultMatrix returns the SIEP permission table.
func DefaultMatrix() Matrix {
	return NewMatrix(map[Role]map[string][]Level{
		RoleAdministrador: {
			ResourceAll: {LevelRead, LevelWrite, LevelDelete, LevelAdmin},
		},
		RoleDirectorCentro: {
			ResourceDashboard:   {LevelRead},
			ResourceUsers:       {LevelRead, LevelWrite},
			ResourceRoles:       {LevelRead, LevelWrite},
			ResourceSolicitudes: {LevelRead, LevelWrite, LevelAdmin},
			ResourceMeetings:    {LevelRead, LevelWrite, LevelAdmin},
			ResourceCenters:     {LevelAdmin},
			ResourceReports:     {LevelRead, LevelWrite, LevelAdmin},
			ResourceBudget:      {LevelRead},
			ResourceDocuments:   {LevelRead},
			ResourceFichas:      {LevelRead},
			ResourceHistory:     {LevelRead},
			ResourceSettings:    {LevelRead},
		},
		RoleFuncionario: {
			ResourceSolicitudes: {LevelRead, LevelWrite},
		},
		RoleOperacion: {
			ResourceSolicitudes: {LevelRead},
			ResourceMeetings:    {LevelRead},
			ResourceReports:     {LevelRead},
			ResourceDocuments:   {LevelRead},
			ResourceFichas:      {LevelRead},
		},
		RoleConsulta: {
			ResourceSolicitudes: {LevelRead},
			ResourceMeetings:    {LevelRead},
			ResourceReports:     {LevelRead},
		},
		RoleCoordinadorCentro: {
			ResourceSolicitudes: {LevelRead},
			ResourceMeetings:    {LevelRead, LevelWrite, LevelAdmin},
			ResourceReports:     {LevelRead, LevelWrite},
			ResourceDocuments:   {LevelRead},
			ResourceFichas:      {LevelRead},
		},
	})
}

// HasPermissionForRole evaluates the matrix for role on resource at level.
// administrador is allowed unconditionally; unknown roles and resources are
// denied.
func (m Matrix) HasPermissionForRole(role Role, resource string, level Level) bool {
	if role == RoleAdministrador {
		return true
	}
	resources, ok := m.roles[role]
	if !ok {
		return false
	}
	var grants []Grant
	for _, l := range resources[resource] {
		grants = append(grants, Grant{Resource: resource, Level: l})
	}
	for _, l := range resources[ResourceAll] {
		grants = append(grants, Grant{Resource: ResourceAll, Level: l})
	}
	if len(grants) == 0 {
		return false
	}
	return matchGrants(grants, Grant{Resource: resource, Level: level})
}

// HasPermissionForGrantList evaluates a pre-flattened grant list.
func HasPermissionForGrantList(grants []Grant, required Grant) bool {
	return matchGrants(grants, required)
}

// Grants flattens the role's entry into a sorted grant list. administrador
// flattens to the single wildcard admin grant.
func (m Matrix) Grants(role Role) []Grant {
	if role == RoleAdministrador {
		return []Grant{{Resource: ResourceAll, Level: LevelAdmin}}
	}
	resources, ok := m.roles[role]
	if !ok {
		return nil
	}
	grants := make([]Grant, 0, len(resources))
	for resource, levels := range resources {
		for _, l := range levels {
			grants = append(grants, Grant{Resource: resource, Level: l})
		}
	}
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].Resource != grants[j].Resource {
			return grants[i].Resource < grants[j].Resource
		}
		return levelRank(grants[i].Level) < levelRank(grants[j].Level)
	})
	return grants
}

// Roles returns the roles present in the matrix in canonical order first,
// followed by any extra roles sorted by name.
func (m Matrix) Roles() []Role {
	seen := make(map[Role]struct{}, len(m.roles))
	out := make([]Role, 0, len(m.roles))
	for _, r := range CanonicalRoles() {
		if _, ok := m.roles[r]; ok {
			out = append(out, r)
			seen[r] = struct{}{}
		}
	}
	var extra []Role
	for r := range m.roles {
		if _, ok := seen[r]; !ok {
			extra = append(extra, r)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// matchGrants is shared by both call conventions. A grant satisfies the
// requirement when its resource is the required one or the wildcard, and its
// level is the required one or admin.
func matchGrants(grants []Grant, required Grant) bool {
	for _, g := range grants {
		if g.Resource != required.Resource && g.Resource != ResourceAll {
			continue
		}
		if g.Level == required.Level || g.Level == LevelAdmin {
			return true
		}
	}
	return false
}

func levelRank(l Level) int {
	for i, candidate := range Levels() {
		if candidate == l {
			return i
		}
	}
	return len(Levels())
}
