package rbac

// Role is one of the canonical SIEP roles.
type Role string

// Canonical roles. Legacy aliases resolve onto these through Resolve.
const (
	RoleAdministrador     Role = "administrador"
	RoleDirectorCentro    Role = "director_centro"
	RoleFuncionario       Role = "funcionario"
	RoleOperacion         Role = "operacion"
	RoleConsulta          Role = "consulta"
	RoleCoordinadorCentro Role = "coordinador_centro"
)

// CanonicalRoles lists the closed set of stored roles.
func CanonicalRoles() []Role {
	return []Role{
		RoleAdministrador,
		RoleDirectorCentro,
		RoleFuncionario,
		RoleOperacion,
		RoleConsulta,
		RoleCoordinadorCentro,
	}
}

// IsCanonical reports whether r belongs to the closed role set.
func (r Role) IsCanonical() bool {
	for _, c := range CanonicalRoles() {
		if r == c {
			return true
		}
	}
	return false
}

// Level is a permission level on a resource.
type Level string

// Permission levels ordered by capability.
const (
	LevelRead   Level = "read"
	LevelWrite  Level = "write"
	LevelDelete Level = "delete"
	LevelAdmin  Level = "admin"
)

// Levels returns every permission level in capability order.
func Levels() []Level {
	return []Level{LevelRead, LevelWrite, LevelDelete, LevelAdmin}
}

// Resource catalog.
const (
	ResourceAll         = "*"
	ResourceDashboard   = "dashboard"
	ResourceCenters     = "centers"
	ResourceUsers       = "users"
	ResourceRoles       = "roles"
	ResourceSolicitudes = "solicitudes"
	ResourceMeetings    = "meetings"
	ResourceDocuments   = "documents"
	ResourceSettings    = "settings"
	ResourceFichas      = "fichas"
	ResourceHistory     = "history"
	ResourceFinances    = "finances"
	ResourceReports     = "reports"
	ResourceBudget      = "budget"
	ResourceProjects    = "projects"
)

// Resources returns the catalog of concrete resources, excluding the wildcard.
func Resources() []string {
	return []string{
		ResourceDashboard,
		ResourceCenters,
		ResourceUsers,
		ResourceRoles,
		ResourceSolicitudes,
		ResourceMeetings,
		ResourceDocuments,
		ResourceSettings,
		ResourceFichas,
		ResourceHistory,
		ResourceFinances,
		ResourceReports,
		ResourceBudget,
		ResourceProjects,
	}
}

// Grant pairs a resource with a permission level.
type Grant struct {
	Resource string `json:"resource"`
	Level    Level  `json:"level"`
}

// Identity describes the authenticated actor for a request.
type Identity struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     Role   `json:"role"`
	CenterID string `json:"center_id,omitempty"`
}
