package domain

// Role enumerates coarse operator roles.
type Role string

const (
	RoleAgent  Role = "AGENT"
	RoleLead   Role = "TEAM_LEAD"
	RoleAdmin  Role = "ADMIN"
	RoleSystem Role = "SYSTEM"
)

// Actor is the caller on whose behalf an engine operation runs.
type Actor struct {
	ID             int64
	TenantID       int64
	BusinessUnitID int64
	Name           string
	Role           Role
	IsSuperuser    bool
	Permissions    []string
}

// SystemActor is used by scheduled sweeps and automated intake.
func SystemActor(tenantID int64) *Actor {
	return &Actor{
		TenantID:    tenantID,
		Name:        "system",
		Role:        RoleSystem,
		IsSuperuser: true,
	}
}

// HasPermission reports whether the permission string was granted explicitly.
func (a *Actor) HasPermission(perm string) bool {
	if a == nil {
		return false
	}
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
