package auth

import "github.com/spec-kit/helpdesk-engine/internal/domain"

// Action is a capability checked before a mutating engine operation.
type Action string

const (
	ActionChangeTicket    Action = "helpdesk.change_ticket"
	ActionAssignTicket    Action = "helpdesk.assign_ticket"
	ActionEscalateTicket  Action = "helpdesk.escalate_ticket"
	ActionManageMatrix    Action = "helpdesk.manage_matrix"
	ActionManageDirectory Action = "helpdesk.manage_directory"
)

// Scope is the tenant and business unit the action targets. A zero
// BusinessUnitID skips the business-unit check.
type Scope struct {
	TenantID       int64
	BusinessUnitID int64
}

// PermissionChecker decides whether an actor may perform an action in a scope.
type PermissionChecker interface {
	HasPermission(actor *domain.Actor, action Action, scope Scope) bool
}

// RolePermissionChecker grants superusers everything, admins everything in
// their tenant, and everyone else the permissions carried on their token,
// limited to their own business unit.
type RolePermissionChecker struct{}

// NewRolePermissionChecker returns the default checker.
func NewRolePermissionChecker() RolePermissionChecker {
	return RolePermissionChecker{}
}

func (RolePermissionChecker) HasPermission(actor *domain.Actor, action Action, scope Scope) bool {
	if actor == nil {
		return false
	}
	if actor.IsSuperuser {
		return true
	}
	if actor.TenantID != scope.TenantID {
		return false
	}
	if actor.Role == domain.RoleAdmin {
		return true
	}
	if scope.BusinessUnitID != 0 && actor.BusinessUnitID != scope.BusinessUnitID {
		return false
	}
	return actor.HasPermission(string(action))
}

// PermissionFunc adapts a function to PermissionChecker.
type PermissionFunc func(actor *domain.Actor, action Action, scope Scope) bool

func (f PermissionFunc) HasPermission(actor *domain.Actor, action Action, scope Scope) bool {
	return f(actor, action, scope)
}
