package rbac

// Role constants
const (
	RoleAdmin   = "admin"
	RoleEditor  = "editor"
	RoleAuditor = "auditor"
)

// Permission constants
const (
	PermViewAudit     = "view_audit"
	PermRollback      = "rollback"
	PermViewEntities  = "view_entities"
	PermWriteEntities = "write_entities"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleAdmin: {
		PermViewAudit, PermRollback, PermViewEntities, PermWriteEntities,
	},
	RoleEditor: {
		PermViewEntities, PermWriteEntities,
		// Editor CANNOT: PermViewAudit, PermRollback
	},
	RoleAuditor: {
		PermViewAudit, PermViewEntities,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	for _, p := range RolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// AnyHasPermission reports whether any of roles grants permission.
func AnyHasPermission(roles []string, permission string) bool {
	for _, r := range roles {
		if HasPermission(r, permission) {
			return true
		}
	}
	return false
}

// IsDestructive reports permissions that rewrite history or data.
func IsDestructive(permission string) bool {
	return permission == PermRollback || permission == PermWriteEntities
}
