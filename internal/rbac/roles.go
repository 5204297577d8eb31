package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsAdmin reports whether role may use the admin operations.
func IsAdmin(role string) bool { return role == RoleAdmin || role == RoleSuperAdmin }
