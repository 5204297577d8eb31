package rbac

import (
	"net/http"

	"vtu-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireIdentity rejects requests without an authenticated user in context.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := auth.UserID(c.Request.Context())
		if err != nil || uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// super_admin bypasses all checks.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireAdmin is RequireAnyRole(RoleAdmin).
func RequireAdmin() gin.HandlerFunc { return RequireAnyRole(RoleAdmin) }
