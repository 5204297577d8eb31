package auth

import (
	"net/http"
	"strings"
	"time"

	"vtu-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// RequireAccessToken admits requests carrying a valid access token and attaches the
// caller to the request context and logger. Role checks live in internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := strings.CutPrefix(strings.TrimSpace(c.GetHeader("Authorization")), bearerPrefix)
		if !ok || strings.TrimSpace(tok) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "code": "unauthorized"})
			return
		}

		claims, err := m.Verify(strings.TrimSpace(tok), TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Info("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token", "code": "unauthorized"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), Identity{UserID: claims.UserID, Role: claims.Role})
		ctx = logger.WithAttrs(ctx, "user_id", claims.UserID, "role", claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Set("logger", logger.From(ctx))
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)

		c.Next()
	}
}
