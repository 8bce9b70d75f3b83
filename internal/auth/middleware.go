package auth

import (
	"net/http"
	"strings"
	"time"

	"callqueue/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	// IdentityKey holds the caller's Identity on the gin context.
	IdentityKey = "identity"
)

// RequireAccessToken admits agents and supervisors holding a valid access
// token. Refresh tokens are refused. Whether the role may use a route is
// decided later by internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		tok, ok := strings.CutPrefix(raw, bearerPrefix)
		if !ok || strings.TrimSpace(tok) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.Role)
		ctx = logger.WithAttrs(ctx, "user_id", claims.UserID, "role", claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Set(IdentityKey, Identity{UserID: claims.UserID, Role: claims.Role})

		c.Next()
	}
}
