package rbac

import (
	"net/http"

	"callqueue/internal/auth"

	"github.com/gin-gonic/gin"
)

// AgentParam is the route parameter carrying the agent's CSR id.
const AgentParam = "agent_id"

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

// RequireAgentSelfOr lets an agent act only on its own :agent_id, while any of
// the given roles may act on every agent.
func RequireAgentSelfOr(roles ...string) gin.HandlerFunc {
	privileged := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		privileged[r] = struct{}{}
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		role, err := auth.Role(ctx)
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if _, ok := privileged[role]; ok || IsSuperAdmin(role) {
			c.Next()
			return
		}
		if role != RoleAgent {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		uid, err := auth.UserID(ctx)
		if err != nil || uid != c.Param(AgentParam) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "agents may only act for themselves"})
			return
		}
		c.Next()
	}
}
