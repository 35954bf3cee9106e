package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codearena/backend/pkg/response"
)

// RequireRole allows only callers whose token carries one of roles.
// It must run after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		role := c.GetString(ContextUserRole)
		if role == "" {
			response.Fail(c, http.StatusUnauthorized, "unauthenticated", "missing user context")
			c.Abort()
			return
		}
		if !allowed[role] {
			response.Fail(c, http.StatusForbidden, "forbidden", "role "+role+" may not access this resource")
			c.Abort()
			return
		}
		c.Next()
	}
}
