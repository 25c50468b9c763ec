package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/atl-live/backend/pkg/response"
)

// RequireRole gates a route group on the role carried in the JWT claims.
// Must run after JWT(), which stores the role in the request context.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleVal, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		role, _ := roleVal.(string)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "insufficient permissions")
		c.Abort()
	}
}
