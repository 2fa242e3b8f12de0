package middleware

import (
	"net/http"

	"uploadhook/internal/service"

	"github.com/gin-gonic/gin"
)

// RequireRole rejects operators whose token role is not role. It must run
// after JWTMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		op := service.OperatorFrom(c.Request.Context())
		if op == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing operator"})
			return
		}
		if op.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
