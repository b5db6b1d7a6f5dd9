package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/pkg/api"
)

// Auth checks the Authorization header against the shared API key. An empty
// key disables authentication.
func Auth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			_ = c.Error(api.UnauthorizedError("Missing Authorization header"))
			c.Abort()
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			_ = c.Error(api.UnauthorizedError("Invalid Authorization header"))
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(apiKey)) != 1 {
			_ = c.Error(api.ForbiddenError("Invalid API key"))
			c.Abort()
			return
		}

		c.Next()
	}
}
