package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/pkg/api"
)

// ErrorHandler renders the last handler error as an RFC 9457 problem.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if problem, ok := err.(*api.Problem); ok {
			if problem.Log != nil {
				logger.Warn("Request failed",
					zap.Int("status", problem.Status),
					zap.String("path", c.Request.URL.Path),
					zap.Error(problem.Log))
			}
			problem.Instance = c.Request.URL.Path
			c.JSON(problem.Status, problem)
			c.Abort()
			return
		}

		logger.Error("Unhandled error", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.NewError(
			http.StatusInternalServerError,
			"Internal Server Error",
			"An unexpected error occurred.",
		))
		c.Abort()
	}
}
