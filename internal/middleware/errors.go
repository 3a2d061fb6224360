package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aman-churiwal/request-governance/internal/logger"
	"github.com/aman-churiwal/request-governance/internal/ratelimit"
)

// ErrorHandler is the single place errors attached with c.Error become
// responses. It does nothing once a handler has written the response.
func ErrorHandler(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err

		var limitErr *ratelimit.LimitError
		var decisionErr *ratelimit.DecisionError

		switch {
		case errors.As(err, &limitErr):
			retryAfter := limitErr.RetryAfterSeconds()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       limitErr.Message,
				"retry_after": retryAfter,
			})

		case errors.As(err, &decisionErr):
			log.Warn("rate limit decision failed",
				logger.RequestID(c.GetString(RequestIDKey)),
				logger.Path(c.Request.URL.Path),
				logger.Error(err),
			)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Service temporarily unavailable",
			})

		default:
			log.Error("unhandled request error",
				logger.RequestID(c.GetString(RequestIDKey)),
				logger.Path(c.Request.URL.Path),
				logger.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Internal Server Error",
			})
		}
	}
}
