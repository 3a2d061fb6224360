package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aman-churiwal/request-governance/internal/logger"
)

// Logger writes one line per request. Server errors log at error level,
// client errors at warn.
func Logger(log *slog.Logger) gin.HandlerFunc {
	log = log.With(logger.Component("http"))

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		statusCode := c.Writer.Status()

		level := slog.LevelInfo
		switch {
		case statusCode >= 500:
			level = slog.LevelError
		case statusCode >= 400:
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			logger.RequestID(c.GetString(RequestIDKey)),
			logger.Method(method),
			logger.Path(path),
			logger.StatusCode(statusCode),
			logger.Latency(time.Since(start)),
			logger.ClientIP(c.ClientIP()),
		}
		if cacheStatus := c.Writer.Header().Get(CacheStatusHeader); cacheStatus != "" {
			attrs = append(attrs, slog.String("cache", cacheStatus))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		log.LogAttrs(c.Request.Context(), level, "request", attrs...)
	}
}
