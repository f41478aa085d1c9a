package api

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// quietPaths are logged at debug level; probes and scrapes are frequent.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// LoggingMiddleware tags each request with an id, logs it with slog and
// records its duration by route template.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case quietPaths[route]:
			level = slog.LevelDebug
		}
		attrs := []any{
			"request_id", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", duration.String(),
			"ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		slog.Log(c.Request.Context(), level, "request", attrs...)

		observability.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(status),
		).Observe(duration.Seconds())
	}
}
