package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RunIDKey is the context key a handler sets to the id of the backtest run
// it served
const RunIDKey = "run_id"

// Logger creates a middleware for logging HTTP requests. Requests that
// produced a backtest run are logged with its id.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if query := c.Request.URL.RawQuery; query != "" {
			path = path + "?" + query
		}

		// Process request
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("path", path),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.Int("body_size", c.Writer.Size()),
		}
		if runID := c.GetString(RunIDKey); runID != "" {
			fields = append(fields, zap.String("run_id", runID))
		}
		if subject := c.GetString(SubjectKey); subject != "" {
			fields = append(fields, zap.String("subject", subject))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		level, msg := levelFor(status)
		if ce := logger.Check(level, msg); ce != nil {
			ce.Write(fields...)
		}
	}
}

func levelFor(status int) (zapcore.Level, string) {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel, "Server error"
	case status >= 400:
		return zapcore.WarnLevel, "Client error"
	default:
		return zapcore.InfoLevel, "Request completed"
	}
}
