package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbchat/backend/internal/infrastructure/log"
)

// RequestLog 结构化请求日志
func RequestLog() gin.HandlerFunc {
	logger := log.NewModuleLogger("http", "access")

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		if c.Writer.Status() >= 500 {
			logger.Error("Request failed", attrs...)
		} else {
			logger.Info("Request handled", attrs...)
		}
	}
}
