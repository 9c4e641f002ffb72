// Package httpapi is the ambient (non-kernel) HTTP surface that exercises
// SessionKernel, PermissionArbiter, and MCPResolver: a thin Gin router
// exposing session/prompt/fork/spawn/permission-decision endpoints plus the
// WebSocket upgrade into Broadcaster. Grounded on
// backend/cmd/agent-manager/main.go's route wiring and
// backend/internal/orchestrator/api/middleware.go's RequestLogger/
// ErrorHandler/Recovery/CORS set, generalized from task/board semantics to
// session/task/message semantics. Explicitly not the spec's own concern
// (its "REST/WebSocket transport layer and its schema" Non-goal), but
// carried as the ambient surface a runnable daemon needs.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agor/agord/internal/apierr"
	"github.com/agor/agord/internal/logging"
)

// RequestLogger logs every request with a generated request id.
func RequestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		log.Info("request completed",
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID),
		)
	}
}

// ErrorHandler renders the last gin.Context error as JSON, mapping
// *apierr.Error through apierr.HTTPStatus and falling back to 500 for
// anything else.
func ErrorHandler(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		if kind, ok := apierr.KindOf(err); ok {
			log.Warn("request error", zap.String("kind", string(kind)), zap.Error(err))
			c.JSON(apierr.HTTPStatus(kind), gin.H{"error": gin.H{"kind": string(kind), "message": err.Error()}})
			return
		}
		log.Error("internal server error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"kind": "internal", "message": "an internal error occurred"}})
	}
}

// Recovery recovers panics inside handlers and renders them as 500s instead
// of crashing the daemon.
func Recovery(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"kind": "internal", "message": "an internal error occurred"},
				})
			}
		}()
		c.Next()
	}
}

// CORS allows any origin, matching the daemon's assumption that it sits
// behind a trusted reverse proxy, not directly on the open internet.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
