package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/agor/agord/internal/logging"
)

// NewRouter builds the daemon's Gin engine, grounded on
// backend/internal/task/api/router.go's SetupRoutes grouping, generalized
// from board/task/column groups to session/permission-request/mcp-server
// groups.
func NewRouter(h *Handler, log *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(Recovery(log), RequestLogger(log), CORS(), ErrorHandler(log))

	router.GET("/healthz", func(c *gin.Context) { c.Status(200) })

	sessions := router.Group("/sessions")
	{
		sessions.GET("/:id", h.GetSession)
		sessions.POST("/:id/prompt", h.Prompt)
		sessions.POST("/:id/fork", h.Fork)
		sessions.POST("/:id/spawn", h.Spawn)
		sessions.POST("/:id/stop", h.Stop)
		sessions.POST("/:id/archive", h.Archive)
		sessions.GET("/:id/children", h.Children)
		sessions.GET("/:id/ancestors", h.Ancestors)
		sessions.GET("/:id/ws", h.ServeWS)
	}

	permissionRequests := router.Group("/permission-requests")
	{
		permissionRequests.POST("/pre-tool-use", h.PreToolUse)
		permissionRequests.POST("/:id/decide", h.Decide)
	}

	mcpServers := router.Group("/mcp-servers")
	{
		mcpServers.POST("/:id/oauth/start", h.StartOAuth)
		mcpServers.POST("/:id/oauth/complete", h.CompleteOAuth)
		mcpServers.POST("/:id/discover", h.DiscoverMCP)
	}

	return router
}
