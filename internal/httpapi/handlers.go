package httpapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agor/agord/internal/apierr"
	"github.com/agor/agord/internal/logging"
	"github.com/agor/agord/internal/mcpresolver"
	"github.com/agor/agord/internal/permission"
	"github.com/agor/agord/internal/repository"
	"github.com/agor/agord/internal/sessionkernel"
)

// Broadcaster is the subset of broadcast.Hub/DistributedHub the ws upgrade
// endpoint needs.
type Broadcaster interface {
	ServeWS(w http.ResponseWriter, r *http.Request, sessionID, userID string) error
}

// Handler wires the kernel, arbiter, mcp resolver/discoverer, broadcaster
// and repository into Gin handler methods. Grounded on
// backend/internal/task/api/handlers.go's Handler{service, logger} shape,
// generalized to the several collaborators a session-centric daemon needs
// instead of one board service.
type Handler struct {
	kernel     *sessionkernel.Kernel
	arbiter    *permission.Arbiter
	resolver   *mcpresolver.Resolver
	discoverer *mcpresolver.Discoverer
	hub        Broadcaster
	repo       repository.Repository
	log        *logging.Logger

	flowsMu sync.Mutex
	flows   map[string]*mcpresolver.OAuthFlowState
}

// NewHandler builds a Handler. resolver, discoverer and hub may be nil; the
// endpoints they back return 501 when unset, matching the kernel's own
// nil-tolerant optional-collaborator pattern.
func NewHandler(
	kernel *sessionkernel.Kernel,
	arbiter *permission.Arbiter,
	resolver *mcpresolver.Resolver,
	discoverer *mcpresolver.Discoverer,
	hub Broadcaster,
	repo repository.Repository,
	log *logging.Logger,
) *Handler {
	return &Handler{
		kernel:     kernel,
		arbiter:    arbiter,
		resolver:   resolver,
		discoverer: discoverer,
		hub:        hub,
		repo:       repo,
		log:        log,
		flows:      make(map[string]*mcpresolver.OAuthFlowState),
	}
}

func (h *Handler) resolveSessionID(c *gin.Context) (string, error) {
	ref := c.Param("id")
	sessions, err := h.repo.Sessions().FindAll(c.Request.Context(), nil)
	if err != nil {
		return "", err
	}
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return repository.Resolve("session", ref, ids)
}

// Prompt handles POST /sessions/:id/prompt.
func (h *Handler) Prompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.New(apierr.KindEntityNotFound, "invalid prompt request body", nil))
		return
	}
	sessionID, err := h.resolveSessionID(c)
	if err != nil {
		c.Error(err)
		return
	}
	taskID, err := h.kernel.SendPrompt(c.Request.Context(), sessionID, req.Text)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, promptResponse{TaskID: taskID})
}

// Fork handles POST /sessions/:id/fork.
func (h *Handler) Fork(c *gin.Context) {
	var req forkRequest
	_ = c.ShouldBindJSON(&req)
	sessionID, err := h.resolveSessionID(c)
	if err != nil {
		c.Error(err)
		return
	}
	session, err := h.kernel.Fork(c.Request.Context(), sessionID, req.AtTaskID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// Spawn handles POST /sessions/:id/spawn.
func (h *Handler) Spawn(c *gin.Context) {
	var req spawnRequest
	_ = c.ShouldBindJSON(&req)
	sessionID, err := h.resolveSessionID(c)
	if err != nil {
		c.Error(err)
		return
	}
	session, err := h.kernel.Spawn(c.Request.Context(), sessionID, req.AtTaskID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// Stop handles POST /sessions/:id/stop.
func (h *Handler) Stop(c *gin.Context) {
	sessionID, err := h.resolveSessionID(c)
	if err != nil {
		c.Error(err)
		return
	}
	if err := h.kernel.Stop(sessionID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Archive handles POST /sessions/:id/archive.
func (h *Handler) Archive(c *gin.Context) {
	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.New(apierr.KindEntityNotFound, "invalid archive request body", nil))
		return
	}
	sessionID, err := h.resolveSessionID(c)
	if err != nil {
		c.Error(err)
		return
	}
	if err := h.kernel.Archive(c.Request.Context(), sessionID, req.Archived); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSession handles GET /sessions/:id.
func (h *Handler) GetSession(c *gin.Context) {
	sessionID, err := h.resolveSessionID(c)
	if err != nil {
		c.Error(err)
		return
	}
	session, err := h.repo.Sessions().FindByID(c.Request.Context(), sessionID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Children handles GET /sessions/:id/children.
func (h *Handler) Children(c *gin.Context) {
	sessionID, err := h.resolveSessionID(c)
	if err != nil {
		c.Error(err)
		return
	}
	children, err := h.kernel.FindChildren(c.Request.Context(), sessionID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, children)
}

// Ancestors handles GET /sessions/:id/ancestors.
func (h *Handler) Ancestors(c *gin.Context) {
	sessionID, err := h.resolveSessionID(c)
	if err != nil {
		c.Error(err)
		return
	}
	ancestors, err := h.kernel.FindAncestors(c.Request.Context(), sessionID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ancestors)
}

// ServeWS handles GET /sessions/:id/ws, upgrading to the session's event
// stream.
func (h *Handler) ServeWS(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": gin.H{"kind": "unavailable", "message": "broadcaster not configured"}})
		return
	}
	sessionID, err := h.resolveSessionID(c)
	if err != nil {
		c.Error(err)
		return
	}
	userID := c.Query("user_id")
	if err := h.hub.ServeWS(c.Writer, c.Request, sessionID, userID); err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
	}
}

// PreToolUse handles POST /permission-requests/pre-tool-use, the agent
// driver's hook into the Arbiter.
func (h *Handler) PreToolUse(c *gin.Context) {
	var req preToolUseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.New(apierr.KindEntityNotFound, "invalid pre-tool-use request body", nil))
		return
	}
	decision, err := h.arbiter.PreToolUse(c.Request.Context(), permission.Request{
		SessionID: req.SessionID,
		TaskID:    req.TaskID,
		ToolName:  req.ToolName,
		ToolInput: req.ToolInput,
		ToolUseID: req.ToolUseID,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// Decide handles POST /permission-requests/:id/decide.
func (h *Handler) Decide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.New(apierr.KindEntityNotFound, "invalid decide request body", nil))
		return
	}
	decision := permission.Decision{
		Allow:     req.Allow,
		Remember:  req.Remember,
		Scope:     req.Scope,
		DecidedBy: req.DecidedBy,
		Reason:    req.Reason,
	}
	if err := h.arbiter.Decide(c.Param("id"), decision); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StartOAuth handles POST /mcp-servers/:id/oauth/start.
func (h *Handler) StartOAuth(c *gin.Context) {
	if h.resolver == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": gin.H{"kind": "unavailable", "message": "mcp resolver not configured"}})
		return
	}
	var req startOAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.New(apierr.KindEntityNotFound, "invalid oauth start request body", nil))
		return
	}
	authURL, flowState, err := h.resolver.StartOAuthFlow(c.Request.Context(), c.Param("id"), req.RedirectURL)
	if err != nil {
		c.Error(err)
		return
	}
	flowID := flowState.State
	h.flowsMu.Lock()
	h.flows[flowID] = flowState
	h.flowsMu.Unlock()
	c.JSON(http.StatusOK, startOAuthResponse{AuthURL: authURL, FlowID: flowID})
}

// CompleteOAuth handles POST /mcp-servers/:id/oauth/complete.
func (h *Handler) CompleteOAuth(c *gin.Context) {
	if h.resolver == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": gin.H{"kind": "unavailable", "message": "mcp resolver not configured"}})
		return
	}
	var req completeOAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.New(apierr.KindEntityNotFound, "invalid oauth complete request body", nil))
		return
	}
	h.flowsMu.Lock()
	flowState, ok := h.flows[req.FlowID]
	if ok {
		delete(h.flows, req.FlowID)
	}
	h.flowsMu.Unlock()
	if !ok {
		c.Error(apierr.New(apierr.KindAuthFailed, "unknown or already-completed oauth flow", map[string]any{"flow_id": req.FlowID}))
		return
	}
	if err := h.resolver.CompleteOAuthFlow(c.Request.Context(), flowState, req.Code, req.RedirectURL); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DiscoverMCP handles POST /mcp-servers/:id/discover.
func (h *Handler) DiscoverMCP(c *gin.Context) {
	if h.discoverer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": gin.H{"kind": "unavailable", "message": "mcp discoverer not configured"}})
		return
	}
	caps, err := h.discoverer.DiscoverCapabilities(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, caps)
}
