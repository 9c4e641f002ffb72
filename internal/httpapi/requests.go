package httpapi

import "github.com/agor/agord/internal/model"

// promptRequest is the body of POST /sessions/:id/prompt.
type promptRequest struct {
	Text string `json:"text" binding:"required"`
}

// promptResponse reports the task spawned to carry out the prompt.
type promptResponse struct {
	TaskID string `json:"task_id"`
}

// forkRequest is the body of POST /sessions/:id/fork.
type forkRequest struct {
	AtTaskID string `json:"at_task_id"`
}

// spawnRequest is the body of POST /sessions/:id/spawn.
type spawnRequest struct {
	AtTaskID string `json:"at_task_id"`
}

// archiveRequest is the body of POST /sessions/:id/archive.
type archiveRequest struct {
	Archived bool `json:"archived"`
}

// preToolUseRequest is the body of POST /permission-requests/pre-tool-use,
// the agent driver's hook into the Arbiter.
type preToolUseRequest struct {
	SessionID string         `json:"session_id" binding:"required"`
	TaskID    string         `json:"task_id" binding:"required"`
	ToolName  string         `json:"tool_name" binding:"required"`
	ToolInput map[string]any `json:"tool_input"`
	ToolUseID string         `json:"tool_use_id"`
}

// decideRequest is the body of POST /permission-requests/:id/decide.
type decideRequest struct {
	Allow     bool                  `json:"allow"`
	Remember  bool                  `json:"remember"`
	Scope     model.PermissionScope `json:"scope"`
	DecidedBy string                `json:"decided_by" binding:"required"`
	Reason    string                `json:"reason"`
}

// startOAuthRequest is the body of POST /mcp-servers/:id/oauth/start.
type startOAuthRequest struct {
	RedirectURL string `json:"redirect_url" binding:"required"`
}

// startOAuthResponse carries the authorization URL the caller must redirect
// the user's browser to, plus an opaque flow token identifying the pending
// flow for the subsequent completeOAuthRequest.
type startOAuthResponse struct {
	AuthURL string `json:"auth_url"`
	FlowID  string `json:"flow_id"`
}

// completeOAuthRequest is the body of POST /mcp-servers/:id/oauth/complete.
type completeOAuthRequest struct {
	FlowID      string `json:"flow_id" binding:"required"`
	Code        string `json:"code" binding:"required"`
	RedirectURL string `json:"redirect_url" binding:"required"`
}
