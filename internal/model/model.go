// Package model defines the daemon's entities and their invariants (§3).
package model

import "time"

// UserRole is a User's access level.
type UserRole string

const (
	RoleOwner  UserRole = "owner"
	RoleAdmin  UserRole = "admin"
	RoleMember UserRole = "member"
	RoleViewer UserRole = "viewer"
)

// User is a human account, optionally bound to a Unix identity.
type User struct {
	ID            string            `json:"id"`
	Email         string            `json:"email"`
	Role          UserRole          `json:"role"`
	UnixUsername  string            `json:"unix_username,omitempty"`
	UnixUID       int               `json:"unix_uid,omitempty"` // 0 == unassigned
	APIKeys       map[string][]byte `json:"-"`                  // vendor -> encrypted blob
	EnvVars       map[string][]byte `json:"-"`                  // name -> encrypted blob
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Repo is a git repository known to the daemon.
type Repo struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	RemoteURL string    `json:"remote_url"`
	LocalPath string    `json:"local_path"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OthersCan controls what non-owners may do in a Worktree's sessions.
type OthersCan string

const (
	OthersCanNone   OthersCan = "none"
	OthersCanView   OthersCan = "view"
	OthersCanPrompt OthersCan = "prompt"
	OthersCanAll    OthersCan = "all"
)

// OthersFSAccess controls non-owner filesystem access to a Worktree's path.
type OthersFSAccess string

const (
	FSAccessNone  OthersFSAccess = "none"
	FSAccessRead  OthersFSAccess = "read"
	FSAccessWrite OthersFSAccess = "write"
)

// RefType is the kind of git ref a Worktree is checked out at.
type RefType string

const (
	RefBranch RefType = "branch"
	RefTag    RefType = "tag"
	RefSHA    RefType = "sha"
)

// FSModeFor returns the canonical POSIX mode (with SGID) for a, per §6.
func FSModeFor(a OthersFSAccess) uint32 {
	switch a {
	case FSAccessRead:
		return 02750
	case FSAccessWrite:
		return 02770
	default:
		return 02700
	}
}

// Worktree is a checked-out branch living in its own directory.
type Worktree struct {
	ID               string         `json:"id"`
	RepoID           string         `json:"repo_id"`
	WorktreeUniqueID int            `json:"worktree_unique_id"`
	Name             string         `json:"name"`
	Ref              string         `json:"ref"`
	RefType          RefType        `json:"ref_type"`
	Path             string         `json:"path"`
	Archived         bool           `json:"archived"`
	OthersCan        OthersCan      `json:"others_can"`
	OthersFSAccess   OthersFSAccess `json:"others_fs_access"`
	UnixGroup        string         `json:"unix_group"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// SessionStatus is a Session's state-machine position (§4.8).
type SessionStatus string

const (
	SessionIdle               SessionStatus = "idle"
	SessionRunning            SessionStatus = "running"
	SessionAwaitingPermission SessionStatus = "awaiting_permission"
	SessionCompleted          SessionStatus = "completed"
	SessionFailed             SessionStatus = "failed"
)

// AgenticTool is the kind of agent a Session drives.
type AgenticTool string

const (
	ToolClaudeCode AgenticTool = "claude-code"
	ToolCodex      AgenticTool = "codex"
	ToolGemini     AgenticTool = "gemini"
)

// ThinkingMode selects how a Session resolves its thinking-token budget (§4.5).
type ThinkingMode string

const (
	ThinkingAuto   ThinkingMode = "auto"
	ThinkingManual ThinkingMode = "manual"
	ThinkingOff    ThinkingMode = "off"
)

// ModelConfig carries model selection and thinking-budget configuration.
type ModelConfig struct {
	Model        string       `json:"model"`
	ThinkingMode ThinkingMode `json:"thinking_mode"`
	ManualTokens int          `json:"manual_tokens,omitempty"`
}

// PermissionScope is the durability of a permission decision.
type PermissionScope string

const (
	ScopeOnce    PermissionScope = "once"
	ScopeSession PermissionScope = "session"
	ScopeProject PermissionScope = "project"
)

// PermissionConfig holds a Session's accumulated tool-permission decisions.
type PermissionConfig struct {
	AllowedTools []string `json:"allowedTools,omitempty"`
	Mode         string   `json:"mode,omitempty"`
}

// Genealogy records a Session's relation to other sessions (§3, §9).
type Genealogy struct {
	ParentSessionID   string `json:"parent_session_id,omitempty"`
	ForkedFromID      string `json:"forked_from_session_id,omitempty"`
	SpawnPointTaskID  string `json:"spawn_point_task_id,omitempty"`
	ForkPointTaskID   string `json:"fork_point_task_id,omitempty"`
}

// IsFork reports whether this genealogy denotes a fork (continued history).
func (g Genealogy) IsFork() bool { return g.ForkedFromID != "" }

// IsSpawn reports whether this genealogy denotes a pure spawn (no history).
func (g Genealogy) IsSpawn() bool { return g.ParentSessionID != "" && g.ForkedFromID == "" }

// Session is one conversation between one user and one agent, bound to one worktree.
type Session struct {
	ID               string           `json:"id"`
	WorktreeID       string           `json:"worktree_id"`
	CreatedBy        string           `json:"created_by"`
	AgenticTool      AgenticTool      `json:"agentic_tool"`
	Status           SessionStatus    `json:"status"`
	PermissionConfig PermissionConfig `json:"permission_config"`
	ModelConfig      ModelConfig      `json:"model_config"`
	MCPToken         string           `json:"mcp_token"`
	SDKSessionID     string           `json:"sdk_session_id,omitempty"`
	Genealogy        Genealogy        `json:"genealogy"`
	MessageCount     int              `json:"message_count"`
	ToolUseCount     int              `json:"tool_use_count"`
	TaskIDs          []string         `json:"tasks"`
	SDKSessionSetAt  time.Time        `json:"sdk_session_set_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TaskStatus is a Task's lifecycle position, distinct from but related to
// its owning Session's status.
type TaskStatus string

const (
	TaskPending            TaskStatus = "pending"
	TaskRunning            TaskStatus = "running"
	TaskAwaitingPermission TaskStatus = "awaiting_permission"
	TaskCompleted          TaskStatus = "completed"
	TaskFailed             TaskStatus = "failed"
)

// MessageRange records which persisted messages belong to a Task.
type MessageRange struct {
	StartIndex int        `json:"start_index"`
	EndIndex   int        `json:"end_index,omitempty"`
	StartTS    time.Time  `json:"start_ts"`
	EndTS      *time.Time `json:"end_ts,omitempty"`
}

// GitState is a point-in-time snapshot of the worktree's git state at task start.
type GitState struct {
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// Task is one prompt and its agent turns, within a Session.
type Task struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"session_id"`
	FullPrompt   string       `json:"full_prompt"`
	Description  string       `json:"description"`
	Status       TaskStatus   `json:"status"`
	MessageRange MessageRange `json:"message_range"`
	GitState     GitState     `json:"git_state"`
	Model        string       `json:"model"`
	ToolUseCount int          `json:"tool_use_count"`
	Report       string       `json:"report,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// DescriptionFromPrompt takes the first 120 chars of a cleaned prompt.
func DescriptionFromPrompt(prompt string) string {
	cleaned := []rune(cleanPrompt(prompt))
	if len(cleaned) <= 120 {
		return string(cleaned)
	}
	return string(cleaned[:120])
}

func cleanPrompt(s string) string {
	out := make([]rune, 0, len(s))
	lastSpace := false
	for _, r := range s {
		if r == '\n' || r == '\t' || r == '\r' {
			r = ' '
		}
		if r == ' ' {
			if lastSpace {
				continue
			}
			lastSpace = true
		} else {
			lastSpace = false
		}
		out = append(out, r)
	}
	return string(out)
}

// MessageRole is who produced a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageType distinguishes a Message's content shape.
type MessageType string

const (
	MessageText             MessageType = "text"
	MessageToolUse          MessageType = "tool_use"
	MessageToolResult       MessageType = "tool_result"
	MessagePermissionRequest MessageType = "permission_request"
)

// Message is one unit of a Session's conversation stream.
type Message struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	TaskID    string          `json:"task_id"`
	Index     int             `json:"index"`
	Role      MessageRole     `json:"role"`
	Type      MessageType     `json:"type"`
	Content   map[string]any  `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// MCPTransport is the wire transport an MCPServer speaks.
type MCPTransport string

const (
	TransportStdio MCPTransport = "stdio"
	TransportHTTP  MCPTransport = "http"
	TransportSSE   MCPTransport = "sse"
)

// MCPScope is the level at which an MCPServer is registered.
type MCPScope string

const (
	MCPScopeGlobal  MCPScope = "global"
	MCPScopeRepo    MCPScope = "repo"
	MCPScopeSession MCPScope = "session"
)

// MCPAuthKind selects how an MCPServer's auth is resolved.
type MCPAuthKind string

const (
	MCPAuthNone    MCPAuthKind = "none"
	MCPAuthBearer  MCPAuthKind = "bearer"
	MCPAuthJWT     MCPAuthKind = "jwt"
	MCPAuthOAuth21 MCPAuthKind = "oauth2.1"
)

// MCPAuth carries the nested auth fields for whichever MCPAuthKind applies.
type MCPAuth struct {
	Kind MCPAuthKind `json:"kind"`

	// bearer
	Token string `json:"token,omitempty"`

	// jwt
	APIURL    string `json:"api_url,omitempty"`
	APIToken  string `json:"api_token,omitempty"`
	APISecret string `json:"api_secret,omitempty"`

	// oauth2.1
	ClientID       string    `json:"client_id,omitempty"`
	ClientSecret   string    `json:"client_secret,omitempty"`
	TokenURL       string    `json:"token_url,omitempty"`
	AuthURL        string    `json:"auth_url,omitempty"`
	AccessToken    string    `json:"access_token,omitempty"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	RequiresBrowser bool     `json:"requires_browser_flow,omitempty"`
}

// DiscoveredCapabilities is what DiscoverCapabilities persists for a server.
type DiscoveredCapabilities struct {
	Tools        []string  `json:"tools,omitempty"`
	Resources    []string  `json:"resources,omitempty"`
	Prompts      []string  `json:"prompts,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at,omitempty"`
}

// MCPServer is a configured Model Context Protocol tool server.
type MCPServer struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Scope         MCPScope               `json:"scope"`
	ScopeID       string                 `json:"scope_id,omitempty"`
	Transport     MCPTransport           `json:"transport"`
	Command       string                 `json:"command,omitempty"`
	Args          []string               `json:"args,omitempty"`
	URL           string                 `json:"url,omitempty"`
	Auth          MCPAuth                `json:"auth"`
	Env           map[string]string      `json:"env,omitempty"`
	Enabled       bool                   `json:"enabled"`
	Discovered    DiscoveredCapabilities `json:"discovered"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// PermissionRequestStatus is a PermissionRequest's lifecycle.
type PermissionRequestStatus string

const (
	PermissionPending  PermissionRequestStatus = "pending"
	PermissionApproved PermissionRequestStatus = "approved"
	PermissionDenied   PermissionRequestStatus = "denied"
)

// PermissionRequest is a single tool-use gate awaiting (or having received) a decision.
type PermissionRequest struct {
	ID         string                  `json:"id"`
	SessionID  string                  `json:"session_id"`
	TaskID     string                  `json:"task_id"`
	ToolName   string                  `json:"tool_name"`
	ToolInput  map[string]any          `json:"tool_input"`
	ToolUseID  string                  `json:"tool_use_id,omitempty"`
	Status     PermissionRequestStatus `json:"status"`
	DecidedBy  string                  `json:"decided_by,omitempty"`
	DecidedAt  *time.Time              `json:"decided_at,omitempty"`
	Scope      PermissionScope         `json:"scope,omitempty"`
	Remember   bool                    `json:"remember"`
	CreatedAt  time.Time               `json:"created_at"`
}
