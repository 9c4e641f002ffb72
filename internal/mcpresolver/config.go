// Package mcpresolver implements MCPResolver (C4): hierarchical MCP
// server-scope composition, auth resolution, and capability discovery.
//
// Grounded on apps/backend/internal/agent/mcpconfig/resolve.go's
// scope-list/shadow-by-id resolution and warnings-vs-fatal distinction
// (generalized here from a single profile's policy-filtered server map to
// the spec's global→repo→session precedence chain), and
// apps/backend/internal/agent/credentials/manager.go's provider-cache
// shape (generalized from a flat credential cache to the OAuth/JWT token
// cache in token_cache.go). The OAuth2.1 Authorization-Code+PKCE flow itself has
// no direct pack grounding and is designed fresh from spec §4.4 item 2.
package mcpresolver

// AgentServerConfig is one entry of the agent-ready MCP config this
// resolver produces — the shape Claude Code (and compatible CLIs) expect
// under a top-level "mcpServers" key in an MCP config JSON file.
type AgentServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// AgentMCPConfig is the full document written to the path passed via the
// agent CLI's --mcp-config flag (agentdriver.SpawnRequest.MCPConfigPath).
type AgentMCPConfig struct {
	MCPServers map[string]AgentServerConfig `json:"mcpServers"`
}

// AssembleResult is what Assemble returns: the agent-ready config, the
// union of tool names discovered on assembled servers (candidate
// allowedTools entries), and any non-fatal warnings about skipped servers.
type AssembleResult struct {
	Config       AgentMCPConfig
	AllowedTools []string
	Warnings     []string
	// RequiresBrowserFlow lists server names whose oauth2.1 auth could not
	// be completed automatically and need an explicit user-initiated flow.
	RequiresBrowserFlow []string
}
