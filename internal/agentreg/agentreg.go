// Package agentreg is the static registry of agent-kind configurations
// (claude-code, codex, gemini). Grounded on
// backend/internal/agent/registry/defaults.go's struct shape
// (ID/Name/Description/RequiredEnv/Capabilities/Enabled), adapted from
// container-image fields (Image/Tag/Mounts) to local-binary invocation
// fields since this daemon isolates agents as Unix processes, not
// containers.
package agentreg

import (
	"fmt"

	"github.com/agor/agord/internal/agentdriver"
	"github.com/agor/agord/internal/model"
)

// TypeConfig describes one agent kind: its identity, CLI invocation shape,
// and the environment it requires.
type TypeConfig struct {
	ID          model.AgenticTool
	Name        string
	Description string
	RequiredEnv []string
	Enabled     bool
	CLI         agentdriver.KindConfig
}

// Registry is a lookup of agent kinds by ID.
type Registry struct {
	byID map[model.AgenticTool]TypeConfig
}

// NewRegistry builds a Registry over configs, keyed by their ID.
func NewRegistry(configs ...TypeConfig) *Registry {
	r := &Registry{byID: make(map[model.AgenticTool]TypeConfig, len(configs))}
	for _, c := range configs {
		r.byID[c.ID] = c
	}
	return r
}

// Default builds the registry of built-in agent kinds (§4.6).
func Default() *Registry {
	return NewRegistry(DefaultAgents()...)
}

// Lookup returns the TypeConfig for kind, or an error if unknown/disabled.
func (r *Registry) Lookup(kind model.AgenticTool) (TypeConfig, error) {
	c, ok := r.byID[kind]
	if !ok {
		return TypeConfig{}, fmt.Errorf("unknown agent kind %q", kind)
	}
	if !c.Enabled {
		return TypeConfig{}, fmt.Errorf("agent kind %q is disabled", kind)
	}
	return c, nil
}

// All returns every registered TypeConfig.
func (r *Registry) All() []TypeConfig {
	out := make([]TypeConfig, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// DefaultAgents returns the daemon's built-in agent-kind configurations.
func DefaultAgents() []TypeConfig {
	return []TypeConfig{
		{
			ID:          model.ToolClaudeCode,
			Name:        "Claude Code",
			Description: "Anthropic's agentic coding CLI, driven over its stream-json protocol.",
			RequiredEnv: []string{"ANTHROPIC_API_KEY"},
			Enabled:     true,
			CLI: agentdriver.KindConfig{
				Kind:               model.ToolClaudeCode,
				Binary:             "claude",
				DefaultModel:       "claude-sonnet-4-5",
				ModelFlag:          "--model",
				PermissionModeFlag: "--permission-mode",
				AddDirFlag:         "--add-dir",
				MaxThinkingFlag:    "--max-thinking-tokens",
				MCPConfigFlag:      "--mcp-config",
				AllowedToolsFlag:   "--allowedTools",
				ResumeFlag:         "--resume",
				ForkSessionFlag:    "--fork-session",
				OutputStreamFlag:   []string{"--output-format", "stream-json", "--input-format", "stream-json", "--verbose"},
				PromptFlag:         "--print",
			},
		},
		{
			ID:          model.ToolCodex,
			Name:        "Codex",
			Description: "OpenAI's Codex CLI, driven over its JSON event protocol.",
			RequiredEnv: []string{"OPENAI_API_KEY"},
			Enabled:     true,
			CLI: agentdriver.KindConfig{
				Kind:               model.ToolCodex,
				Binary:             "codex",
				DefaultModel:       "o4-mini",
				ModelFlag:          "--model",
				PermissionModeFlag: "--sandbox",
				AddDirFlag:         "--add-dir",
				MCPConfigFlag:      "--mcp-config",
				ResumeFlag:         "--resume",
				OutputStreamFlag:   []string{"--json"},
				PromptIsPositional: true,
			},
		},
		{
			ID:          model.ToolGemini,
			Name:        "Gemini CLI",
			Description: "Google's Gemini CLI, driven over its JSON event protocol.",
			RequiredEnv: []string{"GEMINI_API_KEY"},
			Enabled:     true,
			CLI: agentdriver.KindConfig{
				Kind:             model.ToolGemini,
				Binary:           "gemini",
				DefaultModel:     "gemini-2.5-pro",
				ModelFlag:        "--model",
				AddDirFlag:       "--include-directories",
				MCPConfigFlag:    "--mcp-config",
				OutputStreamFlag: []string{"--output-format", "json"},
				PromptFlag:       "--prompt",
			},
		},
	}
}
