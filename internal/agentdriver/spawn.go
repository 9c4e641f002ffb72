package agentdriver

import (
	"fmt"
	"path/filepath"

	"github.com/agor/agord/internal/collab"
	"github.com/agor/agord/internal/model"
)

// KindConfig is the per-agent-kind shape of CLI invocation (binary name,
// default model, and the flags used to express each spawn parameter).
// Populated by internal/agentreg.
type KindConfig struct {
	Kind                AgentKind
	Binary              string
	DefaultModel        string
	ModelFlag           string
	PermissionModeFlag  string
	AddDirFlag          string
	MaxThinkingFlag     string
	MCPConfigFlag       string
	AllowedToolsFlag    string
	ResumeFlag          string
	ForkSessionFlag     string
	OutputStreamFlag    []string // e.g. --output-format stream-json
	PromptIsPositional  bool
	PromptFlag          string
}

// AgentKind mirrors model.AgenticTool to keep this package decoupled from
// model's naming if the two ever diverge.
type AgentKind = model.AgenticTool

// SpawnRequest assembles everything the kernel knows when it asks the
// driver to start a prompt on a session (§4.6 "Spawn parameters").
type SpawnRequest struct {
	Session         *model.Session
	Worktree        *model.Worktree
	User            *model.User
	Kind            KindConfig
	Prompt          string
	Env             map[string]string
	PermissionMode  string
	AllowedTools    []string
	MaxThinkingTok  *int
	MCPConfigPath   string
	ExtraAllowDirs  []string
	ResumeDecision  Decision
}

// BuildSpawnParams assembles the os-level spawn parameters and CLI argv for
// one agent run. It does not check the worktree path; ValidateWorktree does.
func BuildSpawnParams(req SpawnRequest) (collab.SpawnParams, []string, error) {
	args := buildArgs(req)

	env := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	// SupplementaryGroups (worktree's unix_group and agor_users) are resolved
	// by the caller at spawn time, where gid lookup happens against the live
	// host rather than this pure parameter-assembly step.
	params := collab.SpawnParams{
		Cmd:  req.Kind.Binary,
		Args: args,
		Env:  env,
		Cwd:  req.Worktree.Path,
		UID:  req.User.UnixUID,
	}
	return params, args, nil
}

func buildArgs(req SpawnRequest) []string {
	var args []string

	selectedModel := req.Kind.DefaultModel
	if req.Session.ModelConfig.Model != "" {
		selectedModel = req.Session.ModelConfig.Model
	}
	if req.Kind.ModelFlag != "" && selectedModel != "" {
		args = append(args, req.Kind.ModelFlag, selectedModel)
	}

	if req.Kind.PermissionModeFlag != "" && req.PermissionMode != "" {
		args = append(args, req.Kind.PermissionModeFlag, req.PermissionMode)
	}

	allowDirs := append([]string{"/tmp", "/var/tmp"}, req.ExtraAllowDirs...)
	if req.Kind.AddDirFlag != "" {
		for _, d := range allowDirs {
			args = append(args, req.Kind.AddDirFlag, d)
		}
	}

	if req.Kind.MaxThinkingFlag != "" && req.MaxThinkingTok != nil {
		args = append(args, req.Kind.MaxThinkingFlag, fmt.Sprintf("%d", *req.MaxThinkingTok))
	}

	if req.Kind.MCPConfigFlag != "" && req.MCPConfigPath != "" {
		args = append(args, req.Kind.MCPConfigFlag, req.MCPConfigPath)
	}

	if req.Kind.AllowedToolsFlag != "" && len(req.AllowedTools) > 0 {
		for _, t := range req.AllowedTools {
			args = append(args, req.Kind.AllowedToolsFlag, t)
		}
	}

	switch req.ResumeDecision.Action {
	case ActionResume, ActionForkResume:
		if req.Kind.ResumeFlag != "" && req.ResumeDecision.Handle != "" {
			args = append(args, req.Kind.ResumeFlag, req.ResumeDecision.Handle)
		}
		if req.ResumeDecision.Action == ActionForkResume && req.Kind.ForkSessionFlag != "" {
			args = append(args, req.Kind.ForkSessionFlag)
		}
	}

	args = append(args, req.Kind.OutputStreamFlag...)

	if req.Kind.PromptIsPositional {
		args = append(args, req.Prompt)
	} else if req.Kind.PromptFlag != "" {
		args = append(args, req.Kind.PromptFlag, req.Prompt)
	}
	return args
}

// ValidateWorktree checks §4.6's CWD contract: must exist and be a
// directory; a missing .git yields a warning (returned, non-fatal) rather
// than an error; a non-existent or non-directory path is fatal.
func ValidateWorktree(fs collab.Filesystem, path string) (warning string, err error) {
	info, err := fs.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat worktree path: %w", err)
	}
	if !info.Exists {
		return "", fmt.Errorf("worktree path %q does not exist", path)
	}
	if !info.IsDir {
		return "", fmt.Errorf("worktree path %q is not a directory", path)
	}
	gitInfo, err := fs.Stat(filepath.Join(path, ".git"))
	if err != nil || !gitInfo.Exists {
		return fmt.Sprintf("worktree path %q has no .git", path), nil
	}
	return "", nil
}
