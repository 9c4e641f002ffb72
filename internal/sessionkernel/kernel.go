// Package sessionkernel implements the SessionKernel (C8, §4.8): the
// session state machine, genealogy operations, and task/message bookkeeping
// that ties AgentDriver, PermissionArbiter, ThinkingBudget, and the
// Repository layer together into one prompt-driving pipeline. Grounded on
// apps/backend/internal/agent/lifecycle/manager.go's Manager — the
// store-of-live-work-plus-background-goroutine-per-run shape carries over
// directly, generalized from Docker-container lifecycle to
// Unix-process-session lifecycle.
package sessionkernel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agor/agord/internal/agentdriver"
	"github.com/agor/agord/internal/agentreg"
	"github.com/agor/agord/internal/collab"
	"github.com/agor/agord/internal/id"
	"github.com/agor/agord/internal/logging"
	"github.com/agor/agord/internal/mcpresolver"
	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/permission"
	"github.com/agor/agord/internal/repository"
	"github.com/agor/agord/internal/secrets"
	"github.com/agor/agord/internal/thinkingbudget"
)

// MCPAssembler is the narrow surface Kernel needs from mcpresolver.Resolver
// (C4, §4.4): resolve a session's composed MCP server config immediately
// before spawning the agent. A nil MCPAssembler means MCP resolution is
// disabled entirely (tests, or a daemon running without any MCP servers
// configured).
type MCPAssembler interface {
	Assemble(ctx context.Context, session *model.Session) (*mcpresolver.AssembleResult, error)
}

// GIDResolver resolves a host group name to its numeric gid, for assembling
// a spawned process's supplementary groups. Implemented by
// internal/unixctl.OSGIDResolver.
type GIDResolver interface {
	ResolveGID(name string) (int, error)
}

// Kernel is the SessionKernel: it owns the prompt-driving goroutine per
// session and the genealogy/archival operations around it.
type Kernel struct {
	repo      repository.Repository
	driver    *agentdriver.Driver
	arbiter   *permission.Arbiter
	agents    *agentreg.Registry
	resolver  *secrets.Resolver
	mcp       MCPAssembler
	broadcaster collab.Broadcaster
	clock     collab.Clock
	fs        collab.Filesystem
	gids      GIDResolver
	agorGroup string
	resumeStaleness time.Duration
	log       *logging.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Kernel. resumeStaleness of zero falls back to the spec's 24h
// default (§9's configurable-heuristic open question).
func New(
	repo repository.Repository,
	driver *agentdriver.Driver,
	arbiter *permission.Arbiter,
	agents *agentreg.Registry,
	resolver *secrets.Resolver,
	mcp MCPAssembler,
	broadcaster collab.Broadcaster,
	clock collab.Clock,
	fs collab.Filesystem,
	gids GIDResolver,
	agorGroup string,
	resumeStaleness time.Duration,
	log *logging.Logger,
) *Kernel {
	if clock == nil {
		clock = collab.SystemClock{}
	}
	if resumeStaleness <= 0 {
		resumeStaleness = 24 * time.Hour
	}
	if log == nil {
		log = logging.Default()
	}
	return &Kernel{
		repo:            repo,
		driver:          driver,
		arbiter:         arbiter,
		agents:          agents,
		resolver:        resolver,
		mcp:             mcp,
		broadcaster:     broadcaster,
		clock:           clock,
		fs:              fs,
		gids:            gids,
		agorGroup:       agorGroup,
		resumeStaleness: resumeStaleness,
		log:             log,
		cancels:         make(map[string]context.CancelFunc),
	}
}

// SendPrompt rejects a session that is running or awaiting permission, persists a Task and the user's
// message, and kicks off the driver in the background; progress is observed
// via the Broadcaster (§4.8).
func (k *Kernel) SendPrompt(ctx context.Context, sessionID, text string) (string, error) {
	session, err := k.repo.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session.Status == model.SessionRunning || session.Status == model.SessionAwaitingPermission {
		return "", fmt.Errorf("session %s already has a prompt in flight (status=%s)", sessionID, session.Status)
	}

	worktree, err := k.repo.Worktrees().FindByID(ctx, session.WorktreeID)
	if err != nil {
		return "", err
	}
	user, err := k.repo.Users().FindByID(ctx, session.CreatedBy)
	if err != nil {
		return "", err
	}

	now := k.clock.Now()
	task := &model.Task{
		ID:          id.New(),
		SessionID:   session.ID,
		FullPrompt:  text,
		Description: model.DescriptionFromPrompt(text),
		Status:      model.TaskRunning,
		Model:       session.ModelConfig.Model,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := k.repo.Tasks().Create(ctx, task); err != nil {
		return "", err
	}

	idx, err := k.repo.Messages().NextIndex(ctx, session.ID)
	if err != nil {
		return "", err
	}
	task.MessageRange.StartIndex = idx
	task.MessageRange.StartTS = now

	userMsg := &model.Message{
		ID:        id.New(),
		SessionID: session.ID,
		TaskID:    task.ID,
		Index:     idx,
		Role:      model.RoleUser,
		Type:      model.MessageText,
		Content:   map[string]any{"text": text},
		Timestamp: now,
	}
	if err := k.repo.Messages().Create(ctx, userMsg); err != nil {
		return "", err
	}

	taskIDs := append(append([]string{}, session.TaskIDs...), task.ID)
	if _, err := k.repo.Sessions().Update(ctx, session.ID, map[string]any{
		"status": string(model.SessionRunning),
		"tasks":  taskIDs,
	}); err != nil {
		return "", err
	}
	session.Status = model.SessionRunning
	session.TaskIDs = taskIDs

	runCtx, cancel := context.WithCancel(context.Background())
	k.mu.Lock()
	k.cancels[session.ID] = cancel
	k.mu.Unlock()

	go k.runPrompt(runCtx, session, task, worktree, user, text)

	return task.ID, nil
}

// runPrompt drives one agent subprocess to completion and reconciles
// Task/Session state from the resulting Event stream.
func (k *Kernel) runPrompt(ctx context.Context, session *model.Session, task *model.Task, worktree *model.Worktree, owner *model.User, prompt string) {
	defer func() {
		k.mu.Lock()
		delete(k.cancels, session.ID)
		k.mu.Unlock()
	}()

	kindCfg, err := k.agents.Lookup(session.AgenticTool)
	if err != nil {
		k.failTask(ctx, session, task, err.Error())
		return
	}

	if warning, err := agentdriver.ValidateWorktree(k.fs, worktree.Path); err != nil {
		k.failTask(ctx, session, task, err.Error())
		return
	} else if warning != "" {
		k.log.Warn("worktree validation warning", zap.String("session_id", session.ID), zap.String("warning", warning))
	}

	var parentHandle string
	if session.Genealogy.IsFork() {
		if parent, err := k.repo.Sessions().FindByID(ctx, session.Genealogy.ForkedFromID); err == nil {
			parentHandle = parent.SDKSessionID
		}
	}
	resumeDecision := agentdriver.DecideResumeAction(session, k.clock.Now(), k.resumeStaleness, parentHandle)
	if resumeDecision.ClearHandle {
		k.repo.Sessions().Update(ctx, session.ID, map[string]any{"sdk_session_id": ""})
		session.SDKSessionID = ""
	}

	thinkingTokens := thinkingbudget.Resolve(prompt, session.ModelConfig)

	env := map[string]string{}
	if k.resolver != nil {
		if resolved, err := k.resolver.ResolveEnv(ctx, owner.ID); err == nil {
			env = resolved
		} else {
			k.log.Warn("failed to resolve user env", zap.String("user_id", owner.ID), zap.Error(err))
		}
		for _, name := range kindCfg.RequiredEnv {
			vendor := strings.ToLower(strings.TrimSuffix(name, "_API_KEY"))
			if key, ok := k.resolver.ResolveAPIKey(ctx, vendor, owner.ID); ok {
				env[name] = key
			}
		}
	}

	allowedTools := session.PermissionConfig.AllowedTools
	var mcpConfigPath string
	if k.mcp != nil {
		if result, err := k.mcp.Assemble(ctx, session); err != nil {
			k.log.Warn("mcp resolution failed, continuing without mcp servers",
				zap.String("session_id", session.ID), zap.Error(err))
		} else {
			allowedTools = mergeAllowedTools(allowedTools, result.AllowedTools)
			for _, w := range result.Warnings {
				k.log.Warn("mcp server degraded", zap.String("session_id", session.ID), zap.String("warning", w))
			}
			if len(result.RequiresBrowserFlow) > 0 && k.broadcaster != nil {
				k.broadcaster.EmitToSession(session.ID, collab.Event{
					Type: "mcp_requires_browser_flow",
					Data: result.RequiresBrowserFlow,
				})
			}
			if len(result.Config.MCPServers) > 0 {
				path, err := k.writeMCPConfig(session.ID, result.Config)
				if err != nil {
					k.log.Warn("failed to write mcp config", zap.String("session_id", session.ID), zap.Error(err))
				} else {
					mcpConfigPath = path
				}
			}
		}
	}

	req := agentdriver.SpawnRequest{
		Session:        session,
		Worktree:       worktree,
		User:           owner,
		Kind:           kindCfg.CLI,
		Prompt:         prompt,
		Env:            env,
		PermissionMode: session.PermissionConfig.Mode,
		AllowedTools:   allowedTools,
		MCPConfigPath:  mcpConfigPath,
		MaxThinkingTok: thinkingTokens,
		ResumeDecision: resumeDecision,
	}
	params, _, err := agentdriver.BuildSpawnParams(req)
	if err != nil {
		k.failTask(ctx, session, task, err.Error())
		return
	}
	params.SupplementaryGroups = k.resolveSupplementaryGroups(worktree)

	events, getStderr, err := k.driver.Run(ctx, params, false)
	if err != nil {
		k.failTask(ctx, session, task, err.Error())
		return
	}

	var gotResult bool
	var resultSubtype string
	var endReason agentdriver.EndReason

	for ev := range events {
		switch ev.Type {
		case agentdriver.EventSessionIDCaptured:
			if _, err := k.repo.Sessions().Update(ctx, session.ID, map[string]any{
				"sdk_session_id":     ev.Handle,
				"sdk_session_set_at": k.clock.Now(),
			}); err != nil {
				k.log.Warn("failed to persist sdk session handle", zap.String("session_id", session.ID), zap.Error(err))
			}

		case agentdriver.EventComplete:
			k.persistAgentMessage(ctx, session, task, ev)

		case agentdriver.EventResult:
			gotResult = true
			resultSubtype = ev.Subtype
			k.repo.Tasks().Update(ctx, task.ID, map[string]any{
				"report": fmt.Sprintf("duration_ms=%d cost_usd=%.4f subtype=%s", ev.DurationMS, ev.CostUSD, ev.Subtype),
			})

		case agentdriver.EventEnd:
			endReason = ev.Reason
		}
	}

	k.finishPrompt(ctx, session, task, endReason, gotResult, resultSubtype, getStderr)
}

func (k *Kernel) persistAgentMessage(ctx context.Context, session *model.Session, task *model.Task, ev agentdriver.Event) {
	idx, err := k.repo.Messages().NextIndex(ctx, session.ID)
	if err != nil {
		k.log.Warn("failed to allocate message index", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	role := model.RoleAssistant
	if ev.Role == string(model.RoleUser) {
		role = model.RoleUser
	}
	msgType := model.MessageText
	if len(ev.ToolUses) > 0 {
		msgType = model.MessageToolUse
	}
	msg := &model.Message{
		ID:        id.New(),
		SessionID: session.ID,
		TaskID:    task.ID,
		Index:     idx,
		Role:      role,
		Type:      msgType,
		Content:   map[string]any{"blocks": ev.ContentBlocks},
		Timestamp: k.clock.Now(),
	}
	if err := k.repo.Messages().Create(ctx, msg); err != nil {
		k.log.Warn("failed to persist agent message", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	if len(ev.ToolUses) > 0 {
		if t, err := k.repo.Tasks().FindByID(ctx, task.ID); err == nil {
			k.repo.Tasks().Update(ctx, task.ID, map[string]any{"tool_use_count": t.ToolUseCount + len(ev.ToolUses)})
		}
		if s, err := k.repo.Sessions().FindByID(ctx, session.ID); err == nil {
			k.repo.Sessions().Update(ctx, session.ID, map[string]any{"tool_use_count": s.ToolUseCount + len(ev.ToolUses)})
		}
	}
	if s, err := k.repo.Sessions().FindByID(ctx, session.ID); err == nil {
		k.repo.Sessions().Update(ctx, session.ID, map[string]any{"message_count": s.MessageCount + 1})
	}
}

// finishPrompt reconciles Task/Session terminal state from how the prompt
// ended (§4.8's completed/failed split, §7's timeout/cancel propagation).
func (k *Kernel) finishPrompt(ctx context.Context, session *model.Session, task *model.Task, reason agentdriver.EndReason, gotResult bool, resultSubtype string, getStderr func() []string) {
	stderrTail := strings.Join(getStderr(), "\n")

	switch reason {
	case agentdriver.EndReasonResult:
		if resultSubtype == "" || resultSubtype == "success" {
			k.completeTask(ctx, session, task)
		} else {
			k.failTask(ctx, session, task, fmt.Sprintf("agent result subtype=%s", resultSubtype))
		}
	case agentdriver.EndReasonTimeout:
		k.failTask(ctx, session, task, "timeout_idle: no agent activity within idle window")
	case agentdriver.EndReasonStopRequested:
		if gotResult {
			k.completeTask(ctx, session, task)
		} else {
			k.failTask(ctx, session, task, "cancelled before result")
		}
	case agentdriver.EndReasonError:
		k.failTask(ctx, session, task, stderrTail)
	default:
		k.failTask(ctx, session, task, "agent stream ended without a terminal event")
	}
}

func (k *Kernel) completeTask(ctx context.Context, session *model.Session, task *model.Task) {
	now := k.clock.Now()
	if _, err := k.repo.Tasks().Update(ctx, task.ID, map[string]any{
		"status":              string(model.TaskCompleted),
		"message_range":       map[string]any{"end_ts": now},
	}); err != nil {
		k.log.Warn("failed to complete task", zap.String("task_id", task.ID), zap.Error(err))
	}
	if _, err := k.repo.Sessions().Update(ctx, session.ID, map[string]any{"status": string(model.SessionIdle)}); err != nil {
		k.log.Warn("failed to return session to idle", zap.String("session_id", session.ID), zap.Error(err))
	}
	if k.broadcaster != nil {
		k.broadcaster.EmitToSession(session.ID, collab.Event{Type: "task_completed", Data: task.ID})
	}
}

func (k *Kernel) failTask(ctx context.Context, session *model.Session, task *model.Task, report string) {
	if _, err := k.repo.Tasks().Update(ctx, task.ID, map[string]any{
		"status": string(model.TaskFailed),
		"report": report,
	}); err != nil {
		k.log.Warn("failed to mark task failed", zap.String("task_id", task.ID), zap.Error(err))
	}
	if _, err := k.repo.Sessions().Update(ctx, session.ID, map[string]any{"status": string(model.SessionFailed)}); err != nil {
		k.log.Warn("failed to mark session failed", zap.String("session_id", session.ID), zap.Error(err))
	}
	if k.broadcaster != nil {
		k.broadcaster.EmitToSession(session.ID, collab.Event{Type: "task_failed", Data: report})
	}
}

// writeMCPConfig persists an assembled AgentMCPConfig next to the daemon's
// working state (not the worktree, so it never appears in a `git status` the
// agent might run) and returns the path the CLI's --mcp-config flag should
// point at.
func (k *Kernel) writeMCPConfig(sessionID string, cfg mcpresolver.AgentMCPConfig) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal mcp config: %w", err)
	}
	dir := filepath.Join(os.TempDir(), "agor", "mcp")
	if err := k.fs.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create mcp config dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".json")
	if err := k.fs.WriteFileAtomic(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write mcp config: %w", err)
	}
	return path, nil
}

// mergeAllowedTools unions permission-granted tools with MCP-discovered
// tool names, deduplicating and sorting for deterministic CLI argv.
func mergeAllowedTools(permissionTools, mcpTools []string) []string {
	seen := make(map[string]bool, len(permissionTools)+len(mcpTools))
	out := make([]string, 0, len(permissionTools)+len(mcpTools))
	for _, t := range append(append([]string{}, permissionTools...), mcpTools...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (k *Kernel) resolveSupplementaryGroups(worktree *model.Worktree) []int {
	if k.gids == nil {
		return nil
	}
	var out []int
	if k.agorGroup != "" {
		if gid, err := k.gids.ResolveGID(k.agorGroup); err == nil {
			out = append(out, gid)
		}
	}
	if worktree.UnixGroup != "" {
		if gid, err := k.gids.ResolveGID(worktree.UnixGroup); err == nil {
			out = append(out, gid)
		}
	}
	return out
}

// Fork creates a new Session continuing parent's agent conversation
// (genealogy.forked_from_session_id). The new session starts with its own,
// empty permission config: the "session" scope of a remembered decision is
// explicitly per-session, so a fork does not inherit the parent's allowlist.
func (k *Kernel) Fork(ctx context.Context, parentID, atTaskID string) (*model.Session, error) {
	parent, err := k.repo.Sessions().FindByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	now := k.clock.Now()
	s := &model.Session{
		ID:          id.New(),
		WorktreeID:  parent.WorktreeID,
		CreatedBy:   parent.CreatedBy,
		AgenticTool: parent.AgenticTool,
		Status:      model.SessionIdle,
		ModelConfig: parent.ModelConfig,
		Genealogy:   model.Genealogy{ForkedFromID: parentID, ForkPointTaskID: atTaskID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := k.repo.Sessions().Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Spawn creates a new Session related to parent only by
// genealogy.parent_session_id, with no history inheritance: the agent
// starts a fresh conversation (§4.8).
func (k *Kernel) Spawn(ctx context.Context, parentID, atTaskID string) (*model.Session, error) {
	parent, err := k.repo.Sessions().FindByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	now := k.clock.Now()
	s := &model.Session{
		ID:          id.New(),
		WorktreeID:  parent.WorktreeID,
		CreatedBy:   parent.CreatedBy,
		AgenticTool: parent.AgenticTool,
		Status:      model.SessionIdle,
		ModelConfig: parent.ModelConfig,
		Genealogy:   model.Genealogy{ParentSessionID: parentID, SpawnPointTaskID: atTaskID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := k.repo.Sessions().Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Stop cancels an in-flight prompt on sessionID, if any. It is a no-op when
// the session has nothing running (idempotent: §4.8's stop() only applies
// to a currently-running prompt).
func (k *Kernel) Stop(sessionID string) error {
	k.mu.Lock()
	cancel, ok := k.cancels[sessionID]
	k.mu.Unlock()
	if !ok {
		return nil
	}
	cancel()
	return nil
}

// Archive transitions the owning worktree's archived flag only; session
// state is left untouched (§4.8).
func (k *Kernel) Archive(ctx context.Context, sessionID string, archived bool) error {
	session, err := k.repo.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = k.repo.Worktrees().Update(ctx, session.WorktreeID, map[string]any{"archived": archived})
	return err
}

// FindChildren traverses genealogy for sessions citing sessionID as either
// parent or fork source.
func (k *Kernel) FindChildren(ctx context.Context, sessionID string) ([]*model.Session, error) {
	return k.repo.Sessions().FindChildren(ctx, sessionID)
}

// FindAncestors walks sessionID's parent/fork chain to the root.
func (k *Kernel) FindAncestors(ctx context.Context, sessionID string) ([]*model.Session, error) {
	return k.repo.Sessions().FindAncestors(ctx, sessionID)
}

// HandlePreToolUse forwards a tool-use gate request to the PermissionArbiter.
// This is the kernel's entrypoint for the agent CLI's PreToolUse hook
// callback (§4.7); it is independent of the driver's own stdout stream,
// which only reports tool use already decided by this gate.
func (k *Kernel) HandlePreToolUse(ctx context.Context, req permission.Request) (permission.Decision, error) {
	return k.arbiter.PreToolUse(ctx, req)
}
