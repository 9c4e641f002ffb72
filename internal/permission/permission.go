// Package permission implements the PermissionArbiter (C7, §4.7): the
// per-session serialized tool-use gate between an agent's requested action
// and a human decision. Grounded on telnet2-opencode/go-opencode's
// internal/permission/checker.go — the pending-channel-per-request pattern
// and the approved/patterns maps are the same shape this package's
// re-read-after-lock "at-most-once remembered decision" contract needs;
// the flow is otherwise rebuilt against this daemon's Task/Session/Message
// persistence model, which the teacher's in-memory Checker has no
// equivalent of.
package permission

import (
	"context"
	"sync"

	"github.com/agor/agord/internal/apierr"
	"github.com/agor/agord/internal/collab"
	"github.com/agor/agord/internal/id"
	"github.com/agor/agord/internal/logging"
	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/repository"
	"go.uber.org/zap"
)

// Decision is a human's answer to a pending permission request.
type Decision struct {
	Allow     bool
	Remember  bool
	Scope     model.PermissionScope
	DecidedBy string
	Reason    string
}

// Request assembles the parameters of one preToolUse call.
type Request struct {
	SessionID string
	TaskID    string
	ToolName  string
	ToolInput map[string]any
	ToolUseID string
}

// ProjectSettingsUpdater merges tool-allow entries into a worktree's
// `.claude/settings.json` (§4.7 step 6, project scope). Implemented by
// internal/projectfiles.
type ProjectSettingsUpdater interface {
	UpdateAllowedTools(ctx context.Context, worktreePath string, tools []string) error
}

// Arbiter serializes permission decisions per session and fans requests out
// to viewers via the Broadcaster.
type Arbiter struct {
	sessions        repository.Sessions
	tasks           repository.Tasks
	messages        repository.Messages
	permReqs        repository.PermissionRequests
	worktrees       repository.Worktrees
	broadcaster     collab.Broadcaster
	clock           collab.Clock
	projectSettings ProjectSettingsUpdater
	log             *logging.Logger

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
	pending      map[string]chan Decision
}

// New builds an Arbiter.
func New(
	sessions repository.Sessions,
	tasks repository.Tasks,
	messages repository.Messages,
	permReqs repository.PermissionRequests,
	worktrees repository.Worktrees,
	broadcaster collab.Broadcaster,
	clock collab.Clock,
	projectSettings ProjectSettingsUpdater,
	log *logging.Logger,
) *Arbiter {
	if clock == nil {
		clock = collab.SystemClock{}
	}
	if log == nil {
		log = logging.Default()
	}
	return &Arbiter{
		sessions:        sessions,
		tasks:           tasks,
		messages:        messages,
		permReqs:        permReqs,
		worktrees:       worktrees,
		broadcaster:     broadcaster,
		clock:           clock,
		projectSettings: projectSettings,
		log:             log,
		sessionLocks:    make(map[string]*sync.Mutex),
		pending:         make(map[string]chan Decision),
	}
}

func (a *Arbiter) lockFor(sessionID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		a.sessionLocks[sessionID] = l
	}
	return l
}

// PreToolUse runs the full §4.7 contract: serialize on the session,
// short-circuit on an already-allowed tool, otherwise persist a pending
// request, broadcast it, and block for a decision (or ctx cancellation).
func (a *Arbiter) PreToolUse(ctx context.Context, req Request) (Decision, error) {
	lock := a.lockFor(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := a.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		return a.internalFailure(ctx, req, "session lookup failed", err)
	}

	if containsString(session.PermissionConfig.AllowedTools, req.ToolName) {
		return Decision{Allow: true, Reason: "session config"}, nil
	}

	reqID := id.New()
	idx, err := a.messages.NextIndex(ctx, req.SessionID)
	if err != nil {
		return a.internalFailure(ctx, req, "message index allocation failed", err)
	}
	msg := &model.Message{
		ID:        id.New(),
		SessionID: req.SessionID,
		TaskID:    req.TaskID,
		Index:     idx,
		Role:      model.RoleSystem,
		Type:      model.MessagePermissionRequest,
		Content: map[string]any{
			"request_id": reqID,
			"tool_name":  req.ToolName,
			"tool_input": req.ToolInput,
			"status":     string(model.PermissionPending),
		},
		Timestamp: a.clock.Now(),
	}
	if err := a.messages.Create(ctx, msg); err != nil {
		return a.internalFailure(ctx, req, "persist permission message failed", err)
	}

	pr := &model.PermissionRequest{
		ID:        reqID,
		SessionID: req.SessionID,
		TaskID:    req.TaskID,
		ToolName:  req.ToolName,
		ToolInput: req.ToolInput,
		ToolUseID: req.ToolUseID,
		Status:    model.PermissionPending,
		CreatedAt: a.clock.Now(),
	}
	if err := a.permReqs.Create(ctx, pr); err != nil {
		return a.internalFailure(ctx, req, "persist permission request failed", err)
	}

	if _, err := a.tasks.Update(ctx, req.TaskID, map[string]any{"status": string(model.TaskAwaitingPermission)}); err != nil {
		return a.internalFailure(ctx, req, "transition task to awaiting_permission failed", err)
	}
	if _, err := a.sessions.Update(ctx, req.SessionID, map[string]any{"status": string(model.SessionAwaitingPermission)}); err != nil {
		return a.internalFailure(ctx, req, "transition session to awaiting_permission failed", err)
	}

	ch := make(chan Decision, 1)
	a.mu.Lock()
	a.pending[reqID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, reqID)
		a.mu.Unlock()
	}()

	if a.broadcaster != nil {
		a.broadcaster.EmitToSession(req.SessionID, collab.Event{Type: "permission_required", Data: pr})
	}

	select {
	case <-ctx.Done():
		a.finalizeDenied(context.Background(), req, reqID, msg.ID, "cancelled")
		return Decision{Allow: false, Reason: "cancelled"}, ctx.Err()
	case decision := <-ch:
		if err := a.finalize(ctx, req, reqID, msg.ID, decision); err != nil {
			return decision, err
		}
		return decision, nil
	}
}

// Decide delivers a human decision for a pending request. The first caller
// to arrive for a given requestID wins; later callers get
// KindPermissionHookInternal.
func (a *Arbiter) Decide(requestID string, decision Decision) error {
	a.mu.Lock()
	ch, ok := a.pending[requestID]
	if ok {
		delete(a.pending, requestID)
	}
	a.mu.Unlock()
	if !ok {
		return apierr.New(apierr.KindPermissionHookInternal, "permission request already decided or unknown", map[string]any{"request_id": requestID})
	}
	ch <- decision
	return nil
}

func (a *Arbiter) finalize(ctx context.Context, req Request, reqID, msgID string, decision Decision) error {
	status := model.PermissionDenied
	taskStatus := model.TaskFailed
	if decision.Allow {
		status = model.PermissionApproved
		taskStatus = model.TaskRunning
	}
	now := a.clock.Now()

	if _, err := a.permReqs.Update(ctx, reqID, map[string]any{
		"status":     string(status),
		"decided_by": decision.DecidedBy,
		"decided_at": now,
		"scope":      string(decision.Scope),
		"remember":   decision.Remember,
	}); err != nil {
		a.log.Warn("failed to patch permission request", zap.String("request_id", reqID), zap.Error(err))
	}
	if _, err := a.messages.Update(ctx, msgID, map[string]any{
		"content": map[string]any{
			"status":     string(status),
			"decided_by": decision.DecidedBy,
			"scope":      string(decision.Scope),
		},
	}); err != nil {
		a.log.Warn("failed to patch permission message", zap.String("message_id", msgID), zap.Error(err))
	}
	if _, err := a.tasks.Update(ctx, req.TaskID, map[string]any{"status": string(taskStatus)}); err != nil {
		return apierr.Wrap(apierr.KindPermissionHookInternal, "transition task after decision failed", err, map[string]any{"task_id": req.TaskID})
	}
	if !decision.Allow {
		a.sessions.Update(ctx, req.SessionID, map[string]any{"status": string(model.SessionFailed)})
		return nil
	}
	a.sessions.Update(ctx, req.SessionID, map[string]any{"status": string(model.SessionRunning)})

	if decision.Remember {
		if err := a.remember(ctx, req, decision); err != nil {
			a.log.Warn("failed to persist remembered permission decision", zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}
	return nil
}

// remember re-reads the session (another request may have already widened
// allowedTools) before writing, per §4.7 step 6's race-avoidance mandate.
func (a *Arbiter) remember(ctx context.Context, req Request, decision Decision) error {
	switch decision.Scope {
	case model.ScopeSession:
		session, err := a.sessions.FindByID(ctx, req.SessionID)
		if err != nil {
			return err
		}
		merged := appendUnique(session.PermissionConfig.AllowedTools, req.ToolName)
		_, err = a.sessions.Update(ctx, req.SessionID, map[string]any{
			"permission_config": map[string]any{"allowedTools": merged},
		})
		return err
	case model.ScopeProject:
		if a.projectSettings == nil || a.worktrees == nil {
			return nil
		}
		session, err := a.sessions.FindByID(ctx, req.SessionID)
		if err != nil {
			return err
		}
		worktree, err := a.worktrees.FindByID(ctx, session.WorktreeID)
		if err != nil {
			return err
		}
		return a.projectSettings.UpdateAllowedTools(ctx, worktree.Path, []string{req.ToolName})
	default:
		return nil
	}
}

func (a *Arbiter) finalizeDenied(ctx context.Context, req Request, reqID, msgID, reason string) {
	_ = a.finalize(ctx, req, reqID, msgID, Decision{Allow: false, Reason: reason})
}

func (a *Arbiter) internalFailure(ctx context.Context, req Request, msg string, cause error) (Decision, error) {
	wrapped := apierr.Wrap(apierr.KindPermissionHookInternal, msg, cause, map[string]any{"session_id": req.SessionID, "tool_name": req.ToolName})
	a.log.Error("permission arbiter internal failure", zap.String("session_id", req.SessionID), zap.Error(wrapped))
	if _, err := a.tasks.Update(ctx, req.TaskID, map[string]any{"status": string(model.TaskFailed)}); err != nil {
		a.log.Warn("failed to force task to failed after internal error", zap.String("task_id", req.TaskID), zap.Error(err))
	}
	return Decision{Allow: false, Reason: msg}, wrapped
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	if containsString(list, s) {
		return list
	}
	out := make([]string, len(list), len(list)+1)
	copy(out, list)
	return append(out, s)
}
