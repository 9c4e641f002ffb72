package sessionkernel

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor/agord/internal/agentdriver"
	"github.com/agor/agord/internal/agentreg"
	"github.com/agor/agord/internal/collab"
	"github.com/agor/agord/internal/id"
	"github.com/agor/agord/internal/mcpresolver"
	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/permission"
	"github.com/agor/agord/internal/repository/memory"
)

type fakeMCPAssembler struct {
	result *mcpresolver.AssembleResult
	err    error
}

func (f *fakeMCPAssembler) Assemble(context.Context, *model.Session) (*mcpresolver.AssembleResult, error) {
	return f.result, f.err
}

type fakeProcess struct {
	frames   chan collab.Frame
	stderrCh chan string
	waitCh   chan struct{}
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		frames:   make(chan collab.Frame, 16),
		stderrCh: make(chan string, 16),
		waitCh:   make(chan struct{}),
	}
}

func (p *fakeProcess) Send([]byte) error { return nil }

func (p *fakeProcess) NextMessage(ctx context.Context) (collab.Frame, error) {
	select {
	case f, ok := <-p.frames:
		if !ok {
			return collab.Frame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return collab.Frame{}, ctx.Err()
	}
}

func (p *fakeProcess) Stderr() <-chan string { return p.stderrCh }
func (p *fakeProcess) Signal(int) error      { return nil }
func (p *fakeProcess) Wait() (int, error) {
	<-p.waitCh
	return 0, nil
}

type fakeSpawner struct {
	proc   *fakeProcess
	params collab.SpawnParams
}

func (s *fakeSpawner) Spawn(_ context.Context, params collab.SpawnParams) (collab.Process, error) {
	s.params = params
	return s.proc, nil
}

type fakeFS struct{}

func (fakeFS) Stat(string) (collab.FileInfo, error) { return collab.FileInfo{Exists: true, IsDir: true}, nil }
func (fakeFS) MkdirAll(string, uint32) error         { return nil }
func (fakeFS) ReadFile(string) ([]byte, error)       { return nil, nil }
func (fakeFS) WriteFileAtomic(string, []byte, uint32) error { return nil }
func (fakeFS) Chmod(string, uint32) error            { return nil }
func (fakeFS) Chown(string, int, int) error          { return nil }
func (fakeFS) Symlink(string, string) error          { return nil }
func (fakeFS) Lstat(string) (collab.FileInfo, error) { return collab.FileInfo{Exists: true}, nil }
func (fakeFS) Remove(string) error                   { return nil }

type fakeBroadcaster struct {
	events []collab.Event
}

func (b *fakeBroadcaster) EmitToSession(_ string, e collab.Event) { b.events = append(b.events, e) }
func (b *fakeBroadcaster) EmitToUser(string, collab.Event)        {}

func newTestKernel(t *testing.T, proc *fakeProcess) (*Kernel, *memory.Repo, *model.Session, *fakeBroadcaster) {
	t.Helper()
	k, repo, session, bc, _ := newTestKernelWithMCP(t, proc, nil)
	return k, repo, session, bc
}

func newTestKernelWithMCP(t *testing.T, proc *fakeProcess, mcp MCPAssembler) (*Kernel, *memory.Repo, *model.Session, *fakeBroadcaster, *fakeSpawner) {
	t.Helper()
	repo := memory.New()
	spawner := &fakeSpawner{proc: proc}
	driver := agentdriver.New(spawner, time.Minute, 50*time.Millisecond, nil)
	arbiter := permission.New(repo.Sessions(), repo.Tasks(), repo.Messages(), repo.PermissionRequests(), repo.Worktrees(), nil, nil, nil, nil)
	bc := &fakeBroadcaster{}

	ctx := context.Background()
	now := time.Now().UTC()

	user := &model.User{ID: id.New(), Email: "dev@example.com", UnixUID: 1500, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Users().Create(ctx, user))

	repoEntity := &model.Repo{ID: id.New(), Slug: "agor", LocalPath: "/repos/agor", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Repos().Create(ctx, repoEntity))

	worktree := &model.Worktree{ID: id.New(), RepoID: repoEntity.ID, Name: "main", Path: "/worktrees/main", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Worktrees().Create(ctx, worktree))

	session := &model.Session{
		ID:          id.New(),
		WorktreeID:  worktree.ID,
		CreatedBy:   user.ID,
		AgenticTool: model.ToolClaudeCode,
		Status:      model.SessionIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, repo.Sessions().Create(ctx, session))

	k := New(repo, driver, arbiter, agentreg.Default(), nil, mcp, bc, nil, fakeFS{}, nil, "", 0, nil)
	return k, repo, session, bc, spawner
}

func TestSendPromptCompletesOnSuccessResult(t *testing.T) {
	proc := newFakeProcess()
	k, repo, session, bc := newTestKernel(t, proc)

	taskID, err := k.SendPrompt(context.Background(), session.ID, "fix the bug")
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	proc.frames <- collab.Frame{Raw: []byte(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"on it"}]}}`)}
	proc.frames <- collab.Frame{Raw: []byte(`{"type":"result","subtype":"success"}`)}
	close(proc.stderrCh)
	close(proc.waitCh)

	require.Eventually(t, func() bool {
		s, err := repo.Sessions().FindByID(context.Background(), session.ID)
		return err == nil && s.Status == model.SessionIdle
	}, 2*time.Second, 10*time.Millisecond)

	task, err := repo.Tasks().FindByID(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.Status)

	msgs, err := repo.Messages().CountForSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, msgs, 2) // user prompt + agent reply

	assert.NotEmpty(t, bc.events)
}

func TestSendPromptFailsOnErrorResult(t *testing.T) {
	proc := newFakeProcess()
	k, repo, session, _ := newTestKernel(t, proc)

	_, err := k.SendPrompt(context.Background(), session.ID, "do something")
	require.NoError(t, err)

	proc.frames <- collab.Frame{Raw: []byte(`{"type":"result","subtype":"error_max_turns"}`)}
	close(proc.stderrCh)
	close(proc.waitCh)

	require.Eventually(t, func() bool {
		s, err := repo.Sessions().FindByID(context.Background(), session.ID)
		return err == nil && s.Status == model.SessionFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendPromptRejectsWhileAlreadyRunning(t *testing.T) {
	proc := newFakeProcess()
	k, _, session, _ := newTestKernel(t, proc)

	_, err := k.SendPrompt(context.Background(), session.ID, "first")
	require.NoError(t, err)

	_, err = k.SendPrompt(context.Background(), session.ID, "second")
	assert.Error(t, err)

	close(proc.stderrCh)
	close(proc.waitCh)
}

func TestStopCancelsInFlightPrompt(t *testing.T) {
	proc := newFakeProcess()
	k, repo, session, _ := newTestKernel(t, proc)

	_, err := k.SendPrompt(context.Background(), session.ID, "long running")
	require.NoError(t, err)

	require.NoError(t, k.Stop(session.ID))
	close(proc.stderrCh)
	close(proc.waitCh)

	require.Eventually(t, func() bool {
		s, err := repo.Sessions().FindByID(context.Background(), session.ID)
		return err == nil && s.Status == model.SessionFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopOnIdleSessionIsNoop(t *testing.T) {
	proc := newFakeProcess()
	k, _, session, _ := newTestKernel(t, proc)
	assert.NoError(t, k.Stop(session.ID))
}

func TestForkStartsWithEmptyPermissionConfigAndForkedGenealogy(t *testing.T) {
	proc := newFakeProcess()
	k, repo, parent, _ := newTestKernel(t, proc)
	close(proc.stderrCh)
	close(proc.waitCh)

	_, err := repo.Sessions().Update(context.Background(), parent.ID, map[string]any{
		"permission_config": map[string]any{"allowedTools": []string{"Bash"}},
		"sdk_session_id":     "parent-handle",
	})
	require.NoError(t, err)

	child, err := k.Fork(context.Background(), parent.ID, "")
	require.NoError(t, err)
	assert.True(t, child.Genealogy.IsFork())
	assert.Empty(t, child.PermissionConfig.AllowedTools)
	assert.Equal(t, model.SessionIdle, child.Status)
}

func TestSpawnHasNoHistoryInheritance(t *testing.T) {
	proc := newFakeProcess()
	k, _, parent, _ := newTestKernel(t, proc)
	close(proc.stderrCh)
	close(proc.waitCh)

	child, err := k.Spawn(context.Background(), parent.ID, "")
	require.NoError(t, err)
	assert.True(t, child.Genealogy.IsSpawn())
	assert.False(t, child.Genealogy.IsFork())
}

func TestFindChildrenAndAncestorsForwardToRepository(t *testing.T) {
	proc := newFakeProcess()
	k, _, parent, _ := newTestKernel(t, proc)
	close(proc.stderrCh)
	close(proc.waitCh)

	child, err := k.Spawn(context.Background(), parent.ID, "")
	require.NoError(t, err)

	children, err := k.FindChildren(context.Background(), parent.ID)
	require.NoError(t, err)
	var found bool
	for _, c := range children {
		if c.ID == child.ID {
			found = true
		}
	}
	assert.True(t, found)

	ancestors, err := k.FindAncestors(context.Background(), child.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, ancestors)
}

func TestHandlePreToolUseShortCircuitsOnAllowedTool(t *testing.T) {
	proc := newFakeProcess()
	k, repo, session, _ := newTestKernel(t, proc)
	close(proc.stderrCh)
	close(proc.waitCh)

	_, err := repo.Sessions().Update(context.Background(), session.ID, map[string]any{
		"permission_config": map[string]any{"allowedTools": []string{"Read"}},
	})
	require.NoError(t, err)

	decision, err := k.HandlePreToolUse(context.Background(), permission.Request{
		SessionID: session.ID,
		TaskID:    id.New(),
		ToolName:  "Read",
	})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
}

func TestRunPromptMergesMCPAllowedToolsAndWritesConfig(t *testing.T) {
	proc := newFakeProcess()
	mcp := &fakeMCPAssembler{result: &mcpresolver.AssembleResult{
		AllowedTools:        []string{"mcp__docs__search"},
		RequiresBrowserFlow: []string{"needs-auth"},
		Config: mcpresolver.AgentMCPConfig{MCPServers: map[string]mcpresolver.AgentServerConfig{
			"docs": {Command: "docs-cmd"},
		}},
	}}
	k, repo, session, bc, spawner := newTestKernelWithMCP(t, proc, mcp)

	_, err := repo.Sessions().Update(context.Background(), session.ID, map[string]any{
		"permission_config": map[string]any{"allowedTools": []string{"Read"}},
	})
	require.NoError(t, err)
	session.PermissionConfig.AllowedTools = []string{"Read"}

	_, err = k.SendPrompt(context.Background(), session.ID, "use the docs server")
	require.NoError(t, err)

	proc.frames <- collab.Frame{Raw: []byte(`{"type":"result","subtype":"success"}`)}
	close(proc.stderrCh)
	close(proc.waitCh)

	require.Eventually(t, func() bool {
		s, err := repo.Sessions().FindByID(context.Background(), session.ID)
		return err == nil && s.Status == model.SessionIdle
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, spawner.params.Args, "mcp__docs__search")
	assert.Contains(t, spawner.params.Args, "Read")
	assert.NotEmpty(t, spawner.params.Args)

	found := false
	for _, e := range bc.events {
		if e.Type == "mcp_requires_browser_flow" {
			found = true
		}
	}
	assert.True(t, found, "expected a mcp_requires_browser_flow broadcast")
}
