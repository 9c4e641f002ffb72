package mcpresolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor/agord/internal/id"
	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/repository/memory"
)

type fakeSecrets struct{}

func (fakeSecrets) ResolveTemplatesInMap(m map[string]string, _ map[string]string) map[string]string {
	return m
}

func (fakeSecrets) ResolveEnv(context.Context, string) (map[string]string, error) {
	return map[string]string{}, nil
}

func seedSessionFixture(t *testing.T, repo *memory.Repo) (*model.Session, *model.Worktree) {
	t.Helper()
	ctx := context.Background()

	repoEntity := &model.Repo{ID: id.New(), Slug: "example"}
	require.NoError(t, repo.Repos().Create(ctx, repoEntity))

	wt := &model.Worktree{ID: id.New(), RepoID: repoEntity.ID, Name: "main", Path: "/srv/wt"}
	require.NoError(t, repo.Worktrees().Create(ctx, wt))

	session := &model.Session{ID: id.New(), WorktreeID: wt.ID, CreatedBy: id.New(), MCPToken: "tok-abc"}
	require.NoError(t, repo.Sessions().Create(ctx, session))

	return session, wt
}

func TestAssembleOrdersGlobalRepoSessionAndShadowsByID(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	session, wt := seedSessionFixture(t, repo)

	shared := &model.MCPServer{
		ID: id.New(), Name: "shared", Scope: model.MCPScopeGlobal, Enabled: true,
		Transport: model.TransportStdio, Command: "global-cmd",
	}
	require.NoError(t, repo.MCPServers().Create(ctx, shared))

	repoScoped := &model.MCPServer{
		ID: id.New(), Name: "repo-only", Scope: model.MCPScopeRepo, ScopeID: wt.RepoID, Enabled: true,
		Transport: model.TransportStdio, Command: "repo-cmd",
	}
	require.NoError(t, repo.MCPServers().Create(ctx, repoScoped))

	// Same id as "shared" but registered at session scope — session wins.
	shadow := &model.MCPServer{
		ID: shared.ID, Name: "shared", Scope: model.MCPScopeSession, ScopeID: session.ID, Enabled: true,
		Transport: model.TransportStdio, Command: "session-cmd",
	}

	r := New(repo, fakeSecrets{}, Config{DisableSelfAccess: true}, nil)
	servers, err := r.scopedServers(ctx, wt.RepoID, session.ID)
	require.NoError(t, err)
	require.Len(t, servers, 2)

	byID := map[string]*model.MCPServer{}
	for _, s := range servers {
		byID[s.ID] = s
	}
	assert.Equal(t, "global-cmd", byID[shared.ID].Command)
	assert.Equal(t, "repo-cmd", byID[repoScoped.ID].Command)

	// Now actually register the session-scope shadow and confirm it wins.
	require.NoError(t, repo.MCPServers().Delete(ctx, shared.ID))
	require.NoError(t, repo.MCPServers().Create(ctx, shadow))
	servers, err = r.scopedServers(ctx, wt.RepoID, session.ID)
	require.NoError(t, err)
	byID = map[string]*model.MCPServer{}
	for _, s := range servers {
		byID[s.ID] = s
	}
	assert.Equal(t, "session-cmd", byID[shared.ID].Command)
}

func TestAssembleIncludesSelfAccessServerWithMCPToken(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	session, _ := seedSessionFixture(t, repo)

	r := New(repo, fakeSecrets{}, Config{SelfMCPURL: "http://127.0.0.1:9999/mcp"}, nil)
	result, err := r.Assemble(ctx, session)
	require.NoError(t, err)

	agor, ok := result.Config.MCPServers["agor"]
	require.True(t, ok)
	assert.Contains(t, agor.URL, "mcp_token=tok-abc")
}

func TestAssembleSkipsSelfAccessWhenDisabled(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	session, _ := seedSessionFixture(t, repo)

	r := New(repo, fakeSecrets{}, Config{SelfMCPURL: "http://x", DisableSelfAccess: true}, nil)
	result, err := r.Assemble(ctx, session)
	require.NoError(t, err)

	_, ok := result.Config.MCPServers["agor"]
	assert.False(t, ok)
}

func TestAssembleAggregatesDiscoveredToolNames(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	session, _ := seedSessionFixture(t, repo)

	srv := &model.MCPServer{
		ID: id.New(), Name: "docs", Scope: model.MCPScopeGlobal, Enabled: true,
		Transport: model.TransportStdio, Command: "docs-cmd",
		Discovered: model.DiscoveredCapabilities{Tools: []string{"search", "fetch"}},
	}
	require.NoError(t, repo.MCPServers().Create(ctx, srv))

	r := New(repo, fakeSecrets{}, Config{DisableSelfAccess: true}, nil)
	result, err := r.Assemble(ctx, session)
	require.NoError(t, err)

	assert.Contains(t, result.AllowedTools, "mcp__docs__search")
	assert.Contains(t, result.AllowedTools, "mcp__docs__fetch")
}

func TestAssembleSkipsDisabledServers(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	session, _ := seedSessionFixture(t, repo)

	srv := &model.MCPServer{
		ID: id.New(), Name: "off", Scope: model.MCPScopeGlobal, Enabled: false,
		Transport: model.TransportStdio, Command: "off-cmd",
	}
	require.NoError(t, repo.MCPServers().Create(ctx, srv))

	r := New(repo, fakeSecrets{}, Config{DisableSelfAccess: true}, nil)
	result, err := r.Assemble(ctx, session)
	require.NoError(t, err)
	assert.NotContains(t, result.Config.MCPServers, "off")
}

func TestAssembleMarksOAuth21WithoutClientCredsAsRequiresBrowserFlow(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	session, _ := seedSessionFixture(t, repo)

	srv := &model.MCPServer{
		ID: id.New(), Name: "needs-auth", Scope: model.MCPScopeGlobal, Enabled: true,
		Transport: model.TransportHTTP, URL: "https://remote.example/mcp",
		Auth: model.MCPAuth{Kind: model.MCPAuthOAuth21},
	}
	require.NoError(t, repo.MCPServers().Create(ctx, srv))

	r := New(repo, fakeSecrets{}, Config{DisableSelfAccess: true}, nil)
	result, err := r.Assemble(ctx, session)
	require.NoError(t, err)

	assert.Contains(t, result.RequiresBrowserFlow, "needs-auth")
	assert.NotContains(t, result.Config.MCPServers, "needs-auth")
}

func TestAssembleWrapsBearerAuthAsStdioShim(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	session, _ := seedSessionFixture(t, repo)

	srv := &model.MCPServer{
		ID: id.New(), Name: "bearer-srv", Scope: model.MCPScopeGlobal, Enabled: true,
		Transport: model.TransportHTTP, URL: "https://remote.example/mcp",
		Auth: model.MCPAuth{Kind: model.MCPAuthBearer, Token: "secret-token"},
	}
	require.NoError(t, repo.MCPServers().Create(ctx, srv))

	r := New(repo, fakeSecrets{}, Config{DisableSelfAccess: true, MCPRemoteShimPath: "mcp-remote-shim"}, nil)
	result, err := r.Assemble(ctx, session)
	require.NoError(t, err)

	cfg, ok := result.Config.MCPServers["bearer-srv"]
	require.True(t, ok)
	assert.Equal(t, "mcp-remote-shim", cfg.Command)
	assert.Equal(t, []string{"https://remote.example/mcp"}, cfg.Args)
	assert.Equal(t, "Bearer secret-token", cfg.Env["AGOR_MCP_REMOTE_HEADER_AUTHORIZATION"])
}
