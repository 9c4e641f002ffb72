package mcpresolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor/agord/internal/id"
	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/repository/memory"
)

func TestResolveJWTFailureFallsBackToDirectHTTPConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	repo := memory.New()
	session, _ := seedSessionFixture(t, repo)

	mcpSrv := &model.MCPServer{
		ID: id.New(), Name: "jwt-srv", Scope: model.MCPScopeGlobal, Enabled: true,
		Transport: model.TransportHTTP, URL: "https://remote.example/mcp",
		Auth: model.MCPAuth{Kind: model.MCPAuthJWT, APIURL: srv.URL, APIToken: "t", APISecret: "s"},
	}
	require.NoError(t, repo.MCPServers().Create(ctx, mcpSrv))

	r := New(repo, fakeSecrets{}, Config{DisableSelfAccess: true}, nil)
	result, err := r.Assemble(ctx, session)
	require.NoError(t, err)

	cfg, ok := result.Config.MCPServers["jwt-srv"]
	require.True(t, ok, "degraded server should still be included, not dropped")
	assert.Equal(t, "https://remote.example/mcp", cfg.URL)
	assert.NotEmpty(t, result.Warnings)
}

func TestResolveOAuth21UsesPersistedTokenWithoutRefetching(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	session, _ := seedSessionFixture(t, repo)

	future := time.Now().Add(time.Hour)
	mcpSrv := &model.MCPServer{
		ID: id.New(), Name: "oauth-srv", Scope: model.MCPScopeGlobal, Enabled: true,
		Transport: model.TransportHTTP, URL: "https://remote.example/mcp",
		Auth: model.MCPAuth{Kind: model.MCPAuthOAuth21, AccessToken: "persisted-token", ExpiresAt: future},
	}
	require.NoError(t, repo.MCPServers().Create(ctx, mcpSrv))

	r := New(repo, fakeSecrets{}, Config{DisableSelfAccess: true}, nil)
	result, err := r.Assemble(ctx, session)
	require.NoError(t, err)

	cfg, ok := result.Config.MCPServers["oauth-srv"]
	require.True(t, ok)
	assert.Equal(t, "Bearer persisted-token", cfg.Env["AGOR_MCP_REMOTE_HEADER_AUTHORIZATION"])
	assert.NotContains(t, result.RequiresBrowserFlow, "oauth-srv")
}
