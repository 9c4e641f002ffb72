package mcpresolver

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/agor/agord/internal/apierr"
	"github.com/agor/agord/internal/logging"
	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/repository"
	"github.com/agor/agord/internal/secrets"
)

// SecretTemplateResolver is the narrow secrets.Resolver surface this
// package needs: template substitution in stdio env maps.
type SecretTemplateResolver interface {
	ResolveTemplatesInMap(m map[string]string, userEnv map[string]string) map[string]string
	ResolveEnv(ctx context.Context, userID string) (map[string]string, error)
}

var _ SecretTemplateResolver = (*secrets.Resolver)(nil)

// Config controls the parts of Assemble that aren't per-call: the
// mcp-remote shim path and the daemon's self-access MCP endpoint.
type Config struct {
	// MCPRemoteShimPath is the command used to wrap a bearer-auth HTTP MCP
	// server as a stdio process. A user-local override takes precedence;
	// this is the fallback default.
	MCPRemoteShimPath string
	// MCPRemoteShimPathOverride, if non-empty, is tried before
	// MCPRemoteShimPath (a user-local wrapper per §4.4 item 2).
	MCPRemoteShimPathOverride string
	// SelfMCPURL is the daemon's own MCP endpoint, used for the built-in
	// "agor" self-access server. Empty disables self-access regardless of
	// DisableSelfAccess.
	SelfMCPURL string
	// DisableSelfAccess turns off the built-in "agor" server entirely.
	DisableSelfAccess bool
}

func (c Config) shimPath() string {
	if c.MCPRemoteShimPathOverride != "" {
		return c.MCPRemoteShimPathOverride
	}
	if c.MCPRemoteShimPath != "" {
		return c.MCPRemoteShimPath
	}
	return "mcp-remote"
}

// Resolver implements MCPResolver (C4): assembleServers and
// DiscoverCapabilities.
type Resolver struct {
	repo    repository.Repository
	secrets SecretTemplateResolver
	oauth   *oauthTokenCache
	cfg     Config
	log     *logging.Logger
}

// New builds a Resolver.
func New(repo repository.Repository, secretResolver SecretTemplateResolver, cfg Config, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.Default()
	}
	return &Resolver{
		repo:    repo,
		secrets: secretResolver,
		oauth:   newOAuthTokenCache(),
		cfg:     cfg,
		log:     log,
	}
}

// Assemble implements assembleServers(s) (§4.4): it composes the
// global→repo→session scope chain for session, resolves each server's
// auth, adds the built-in self-access server, and aggregates discovered
// tool names.
func (r *Resolver) Assemble(ctx context.Context, session *model.Session) (*AssembleResult, error) {
	worktree, err := r.repo.Worktrees().FindByID(ctx, session.WorktreeID)
	if err != nil {
		return nil, fmt.Errorf("load worktree: %w", err)
	}

	servers, err := r.scopedServers(ctx, worktree.RepoID, session.ID)
	if err != nil {
		return nil, err
	}

	result := &AssembleResult{Config: AgentMCPConfig{MCPServers: map[string]AgentServerConfig{}}}

	userEnv, err := r.secrets.ResolveEnv(ctx, session.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("resolve user env: %w", err)
	}

	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		cfg, browserFlow, warning, err := r.resolveAuth(ctx, srv, session.CreatedBy, userEnv)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("mcp server %q skipped: %v", srv.Name, err))
			continue
		}
		if browserFlow {
			result.RequiresBrowserFlow = append(result.RequiresBrowserFlow, srv.Name)
			result.Warnings = append(result.Warnings, fmt.Sprintf("mcp server %q requires an interactive OAuth flow before it can be used", srv.Name))
			continue
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		result.Config.MCPServers[srv.Name] = cfg
		for _, tool := range srv.Discovered.Tools {
			result.AllowedTools = append(result.AllowedTools, fmt.Sprintf("mcp__%s__%s", srv.Name, tool))
		}
	}

	if !r.cfg.DisableSelfAccess && r.cfg.SelfMCPURL != "" {
		result.Config.MCPServers["agor"] = AgentServerConfig{
			URL: fmt.Sprintf("%s?mcp_token=%s", r.cfg.SelfMCPURL, session.MCPToken),
		}
	}

	sort.Strings(result.AllowedTools)
	return result, nil
}

// scopedServers collects servers in precedence order global → repo →
// session, deduplicating by id so a later scope's copy of the same server
// id shadows an earlier one (§4.4 item 1). The repository layer does not
// filter FindAll by scope itself, so this package does the composition.
func (r *Resolver) scopedServers(ctx context.Context, repoID, sessionID string) ([]*model.MCPServer, error) {
	all, err := r.repo.MCPServers().FindAll(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}

	order := []string{}
	byID := map[string]*model.MCPServer{}
	add := func(s *model.MCPServer) {
		if _, seen := byID[s.ID]; !seen {
			order = append(order, s.ID)
		}
		byID[s.ID] = s
	}

	for _, s := range all {
		if s.Scope == model.MCPScopeGlobal {
			add(s)
		}
	}
	for _, s := range all {
		if s.Scope == model.MCPScopeRepo && s.ScopeID == repoID {
			add(s)
		}
	}
	for _, s := range all {
		if s.Scope == model.MCPScopeSession && s.ScopeID == sessionID {
			add(s)
		}
	}

	out := make([]*model.MCPServer, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// mcpDiscoveryFailed wraps cause as a non-fatal apierr.KindMCPDiscoveryFailed,
// per spec §7: the server is still included in the config with empty
// discovered tools rather than dropped.
func mcpDiscoveryFailed(server string, cause error) error {
	return apierr.Wrap(apierr.KindMCPDiscoveryFailed, fmt.Sprintf("mcp discovery failed for %q", server), cause, map[string]any{"server": server})
}

func authFailed(server, reason string) error {
	return apierr.New(apierr.KindAuthFailed, reason, map[string]any{"server": server})
}

func logAuthFailure(log *logging.Logger, server string, err error) {
	log.Warn("mcp auth resolution fell back to a degraded configuration", zap.String("server", server), zap.Error(err))
}
