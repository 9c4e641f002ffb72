package mcpresolver

import (
	"context"
	"fmt"

	"github.com/agor/agord/internal/model"
)

// resolveAuth converts one stored MCPServer into its agent-ready config,
// per §4.4 item 2. It returns (config, requiresBrowserFlow, warning, err).
// err is only non-nil for configurations that cannot be served at all (the
// caller skips the server and records a warning); degraded-but-usable
// outcomes (e.g. a jwt token fetch failure falling back to direct http)
// return a non-empty warning instead of an error.
func (r *Resolver) resolveAuth(ctx context.Context, srv *model.MCPServer, userID string, userEnv map[string]string) (AgentServerConfig, bool, string, error) {
	switch srv.Auth.Kind {
	case model.MCPAuthNone, "":
		return r.resolvePassthrough(srv, userEnv), false, "", nil

	case model.MCPAuthBearer:
		cfg, err := r.resolveBearer(srv, srv.Auth.Token)
		return cfg, false, "", err

	case model.MCPAuthJWT:
		return r.resolveJWT(ctx, srv)

	case model.MCPAuthOAuth21:
		return r.resolveOAuth21(ctx, srv)

	default:
		return AgentServerConfig{}, false, "", fmt.Errorf("unknown auth kind %q", srv.Auth.Kind)
	}
}

// resolvePassthrough handles none/stdio auth: command/args/env pass
// through unchanged except for {{ user.env.NAME }} template substitution
// in env values.
func (r *Resolver) resolvePassthrough(srv *model.MCPServer, userEnv map[string]string) AgentServerConfig {
	if srv.Transport == model.TransportStdio {
		return AgentServerConfig{
			Command: srv.Command,
			Args:    append([]string{}, srv.Args...),
			Env:     r.secrets.ResolveTemplatesInMap(srv.Env, userEnv),
		}
	}
	return AgentServerConfig{URL: srv.URL}
}

// resolveBearer wraps an HTTP(S) MCP server as a stdio invocation of the
// mcp-remote shim, injecting the bearer token as an Authorization header
// via the shim's own CLI contract (the shim reads AGOR_MCP_REMOTE_HEADER_*
// env vars and forwards them as headers to the remote).
func (r *Resolver) resolveBearer(srv *model.MCPServer, token string) (AgentServerConfig, error) {
	if srv.URL == "" {
		return AgentServerConfig{}, fmt.Errorf("bearer-auth server %q has no url", srv.Name)
	}
	return AgentServerConfig{
		Command: r.cfg.shimPath(),
		Args:    []string{srv.URL},
		Env: map[string]string{
			"AGOR_MCP_REMOTE_HEADER_AUTHORIZATION": "Bearer " + token,
		},
	}, nil
}

// resolveJWT exchanges {api_token, api_secret} for a bearer token at
// api_url (cached per server, not per user, until expiry), then treats the result as
// bearer auth. On failure it falls back to a best-effort direct HTTP
// configuration so the user sees the remote's own error rather than a
// local one, per §4.4 item 2 / §7's auth_failed semantics.
func (r *Resolver) resolveJWT(ctx context.Context, srv *model.MCPServer) (AgentServerConfig, bool, string, error) {
	token, err := r.oauth.jwtBearer(ctx, srv)
	if err != nil {
		logAuthFailure(r.log, srv.Name, err)
		return AgentServerConfig{URL: srv.URL}, false,
			fmt.Sprintf("mcp server %q: jwt token exchange failed (%v); falling back to unauthenticated direct config", srv.Name, authFailed(srv.Name, err.Error())), nil
	}
	cfg, err := r.resolveBearer(srv, token)
	return cfg, false, "", err
}

// resolveOAuth21 performs client-credentials when client_id/secret are
// configured; otherwise the server is marked requires-browser-flow and the
// caller surfaces this to the UI rather than treating it as an error.
func (r *Resolver) resolveOAuth21(ctx context.Context, srv *model.MCPServer) (AgentServerConfig, bool, string, error) {
	if tokenIsValid(srv.Auth.ExpiresAt, srv.Auth.AccessToken) {
		cfg, err := r.resolveBearer(srv, srv.Auth.AccessToken)
		return cfg, false, "", err
	}
	if srv.Auth.ClientID == "" || srv.Auth.ClientSecret == "" {
		return AgentServerConfig{}, true, "", nil
	}
	token, err := r.oauth.clientCredentials(ctx, srv)
	if err != nil {
		logAuthFailure(r.log, srv.Name, err)
		return AgentServerConfig{}, false, "", authFailed(srv.Name, err.Error())
	}
	cfg, err := r.resolveBearer(srv, token)
	return cfg, false, "", err
}
