package mcpresolver

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/agor/agord/internal/mcpresolver/oauth"
)

// OAuthFlowState is the per-attempt state the caller (the httpapi layer)
// must hold between StartOAuthFlow and CompleteOAuthFlow — across the
// redirect to the authorization server and back.
type OAuthFlowState struct {
	ServerID string
	Verifier string
	State    string
	AuthURL  string
	TokenURL string
}

// StartOAuthFlow begins the explicit user-initiated OAuth2.1
// Authorization-Code + PKCE flow for a server previously marked
// requires-browser-flow (§4.4 item 2). It auto-discovers the token/auth
// endpoints via RFC 9728 when the server record doesn't already have them.
func (r *Resolver) StartOAuthFlow(ctx context.Context, serverID, redirectURL string) (string, *OAuthFlowState, error) {
	srv, err := r.repo.MCPServers().FindByID(ctx, serverID)
	if err != nil {
		return "", nil, fmt.Errorf("load mcp server: %w", err)
	}

	authURL, tokenURL := srv.Auth.AuthURL, srv.Auth.TokenURL
	if tokenURL == "" {
		meta, err := oauth.DiscoverMetadata(ctx, nil, srv.URL)
		if err != nil {
			return "", nil, authFailed(srv.Name, fmt.Sprintf("token endpoint discovery failed: %v", err))
		}
		authURL, tokenURL = meta.AuthorizationURL, meta.TokenURL
	}

	pair, err := oauth.NewPKCEPair()
	if err != nil {
		return "", nil, err
	}
	state, err := oauth.RandomState()
	if err != nil {
		return "", nil, err
	}

	cfg := &oauth2.Config{
		ClientID:     srv.Auth.ClientID,
		ClientSecret: srv.Auth.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
	}

	flowState := &OAuthFlowState{ServerID: serverID, Verifier: pair.Verifier, State: state, AuthURL: authURL, TokenURL: tokenURL}
	return oauth.AuthCodeURL(cfg, pair, state), flowState, nil
}

// CompleteOAuthFlow redeems the authorization code returned to redirectURL,
// persisting the resulting access/refresh tokens on the server record
// (§4.4 item 2).
func (r *Resolver) CompleteOAuthFlow(ctx context.Context, flowState *OAuthFlowState, code, redirectURL string) error {
	srv, err := r.repo.MCPServers().FindByID(ctx, flowState.ServerID)
	if err != nil {
		return fmt.Errorf("load mcp server: %w", err)
	}

	cfg := &oauth2.Config{
		ClientID:     srv.Auth.ClientID,
		ClientSecret: srv.Auth.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     oauth2.Endpoint{AuthURL: flowState.AuthURL, TokenURL: flowState.TokenURL},
	}

	tok, err := oauth.ExchangeCode(ctx, cfg, code, oauth.PKCEPair{Verifier: flowState.Verifier})
	if err != nil {
		return authFailed(srv.Name, fmt.Sprintf("authorization code exchange failed: %v", err))
	}

	patch := map[string]any{
		"auth": map[string]any{
			"kind":                   string(srv.Auth.Kind),
			"client_id":              srv.Auth.ClientID,
			"client_secret":          srv.Auth.ClientSecret,
			"token_url":              flowState.TokenURL,
			"auth_url":               flowState.AuthURL,
			"access_token":           tok.AccessToken,
			"refresh_token":          tok.RefreshToken,
			"expires_at":             tok.Expiry,
			"requires_browser_flow":  false,
		},
	}
	if _, err := r.repo.MCPServers().Update(ctx, srv.ID, patch); err != nil {
		return fmt.Errorf("persist oauth tokens: %w", err)
	}
	return nil
}

// tokenIsValid reports whether srv's persisted oauth2.1 access token is
// still usable.
func tokenIsValid(expiresAt time.Time, accessToken string) bool {
	return accessToken != "" && time.Now().Before(expiresAt)
}
