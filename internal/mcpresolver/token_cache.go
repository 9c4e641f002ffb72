package mcpresolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/agor/agord/internal/model"
)

// oauthTokenCache caches bearer tokens obtained via jwt exchange or
// oauth2.1 client-credentials, keyed per (server, flavor), until expiry.
// Grounded on apps/backend/internal/agent/credentials/manager.go's
// cache-then-fall-through-to-providers shape, generalized from a flat
// key→Credential cache to a keyed, expiry-aware token cache.
type oauthTokenCache struct {
	mu    sync.Mutex
	cache map[string]cachedToken
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

func newOAuthTokenCache() *oauthTokenCache {
	return &oauthTokenCache{cache: map[string]cachedToken{}}
}

func (c *oauthTokenCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.token, true
}

func (c *oauthTokenCache) set(key, token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cachedToken{token: token, expiresAt: expiresAt}
}

// clientCredentials performs the OAuth2.1 client-credentials grant for
// srv, caching the resulting access token per server until expiry; the
// cache key does not include the user.
func (c *oauthTokenCache) clientCredentials(ctx context.Context, srv *model.MCPServer) (string, error) {
	key := "cc:" + srv.ID
	if token, ok := c.get(key); ok {
		return token, nil
	}

	cfg := &clientcredentials.Config{
		ClientID:     srv.Auth.ClientID,
		ClientSecret: srv.Auth.ClientSecret,
		TokenURL:     srv.Auth.TokenURL,
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("client_credentials grant for %q: %w", srv.Name, err)
	}

	expiresAt := time.Now().Add(55 * time.Minute)
	if !tok.Expiry.IsZero() {
		expiresAt = tok.Expiry.Add(-30 * time.Second)
	}
	c.set(key, tok.AccessToken, expiresAt)
	return tok.AccessToken, nil
}

// jwtBearer POSTs {api_token, api_secret} to srv.Auth.APIURL to obtain a
// bearer token, caching the result per server until expiry; the cache key
// does not include the user.
func (c *oauthTokenCache) jwtBearer(ctx context.Context, srv *model.MCPServer) (string, error) {
	key := "jwt:" + srv.ID
	if token, ok := c.get(key); ok {
		return token, nil
	}

	body, err := json.Marshal(map[string]string{
		"api_token":  srv.Auth.APIToken,
		"api_secret": srv.Auth.APISecret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal jwt exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.Auth.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build jwt exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("jwt exchange request to %s: %w", srv.Auth.APIURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("jwt exchange at %s returned status %d", srv.Auth.APIURL, resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode jwt exchange response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("jwt exchange response had no access_token")
	}

	expiresAt := time.Now().Add(55 * time.Minute)
	if out.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - 30*time.Second)
	}
	c.set(key, out.AccessToken, expiresAt)
	return out.AccessToken, nil
}
