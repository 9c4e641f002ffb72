package mcpresolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor/agord/internal/id"
	"github.com/agor/agord/internal/model"
)

func TestClientCredentialsCachesTokenAcrossCalls(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "cc-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	mcpSrv := &model.MCPServer{ID: id.New(), Name: "x", Auth: model.MCPAuth{
		Kind: model.MCPAuthOAuth21, ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL,
	}}

	cache := newOAuthTokenCache()
	tok1, err := cache.clientCredentials(context.Background(), mcpSrv)
	require.NoError(t, err)
	assert.Equal(t, "cc-token", tok1)

	tok2, err := cache.clientCredentials(context.Background(), mcpSrv)
	require.NoError(t, err)
	assert.Equal(t, "cc-token", tok2)
	assert.Equal(t, 1, requests, "second call should be served from cache, not a new request")
}

func TestJWTBearerExchangesAndCaches(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "tok", body["api_token"])
		assert.Equal(t, "sec", body["api_secret"])
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "jwt-bearer", "expires_in": 600})
	}))
	defer srv.Close()

	mcpSrv := &model.MCPServer{ID: id.New(), Name: "x", Auth: model.MCPAuth{
		Kind: model.MCPAuthJWT, APIURL: srv.URL, APIToken: "tok", APISecret: "sec",
	}}

	cache := newOAuthTokenCache()
	tok, err := cache.jwtBearer(context.Background(), mcpSrv)
	require.NoError(t, err)
	assert.Equal(t, "jwt-bearer", tok)

	_, err = cache.jwtBearer(context.Background(), mcpSrv)
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
}

func TestJWTBearerFailureSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	mcpSrv := &model.MCPServer{ID: id.New(), Name: "x", Auth: model.MCPAuth{
		Kind: model.MCPAuthJWT, APIURL: srv.URL, APIToken: "tok", APISecret: "sec",
	}}

	cache := newOAuthTokenCache()
	_, err := cache.jwtBearer(context.Background(), mcpSrv)
	assert.Error(t, err)
}
