package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewPKCEPairProducesDistinctVerifierAndChallenge(t *testing.T) {
	pair, err := NewPKCEPair()
	require.NoError(t, err)
	assert.NotEmpty(t, pair.Verifier)
	assert.NotEmpty(t, pair.Challenge)
	assert.NotEqual(t, pair.Verifier, pair.Challenge)

	again, err := NewPKCEPair()
	require.NoError(t, err)
	assert.NotEqual(t, pair.Verifier, again.Verifier, "each call must generate a fresh verifier")
}

func TestAuthCodeURLIncludesS256Challenge(t *testing.T) {
	pair, err := NewPKCEPair()
	require.NoError(t, err)

	cfg := &oauth2.Config{
		ClientID:    "client",
		RedirectURL: "https://app.example/callback",
		Endpoint:    oauth2.Endpoint{AuthURL: "https://auth.example/authorize", TokenURL: "https://auth.example/token"},
	}

	authURL := AuthCodeURL(cfg, pair, "state-123")
	assert.Contains(t, authURL, "code_challenge="+pair.Challenge)
	assert.Contains(t, authURL, "code_challenge_method=S256")
	assert.Contains(t, authURL, "state=state-123")
}

func TestDiscoverMetadataFollowsResourceThenAuthorizationServerDocs(t *testing.T) {
	var asServerURL string
	asServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"authorization_endpoint": "https://as.example/authorize",
			"token_endpoint":         "https://as.example/token",
		})
	}))
	defer asServer.Close()
	asServerURL = asServer.URL

	resourceServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"authorization_servers": []string{asServerURL},
		})
	}))
	defer resourceServer.Close()

	protectedResource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="`+resourceServer.URL+`"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer protectedResource.Close()

	meta, err := DiscoverMetadata(context.Background(), http.DefaultClient, protectedResource.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://as.example/authorize", meta.AuthorizationURL)
	assert.Equal(t, "https://as.example/token", meta.TokenURL)
}

func TestDiscoverMetadataFailsWithoutChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := DiscoverMetadata(context.Background(), http.DefaultClient, srv.URL)
	assert.Error(t, err)
}

func TestResourceMetadataURLExtractsParam(t *testing.T) {
	url, ok := resourceMetadataURL(`Bearer realm="example", resource_metadata="https://example.com/.well-known/oauth-protected-resource"`)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(url, "oauth-protected-resource"))

	_, ok = resourceMetadataURL(`Bearer realm="example"`)
	assert.False(t, ok)
}
