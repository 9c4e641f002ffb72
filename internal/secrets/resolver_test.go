package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	env  map[string][]byte
	keys map[string][]byte
}

func (f *fakeStore) EncryptedAPIKey(_ context.Context, _, vendor string) ([]byte, bool, error) {
	b, ok := f.keys[vendor]
	return b, ok, nil
}

func (f *fakeStore) EncryptedEnvVars(_ context.Context, _ string) (map[string][]byte, error) {
	return f.env, nil
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	provider, err := NewStaticKeyProvider(make([]byte, 32))
	require.NoError(t, err)
	c := NewCipher(provider)

	blob, err := c.Encrypt([]byte("sk-super-secret"))
	require.NoError(t, err)
	assert.NotEqual(t, "sk-super-secret", string(blob))

	plain, err := c.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "sk-super-secret", string(plain))
}

func TestResolveTemplatesSubstitutesKnownAndWarnsUnknown(t *testing.T) {
	provider, _ := NewStaticKeyProvider(make([]byte, 32))
	r := NewResolver(NewCipher(provider), &fakeStore{}, nil, nil)

	out := r.ResolveTemplates("token={{ user.env.MY_TOKEN }} and {{user.env.OTHER}}", map[string]string{
		"MY_TOKEN": "abc123",
	})
	assert.Equal(t, "token=abc123 and ", out)
}

func TestResolveAPIKeyPrecedence(t *testing.T) {
	provider, _ := NewStaticKeyProvider(make([]byte, 32))
	cipher := NewCipher(provider)

	blob, err := cipher.Encrypt([]byte("user-scoped-key"))
	require.NoError(t, err)

	store := &fakeStore{keys: map[string][]byte{"anthropic": blob}}
	r := NewResolver(cipher, store, nil, nil)

	key, ok := r.ResolveAPIKey(context.Background(), "anthropic", "u1")
	require.True(t, ok)
	assert.Equal(t, "user-scoped-key", key)
}
