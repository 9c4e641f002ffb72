package secrets

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/agor/agord/internal/logging"
	"go.uber.org/zap"
)

// templatePattern matches {{ user.env.NAME }} with whitespace-tolerant
// matching; only this exact prefix is recognised (§4.3).
var templatePattern = regexp.MustCompile(`\{\{\s*user\.env\.([A-Za-z0-9_]+)\s*\}\}`)

// UserSecretStore is the narrow read surface this package needs from the
// Repository layer: opaque ciphertext in, nothing but this package opens it.
type UserSecretStore interface {
	EncryptedAPIKey(ctx context.Context, userID, vendor string) ([]byte, bool, error)
	EncryptedEnvVars(ctx context.Context, userID string) (map[string][]byte, error)
}

// GlobalAPIKeySource supplies vendor API keys configured at the daemon
// level, below per-user precedence but above process env (§4.3).
type GlobalAPIKeySource interface {
	GlobalAPIKey(vendor string) (string, bool)
}

// Resolver resolves secret templates and API keys per §4.3's precedence.
type Resolver struct {
	cipher *Cipher
	store  UserSecretStore
	global GlobalAPIKeySource
	log    *logging.Logger
}

// NewResolver builds a Resolver.
func NewResolver(cipher *Cipher, store UserSecretStore, global GlobalAPIKeySource, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.Default()
	}
	return &Resolver{cipher: cipher, store: store, global: global, log: log}
}

// ResolveEnv returns the union of process env (lowest precedence) and the
// user's encrypted env-var map (highest), per §4.3.
func (r *Resolver) ResolveEnv(ctx context.Context, userID string) (map[string]string, error) {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}

	encrypted, err := r.store.EncryptedEnvVars(ctx, userID)
	if err != nil {
		return nil, err
	}
	for name, blob := range encrypted {
		plain, err := r.cipher.Decrypt(blob)
		if err != nil {
			r.log.Warn("failed to decrypt user env var", zap.String("user_id", userID), zap.String("name", name), zap.Error(err))
			continue
		}
		out[name] = string(plain)
	}
	return out, nil
}

// ResolveAPIKey resolves a vendor API key with precedence per-user > global
// config > process env (§4.3).
func (r *Resolver) ResolveAPIKey(ctx context.Context, vendor, userID string) (string, bool) {
	if blob, ok, err := r.store.EncryptedAPIKey(ctx, userID, vendor); err == nil && ok {
		if plain, err := r.cipher.Decrypt(blob); err == nil {
			return string(plain), true
		}
	}
	if r.global != nil {
		if key, ok := r.global.GlobalAPIKey(vendor); ok {
			return key, true
		}
	}
	envName := strings.ToUpper(vendor) + "_API_KEY"
	if v := os.Getenv(envName); v != "" {
		return v, true
	}
	return "", false
}

// ResolveTemplates substitutes every {{ user.env.NAME }} occurrence in s
// against userEnv. Unknown names resolve to the empty string and emit a
// warning, per §4.3.
func (r *Resolver) ResolveTemplates(s string, userEnv map[string]string) string {
	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := templatePattern.FindStringSubmatch(match)
		name := sub[1]
		if v, ok := userEnv[name]; ok {
			return v
		}
		r.log.Warn("unresolved secret template", zap.String("name", name))
		return ""
	})
}

// ResolveTemplatesInMap applies ResolveTemplates to every value in m.
func (r *Resolver) ResolveTemplatesInMap(m map[string]string, userEnv map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = r.ResolveTemplates(v, userEnv)
	}
	return out
}

// EncryptUserSecret seals a plaintext value for storage on a model.User.
func (r *Resolver) EncryptUserSecret(plaintext string) ([]byte, error) {
	return r.cipher.Encrypt([]byte(plaintext))
}
