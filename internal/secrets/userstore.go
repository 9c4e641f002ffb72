package secrets

import (
	"context"
	"os"
	"strings"

	"github.com/agor/agord/internal/repository"
)

// RepositoryUserSecretStore implements UserSecretStore directly over the
// Repository layer's Users() accessor: model.User.APIKeys/EnvVars already
// hold opaque ciphertext (json:"-", excluded from the generic patch
// round-trip), this just reads them back out by vendor/name.
type RepositoryUserSecretStore struct {
	users repository.Users
}

// NewRepositoryUserSecretStore builds a RepositoryUserSecretStore over users.
func NewRepositoryUserSecretStore(users repository.Users) *RepositoryUserSecretStore {
	return &RepositoryUserSecretStore{users: users}
}

func (s *RepositoryUserSecretStore) EncryptedAPIKey(ctx context.Context, userID, vendor string) ([]byte, bool, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	blob, ok := u.APIKeys[vendor]
	return blob, ok, nil
}

func (s *RepositoryUserSecretStore) EncryptedEnvVars(ctx context.Context, userID string) (map[string][]byte, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.EnvVars, nil
}

var _ UserSecretStore = (*RepositoryUserSecretStore)(nil)

// EnvGlobalAPIKeySource reads daemon-level vendor API keys from
// AGOR_GLOBAL_<VENDOR>_API_KEY environment variables, one step below
// per-user keys and above process env in ResolveAPIKey's precedence (§4.3).
type EnvGlobalAPIKeySource struct{}

func (EnvGlobalAPIKeySource) GlobalAPIKey(vendor string) (string, bool) {
	return os.LookupEnv("AGOR_GLOBAL_" + strings.ToUpper(vendor) + "_API_KEY")
}

var _ GlobalAPIKeySource = EnvGlobalAPIKeySource{}
