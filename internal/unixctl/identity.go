package unixctl

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/agor/agord/internal/apierr"
	"github.com/agor/agord/internal/id"
	"github.com/agor/agord/internal/logging"
	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/repository"
	"go.uber.org/zap"
)

var usernamePattern = regexp.MustCompile(`^agor-[0-9a-f]{8}$`)

// IdentityStore allocates and records the stable Unix identity backing a
// User (§4.1). UIDs are appended, never reused, to keep file ownership
// correct across NFS/EFS mounts where serving hosts rotate.
type IdentityStore struct {
	users  repository.Users
	mu     sync.Mutex
	rngMin int
	rngMax int
	log    *logging.Logger
}

// NewIdentityStore builds an IdentityStore over the given UID range.
func NewIdentityStore(users repository.Users, rngMin, rngMax int, log *logging.Logger) *IdentityStore {
	if log == nil {
		log = logging.Default()
	}
	return &IdentityStore{users: users, rngMin: rngMin, rngMax: rngMax, log: log}
}

// Ensure synthesises a unix_username/unix_uid pair for u if missing,
// persists it, and returns the pair. Idempotent.
func (s *IdentityStore) Ensure(ctx context.Context, u *model.User) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := u.UnixUsername
	if username == "" {
		username = "agor-" + id.Short(u.ID)
		if !usernamePattern.MatchString(username) {
			return "", 0, apierr.New(apierr.KindUnixOpFailed,
				fmt.Sprintf("synthesised username %q does not match required format", username), nil)
		}
	}

	uid := u.UnixUID
	if uid == 0 {
		allocated, err := s.allocateUID(ctx)
		if err != nil {
			return "", 0, err
		}
		uid = allocated
	}

	if username != u.UnixUsername || uid != u.UnixUID {
		updated, err := s.users.Update(ctx, u.ID, map[string]any{
			"unix_username": username,
			"unix_uid":      uid,
		})
		if err != nil {
			return "", 0, err
		}
		u.UnixUsername = updated.UnixUsername
		u.UnixUID = updated.UnixUID
		s.log.Info("allocated unix identity", zap.String("user_id", u.ID), zap.String("username", username), zap.Int("uid", uid))
	}
	return u.UnixUsername, u.UnixUID, nil
}

// Lookup returns the recorded identity for userID, if any.
func (s *IdentityStore) Lookup(ctx context.Context, userID string) (string, int, bool, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if apierr.Is(err, apierr.KindEntityNotFound) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	if u.UnixUID == 0 {
		return "", 0, false, nil
	}
	return u.UnixUsername, u.UnixUID, true, nil
}

// allocateUID scans all recorded UIDs and returns the lowest unused value
// in [rngMin, rngMax]. Callers must hold s.mu.
func (s *IdentityStore) allocateUID(ctx context.Context) (int, error) {
	all, err := s.users.FindAll(ctx, nil)
	if err != nil {
		return 0, err
	}
	used := make(map[int]bool, len(all))
	for _, u := range all {
		if u.UnixUID != 0 {
			used[u.UnixUID] = true
		}
	}
	for candidate := s.rngMin; candidate <= s.rngMax; candidate++ {
		if !used[candidate] {
			return candidate, nil
		}
	}
	return 0, apierr.New(apierr.KindUnixOpFailed, "no_uid_available", map[string]any{
		"range_min": s.rngMin,
		"range_max": s.rngMax,
	})
}
