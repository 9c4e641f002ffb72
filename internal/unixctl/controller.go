package unixctl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/agor/agord/internal/apierr"
	"github.com/agor/agord/internal/logging"
	"github.com/agor/agord/internal/model"
	"go.uber.org/zap"
)

const zellijDefaultConfig = `// agor-managed default; remove this line to take ownership
keybinds {}
`

// Controller drives host-level Unix user/group/worktree provisioning
// (§4.2) through a pluggable CommandExecutor.
type Controller struct {
	exec      CommandExecutor
	fs        Filesystem
	agorGroup string
	homeBase  string
	autoLink  bool
	log       *logging.Logger
}

// Filesystem is the narrow filesystem surface the controller needs beyond
// shelling out (zellij config seeding, symlink management).
type Filesystem interface {
	Exists(path string) bool
	MkdirAll(path string, mode uint32) error
	WriteFileIfAbsent(path string, content []byte, mode uint32) error
	Symlink(oldname, newname string) error
	RemoveSymlink(path string) error
}

// NewController builds a Controller.
func NewController(exec CommandExecutor, fs Filesystem, agorGroup, homeBase string, autoLink bool, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.Default()
	}
	return &Controller{exec: exec, fs: fs, agorGroup: agorGroup, homeBase: homeBase, autoLink: autoLink, log: log}
}

// EnsureAgorGroup ensures the host-wide containment group exists.
func (c *Controller) EnsureAgorGroup(ctx context.Context) error {
	if c.exec.Check(ctx, "getent", "group", c.agorGroup) {
		return nil
	}
	_, err := c.exec.Exec(ctx, "groupadd", c.agorGroup)
	if err != nil {
		return apierr.Wrap(apierr.KindUnixOpFailed, "ensure agor group", err, map[string]any{"op": "ensureAgorGroup"})
	}
	return nil
}

// EnsureUser idempotently provisions the host account for u, including its
// home directory, worktrees dir, and a default zellij config.
func (c *Controller) EnsureUser(ctx context.Context, u *model.User) error {
	if u.UnixUsername == "" || u.UnixUID == 0 {
		return apierr.New(apierr.KindUnixOpFailed, "ensureUser called before identity allocation", map[string]any{"user_id": u.ID})
	}
	home := filepath.Join(c.homeBase, u.UnixUsername)

	if !c.exec.Check(ctx, "id", "-u", u.UnixUsername) {
		_, err := c.exec.Exec(ctx, "useradd",
			"--uid", strconv.Itoa(u.UnixUID),
			"--home-dir", home,
			"--create-home",
			"--shell", "/bin/bash",
			"--gid", c.agorGroup,
			u.UnixUsername,
		)
		if err != nil {
			return apierr.Wrap(apierr.KindUnixOpFailed, "create user", err, map[string]any{"op": "ensureUser", "user_id": u.ID})
		}
	} else {
		if _, err := c.exec.Exec(ctx, "usermod", "-aG", c.agorGroup, u.UnixUsername); err != nil {
			return apierr.Wrap(apierr.KindUnixOpFailed, "add user to agor group", err, map[string]any{"op": "ensureUser", "user_id": u.ID})
		}
	}

	worktreesDir := filepath.Join(home, "agor", "worktrees")
	if err := c.fs.MkdirAll(worktreesDir, 0o750); err != nil {
		return apierr.Wrap(apierr.KindUnixOpFailed, "create worktrees dir", err, map[string]any{"op": "ensureUser", "user_id": u.ID})
	}

	zellijDir := filepath.Join(home, ".config", "zellij")
	if err := c.fs.MkdirAll(zellijDir, 0o750); err != nil {
		return apierr.Wrap(apierr.KindUnixOpFailed, "create zellij config dir", err, map[string]any{"op": "ensureUser", "user_id": u.ID})
	}
	if err := c.fs.WriteFileIfAbsent(filepath.Join(zellijDir, "config.kdl"), []byte(zellijDefaultConfig), 0o640); err != nil {
		return apierr.Wrap(apierr.KindUnixOpFailed, "seed zellij config", err, map[string]any{"op": "ensureUser", "user_id": u.ID})
	}
	return nil
}

// WorktreeGroupName derives a deterministic, collision-resistant group name
// from a worktree id.
func WorktreeGroupName(worktreeID string) string {
	sum := sha256.Sum256([]byte(worktreeID))
	return "agor-wt-" + hex.EncodeToString(sum[:])[:12]
}

// CreateWorktreeGroup ensures the worktree's group exists and applies the
// group/mode mapping from §3's others_fs_access (none⇒2700, read⇒2750,
// write⇒2770). SGID is required so files created under the path inherit
// the group.
func (c *Controller) CreateWorktreeGroup(ctx context.Context, w *model.Worktree) error {
	group := WorktreeGroupName(w.ID)
	if !c.exec.Check(ctx, "getent", "group", group) {
		if _, err := c.exec.Exec(ctx, "groupadd", group); err != nil {
			return apierr.Wrap(apierr.KindUnixOpFailed, "create worktree group", err, map[string]any{"op": "createWorktreeGroup", "worktree_id": w.ID})
		}
	}
	if _, err := c.exec.Exec(ctx, "chgrp", "-R", group, w.Path); err != nil {
		return apierr.Wrap(apierr.KindUnixOpFailed, "chgrp worktree", err, map[string]any{"op": "createWorktreeGroup", "worktree_id": w.ID})
	}
	mode := model.FSModeFor(w.OthersFSAccess)
	if _, err := c.exec.Exec(ctx, "chmod", fmt.Sprintf("%04o", mode), w.Path); err != nil {
		return apierr.Wrap(apierr.KindUnixOpFailed, "chmod worktree", err, map[string]any{"op": "createWorktreeGroup", "worktree_id": w.ID})
	}
	return nil
}

// AddUserToWorktreeGroup idempotently grants u access to w's group and, if
// configured, manages the ~u/agor/worktrees/{name} symlink.
func (c *Controller) AddUserToWorktreeGroup(ctx context.Context, w *model.Worktree, u *model.User) error {
	group := WorktreeGroupName(w.ID)
	if _, err := c.exec.Exec(ctx, "usermod", "-aG", group, u.UnixUsername); err != nil {
		return apierr.Wrap(apierr.KindUnixOpFailed, "add user to worktree group", err, map[string]any{"op": "addUserToWorktreeGroup", "worktree_id": w.ID, "user_id": u.ID})
	}
	if c.autoLink {
		link := filepath.Join(c.homeBase, u.UnixUsername, "agor", "worktrees", w.Name)
		if err := c.fs.Symlink(w.Path, link); err != nil {
			return apierr.Wrap(apierr.KindUnixOpFailed, "symlink worktree", err, map[string]any{"op": "addUserToWorktreeGroup", "worktree_id": w.ID, "user_id": u.ID})
		}
	}
	return nil
}

// RemoveUserFromWorktreeGroup idempotently revokes u's access to w.
func (c *Controller) RemoveUserFromWorktreeGroup(ctx context.Context, w *model.Worktree, u *model.User) error {
	group := WorktreeGroupName(w.ID)
	if _, err := c.exec.Exec(ctx, "gpasswd", "-d", u.UnixUsername, group); err != nil {
		return apierr.Wrap(apierr.KindUnixOpFailed, "remove user from worktree group", err, map[string]any{"op": "removeUserFromWorktreeGroup", "worktree_id": w.ID, "user_id": u.ID})
	}
	if c.autoLink {
		link := filepath.Join(c.homeBase, u.UnixUsername, "agor", "worktrees", w.Name)
		if err := c.fs.RemoveSymlink(link); err != nil {
			return apierr.Wrap(apierr.KindUnixOpFailed, "remove worktree symlink", err, map[string]any{"op": "removeUserFromWorktreeGroup", "worktree_id": w.ID, "user_id": u.ID})
		}
	}
	return nil
}

// SyncPassword writes a new password for username via chpasswd, feeding
// the credential over stdin only — it must never appear on the command
// line where `ps` could disclose it.
func (c *Controller) SyncPassword(ctx context.Context, username, plaintext string) error {
	stdin := fmt.Sprintf("%s:%s\n", username, plaintext)
	if err := c.exec.ExecWithInput(ctx, stdin, "chpasswd"); err != nil {
		return apierr.Wrap(apierr.KindUnixOpFailed, "sync password", err, map[string]any{"op": "syncPassword", "username": username})
	}
	return nil
}

// SyncWorktree reconciles worktree w's group, mode, and member list against
// the given set of authorized users. Idempotent over repeated runs.
func (c *Controller) SyncWorktree(ctx context.Context, w *model.Worktree, authorized []*model.User) error {
	if err := c.CreateWorktreeGroup(ctx, w); err != nil {
		return err
	}
	for _, u := range authorized {
		if err := c.AddUserToWorktreeGroup(ctx, w, u); err != nil {
			return err
		}
	}
	return nil
}

// SyncUser reconciles a single user's host account from truth.
func (c *Controller) SyncUser(ctx context.Context, u *model.User, worktrees []*model.Worktree) error {
	if err := c.EnsureUser(ctx, u); err != nil {
		return err
	}
	for _, w := range worktrees {
		if err := c.AddUserToWorktreeGroup(ctx, w, u); err != nil {
			return err
		}
	}
	return nil
}

// SyncAll reconciles the full fleet of users and worktrees from truth.
// Errors from individual reconciliations are logged and collected; the
// caller decides whether any are fatal (§4.2 failure semantics).
func (c *Controller) SyncAll(ctx context.Context, users []*model.User, worktrees []*model.Worktree) []error {
	var errs []error
	if err := c.EnsureAgorGroup(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, u := range users {
		if err := c.EnsureUser(ctx, u); err != nil {
			c.log.Warn("syncAll: ensureUser failed", zap.String("user_id", u.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	for _, w := range worktrees {
		if err := c.CreateWorktreeGroup(ctx, w); err != nil {
			c.log.Warn("syncAll: createWorktreeGroup failed", zap.String("worktree_id", w.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errs
}
