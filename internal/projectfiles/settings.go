// Package projectfiles manages the on-disk files the core reads or writes
// directly in a worktree, outside the repository layer: Claude Code's
// .claude/settings.json permission allowlist and CLAUDE.md's appended Agor
// Session Context section.
//
// Grounded on tchow-twistedxcom-agent-deck/internal/session/claude_hooks.go's
// read-preserve-modify-write pattern over map[string]json.RawMessage with a
// .tmp-then-rename atomic write, generalized here from hook-matcher injection
// to permission-allowlist merging.
package projectfiles

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/agor/agord/internal/collab"
)

// SettingsManager reads and merges .claude/settings.json under a worktree.
// It never replaces the file wholesale: top-level keys other than
// permissions are preserved, and permissions.allow.tools is deduplicated on
// merge.
type SettingsManager struct {
	fs collab.Filesystem
}

func NewSettingsManager(fs collab.Filesystem) *SettingsManager {
	return &SettingsManager{fs: fs}
}

// settingsPermissions mirrors the shape spec'd for .claude/settings.json:
// {permissions:{allow:{tools:[string]}, deny:[string]}, ...}. Only the
// fields the core actually touches are typed. Top-level keys round-trip
// through json.RawMessage untouched; under permissions only allow.tools and
// deny are kept, and any other key there is dropped on write.
type settingsPermissions struct {
	Allow settingsAllow   `json:"allow"`
	Deny  json.RawMessage `json:"deny,omitempty"`
}

type settingsAllow struct {
	Tools []string `json:"tools"`
}

// UpdateAllowedTools implements permission.ProjectSettingsUpdater: it merges
// the given tool names into permissions.allow.tools under
// {worktreePath}/.claude/settings.json, creating the file and its parent
// directory if absent, preserving every other top-level key, and
// deduplicating the resulting tool list. Indentation is two spaces.
//
// Idempotent: calling it twice with the same tools produces byte-identical
// output the second time.
func (m *SettingsManager) UpdateAllowedTools(_ context.Context, worktreePath string, tools []string) error {
	if len(tools) == 0 {
		return nil
	}
	dir := filepath.Join(worktreePath, ".claude")
	path := filepath.Join(dir, "settings.json")

	raw, err := m.readRaw(path)
	if err != nil {
		return err
	}

	var perms settingsPermissions
	if existing, ok := raw["permissions"]; ok {
		if err := json.Unmarshal(existing, &perms); err != nil {
			// permissions key exists but isn't the shape we expect; start
			// fresh for permissions rather than fail the whole merge.
			perms = settingsPermissions{}
		}
	}

	perms.Allow.Tools = dedupeSorted(append(append([]string{}, perms.Allow.Tools...), tools...))

	permsRaw, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	if raw == nil {
		raw = make(map[string]json.RawMessage)
	}
	raw["permissions"] = permsRaw

	return m.writeRaw(dir, path, raw)
}

// AllowedTools returns the current permissions.allow.tools list, for tests
// and diagnostics. Returns nil if the file or key is absent.
func (m *SettingsManager) AllowedTools(worktreePath string) ([]string, error) {
	path := filepath.Join(worktreePath, ".claude", "settings.json")
	raw, err := m.readRaw(path)
	if err != nil {
		return nil, err
	}
	existing, ok := raw["permissions"]
	if !ok {
		return nil, nil
	}
	var perms settingsPermissions
	if err := json.Unmarshal(existing, &perms); err != nil {
		return nil, nil
	}
	return perms.Allow.Tools, nil
}

func (m *SettingsManager) readRaw(path string) (map[string]json.RawMessage, error) {
	info, err := m.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat settings.json: %w", err)
	}
	if !info.Exists {
		return make(map[string]json.RawMessage), nil
	}
	data, err := m.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings.json: %w", err)
	}
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse settings.json: %w", err)
	}
	return raw, nil
}

func (m *SettingsManager) writeRaw(dir, path string, raw map[string]json.RawMessage) error {
	if err := m.fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create .claude dir: %w", err)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := m.fs.WriteFileAtomic(path, data, 0o640); err != nil {
		return fmt.Errorf("write settings.json: %w", err)
	}
	return nil
}

func dedupeSorted(tools []string) []string {
	seen := make(map[string]struct{}, len(tools))
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
