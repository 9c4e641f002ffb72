package projectfiles

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAllowedToolsCreatesFileWhenAbsent(t *testing.T) {
	fs := newMemFS()
	mgr := NewSettingsManager(fs)

	require.NoError(t, mgr.UpdateAllowedTools(nil, "/wt", []string{"Bash"}))

	tools, err := mgr.AllowedTools("/wt")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bash"}, tools)
}

func TestUpdateAllowedToolsPreservesUnrelatedKeys(t *testing.T) {
	fs := newMemFS()
	fs.files["/wt/.claude/settings.json"] = []byte(`{"model": "opus", "other": {"nested": true}}`)
	mgr := NewSettingsManager(fs)

	require.NoError(t, mgr.UpdateAllowedTools(nil, "/wt", []string{"Bash"}))

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(fs.files["/wt/.claude/settings.json"], &raw))
	assert.Contains(t, raw, "model")
	assert.Contains(t, raw, "other")
	assert.Contains(t, raw, "permissions")
}

func TestUpdateAllowedToolsDeduplicatesAndMerges(t *testing.T) {
	fs := newMemFS()
	mgr := NewSettingsManager(fs)

	require.NoError(t, mgr.UpdateAllowedTools(nil, "/wt", []string{"Bash", "Read"}))
	require.NoError(t, mgr.UpdateAllowedTools(nil, "/wt", []string{"Read", "Write"}))

	tools, err := mgr.AllowedTools("/wt")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bash", "Read", "Write"}, tools)
}

func TestUpdateAllowedToolsAppliedTwiceIsIdempotent(t *testing.T) {
	fs := newMemFS()
	mgr := NewSettingsManager(fs)

	require.NoError(t, mgr.UpdateAllowedTools(nil, "/wt", []string{"Bash"}))
	first := append([]byte{}, fs.files["/wt/.claude/settings.json"]...)

	require.NoError(t, mgr.UpdateAllowedTools(nil, "/wt", []string{"Bash"}))
	second := fs.files["/wt/.claude/settings.json"]

	assert.Equal(t, first, second)
}

func TestUpdateAllowedToolsIndentsByTwoSpaces(t *testing.T) {
	fs := newMemFS()
	mgr := NewSettingsManager(fs)

	require.NoError(t, mgr.UpdateAllowedTools(nil, "/wt", []string{"Bash"}))

	data := fs.files["/wt/.claude/settings.json"]
	assert.Contains(t, string(data), "\n  \"permissions\"")
}

func TestAllowedToolsReturnsNilWhenFileAbsent(t *testing.T) {
	fs := newMemFS()
	mgr := NewSettingsManager(fs)

	tools, err := mgr.AllowedTools("/wt")
	require.NoError(t, err)
	assert.Nil(t, tools)
}
