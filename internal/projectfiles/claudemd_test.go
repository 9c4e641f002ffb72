package projectfiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendSessionContextToEmptyFile(t *testing.T) {
	fs := newMemFS()
	w := NewSessionContextWriter(fs)

	require.NoError(t, w.AppendSessionContext("/wt", "sess-full-123", "sess123"))

	content := string(fs.files["/wt/CLAUDE.md"])
	assert.Contains(t, content, "## Agor Session Context")
	assert.Contains(t, content, "sess-full-123")
	assert.Contains(t, content, "sess123")
}

func TestAppendSessionContextPreservesExistingContent(t *testing.T) {
	fs := newMemFS()
	fs.files["/wt/CLAUDE.md"] = []byte("# My Project\n\nSome instructions here.\n")
	w := NewSessionContextWriter(fs)

	require.NoError(t, w.AppendSessionContext("/wt", "sess-full-123", "sess123"))

	content := string(fs.files["/wt/CLAUDE.md"])
	assert.Contains(t, content, "# My Project")
	assert.Contains(t, content, "Some instructions here.")
	assert.Contains(t, content, "## Agor Session Context")
}

func TestAppendSessionContextCalledTwiceMatchesOnce(t *testing.T) {
	fs := newMemFS()
	fs.files["/wt/CLAUDE.md"] = []byte("# My Project\n")
	w := NewSessionContextWriter(fs)

	require.NoError(t, w.AppendSessionContext("/wt", "sess-full-123", "sess123"))
	once := append([]byte{}, fs.files["/wt/CLAUDE.md"]...)

	require.NoError(t, w.AppendSessionContext("/wt", "sess-full-123", "sess123"))
	twice := fs.files["/wt/CLAUDE.md"]

	assert.Equal(t, once, twice)
}

func TestAppendSessionContextReplacesStaleSection(t *testing.T) {
	fs := newMemFS()
	fs.files["/wt/CLAUDE.md"] = []byte("# My Project\n")
	w := NewSessionContextWriter(fs)

	require.NoError(t, w.AppendSessionContext("/wt", "sess-old", "old"))
	require.NoError(t, w.AppendSessionContext("/wt", "sess-new", "new"))

	content := string(fs.files["/wt/CLAUDE.md"])
	assert.NotContains(t, content, "sess-old")
	assert.Contains(t, content, "sess-new")
}

func TestRemoveSessionContextRestoresOriginalBytes(t *testing.T) {
	fs := newMemFS()
	original := []byte("# My Project\n\nSome instructions here.\n")
	fs.files["/wt/CLAUDE.md"] = append([]byte{}, original...)
	w := NewSessionContextWriter(fs)

	require.NoError(t, w.AppendSessionContext("/wt", "sess-full-123", "sess123"))
	require.NoError(t, w.RemoveSessionContext("/wt"))

	assert.Equal(t, original, fs.files["/wt/CLAUDE.md"])
}

func TestRemoveSessionContextNoopWhenAbsent(t *testing.T) {
	fs := newMemFS()
	fs.files["/wt/CLAUDE.md"] = []byte("# My Project\n")
	w := NewSessionContextWriter(fs)

	require.NoError(t, w.RemoveSessionContext("/wt"))

	assert.Equal(t, "# My Project\n", string(fs.files["/wt/CLAUDE.md"]))
}
