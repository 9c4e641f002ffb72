package projectfiles

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/agor/agord/internal/collab"
)

const sectionHeader = "\n\n---\n\n## Agor Session Context"

// SessionContextWriter appends and removes the "Agor Session Context"
// section of a worktree's CLAUDE.md. The section is always the file's
// suffix, starting at sectionHeader; append is idempotent (a second call
// with the same ids is a no-op) and remove deletes exactly that suffix,
// restoring the file to its pre-append bytes.
type SessionContextWriter struct {
	fs collab.Filesystem
}

func NewSessionContextWriter(fs collab.Filesystem) *SessionContextWriter {
	return &SessionContextWriter{fs: fs}
}

// AppendSessionContext appends the session context section naming
// fullSessionID and shortSessionID to {worktreePath}/CLAUDE.md. If a section
// is already present, it is replaced with one reflecting the current ids
// (skipping a rewrite entirely when the content is already identical).
func (w *SessionContextWriter) AppendSessionContext(worktreePath, fullSessionID, shortSessionID string) error {
	path := filepath.Join(worktreePath, "CLAUDE.md")
	base, err := w.readBase(path)
	if err != nil {
		return err
	}

	section := renderSection(fullSessionID, shortSessionID)
	desired := append(append([]byte{}, base...), []byte(section)...)

	current, err := w.readFull(path)
	if err != nil {
		return err
	}
	if bytes.Equal(current, desired) {
		return nil
	}
	if err := w.fs.WriteFileAtomic(path, desired, 0o640); err != nil {
		return fmt.Errorf("write CLAUDE.md: %w", err)
	}
	return nil
}

// RemoveSessionContext deletes the Agor Session Context suffix from
// CLAUDE.md, restoring the file to its content before any append. A no-op
// if no section is present.
func (w *SessionContextWriter) RemoveSessionContext(worktreePath string) error {
	path := filepath.Join(worktreePath, "CLAUDE.md")
	base, err := w.readBase(path)
	if err != nil {
		return err
	}
	current, err := w.readFull(path)
	if err != nil {
		return err
	}
	if bytes.Equal(current, base) {
		return nil // nothing to remove, including the no-file case
	}
	if err := w.fs.WriteFileAtomic(path, base, 0o640); err != nil {
		return fmt.Errorf("write CLAUDE.md: %w", err)
	}
	return nil
}

// readBase returns the file's content with any existing Agor Session
// Context suffix stripped (the "pre-append" bytes). Returns an empty slice
// if the file does not exist.
func (w *SessionContextWriter) readBase(path string) ([]byte, error) {
	data, err := w.readFull(path)
	if err != nil {
		return nil, err
	}
	if idx := bytes.Index(data, []byte(sectionHeader)); idx >= 0 {
		return data[:idx], nil
	}
	return data, nil
}

func (w *SessionContextWriter) readFull(path string) ([]byte, error) {
	info, err := w.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat CLAUDE.md: %w", err)
	}
	if !info.Exists {
		return nil, nil
	}
	data, err := w.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CLAUDE.md: %w", err)
	}
	return data, nil
}

func renderSection(fullSessionID, shortSessionID string) string {
	return fmt.Sprintf("%s\n\nSession: `%s` (`%s`)\n", sectionHeader, fullSessionID, shortSessionID)
}
