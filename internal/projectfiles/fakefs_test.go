package projectfiles

import (
	"fmt"

	"github.com/agor/agord/internal/collab"
)

// memFS is a minimal in-memory collab.Filesystem for exercising
// SettingsManager/SessionContextWriter without touching disk.
type memFS struct {
	files map[string][]byte
	dirs  map[string]bool
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string][]byte), dirs: make(map[string]bool)}
}

func (f *memFS) Stat(path string) (collab.FileInfo, error) {
	if _, ok := f.files[path]; ok {
		return collab.FileInfo{Exists: true, IsDir: false}, nil
	}
	if f.dirs[path] {
		return collab.FileInfo{Exists: true, IsDir: true}, nil
	}
	return collab.FileInfo{Exists: false}, nil
}

func (f *memFS) MkdirAll(path string, _ uint32) error {
	f.dirs[path] = true
	return nil
}

func (f *memFS) ReadFile(path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (f *memFS) WriteFileAtomic(path string, data []byte, _ uint32) error {
	out := make([]byte, len(data))
	copy(out, data)
	f.files[path] = out
	return nil
}

func (f *memFS) Chmod(string, uint32) error                 { return nil }
func (f *memFS) Chown(string, int, int) error               { return nil }
func (f *memFS) Symlink(string, string) error                { return nil }
func (f *memFS) Lstat(path string) (collab.FileInfo, error) { return f.Stat(path) }
func (f *memFS) Remove(path string) error {
	delete(f.files, path)
	return nil
}

var _ collab.Filesystem = (*memFS)(nil)
