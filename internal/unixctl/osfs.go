package unixctl

import (
	"os"
	"path/filepath"

	"github.com/agor/agord/internal/collab"
)

// OSCollabFilesystem is the real disk-backed collab.Filesystem used by
// cmd/agord. Distinct from OSFilesystem above: that type serves
// Controller's narrower Exists/WriteFileIfAbsent/Symlink surface, this one
// serves sessionkernel/permission/projectfiles' full Filesystem contract,
// including the WriteFileAtomic §6 round-trip guarantee needs.
type OSCollabFilesystem struct{}

// NewOSCollabFilesystem builds an OSCollabFilesystem.
func NewOSCollabFilesystem() *OSCollabFilesystem { return &OSCollabFilesystem{} }

func (OSCollabFilesystem) Stat(path string) (collab.FileInfo, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return collab.FileInfo{}, nil
	}
	if err != nil {
		return collab.FileInfo{}, err
	}
	return collab.FileInfo{Exists: true, IsDir: info.IsDir(), Mode: uint32(info.Mode().Perm())}, nil
}

func (OSCollabFilesystem) MkdirAll(path string, perm uint32) error {
	return os.MkdirAll(path, os.FileMode(perm))
}

func (OSCollabFilesystem) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// WriteFileAtomic writes to a temp file in the same directory, then renames
// over path, so readers never observe a partially-written file.
func (OSCollabFilesystem) WriteFileAtomic(path string, data []byte, perm uint32) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, os.FileMode(perm)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func (OSCollabFilesystem) Chmod(path string, mode uint32) error {
	return os.Chmod(path, os.FileMode(mode))
}

func (OSCollabFilesystem) Chown(path string, uid, gid int) error {
	return os.Chown(path, uid, gid)
}

func (OSCollabFilesystem) Symlink(oldname, newname string) error {
	return os.Symlink(oldname, newname)
}

func (OSCollabFilesystem) Lstat(path string) (collab.FileInfo, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return collab.FileInfo{}, nil
	}
	if err != nil {
		return collab.FileInfo{}, err
	}
	return collab.FileInfo{Exists: true, IsDir: info.IsDir(), Mode: uint32(info.Mode().Perm())}, nil
}

func (OSCollabFilesystem) Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

var _ collab.Filesystem = OSCollabFilesystem{}
