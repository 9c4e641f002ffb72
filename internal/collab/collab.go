// Package collab defines the seams (C9) between the session/tool-execution
// kernel and the outside world: persistence, event delivery, time, process
// spawning, and the filesystem. The kernel depends only on these interfaces;
// concrete wiring lives in internal/repository, internal/broadcast,
// internal/agentdriver, and internal/unixctl.
package collab

import (
	"context"
	"time"
)

// Clock abstracts wall-clock time so tests can control it.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real-time Clock used in production.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Filesystem abstracts the subset of filesystem operations the core needs,
// so tests can run without touching disk.
type Filesystem interface {
	Stat(path string) (FileInfo, error)
	MkdirAll(path string, perm uint32) error
	ReadFile(path string) ([]byte, error)
	WriteFileAtomic(path string, data []byte, perm uint32) error
	Chmod(path string, mode uint32) error
	Chown(path string, uid, gid int) error
	Symlink(oldname, newname string) error
	Lstat(path string) (FileInfo, error)
	Remove(path string) error
}

// FileInfo is the minimal stat surface the core consumes.
type FileInfo struct {
	Exists bool
	IsDir  bool
	Mode   uint32
}

// Frame is one decoded line of an agent subprocess's streaming protocol.
type Frame struct {
	Raw []byte
}

// Process is a running subprocess, abstracting both the agent process and
// CommandExecutor invocations.
type Process interface {
	Send(b []byte) error
	NextMessage(ctx context.Context) (Frame, error)
	Stderr() <-chan string
	Signal(sig int) error
	Wait() (exitCode int, err error)
}

// SpawnParams assembles everything needed to launch a Process.
type SpawnParams struct {
	Cmd                 string
	Args                []string
	Env                 []string
	Cwd                 string
	UID, GID             int
	SupplementaryGroups []int
}

// ProcessSpawner abstracts launching subprocesses under a given Unix identity.
type ProcessSpawner interface {
	Spawn(ctx context.Context, p SpawnParams) (Process, error)
}

// Event is a broadcaster payload; its Type and Data are transport-agnostic.
type Event struct {
	Type string
	Data any
}

// Broadcaster fans events out to viewers of a session or a user's sessions.
// Transport (WebSocket, SSE, …) is not specified here.
type Broadcaster interface {
	EmitToSession(sessionID string, event Event)
	EmitToUser(userID string, event Event)
}
