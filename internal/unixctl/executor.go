// Package unixctl implements IdentityStore (C1) and UnixController (C2):
// UID allocation and host-level Unix user/group/worktree provisioning
// (§4.1, §4.2). Style grounded on backend/internal/agent/docker/client.go
// (typed per-call config, structured zap logging, idempotent ensure-style
// methods); mechanism replaced: this package drives os/exec + syscall
// directly instead of the Docker Engine API.
package unixctl

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/agor/agord/internal/apierr"
)

// CommandExecutor is the pluggable backend for all host commands (§4.2).
// The default implementation shells out via os/exec; tests inject a no-op
// or an in-memory fake.
type CommandExecutor interface {
	// Exec runs cmd with args and returns its stdout; a non-zero exit
	// raises apierr.UnixOpFailed.
	Exec(ctx context.Context, name string, args ...string) (string, error)
	// Check runs cmd and reports only whether it exited zero.
	Check(ctx context.Context, name string, args ...string) bool
	// ExecWithInput runs cmd, feeding stdin, without ever placing stdin's
	// content on the command line (used for chpasswd).
	ExecWithInput(ctx context.Context, stdin string, name string, args ...string) error
}

// OSExecutor is the default CommandExecutor, shelling out to real host
// binaries. Intended to run inside a privileged helper process.
type OSExecutor struct{}

func NewOSExecutor() *OSExecutor { return &OSExecutor{} }

func (e *OSExecutor) Exec(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", apierr.New(apierr.KindUnixOpFailed, fmt.Sprintf("%s: command failed", name), map[string]any{
			"op":       name,
			"exitcode": exitCode,
			"stderr":   stderr.String(),
		})
	}
	return stdout.String(), nil
}

func (e *OSExecutor) Check(ctx context.Context, name string, args ...string) bool {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Run() == nil
}

func (e *OSExecutor) ExecWithInput(ctx context.Context, stdin string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewBufferString(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return apierr.New(apierr.KindUnixOpFailed, fmt.Sprintf("%s: command failed", name), map[string]any{
			"op":       name,
			"exitcode": exitCode,
			"stderr":   stderr.String(),
		})
	}
	return nil
}

// NoopExecutor reports success for every call without touching the host;
// used in tests that only exercise call sequencing.
type NoopExecutor struct {
	Calls []string
}

func NewNoopExecutor() *NoopExecutor { return &NoopExecutor{} }

func (e *NoopExecutor) Exec(_ context.Context, name string, args ...string) (string, error) {
	e.Calls = append(e.Calls, name+" "+fmt.Sprint(args))
	return "", nil
}

func (e *NoopExecutor) Check(_ context.Context, name string, args ...string) bool {
	e.Calls = append(e.Calls, name+" "+fmt.Sprint(args))
	return true
}

func (e *NoopExecutor) ExecWithInput(_ context.Context, _ string, name string, args ...string) error {
	e.Calls = append(e.Calls, name+" "+fmt.Sprint(args))
	return nil
}
