// Package apierr defines the daemon's error-kind taxonomy. Each Kind is a
// distinct failure mode the core can raise, independent of transport; the
// HTTP-facing layer maps Kind to a status code separately.
package apierr

import (
	"errors"
	"fmt"
)

// Kind enumerates every fail mode the core can raise.
type Kind string

const (
	KindEntityNotFound        Kind = "entity_not_found"
	KindAmbiguousID            Kind = "ambiguous_id"
	KindUnixOpFailed           Kind = "unix_op_failed"
	KindAuthFailed             Kind = "auth_failed"
	KindWorktreeMissingGit     Kind = "worktree_missing_git"
	KindWorktreeEmpty          Kind = "worktree_empty"
	KindAgentSpawnFailed       Kind = "agent_spawn_failed"
	KindAgentStderrExit        Kind = "agent_stderr_exit"
	KindPermissionDeniedByUser Kind = "permission_denied_by_user"
	KindPermissionHookInternal Kind = "permission_hook_internal"
	KindTimeoutIdle            Kind = "timeout_idle"
	KindCancelled              Kind = "cancelled"
	KindMCPDiscoveryFailed     Kind = "mcp_discovery_failed"
)

// Error is the core's single error type; Kind selects the fail mode and
// Fields carries structured context (ids, exit codes, stderr, …).
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apierr.New(kind, "", nil)) style matching on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given kind.
func New(kind Kind, message string, fields map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Fields: fields}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error, fields map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Fields: fields, Cause: cause}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// EntityNotFound builds an entity_not_found error.
func EntityNotFound(kind, id string) *Error {
	return New(KindEntityNotFound, fmt.Sprintf("%s %s not found", kind, id), map[string]any{"kind": kind, "id": id})
}

// AmbiguousID builds an ambiguous_id error enumerating the candidate matches.
func AmbiguousID(kind, prefix string, matches []string) *Error {
	return New(KindAmbiguousID, fmt.Sprintf("prefix %q matches %d %s entities", prefix, len(matches), kind),
		map[string]any{"kind": kind, "prefix": prefix, "matches": matches})
}

// UnixOpFailed builds a unix_op_failed error.
func UnixOpFailed(op string, exitCode int, stderr string, cause error) *Error {
	return Wrap(KindUnixOpFailed, fmt.Sprintf("unix op %q failed", op), cause,
		map[string]any{"op": op, "exitcode": exitCode, "stderr": stderr})
}

// AuthFailed builds an auth_failed error for an MCP server.
func AuthFailed(server, reason string) *Error {
	return New(KindAuthFailed, reason, map[string]any{"server": server, "reason": reason})
}

// AgentSpawnFailed builds an agent_spawn_failed error.
func AgentSpawnFailed(stderr string, cause error) *Error {
	return Wrap(KindAgentSpawnFailed, "agent process failed to spawn", cause, map[string]any{"stderr": stderr})
}

// AgentStderrExit builds an agent_stderr_exit error.
func AgentStderrExit(exitCode int, stderr string) *Error {
	return New(KindAgentStderrExit, "agent process exited with error", map[string]any{"exitcode": exitCode, "stderr": stderr})
}

// PermissionHookInternal builds a permission_hook_internal error; callers
// must treat this conservatively (deny) per §7's propagation policy.
func PermissionHookInternal(cause error) *Error {
	return Wrap(KindPermissionHookInternal, "internal error evaluating permission", cause, nil)
}

// MCPDiscoveryFailed builds an mcp_discovery_failed error; it is tolerated
// by callers, not fatal.
func MCPDiscoveryFailed(server string, cause error) *Error {
	return Wrap(KindMCPDiscoveryFailed, "mcp capability discovery failed", cause, map[string]any{"server": server})
}

// HTTPStatus maps a Kind to a conventional HTTP status, for the ambient
// httpapi surface. The core itself is transport-agnostic.
func HTTPStatus(k Kind) int {
	switch k {
	case KindEntityNotFound:
		return 404
	case KindAmbiguousID:
		return 409
	case KindPermissionDeniedByUser:
		return 403
	case KindCancelled:
		return 499
	case KindTimeoutIdle:
		return 504
	case KindAuthFailed, KindAgentSpawnFailed, KindAgentStderrExit, KindUnixOpFailed, KindPermissionHookInternal:
		return 500
	default:
		return 400
	}
}
