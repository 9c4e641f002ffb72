// Package repository defines the Repository interfaces (C9 collaborator)
// for every entity in the data model, plus the shared update/lookup
// semantics described in spec §6: full-or-short id lookup with
// apierr.KindAmbiguousID on a multi-match prefix, atomic deep-merge update,
// and cascading delete where ownership is exclusive.
package repository

import (
	"context"

	"github.com/agor/agord/internal/model"
)

// Filter is an opaque per-call narrowing of findAll; concrete repositories
// interpret the keys they understand and ignore the rest.
type Filter map[string]any

// Users is the Repository surface for User entities.
type Users interface {
	Create(ctx context.Context, u *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindAll(ctx context.Context, filter Filter) ([]*model.User, error)
	Update(ctx context.Context, id string, patch map[string]any) (*model.User, error)
	Delete(ctx context.Context, id string) error
}

// Repos is the Repository surface for Repo entities.
type Repos interface {
	Create(ctx context.Context, r *model.Repo) error
	FindByID(ctx context.Context, id string) (*model.Repo, error)
	FindAll(ctx context.Context, filter Filter) ([]*model.Repo, error)
	Update(ctx context.Context, id string, patch map[string]any) (*model.Repo, error)
	Delete(ctx context.Context, id string) error
}

// Worktrees is the Repository surface for Worktree entities, plus ownership
// and zone-enrichment helpers named in §6.
type Worktrees interface {
	Create(ctx context.Context, w *model.Worktree) error
	FindByID(ctx context.Context, id string) (*model.Worktree, error)
	FindAll(ctx context.Context, filter Filter) ([]*model.Worktree, error)
	Update(ctx context.Context, id string, patch map[string]any) (*model.Worktree, error)
	Delete(ctx context.Context, id string) error

	IsOwner(ctx context.Context, worktreeID, userID string) (bool, error)
	GetOwners(ctx context.Context, worktreeID string) ([]string, error)
	AddOwner(ctx context.Context, worktreeID, userID string) error
	RemoveOwner(ctx context.Context, worktreeID, userID string) error
	BulkLoadOwners(ctx context.Context, worktreeIDs []string) (map[string][]string, error)
	FindAccessibleWorktrees(ctx context.Context, userID string) ([]*model.Worktree, error)
	EnrichWithZoneInfo(ctx context.Context, w *model.Worktree) error
}

// Sessions is the Repository surface for Session entities, plus the
// status/genealogy queries §6 names explicitly.
type Sessions interface {
	Create(ctx context.Context, s *model.Session) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindAll(ctx context.Context, filter Filter) ([]*model.Session, error)
	Update(ctx context.Context, id string, patch map[string]any) (*model.Session, error)
	Delete(ctx context.Context, id string) error

	FindByStatus(ctx context.Context, status model.SessionStatus) ([]*model.Session, error)
	FindChildren(ctx context.Context, id string) ([]*model.Session, error)
	FindAncestors(ctx context.Context, id string) ([]*model.Session, error)
}

// Tasks is the Repository surface for Task entities.
type Tasks interface {
	Create(ctx context.Context, t *model.Task) error
	FindByID(ctx context.Context, id string) (*model.Task, error)
	FindAll(ctx context.Context, filter Filter) ([]*model.Task, error)
	Update(ctx context.Context, id string, patch map[string]any) (*model.Task, error)
	Delete(ctx context.Context, id string) error
}

// Messages is the Repository surface for Message entities.
type Messages interface {
	Create(ctx context.Context, m *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindAll(ctx context.Context, filter Filter) ([]*model.Message, error)
	Update(ctx context.Context, id string, patch map[string]any) (*model.Message, error)
	Delete(ctx context.Context, id string) error

	// CountForSession returns the number of persisted messages for sessionID,
	// used to enforce message_count == len(messages(s)).
	CountForSession(ctx context.Context, sessionID string) (int, error)
	// NextIndex atomically reserves and returns the next message index for
	// sessionID (§4.8 message-indexing discipline).
	NextIndex(ctx context.Context, sessionID string) (int, error)
}

// MCPServers is the Repository surface for MCPServer entities.
type MCPServers interface {
	Create(ctx context.Context, s *model.MCPServer) error
	FindByID(ctx context.Context, id string) (*model.MCPServer, error)
	FindAll(ctx context.Context, filter Filter) ([]*model.MCPServer, error)
	Update(ctx context.Context, id string, patch map[string]any) (*model.MCPServer, error)
	Delete(ctx context.Context, id string) error
}

// PermissionRequests is the Repository surface for PermissionRequest entities.
type PermissionRequests interface {
	Create(ctx context.Context, p *model.PermissionRequest) error
	FindByID(ctx context.Context, id string) (*model.PermissionRequest, error)
	FindAll(ctx context.Context, filter Filter) ([]*model.PermissionRequest, error)
	Update(ctx context.Context, id string, patch map[string]any) (*model.PermissionRequest, error)
	Delete(ctx context.Context, id string) error
}

// Repository aggregates every entity-scoped repository plus lifecycle.
type Repository interface {
	Users() Users
	Repos() Repos
	Worktrees() Worktrees
	Sessions() Sessions
	Tasks() Tasks
	Messages() Messages
	MCPServers() MCPServers
	PermissionRequests() PermissionRequests

	Close() error
}
