package memory

import (
	"context"
	"sync"

	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/repository"
)

// --- Users ---

type usersRepo struct{ s *store[*model.User] }

func newUsersRepo() *usersRepo {
	return &usersRepo{s: newStore[*model.User]("user", func(u *model.User) string { return u.ID })}
}

func (r *usersRepo) Create(ctx context.Context, u *model.User) error { return r.s.create(ctx, u) }
func (r *usersRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.s.findByID(ctx, id)
}
func (r *usersRepo) FindAll(ctx context.Context, _ repository.Filter) ([]*model.User, error) {
	return r.s.findAll(ctx, nil), nil
}
func (r *usersRepo) Update(ctx context.Context, id string, patch map[string]any) (*model.User, error) {
	return r.s.update(ctx, id, patch)
}
func (r *usersRepo) Delete(ctx context.Context, id string) error { return r.s.delete(ctx, id) }

// --- Repos ---

type reposRepo struct{ s *store[*model.Repo] }

func newReposRepo() *reposRepo {
	return &reposRepo{s: newStore[*model.Repo]("repo", func(v *model.Repo) string { return v.ID })}
}

func (r *reposRepo) Create(ctx context.Context, v *model.Repo) error { return r.s.create(ctx, v) }
func (r *reposRepo) FindByID(ctx context.Context, id string) (*model.Repo, error) {
	return r.s.findByID(ctx, id)
}
func (r *reposRepo) FindAll(ctx context.Context, _ repository.Filter) ([]*model.Repo, error) {
	return r.s.findAll(ctx, nil), nil
}
func (r *reposRepo) Update(ctx context.Context, id string, patch map[string]any) (*model.Repo, error) {
	return r.s.update(ctx, id, patch)
}
func (r *reposRepo) Delete(ctx context.Context, id string) error { return r.s.delete(ctx, id) }

// --- Worktrees ---

type worktreesRepo struct {
	s      *store[*model.Worktree]
	mu     sync.RWMutex
	owners map[string]map[string]bool // worktreeID -> userID -> true
}

func newWorktreesRepo() *worktreesRepo {
	return &worktreesRepo{
		s:      newStore[*model.Worktree]("worktree", func(v *model.Worktree) string { return v.ID }),
		owners: make(map[string]map[string]bool),
	}
}

func (r *worktreesRepo) Create(ctx context.Context, v *model.Worktree) error { return r.s.create(ctx, v) }
func (r *worktreesRepo) FindByID(ctx context.Context, id string) (*model.Worktree, error) {
	return r.s.findByID(ctx, id)
}
func (r *worktreesRepo) FindAll(ctx context.Context, _ repository.Filter) ([]*model.Worktree, error) {
	return r.s.findAll(ctx, nil), nil
}
func (r *worktreesRepo) Update(ctx context.Context, id string, patch map[string]any) (*model.Worktree, error) {
	return r.s.update(ctx, id, patch)
}
func (r *worktreesRepo) Delete(ctx context.Context, id string) error { return r.s.delete(ctx, id) }

func (r *worktreesRepo) IsOwner(_ context.Context, worktreeID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[worktreeID][userID], nil
}

func (r *worktreesRepo) GetOwners(_ context.Context, worktreeID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.owners[worktreeID]))
	for u := range r.owners[worktreeID] {
		out = append(out, u)
	}
	return out, nil
}

func (r *worktreesRepo) AddOwner(_ context.Context, worktreeID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[worktreeID] == nil {
		r.owners[worktreeID] = make(map[string]bool)
	}
	r.owners[worktreeID][userID] = true
	return nil
}

func (r *worktreesRepo) RemoveOwner(_ context.Context, worktreeID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners[worktreeID], userID)
	return nil
}

func (r *worktreesRepo) BulkLoadOwners(_ context.Context, worktreeIDs []string) (map[string][]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(worktreeIDs))
	for _, wid := range worktreeIDs {
		for u := range r.owners[wid] {
			out[wid] = append(out[wid], u)
		}
	}
	return out, nil
}

func (r *worktreesRepo) FindAccessibleWorktrees(ctx context.Context, userID string) ([]*model.Worktree, error) {
	r.mu.RLock()
	ids := make(map[string]bool)
	for wid, us := range r.owners {
		if us[userID] {
			ids[wid] = true
		}
	}
	r.mu.RUnlock()

	all := r.s.findAll(ctx, nil)
	out := make([]*model.Worktree, 0, len(ids))
	for _, w := range all {
		if ids[w.ID] || w.OthersCan != model.OthersCanNone {
			out = append(out, w)
		}
	}
	return out, nil
}

// EnrichWithZoneInfo is a no-op placeholder seam: the zone/NFS-mount
// enrichment it names in §6 is external-collaborator territory (the core
// only needs the interface to exist for callers that expect it).
func (r *worktreesRepo) EnrichWithZoneInfo(_ context.Context, _ *model.Worktree) error { return nil }

// --- MCPServers ---

type mcpServersRepo struct{ s *store[*model.MCPServer] }

func newMCPServersRepo() *mcpServersRepo {
	return &mcpServersRepo{s: newStore[*model.MCPServer]("mcp_server", func(v *model.MCPServer) string { return v.ID })}
}

func (r *mcpServersRepo) Create(ctx context.Context, v *model.MCPServer) error { return r.s.create(ctx, v) }
func (r *mcpServersRepo) FindByID(ctx context.Context, id string) (*model.MCPServer, error) {
	return r.s.findByID(ctx, id)
}
func (r *mcpServersRepo) FindAll(ctx context.Context, _ repository.Filter) ([]*model.MCPServer, error) {
	return r.s.findAll(ctx, nil), nil
}
func (r *mcpServersRepo) Update(ctx context.Context, id string, patch map[string]any) (*model.MCPServer, error) {
	return r.s.update(ctx, id, patch)
}
func (r *mcpServersRepo) Delete(ctx context.Context, id string) error { return r.s.delete(ctx, id) }

// --- PermissionRequests ---

type permissionRequestsRepo struct{ s *store[*model.PermissionRequest] }

func newPermissionRequestsRepo() *permissionRequestsRepo {
	return &permissionRequestsRepo{
		s: newStore[*model.PermissionRequest]("permission_request", func(v *model.PermissionRequest) string { return v.ID }),
	}
}

func (r *permissionRequestsRepo) Create(ctx context.Context, v *model.PermissionRequest) error {
	return r.s.create(ctx, v)
}
func (r *permissionRequestsRepo) FindByID(ctx context.Context, id string) (*model.PermissionRequest, error) {
	return r.s.findByID(ctx, id)
}
func (r *permissionRequestsRepo) FindAll(ctx context.Context, _ repository.Filter) ([]*model.PermissionRequest, error) {
	return r.s.findAll(ctx, nil), nil
}
func (r *permissionRequestsRepo) Update(ctx context.Context, id string, patch map[string]any) (*model.PermissionRequest, error) {
	return r.s.update(ctx, id, patch)
}
func (r *permissionRequestsRepo) Delete(ctx context.Context, id string) error { return r.s.delete(ctx, id) }
