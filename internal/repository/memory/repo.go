package memory

import "github.com/agor/agord/internal/repository"

// Repo is the in-memory Repository implementation.
type Repo struct {
	users               *usersRepo
	repos               *reposRepo
	worktrees           *worktreesRepo
	sessions            *sessionsRepo
	tasks               *tasksRepo
	messages            *messagesRepo
	mcpServers          *mcpServersRepo
	permissionRequests  *permissionRequestsRepo
}

// New constructs an empty in-memory Repository.
func New() *Repo {
	return &Repo{
		users:              newUsersRepo(),
		repos:              newReposRepo(),
		worktrees:          newWorktreesRepo(),
		sessions:           newSessionsRepo(),
		tasks:              newTasksRepo(),
		messages:           newMessagesRepo(),
		mcpServers:         newMCPServersRepo(),
		permissionRequests: newPermissionRequestsRepo(),
	}
}

func (r *Repo) Users() repository.Users                           { return r.users }
func (r *Repo) Repos() repository.Repos                           { return r.repos }
func (r *Repo) Worktrees() repository.Worktrees                   { return r.worktrees }
func (r *Repo) Sessions() repository.Sessions                     { return r.sessions }
func (r *Repo) Tasks() repository.Tasks                           { return r.tasks }
func (r *Repo) Messages() repository.Messages                     { return r.messages }
func (r *Repo) MCPServers() repository.MCPServers                 { return r.mcpServers }
func (r *Repo) PermissionRequests() repository.PermissionRequests { return r.permissionRequests }

// Close is a no-op for the in-memory backend.
func (r *Repo) Close() error { return nil }

var _ repository.Repository = (*Repo)(nil)
