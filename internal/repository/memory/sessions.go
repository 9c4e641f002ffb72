package memory

import (
	"context"

	"github.com/agor/agord/internal/apierr"
	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/repository"
)

type sessionsRepo struct{ s *store[*model.Session] }

func newSessionsRepo() *sessionsRepo {
	return &sessionsRepo{s: newStore[*model.Session]("session", func(v *model.Session) string { return v.ID })}
}

func (r *sessionsRepo) Create(ctx context.Context, v *model.Session) error { return r.s.create(ctx, v) }
func (r *sessionsRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return r.s.findByID(ctx, id)
}
func (r *sessionsRepo) FindAll(ctx context.Context, _ repository.Filter) ([]*model.Session, error) {
	return r.s.findAll(ctx, nil), nil
}
func (r *sessionsRepo) Update(ctx context.Context, id string, patch map[string]any) (*model.Session, error) {
	return r.s.update(ctx, id, patch)
}
func (r *sessionsRepo) Delete(ctx context.Context, id string) error { return r.s.delete(ctx, id) }

func (r *sessionsRepo) FindByStatus(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	return r.s.findAll(ctx, func(v *model.Session) bool { return v.Status == status }), nil
}

func (r *sessionsRepo) FindChildren(ctx context.Context, id string) ([]*model.Session, error) {
	return r.s.findAll(ctx, func(v *model.Session) bool {
		return v.Genealogy.ParentSessionID == id || v.Genealogy.ForkedFromID == id
	}), nil
}

// FindAncestors walks parent/fork links to the root, per §9: genealogy is a
// DAG, not a tree, so traversal is iterative with a visited set; a cycle is
// data corruption and raises an error rather than looping forever.
func (r *sessionsRepo) FindAncestors(ctx context.Context, id string) ([]*model.Session, error) {
	var out []*model.Session
	visited := map[string]bool{id: true}
	current := id
	for {
		s, err := r.s.findByID(ctx, current)
		if err != nil {
			return out, nil
		}
		next := s.Genealogy.ParentSessionID
		if next == "" {
			next = s.Genealogy.ForkedFromID
		}
		if next == "" {
			return out, nil
		}
		if visited[next] {
			return nil, apierr.New(apierr.KindPermissionHookInternal, "genealogy cycle detected", map[string]any{"session_id": id})
		}
		visited[next] = true
		parent, err := r.s.findByID(ctx, next)
		if err != nil {
			return out, nil
		}
		out = append(out, parent)
		current = next
	}
}
