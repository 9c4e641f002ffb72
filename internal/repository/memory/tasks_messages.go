package memory

import (
	"context"
	"sync"

	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/repository"
)

// --- Tasks ---

type tasksRepo struct{ s *store[*model.Task] }

func newTasksRepo() *tasksRepo {
	return &tasksRepo{s: newStore[*model.Task]("task", func(v *model.Task) string { return v.ID })}
}

func (r *tasksRepo) Create(ctx context.Context, v *model.Task) error { return r.s.create(ctx, v) }
func (r *tasksRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	return r.s.findByID(ctx, id)
}
func (r *tasksRepo) FindAll(ctx context.Context, _ repository.Filter) ([]*model.Task, error) {
	return r.s.findAll(ctx, nil), nil
}
func (r *tasksRepo) Update(ctx context.Context, id string, patch map[string]any) (*model.Task, error) {
	return r.s.update(ctx, id, patch)
}
func (r *tasksRepo) Delete(ctx context.Context, id string) error { return r.s.delete(ctx, id) }

// --- Messages ---

type messagesRepo struct {
	s *store[*model.Message]

	mu      sync.Mutex
	counter map[string]int // sessionID -> next index to hand out
}

func newMessagesRepo() *messagesRepo {
	return &messagesRepo{
		s:       newStore[*model.Message]("message", func(v *model.Message) string { return v.ID }),
		counter: make(map[string]int),
	}
}

func (r *messagesRepo) Create(ctx context.Context, v *model.Message) error { return r.s.create(ctx, v) }
func (r *messagesRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	return r.s.findByID(ctx, id)
}
func (r *messagesRepo) FindAll(ctx context.Context, _ repository.Filter) ([]*model.Message, error) {
	return r.s.findAll(ctx, nil), nil
}
func (r *messagesRepo) Update(ctx context.Context, id string, patch map[string]any) (*model.Message, error) {
	return r.s.update(ctx, id, patch)
}
func (r *messagesRepo) Delete(ctx context.Context, id string) error { return r.s.delete(ctx, id) }

func (r *messagesRepo) CountForSession(ctx context.Context, sessionID string) (int, error) {
	msgs := r.s.findAll(ctx, func(v *model.Message) bool { return v.SessionID == sessionID })
	return len(msgs), nil
}

// NextIndex atomically reserves the next gap-free index for sessionID. This
// is the kernel's single allocation point (§4.8, §5): concurrent writers
// for the same session serialize on r.mu.
func (r *messagesRepo) NextIndex(_ context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.counter[sessionID]
	r.counter[sessionID] = next + 1
	return next, nil
}
