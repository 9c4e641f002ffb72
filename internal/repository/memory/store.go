// Package memory provides an in-memory Repository implementation, used by
// tests and by single-process deployments that don't need durability across
// restarts. Grounded on the teacher's repository package shape
// (backend/internal/task/repository/{interface,sqlite}.go): context-first
// methods, Close() error, not-found/ambiguous errors on lookup.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/agor/agord/internal/apierr"
	"github.com/agor/agord/internal/repository"
)

// store is a generic id-keyed, mutex-guarded map with JSON-round-trip
// deep-merge update semantics (DeepMergePatch applied over the struct's own
// JSON shape, then re-decoded).
type store[T any] struct {
	mu   sync.RWMutex
	data map[string]T
	kind string
	idOf func(T) string
}

func newStore[T any](kind string, idOf func(T) string) *store[T] {
	return &store[T]{data: make(map[string]T), kind: kind, idOf: idOf}
}

func (s *store[T]) create(_ context.Context, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.idOf(v)] = v
	return nil
}

func (s *store[T]) ids() []string {
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

func (s *store[T]) findByID(_ context.Context, ref string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var zero T
	full, err := repository.Resolve(s.kind, ref, s.ids())
	if err != nil {
		return zero, err
	}
	return s.data[full], nil
}

func (s *store[T]) findAll(_ context.Context, match func(T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.data))
	for _, v := range s.data {
		if match == nil || match(v) {
			out = append(out, v)
		}
	}
	return out
}

func (s *store[T]) update(_ context.Context, ref string, patch map[string]any) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	full, err := repository.Resolve(s.kind, ref, s.ids())
	if err != nil {
		return zero, err
	}
	current := s.data[full]

	asBytes, err := json.Marshal(current)
	if err != nil {
		return zero, apierr.Wrap(apierr.KindPermissionHookInternal, "marshal failed", err, nil)
	}
	var asMap map[string]any
	if err := json.Unmarshal(asBytes, &asMap); err != nil {
		return zero, apierr.Wrap(apierr.KindPermissionHookInternal, "unmarshal failed", err, nil)
	}

	merged := repository.DeepMergePatch(asMap, patch)

	mergedBytes, err := json.Marshal(merged)
	if err != nil {
		return zero, apierr.Wrap(apierr.KindPermissionHookInternal, "marshal failed", err, nil)
	}
	var next T
	if err := json.Unmarshal(mergedBytes, &next); err != nil {
		return zero, apierr.Wrap(apierr.KindPermissionHookInternal, "unmarshal failed", err, nil)
	}

	s.data[full] = next
	return next, nil
}

func (s *store[T]) delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	full, err := repository.Resolve(s.kind, ref, s.ids())
	if err != nil {
		return err
	}
	delete(s.data, full)
	return nil
}
