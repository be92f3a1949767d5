package registry

import (
	"context"
	"sync"
)

// Registry tracks which namespaces exist. The tenant middleware uses it
// for existence checks and auto-provisioning.
type Registry interface {
	Exists(ctx context.Context, namespace string) (bool, error)
	Ensure(ctx context.Context, namespace string) error
	Delete(ctx context.Context, namespace string) error
}

// MemoryRegistry is the in-process backend.
type MemoryRegistry struct {
	mu         sync.RWMutex
	namespaces map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{namespaces: make(map[string]struct{})}
}

func (r *MemoryRegistry) Exists(_ context.Context, namespace string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.namespaces[namespace]
	return ok, nil
}

func (r *MemoryRegistry) Ensure(_ context.Context, namespace string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.namespaces[namespace] = struct{}{}
	return nil
}

func (r *MemoryRegistry) Delete(_ context.Context, namespace string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.namespaces, namespace)
	return nil
}

// Len reports how many namespaces are registered.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.namespaces)
}
