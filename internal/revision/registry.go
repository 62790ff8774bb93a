package revision

import (
	"context"
	"fmt"
	"sort"
	"sync"

	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

// EntityHandler resolves live entities of one type and applies recorded
// state back onto them. Restore must persist through the entity's own save
// path using the provided context so that capture suppression and the
// surrounding transaction apply.
type EntityHandler interface {
	Load(ctx context.Context, id string) (Revisionable, error)
	Restore(ctx context.Context, entity Revisionable, data Snapshot) (Revisionable, error)
}

// HandlerFuncs adapts plain functions to EntityHandler.
type HandlerFuncs struct {
	LoadFunc    func(ctx context.Context, id string) (Revisionable, error)
	RestoreFunc func(ctx context.Context, entity Revisionable, data Snapshot) (Revisionable, error)
}

func (h HandlerFuncs) Load(ctx context.Context, id string) (Revisionable, error) {
	if h.LoadFunc == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "entity loader not configured")
	}
	return h.LoadFunc(ctx, id)
}

func (h HandlerFuncs) Restore(ctx context.Context, entity Revisionable, data Snapshot) (Revisionable, error) {
	if h.RestoreFunc == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "entity type cannot be restored")
	}
	return h.RestoreFunc(ctx, entity, data)
}

// Registry maps entity types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]EntityHandler
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]EntityHandler)}
}

// Register binds entityType to handler. Registering a type twice is an error.
func (r *Registry) Register(entityType string, handler EntityHandler) error {
	if entityType == "" || handler == nil {
		return appErrors.Clone(appErrors.ErrValidation, "entity type and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[entityType]; exists {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("entity type %s already registered", entityType))
	}
	r.handlers[entityType] = handler
	return nil
}

// MustRegister is Register that panics, for wiring at startup.
func (r *Registry) MustRegister(entityType string, handler EntityHandler) {
	if err := r.Register(entityType, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for entityType.
func (r *Registry) Lookup(entityType string) (EntityHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[entityType]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown entity type %s", entityType))
	}
	return handler, nil
}

// Types lists registered entity types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for entityType := range r.handlers {
		types = append(types, entityType)
	}
	sort.Strings(types)
	return types
}
