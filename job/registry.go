package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased task handler that accepts the raw JSON
// argument payload. The typed Definition[T] is converted to a HandlerFunc
// at registration time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, args []byte) error

// Registry is the lookup table from task reference to handler. It is
// filled at startup and read by the local worker backend on every run.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterDefinition registers a typed task definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the arguments into T
// before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, args []byte) error {
		var t T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &t); err != nil {
				return fmt.Errorf("unmarshal arguments for task %q: %w", def.Ref, err)
			}
		}
		return def.Handler(ctx, t)
	}
	r.Register(def.Ref, handler)
}

// Register adds an untyped handler under ref, replacing any previous one.
func (r *Registry) Register(ref string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[ref] = h
}

// Get returns the handler for the given task reference.
// Returns false if no handler is registered.
func (r *Registry) Get(ref string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[ref]
	return h, ok
}

// Has reports whether ref is registered.
func (r *Registry) Has(ref string) bool {
	_, ok := r.Get(ref)
	return ok
}

// Refs returns all registered task references in sorted order.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.handlers))
	for ref := range r.handlers {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
