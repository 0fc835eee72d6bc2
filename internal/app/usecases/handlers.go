package usecases

import (
	"context"
	"sync"
)

// HandlerFunc executes one deterministic or spawning node. Inputs are the
// node's satisfied input keys drawn from the run snapshot; the returned map
// becomes the node's write-once outputs.
type HandlerFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// HandlerRegistry maps handler names to functions for deterministic and
// spawning nodes. llm nodes bypass the registry and go to the Oracle.
// PRINCIPLES:
// - KISS: Simple name -> function lookup
// - SRP: Only responsible for handler registration
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]HandlerFunc{}}
}

// Register binds a handler name. Re-registering replaces the previous
// binding.
func (r *HandlerRegistry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Lookup returns the handler bound to name.
func (r *HandlerRegistry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}
