package observer

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/state"
)

// Behavior is a native observer implementation invoked on matching events.
type Behavior func(ctx context.Context, event *hook.Event, st *state.WorkflowState, args map[string]any) error

// BehaviorRegistry holds registered behaviors. Built-ins are registered at
// startup and write-protected from plugins; the registry is effectively
// write-once-then-read-only after init.
type BehaviorRegistry struct {
	mu        sync.RWMutex
	behaviors map[string]Behavior
	builtin   map[string]bool
}

// NewBehaviorRegistry creates an empty registry.
func NewBehaviorRegistry() *BehaviorRegistry {
	return &BehaviorRegistry{
		behaviors: make(map[string]Behavior),
		builtin:   make(map[string]bool),
	}
}

// Register adds a built-in behavior. Panics on duplicate built-in names:
// that is a programming error, not a configuration error.
func (r *BehaviorRegistry) Register(name string, fn Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.builtin[name] {
		panic(fmt.Sprintf("behavior %q already registered", name))
	}
	r.behaviors[name] = fn
	r.builtin[name] = true
}

// RegisterPluginBehavior adds a plugin-provided behavior. Built-in names are
// rejected.
func (r *BehaviorRegistry) RegisterPluginBehavior(name string, fn Behavior) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.builtin[name] {
		return fmt.Errorf("behavior %q is built-in and cannot be overridden", name)
	}
	r.behaviors[name] = fn
	return nil
}

// Get looks up a behavior by name.
func (r *BehaviorRegistry) Get(name string) (Behavior, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.behaviors[name]
	return fn, ok
}

// Names returns all registered behavior names.
func (r *BehaviorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.behaviors))
	for name := range r.behaviors {
		names = append(names, name)
	}
	return names
}
