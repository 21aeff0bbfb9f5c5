// Package tools holds the registry of domain tool handlers that steps call.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrToolNotFound is returned when executing an unregistered tool.
var ErrToolNotFound = errors.New("tool not found")

// Handler executes a tool.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Definition describes a registered tool.
type Definition struct {
	Name        string
	Description string
	Subsystem   string
	SideEffect  bool
	Handler     Handler
}

// Executor is what the runtime needs from a tool backend.
type Executor interface {
	Execute(ctx context.Context, tool string, params map[string]any) (map[string]any, error)
	Has(tool string) bool
}

// Registry executes tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler is required for '%s'", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
	return nil
}

// Execute runs a tool. A cancelled context is reported before the handler
// is entered.
func (r *Registry) Execute(ctx context.Context, tool string, params map[string]any) (map[string]any, error) {
	r.mu.RLock()
	def, ok := r.tools[tool]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, tool)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	return def.Handler(ctx, params)
}

// Has reports whether a tool is registered.
func (r *Registry) Has(tool string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[tool]
	return ok
}

// List returns the registered tool names sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition returns a tool definition.
func (r *Registry) Definition(tool string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[tool]
	return def, ok
}

var _ Executor = (*Registry)(nil)
