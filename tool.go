package oao

import (
	"context"
	"fmt"
	"sort"
)

// Tool is a callable capability exposed to agents. Calls are routed through
// the interception layer, which deduplicates them by canonical argument hash.
type Tool interface {
	Name() string
	Call(ctx context.Context, args map[string]any) (any, error)
}

// SideEffecting is an optional interface for tools whose calls mutate
// external systems. Forced re-execution refuses to run such tools unless the
// caller explicitly allows side effects.
type SideEffecting interface {
	SideEffects() bool
}

// ToolFunc adapts a plain function to the Tool interface.
type ToolFunc struct {
	name        string
	sideEffects bool
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewToolFunc creates a read-only tool from a function.
func NewToolFunc(name string, fn func(ctx context.Context, args map[string]any) (any, error)) *ToolFunc {
	return &ToolFunc{name: name, fn: fn}
}

// NewSideEffectingToolFunc creates a tool whose calls have external side
// effects, making it ineligible for forced re-execution by default.
func NewSideEffectingToolFunc(name string, fn func(ctx context.Context, args map[string]any) (any, error)) *ToolFunc {
	return &ToolFunc{name: name, sideEffects: true, fn: fn}
}

func (t *ToolFunc) Name() string { return t.name }

func (t *ToolFunc) SideEffects() bool { return t.sideEffects }

func (t *ToolFunc) Call(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}

// ToolRegistry holds the tools available to one execution. The sorted tool
// names participate in the execution hash, so registering a different tool
// set produces a different hash.
type ToolRegistry struct {
	tools map[string]Tool
}

// NewToolRegistry creates a registry from the given tools.
func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique within a registry.
func (r *ToolRegistry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	if t.Name() == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("duplicate tool name: %s", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool with the given name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasSideEffects reports whether any registered tool declares external side
// effects.
func (r *ToolRegistry) HasSideEffects() bool {
	if r == nil {
		return false
	}
	for _, t := range r.tools {
		if se, ok := t.(SideEffecting); ok && se.SideEffects() {
			return true
		}
	}
	return false
}
