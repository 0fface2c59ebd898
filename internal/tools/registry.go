package tools

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zavodtech/yaroslav/internal/llm"
)

var (
	// ErrUnknownTool indicates a lookup for a name the registry does not hold.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool indicates a second registration under an existing
	// name. Startup treats this as fatal.
	ErrDuplicateTool = errors.New("duplicate tool registration")
)

// Registry is the closed tool table. Built at startup, read-only afterwards;
// lookups are safe for concurrent use once registration is done.
type Registry struct {
	specs map[string]*ToolSpec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*ToolSpec)}
}

// Register adds a spec. Duplicate names and missing schemas are errors so a
// misconfigured table fails the process at startup rather than mid-turn.
func (r *Registry) Register(spec *ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool spec has no name")
	}
	if spec.schema == nil {
		return fmt.Errorf("tool %s has no compiled schema", spec.Name)
	}
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

// Lookup resolves a tool by the name the model called.
func (r *Registry) Lookup(name string) (*ToolSpec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return spec, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defs returns the tool definitions for the model, in sorted name order so
// the prompt is stable across turns.
func (r *Registry) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.specs))
	for _, name := range r.Names() {
		defs = append(defs, r.specs[name].Def())
	}
	return defs
}
