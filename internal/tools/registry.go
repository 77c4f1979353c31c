package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"bobchad/internal/jail"
	"bobchad/internal/logging"
)

// Registry holds all available tools and dispatches invocations.
// Tools are registered at process start; Seal freezes the set.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	jail   *jail.Jail
	sealed bool
}

// NewRegistry creates a new empty tool registry confined to j.
func NewRegistry(j *jail.Jail) *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
		jail:  j,
	}
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name already exists or the registry is sealed.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: %s", ErrRegistrySealed, tool.Name)
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}

	r.tools[tool.Name] = tool

	logging.ToolsDebug("Registered tool: %s (side_effect=%s)", tool.Name, tool.SideEffect)
	return nil
}

// MustRegister registers a tool and panics on error.
// Use this for static tool registration at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Seal makes the registry immutable.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the spec of a tool by name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Spec{}, false
	}
	return specOf(t), true
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Specs returns all tool specs sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, specOf(t))
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Invoke validates args against the tool's schema, resolves path arguments
// through the jail and runs the handler. Failures are *ToolError, except
// jail violations which are returned as-is (wrapped with the tool name).
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ToolError{Kind: KindNotFound, Tool: name, Err: ErrToolNotFound}
	}

	start := time.Now()

	if err := validateArgs(tool, args); err != nil {
		logging.ToolsDebug("Tool %s rejected args: %v", name, err)
		return nil, &ToolError{Kind: KindInvalidArgs, Tool: name, Err: err}
	}

	resolved, err := r.resolvePaths(tool, args)
	if err != nil {
		if errors.Is(err, jail.ErrJailViolation) {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		return nil, &ToolError{Kind: KindInvalidArgs, Tool: name, Err: err}
	}

	if tool.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tool.Timeout)
		defer cancel()
	}

	logging.ToolsDebug("Executing tool: %s", name)
	output, err := tool.Execute(ctx, resolved)
	duration := time.Since(start)
	logging.ToolsDebug("Tool %s completed in %v (success=%v)", name, duration, err == nil)

	if err != nil {
		switch {
		case errors.Is(err, jail.ErrJailViolation):
			return nil, fmt.Errorf("tool %s: %w", name, err)
		case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, &ToolError{Kind: KindTimeout, Tool: name, Err: err}
		default:
			return nil, &ToolError{Kind: KindHandlerFailed, Tool: name, Err: err}
		}
	}

	return &ToolResult{
		ToolName:   name,
		Output:     output,
		SideEffect: tool.SideEffect,
		DurationMs: duration.Milliseconds(),
	}, nil
}

// resolvePaths returns a copy of args with every path argument made absolute inside the jail.
func (r *Registry) resolvePaths(tool *Tool, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, key := range tool.PathArgs {
		raw, ok := out[key]
		if !ok {
			continue
		}
		p, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string path", ErrInvalidArgType, key)
		}
		if r.jail == nil {
			return nil, fmt.Errorf("registry has no jail; refusing path argument %s", key)
		}
		abs, err := r.jail.Resolve(p)
		if err != nil {
			return nil, err
		}
		out[key] = abs
	}
	return out, nil
}

// validateArgs checks required arguments, unknown arguments and declared types.
func validateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	for key, value := range args {
		prop, ok := tool.Schema.Properties[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownArg, key)
		}
		if !matchesType(prop.Type, value) {
			return fmt.Errorf("%w: %s should be %s, got %T", ErrInvalidArgType, key, prop.Type, value)
		}
		if len(prop.Enum) > 0 && !inEnum(prop.Enum, value) {
			return fmt.Errorf("%w: %s=%v not in %v", ErrInvalidArgType, key, value, prop.Enum)
		}
	}
	return nil
}

func matchesType(typ string, value any) bool {
	switch typ {
	case "", "any":
		return true
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == math.Trunc(v)
		}
		return false
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "array":
		switch value.(type) {
		case []any, []string:
			return true
		}
		return false
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return false
}

func inEnum(enum []any, value any) bool {
	for _, e := range enum {
		if e == value {
			return true
		}
	}
	return false
}

func specOf(t *Tool) Spec {
	return Spec{Name: t.Name, Description: t.Description, SideEffect: t.SideEffect, Schema: t.Schema, PathArgs: t.PathArgs}
}
