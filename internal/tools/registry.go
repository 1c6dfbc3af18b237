package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mohtashammurshid/jarvisd/internal/logging"
)

// Registry holds the process-wide, read-only tool set. It is populated once
// at startup and safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	log   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		log:   logging.WithComponent("tools"),
	}
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// List returns the tool menu in stable name order.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, Spec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Execute runs the named tool and always produces a defined Result: unknown
// names, malformed arguments and adapter failures all degrade into textual
// results so a single tool can never take down an orchestration run.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) *Result {
	tool, ok := r.Get(name)
	if !ok {
		r.log.Warn().Str("tool", name).Msg("unknown tool requested")
		return TextResult(fmt.Sprintf("Tool %q is not available.", name))
	}

	if len(args) > 0 && !json.Valid(args) {
		r.log.Warn().Str("tool", name).Msg("invalid tool arguments")
		return TextResult(fmt.Sprintf("Tool %q was called with malformed arguments.", name))
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		r.log.Error().Err(err).Str("tool", name).Msg("tool execution failed")
		return TextResult(fmt.Sprintf("Tool %q failed: %v", name, err))
	}
	if result == nil {
		return TextResult(fmt.Sprintf("Tool %q returned no result.", name))
	}
	return result
}
