// Package toolrunner hosts the local registry of tool implementations and
// turns tool.request.v1 breadcrumbs into tool.response.v1 breadcrumbs.
package toolrunner

import (
	"context"
	"encoding/json"
	"sync"
)

// ToolDescriptor is the static shape of a tool: what the catalog advertises
// and what the registry uses to route requests.
type ToolDescriptor struct {
	Name            string
	Description     string
	Schema          json.RawMessage
	RequiredSecrets []string
}

// Tool is the local interface every tool implementation satisfies,
// independent of how its results reach the bus.
type Tool interface {
	Descriptor() ToolDescriptor
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

type entry struct {
	tool   Tool
	active bool
}

// Registry is a name->descriptor map behind a RWMutex, mirroring the
// teacher's ToolRegistry shape with an added active/inactive flag driven
// by secret resolution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a tool, active by default. Re-registering a name replaces
// the implementation but preserves its current active flag.
func (r *Registry) Register(tool Tool) {
	name := tool.Descriptor().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	active := true
	if existing, ok := r.tools[name]; ok {
		active = existing.active
	}
	r.tools[name] = &entry{tool: tool, active: active}
}

// Get returns a tool and whether it is registered at all (regardless of
// active state).
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Active reports whether name is both registered and currently active.
func (r *Registry) Active(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return ok && e.active
}

// MarkActive flips the active flag for a registered tool. Unknown names
// are a no-op since there is nothing to flip.
func (r *Registry) MarkActive(name string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tools[name]; ok {
		e.active = active
	}
}

// Names returns registered tool names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// CatalogEntries returns the {name, description, active} triples the
// catalog publisher needs, independent of the bus wire format.
func (r *Registry) CatalogEntries() []CatalogTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CatalogTool, 0, len(r.tools))
	for name, e := range r.tools {
		out = append(out, CatalogTool{
			Name:        name,
			Description: e.tool.Descriptor().Description,
			Active:      e.active,
		})
	}
	return out
}
