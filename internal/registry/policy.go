package registry

import (
	"fmt"
	"strings"

	"github.com/bayleafwalker/felix-core/internal/filter"
)

// Scope selects which registries a composite component binds against.
type Scope int

const (
	// GlobalScope uses only the global registry.
	GlobalScope Scope = iota
	// LocalScope uses only the composite's own registry.
	LocalScope
	// LocalAndGlobalScope merges both registries.
	LocalAndGlobalScope
)

// ParseScope accepts "global", "composite" and "composite+global".
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "global":
		return GlobalScope, nil
	case "composite", "local":
		return LocalScope, nil
	case "composite+global", "local+global":
		return LocalAndGlobalScope, nil
	}
	return 0, fmt.Errorf("registry: unknown scope %q", s)
}

func (s Scope) String() string {
	switch s {
	case LocalScope:
		return "composite"
	case LocalAndGlobalScope:
		return "composite+global"
	}
	return "global"
}

// PolicyContext routes lookups to the global registry, a local one, or both.
type PolicyContext struct {
	global Context
	local  Context
	scope  Scope
}

var _ Context = (*PolicyContext)(nil)

// NewPolicyContext builds a scoped context. A nil local registry degrades
// every scope to global.
func NewPolicyContext(global, local Context, scope Scope) *PolicyContext {
	if local == nil {
		scope = GlobalScope
	}
	return &PolicyContext{global: global, local: local, scope: scope}
}

func (c *PolicyContext) Scope() Scope { return c.scope }

func (c *PolicyContext) contexts() []Context {
	switch c.scope {
	case LocalScope:
		return []Context{c.local}
	case LocalAndGlobalScope:
		return []Context{c.local, c.global}
	}
	return []Context{c.global}
}

func (c *PolicyContext) References(spec string, f *filter.Filter) []*ServiceReference {
	var refs []*ServiceReference
	for _, ctx := range c.contexts() {
		refs = append(refs, ctx.References(spec, f)...)
	}
	Sort(refs)
	return refs
}

// owner returns the context holding ref.
func (c *PolicyContext) owner(ref *ServiceReference) Context {
	if c.local != nil && c.scope != GlobalScope {
		if reg, ok := c.local.(*Registry); ok && ref.Registry() == reg {
			return c.local
		}
	}
	if reg, ok := c.global.(*Registry); ok && ref.Registry() == reg {
		return c.global
	}
	return ref.Registry()
}

func (c *PolicyContext) GetService(ref *ServiceReference) (any, error) {
	return c.owner(ref).GetService(ref)
}

func (c *PolicyContext) UngetService(ref *ServiceReference) {
	c.owner(ref).UngetService(ref)
}

func (c *PolicyContext) AddListener(spec string, f *filter.Filter, l Listener) func() {
	var removers []func()
	for _, ctx := range c.contexts() {
		removers = append(removers, ctx.AddListener(spec, f, l))
	}
	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}
