// Package capability holds the immutable capability and requirement values
// produced from bundle manifests and consumed by the resolver.
package capability

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/bayleafwalker/felix-core/internal/filter"
	"github.com/bayleafwalker/felix-core/internal/version"
)

const (
	PackageNamespace   = "osgi.wiring.package"
	BundleNamespace    = "osgi.wiring.bundle"
	HostNamespace      = "osgi.wiring.host"
	SingletonNamespace = "singleton"

	// Attribute names.
	PackageAttribute            = PackageNamespace
	BundleSymbolicNameAttribute = "bundle-symbolic-name"
	BundleVersionAttribute      = "bundle-version"
	VersionAttribute            = "version"
	SpecificationVersion        = "specification-version"

	// Directive names.
	ResolutionDirective  = "resolution"
	UsesDirective        = "uses"
	SingletonDirective   = "singleton"
	FilterDirective      = "filter"
	MandatoryDirective   = "mandatory"
	VisibilityDirective  = "visibility"
	ExtensionDirective   = "extension"
	CardinalityDirective = "cardinality"

	// Directive values.
	ResolutionDynamic      = "dynamic"
	ResolutionOptional     = "optional"
	ResolutionMandatory    = "mandatory"
	CardinalityMultiple    = "multiple"
	VisibilityReexport     = "reexport"
	ExtensionFramework     = "framework"
	ExtensionBootclasspath = "bootclasspath"
)

// Revision is the opaque owner of capabilities and requirements.
type Revision interface {
	SymbolicName() string
	Version() version.Version
}

// Capability is something a revision provides, such as an exported package.
type Capability struct {
	revision   Revision
	namespace  string
	directives map[string]string
	attributes map[string]any
}

func NewCapability(owner Revision, namespace string, directives map[string]string, attributes map[string]any) *Capability {
	return &Capability{
		revision:   owner,
		namespace:  namespace,
		directives: cloneDirectives(directives),
		attributes: cloneAttributes(attributes),
	}
}

func (c *Capability) Revision() Revision { return c.revision }
func (c *Capability) Namespace() string  { return c.namespace }

// Directives returns a copy of the capability's directives.
func (c *Capability) Directives() map[string]string { return maps.Clone(c.directives) }

// Attributes returns a copy of the capability's attributes.
func (c *Capability) Attributes() map[string]any { return maps.Clone(c.attributes) }

func (c *Capability) Directive(name string) (string, bool) {
	v, ok := c.directives[name]
	return v, ok
}

func (c *Capability) Attribute(name string) (any, bool) {
	v, ok := c.attributes[name]
	return v, ok
}

// Version returns the capability's version attribute, or Empty.
func (c *Capability) Version() version.Version {
	for _, name := range []string{VersionAttribute, BundleVersionAttribute} {
		if v, ok := c.attributes[name].(version.Version); ok {
			return v
		}
	}
	return version.Empty
}

// Name returns the value of the namespace's identifying attribute.
func (c *Capability) Name() string {
	s, _ := c.attributes[nameAttribute(c.namespace)].(string)
	return s
}

// Uses returns the package names listed in the uses directive.
func (c *Capability) Uses() []string {
	raw, ok := c.directives[UsesDirective]
	if !ok {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Capability) String() string {
	return fmt.Sprintf("[%s] %s; %s", owner(c.revision), c.namespace, describe(c.attributes))
}

// Requirement is something a revision needs, such as an imported package.
type Requirement struct {
	revision   Revision
	namespace  string
	directives map[string]string
	attributes map[string]any
	filter     *filter.Filter
}

// NewRequirement builds a requirement. A filter directive, when present, must parse.
func NewRequirement(owner Revision, namespace string, directives map[string]string, attributes map[string]any) (*Requirement, error) {
	r := &Requirement{
		revision:   owner,
		namespace:  namespace,
		directives: cloneDirectives(directives),
		attributes: cloneAttributes(attributes),
	}
	if expr, ok := r.directives[FilterDirective]; ok {
		f, err := filter.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("capability: requirement filter: %w", err)
		}
		r.filter = f
	}
	return r, nil
}

func (r *Requirement) Revision() Revision { return r.revision }
func (r *Requirement) Namespace() string  { return r.namespace }

func (r *Requirement) Directives() map[string]string { return maps.Clone(r.directives) }
func (r *Requirement) Attributes() map[string]any    { return maps.Clone(r.attributes) }

func (r *Requirement) Directive(name string) (string, bool) {
	v, ok := r.directives[name]
	return v, ok
}

func (r *Requirement) Attribute(name string) (any, bool) {
	v, ok := r.attributes[name]
	return v, ok
}

// Name returns the value of the namespace's identifying attribute.
func (r *Requirement) Name() string {
	s, _ := r.attributes[nameAttribute(r.namespace)].(string)
	return s
}

// VersionRange returns the range of the version or bundle-version attribute.
func (r *Requirement) VersionRange() (version.Range, bool) {
	for _, name := range []string{VersionAttribute, BundleVersionAttribute} {
		if rng, ok := r.attributes[name].(version.Range); ok {
			return rng, true
		}
	}
	return version.Range{}, false
}

func (r *Requirement) IsDynamic() bool {
	return r.directives[ResolutionDirective] == ResolutionDynamic
}

func (r *Requirement) IsOptional() bool {
	return r.directives[ResolutionDirective] == ResolutionOptional
}

func (r *Requirement) IsMultiple() bool {
	return r.directives[CardinalityDirective] == CardinalityMultiple
}

// Matches reports whether c satisfies r.
//
// Every requirement attribute must be matched by the capability: version
// ranges must include the capability version, names support the dynamic
// import wildcards "pkg.*" and "*", and other values must be equal. Mandatory
// capability attributes must be named by the requirement.
func (r *Requirement) Matches(c *Capability) bool {
	if c == nil || r.namespace != c.namespace {
		return false
	}
	for name, want := range r.attributes {
		have, ok := c.attributes[name]
		if !ok {
			if _, isRange := want.(version.Range); isRange {
				// An unversioned capability has the empty version.
				have = version.Empty
			} else {
				return false
			}
		}
		if !attributeMatches(name == nameAttribute(r.namespace), want, have) {
			return false
		}
	}
	for _, m := range strings.Split(c.directives[MandatoryDirective], ",") {
		if m = strings.TrimSpace(m); m == "" {
			continue
		}
		if _, ok := r.attributes[m]; !ok {
			return false
		}
	}
	if r.filter != nil && !r.filter.Match(c.attributes) {
		return false
	}
	return true
}

func attributeMatches(isName bool, want, have any) bool {
	switch w := want.(type) {
	case version.Range:
		v, ok := have.(version.Version)
		return ok && w.Includes(v)
	case version.Version:
		v, ok := have.(version.Version)
		return ok && v.Equal(w)
	case string:
		h, ok := have.(string)
		if !ok {
			return false
		}
		if isName {
			return matchName(w, h)
		}
		return w == h
	}
	return fmt.Sprint(want) == fmt.Sprint(have)
}

func matchName(pattern, name string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}

func (r *Requirement) String() string {
	return fmt.Sprintf("[%s] %s; %s", owner(r.revision), r.namespace, describe(r.attributes))
}

// nameAttribute returns the attribute identifying a capability in namespace.
func nameAttribute(namespace string) string {
	switch namespace {
	case BundleNamespace, HostNamespace, SingletonNamespace:
		return BundleSymbolicNameAttribute
	}
	return namespace
}

func owner(r Revision) string {
	if r == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s:%s", r.SymbolicName(), r.Version())
}

func describe(attrs map[string]any) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, attrs[k]))
	}
	return strings.Join(parts, "; ")
}

func cloneDirectives(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	return maps.Clone(in)
}

func cloneAttributes(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return maps.Clone(in)
}
