package resolver

import (
	"fmt"

	"github.com/bayleafwalker/felix-core/internal/capability"
	"github.com/bayleafwalker/felix-core/internal/manifest"
	"github.com/bayleafwalker/felix-core/internal/version"
)

// Resource is a revision together with what it declares.
type Resource struct {
	Revision     capability.Revision
	Capabilities []*capability.Capability
	Requirements []*capability.Requirement
}

// FromManifest returns the resource declared by a parsed manifest.
func FromManifest(m *manifest.Manifest) Resource {
	return Resource{Revision: m, Capabilities: m.Capabilities, Requirements: m.Requirements}
}

// Input is the resolution problem.
type Input struct {
	// Resources are resolved; their requirements produce wires.
	Resources []Resource
	// External resources only provide capabilities, e.g. the framework
	// itself or already installed bundles.
	External []Resource
}

// Plan is the result of a resolution.
type Plan struct {
	Wires       []Wire
	Diagnostics Diagnostics
	// Order lists the revisions of Resources with providers before the
	// revisions requiring them.
	Order []string
	// Roots are the revisions of Resources no other revision is wired to.
	Roots []string
}

// Wire connects a requirement to the capability satisfying it.
type Wire struct {
	Requirement *capability.Requirement
	Capability  *capability.Capability
}

func (w Wire) Requirer() capability.Revision { return w.Requirement.Revision() }
func (w Wire) Provider() capability.Revision { return w.Capability.Revision() }

func (w Wire) String() string {
	return fmt.Sprintf("%s -> %s", w.Requirement, w.Capability)
}

// Diagnostics captures why requirements stayed unresolved.
type Diagnostics struct {
	UnresolvedRequired []UnresolvedRequirement
	UnresolvedOptional []UnresolvedRequirement
	// Cyclic lists revisions whose wiring forms or depends on a cycle.
	Cyclic []string
}

type UnresolvedRequirement struct {
	Requirer    string
	Namespace   string
	Requirement string
	Reason      string
}

// RevisionName identifies a revision as symbolic-name_version.
func RevisionName(r capability.Revision) string {
	if r == nil {
		return "<none>"
	}
	if r.Version().Equal(version.Empty) {
		return r.SymbolicName()
	}
	return r.SymbolicName() + "_" + r.Version().String()
}
