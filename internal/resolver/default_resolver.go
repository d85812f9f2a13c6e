package resolver

import (
	"context"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/bayleafwalker/felix-core/internal/capability"
	"github.com/bayleafwalker/felix-core/internal/graph"
	"github.com/bayleafwalker/felix-core/internal/metrics"
	"github.com/bayleafwalker/felix-core/internal/version"
)

// DefaultResolver wires every requirement to the matching capability with
// the highest version. Requirements with cardinality:=multiple are wired to
// every match. Dynamic requirements are resolved on demand at run time and
// are skipped here.
type DefaultResolver struct {
	log logr.Logger
}

func NewDefault(log logr.Logger) *DefaultResolver {
	return &DefaultResolver{log: log}
}

type provider struct {
	capability *capability.Capability
	name       string
	version    version.Version
	index      int
}

func (r *DefaultResolver) Resolve(ctx context.Context, in Input) (Plan, error) {
	start := time.Now()
	defer func() {
		metrics.ResolverResolutionDuration.Observe(time.Since(start).Seconds())
	}()

	var providers []provider
	addProviders := func(resources []Resource) {
		for _, res := range resources {
			for _, c := range res.Capabilities {
				providers = append(providers, provider{
					capability: c,
					name:       RevisionName(c.Revision()),
					version:    c.Version(),
					index:      len(providers),
				})
			}
		}
	}
	addProviders(in.Resources)
	addProviders(in.External)

	plan := Plan{}
	g := graph.New()
	for _, res := range in.Resources {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		requirer := RevisionName(res.Revision)
		g.AddNode(requirer)

		for _, req := range res.Requirements {
			if req.IsDynamic() {
				continue
			}
			var candidates []provider
			for _, p := range providers {
				if req.Matches(p.capability) {
					candidates = append(candidates, p)
				}
			}
			if len(candidates) == 0 {
				addUnresolved(&plan.Diagnostics, requirer, req, unresolvedReason(req))
				continue
			}
			for _, p := range selectProviders(req, candidates) {
				plan.Wires = append(plan.Wires, Wire{Requirement: req, Capability: p.capability})
				g.AddEdge(requirer, p.name)
			}
		}
	}

	sort.SliceStable(plan.Wires, func(i, j int) bool {
		a, b := plan.Wires[i], plan.Wires[j]
		if ra, rb := RevisionName(a.Requirer()), RevisionName(b.Requirer()); ra != rb {
			return ra < rb
		}
		if a.Requirement.Namespace() != b.Requirement.Namespace() {
			return a.Requirement.Namespace() < b.Requirement.Namespace()
		}
		return a.Requirement.Name() < b.Requirement.Name()
	})

	resolving := map[string]bool{}
	for _, res := range in.Resources {
		resolving[RevisionName(res.Revision)] = true
	}
	order, cyclic := g.Order()
	for _, n := range order {
		if resolving[n] {
			plan.Order = append(plan.Order, n)
		}
	}
	for _, n := range g.Roots() {
		if resolving[n] {
			plan.Roots = append(plan.Roots, n)
		}
	}
	plan.Diagnostics.Cyclic = cyclic

	metrics.ResolverUnresolvedRequired.Set(float64(len(plan.Diagnostics.UnresolvedRequired)))
	r.log.V(1).Info("resolution complete",
		"wires", len(plan.Wires),
		"unresolvedRequired", len(plan.Diagnostics.UnresolvedRequired),
		"unresolvedOptional", len(plan.Diagnostics.UnresolvedOptional))
	return plan, nil
}

func addUnresolved(diag *Diagnostics, requirer string, req *capability.Requirement, reason string) {
	unresolved := UnresolvedRequirement{
		Requirer:    requirer,
		Namespace:   req.Namespace(),
		Requirement: req.String(),
		Reason:      reason,
	}
	if req.IsOptional() {
		diag.UnresolvedOptional = append(diag.UnresolvedOptional, unresolved)
		return
	}
	diag.UnresolvedRequired = append(diag.UnresolvedRequired, unresolved)
}

func unresolvedReason(req *capability.Requirement) string {
	rng, ok := req.VersionRange()
	if !ok {
		return "no matching capability"
	}
	c, err := rng.Constraint()
	if err != nil {
		return "no matching capability"
	}
	return "no matching capability with version " + c.String()
}

// selectProviders returns the highest version the requirement range
// includes, ties going to the lowest revision name then declaration order.
// Multiple cardinality returns every candidate, highest version first.
func selectProviders(req *capability.Requirement, candidates []provider) []provider {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].name != candidates[j].name {
			return candidates[i].name < candidates[j].name
		}
		return candidates[i].index < candidates[j].index
	})
	if !req.IsMultiple() {
		rng, ok := req.VersionRange()
		if !ok {
			rng = version.Any
		}
		versions := make([]version.Version, len(candidates))
		for i, p := range candidates {
			versions[i] = p.version
		}
		if best, found := version.MaxIncluded(rng, versions); found {
			for _, p := range candidates {
				if p.version.Equal(best) {
					return []provider{p}
				}
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return version.Compare(candidates[i].version, candidates[j].version) > 0
	})
	if req.IsMultiple() {
		return candidates
	}
	return candidates[:1]
}
