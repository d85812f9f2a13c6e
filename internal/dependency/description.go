package dependency

import (
	"github.com/bayleafwalker/felix-core/internal/registry"
)

// Description is a snapshot of a dependency for introspection.
type Description struct {
	ID               string   `yaml:"id"`
	Specification    string   `yaml:"specification"`
	Filter           string   `yaml:"filter,omitempty"`
	Aggregate        bool     `yaml:"aggregate"`
	Optional         bool     `yaml:"optional"`
	Proxy            bool     `yaml:"proxy"`
	Policy           string   `yaml:"policy"`
	Comparator       string   `yaml:"comparator,omitempty"`
	State            string   `yaml:"state"`
	Frozen           bool     `yaml:"frozen,omitempty"`
	Matching         []string `yaml:"matching,omitempty"`
	Used             []string `yaml:"used,omitempty"`
	DefaultImpl      string   `yaml:"defaultImplementation,omitempty"`
	Exception        string   `yaml:"exception,omitempty"`
	ConstructorIndex int      `yaml:"constructorIndex,omitempty"`
}

func (d *Dependency) Describe() Description {
	desc := Description{
		ID:            d.ID(),
		Specification: d.spec.Name,
		Filter:        d.Filter(),
		Aggregate:     d.IsAggregate(),
		Optional:      d.IsOptional(),
		Proxy:         d.IsProxy(),
		Policy:        d.policy.String(),
		Comparator:    d.ComparatorName(),
		State:         d.State().String(),
		Frozen:        d.IsFrozen(),
		Matching:      refStrings(d.MatchingServiceReferences()),
		Used:          refStrings(d.UsedServiceReferences()),
		DefaultImpl:   d.di,
		Exception:     d.exception,
	}
	if d.index >= 0 {
		desc.ConstructorIndex = d.index
	}
	return desc
}

func refStrings(refs []*registry.ServiceReference) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.String())
	}
	return out
}
