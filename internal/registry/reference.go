// Package registry is an in-memory service registry: providers publish
// objects under one or more specification names and consumers look them up,
// filter them and listen for changes.
package registry

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
)

// Standard service properties.
const (
	ObjectClass    = "objectClass"
	ServiceID      = "service.id"
	ServiceRanking = "service.ranking"
	ServicePID     = "service.pid"
	InstanceName   = "instance.name"
)

// Properties is a service property dictionary.
type Properties map[string]any

// Get returns the value of key, ignoring case.
func (p Properties) Get(key string) (any, bool) {
	if v, ok := p[key]; ok {
		return v, true
	}
	for k, v := range p {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// ServiceReference points at a registered service. References are compared by
// identity; a reference stays valid until its service is unregistered.
type ServiceReference struct {
	id       int64
	registry *Registry

	mu    sync.RWMutex
	specs []string
	props Properties
}

func (r *ServiceReference) ID() int64 { return r.id }

// ObjectClasses returns the specifications the service was registered under.
func (r *ServiceReference) ObjectClasses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.specs...)
}

// Ranking returns the service.ranking property, or 0 when absent or not an int.
func (r *ServiceReference) Ranking() int {
	v, _ := r.Property(ServiceRanking)
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	}
	return 0
}

func (r *ServiceReference) Property(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.props.Get(key)
}

// Properties returns a copy of the service properties.
func (r *ServiceReference) Properties() Properties {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.props)
}

// PropertyMap returns the properties as a plain map, for filter matching.
func (r *ServiceReference) PropertyMap() map[string]any {
	return map[string]any(r.Properties())
}

// Registry returns the registry holding the service.
func (r *ServiceReference) Registry() *Registry { return r.registry }

func (r *ServiceReference) setProperties(p Properties) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.props = p
}

func (r *ServiceReference) String() string {
	return fmt.Sprintf("%v(id=%d, ranking=%d)", r.ObjectClasses(), r.id, r.Ranking())
}

// Compare orders references by ranking descending, then id ascending, so that
// the preferred reference sorts first.
func Compare(a, b *ServiceReference) int {
	if ra, rb := a.Ranking(), b.Ranking(); ra != rb {
		if ra > rb {
			return -1
		}
		return 1
	}
	switch {
	case a.id < b.id:
		return -1
	case a.id > b.id:
		return 1
	}
	return 0
}

// Sort orders refs with Compare.
func Sort(refs []*ServiceReference) {
	sort.SliceStable(refs, func(i, j int) bool { return Compare(refs[i], refs[j]) < 0 })
}

// SameProperties reports whether a and b carry equal property dictionaries.
func SameProperties(a, b Properties) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}
