// Package dependency binds service references to component instances.
//
// A Dependency tracks the services matching one declared requirement of a
// component, decides which of them are bound according to its binding
// policy, and hands the bound objects to the component through injected
// fields, constructor parameters and bind/unbind/modified callbacks.
package dependency

import (
	"fmt"
	"strings"
	"time"

	"github.com/bayleafwalker/felix-core/internal/bundle"
	"github.com/bayleafwalker/felix-core/internal/filter"
	"github.com/bayleafwalker/felix-core/internal/registry"
)

// State is the resolution state of a dependency.
type State int

const (
	// Broken marks a static dependency whose bound service left. It stays
	// broken until the instance is restarted.
	Broken     State = -1
	Unresolved State = 0
	Resolved   State = 1
)

func (s State) String() string {
	switch s {
	case Broken:
		return "broken"
	case Resolved:
		return "resolved"
	}
	return "unresolved"
}

// Policy controls rebinding once a dependency is resolved.
type Policy int

const (
	DynamicPolicy Policy = iota
	StaticPolicy
	DynamicPriorityPolicy
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dynamic":
		return DynamicPolicy, nil
	case "static":
		return StaticPolicy, nil
	case "dynamic-priority":
		return DynamicPriorityPolicy, nil
	}
	return 0, fmt.Errorf("unknown binding policy %q", s)
}

func (p Policy) String() string {
	switch p {
	case StaticPolicy:
		return "static"
	case DynamicPriorityPolicy:
		return "dynamic-priority"
	}
	return "dynamic"
}

// AggregateType is the container used to inject aggregate dependencies.
type AggregateType int

const (
	AggregateNone AggregateType = iota
	AggregateArray
	AggregateList
	AggregateSet
	AggregateVector
)

func (t AggregateType) String() string {
	switch t {
	case AggregateArray:
		return "array"
	case AggregateList:
		return "list"
	case AggregateSet:
		return "set"
	case AggregateVector:
		return "vector"
	}
	return "scalar"
}

// ProxyType selects how scalar proxies are built.
type ProxyType int

const (
	SmartProxyType ProxyType = iota
	DynamicProxyType
)

// Proxy setting values.
const (
	ProxyEnabled     = "enabled"
	ProxyDisabled    = "disabled"
	ProxyTypeSmart   = "smart"
	ProxyTypeDynamic = "dynamic-proxy"
)

func ParseProxyType(s string) (ProxyType, error) {
	switch strings.TrimSpace(s) {
	case "", ProxyTypeSmart:
		return SmartProxyType, nil
	case ProxyTypeDynamic:
		return DynamicProxyType, nil
	}
	return 0, fmt.Errorf("unknown proxy type %q", s)
}

func (t ProxyType) String() string {
	if t == DynamicProxyType {
		return ProxyTypeDynamic
	}
	return ProxyTypeSmart
}

// InstanceState is the lifecycle state of a component instance.
type InstanceState int

const (
	InstanceDisposed InstanceState = -1
	InstanceStopped  InstanceState = 0
	InstanceInvalid  InstanceState = 1
	InstanceValid    InstanceState = 2
)

func (s InstanceState) String() string {
	switch s {
	case InstanceDisposed:
		return "disposed"
	case InstanceInvalid:
		return "invalid"
	case InstanceValid:
		return "valid"
	}
	return "stopped"
}

// Instance is the component instance owning a dependency.
type Instance interface {
	Name() string
	ClassName() string
	State() InstanceState
	// PojoObjects returns the created implementation objects, or nil.
	PojoObjects() []any
	Stop()
	Start()
}

// StateListener is told when a dependency becomes resolved or stops being so.
type StateListener interface {
	Validate(d *Dependency)
	Invalidate(d *Dependency)
}

// Comparator orders service references; negative means a is preferred.
type Comparator func(a, b *registry.ServiceReference) int

// Config declares a dependency.
type Config struct {
	// ID defaults to the specification name.
	ID            string
	Field         string
	Specification *bundle.Class
	Filter        *filter.Filter
	Optional      bool
	Aggregate     bool
	AggregateType AggregateType
	// Nullable injects a do-nothing object when no provider is available.
	Nullable bool
	// DefaultImplementation and Exception name classes of the bundle.
	DefaultImplementation string
	Exception             string
	Proxy                 bool
	ProxyType             ProxyType
	Policy                Policy
	Comparator            Comparator
	// ComparatorName is reported in descriptions.
	ComparatorName string
	// ConstructorIndex is -1 when the dependency is not a constructor parameter.
	ConstructorIndex int
	// Timeout bounds the wait for a provider on first access.
	Timeout   time.Duration
	Callbacks []*Callback
}
