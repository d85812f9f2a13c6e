// Package handler configures and drives the service dependencies of one
// component instance and publishes the instance's validity.
package handler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bayleafwalker/felix-core/internal/bundle"
)

// Instance configuration keys.
const (
	InstanceNameProperty = "instance.name"
	// RequiresFiltersProperty maps dependency ids to filters replacing the
	// declared ones.
	RequiresFiltersProperty = "requires.filters"
	// RequiresFromProperty maps dependency ids to the provider name they
	// must bind to.
	RequiresFromProperty = "requires.from"
)

// Component describes an implementation class and its dependencies.
type Component struct {
	ClassName    string     `yaml:"classname"`
	Dependencies []Metadata `yaml:"requires"`

	// Class is resolved from ClassName when nil.
	Class *bundle.Class `yaml:"-"`
}

// Metadata declares one dependency.
type Metadata struct {
	ID            string `yaml:"id,omitempty"`
	Field         string `yaml:"field,omitempty"`
	Specification string `yaml:"specification,omitempty"`
	Filter        string `yaml:"filter,omitempty"`
	Optional      bool   `yaml:"optional,omitempty"`
	Aggregate     bool   `yaml:"aggregate,omitempty"`
	// Nullable defaults to true.
	Nullable              *bool  `yaml:"nullable,omitempty"`
	DefaultImplementation string `yaml:"default-implementation,omitempty"`
	Exception             string `yaml:"exception,omitempty"`
	// Proxy overrides the framework proxy setting when set.
	Proxy      *bool  `yaml:"proxy,omitempty"`
	Policy     string `yaml:"policy,omitempty"`
	Comparator string `yaml:"comparator,omitempty"`
	// ConstructorParameter is the index of the constructor parameter
	// receiving the dependency.
	ConstructorParameter *int   `yaml:"constructor-parameter,omitempty"`
	Timeout              string `yaml:"timeout,omitempty"`
	Scope                string `yaml:"scope,omitempty"`
	From                 string `yaml:"from,omitempty"`

	Callbacks []CallbackMetadata `yaml:"callbacks,omitempty"`
}

type CallbackMetadata struct {
	Type   string `yaml:"type"`
	Method string `yaml:"method"`
}

// ParseTimeout reads a timeout in milliseconds. "infinite" waits forever in
// practice and "" means no wait.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return 0, nil
	case "infinite", "infinity":
		return time.Duration(math.MaxInt64), nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	if ms > math.MaxInt64/int64(time.Millisecond) {
		return time.Duration(math.MaxInt64), nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (m *Metadata) nullable() bool {
	return m.Nullable == nil || *m.Nullable
}

// name identifies the dependency in configuration errors.
func (m *Metadata) name() string {
	switch {
	case m.ID != "":
		return m.ID
	case m.Field != "":
		return "field " + m.Field
	case m.Specification != "":
		return m.Specification
	case len(m.Callbacks) > 0:
		return "method " + m.Callbacks[0].Method
	}
	return "<anonymous>"
}
