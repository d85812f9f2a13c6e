// Package bundle holds the classes a bundle makes available by name.
//
// Implementation classes, service specifications, default implementations
// and error classes are registered when the program is built and looked up
// by name when components are configured.
package bundle

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/muir/reflectutils"

	"github.com/bayleafwalker/felix-core/internal/version"
)

// Class is a named type known to a bundle.
type Class struct {
	Name string
	// Type is the interface type for specifications and the pointer type
	// for implementation classes.
	Type reflect.Type

	// New creates an instance with no arguments.
	New func() (any, error)
	// Constructor, when set, is a func whose parameters are supplied by
	// index at instance creation. It returns the instance and optionally an
	// error.
	Constructor any
	// NewError creates an error value carrying msg.
	NewError func(msg string) error
	// SmartProxy returns a value implementing Type that forwards every call
	// to the object returned by target.
	SmartProxy func(target func() (any, error)) any
	// Null returns a do-nothing implementation of Type.
	Null func() any
}

// IsInterface reports whether the class is an interface type.
func (c *Class) IsInterface() bool {
	return c.Type != nil && c.Type.Kind() == reflect.Interface
}

// TypeName returns a readable name of the class type.
func (c *Class) TypeName() string {
	if c.Type == nil {
		return c.Name
	}
	return reflectutils.TypeName(c.Type)
}

func (c *Class) String() string { return c.Name }

// Interface describes the interface type T registered under name.
func Interface[T any](name string) *Class {
	return &Class{Name: name, Type: reflect.TypeFor[T]()}
}

// Implementation describes the struct type T registered under name. New
// allocates a zero *T.
func Implementation[T any](name string) *Class {
	return &Class{
		Name: name,
		Type: reflect.TypeFor[*T](),
		New:  func() (any, error) { return new(T), nil },
	}
}

// ClassNotFoundError is returned by LoadClass for unknown names.
type ClassNotFoundError struct {
	Bundle string
	Name   string
}

func (e *ClassNotFoundError) Error() string {
	return fmt.Sprintf("class %s not found in bundle %s", e.Name, e.Bundle)
}

var ErrDuplicateClass = errors.New("class already registered")

// Bundle is a named, versioned set of classes. It satisfies
// capability.Revision.
type Bundle struct {
	symbolicName string
	version      version.Version

	mu      sync.RWMutex
	classes map[string]*Class
}

func New(symbolicName string, v version.Version) *Bundle {
	return &Bundle{symbolicName: symbolicName, version: v, classes: map[string]*Class{}}
}

func (b *Bundle) SymbolicName() string     { return b.symbolicName }
func (b *Bundle) Version() version.Version { return b.version }

// Register adds classes to the bundle.
func (b *Bundle) Register(classes ...*Class) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range classes {
		if c == nil || c.Name == "" {
			return errors.New("bundle: class must have a name")
		}
		if _, dup := b.classes[c.Name]; dup {
			return fmt.Errorf("bundle %s: %w: %s", b.symbolicName, ErrDuplicateClass, c.Name)
		}
		b.classes[c.Name] = c
	}
	return nil
}

// MustRegister is Register for program initialization.
func (b *Bundle) MustRegister(classes ...*Class) *Bundle {
	if err := b.Register(classes...); err != nil {
		panic(err)
	}
	return b
}

func (b *Bundle) LoadClass(name string) (*Class, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.classes[name]
	if !ok {
		return nil, &ClassNotFoundError{Bundle: b.symbolicName, Name: name}
	}
	return c, nil
}

// ClassFor returns the class registered with type t.
func (b *Bundle) ClassFor(t reflect.Type) (*Class, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.classes {
		if c.Type == t {
			return c, true
		}
	}
	return nil, false
}

// ClassNames returns the registered names in order.
func (b *Bundle) ClassNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.classes))
	for name := range b.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
