package dependency

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// Slot is an injectable field of an implementation class. The dependency
// handler attaches each configured dependency to its slot when the
// implementation object is created.
type Slot interface {
	ValueType() reflect.Type
	Attach(d *Dependency)
}

// Field is declared in implementation structs to receive a dependency:
//
//	type Consumer struct {
//		Greeter dependency.Field[Greeter]
//	}
//
// T is the specification interface for scalar dependencies, or []T, List,
// Set or *Vector for aggregate ones.
type Field[T any] struct {
	dep atomic.Pointer[Dependency]
}

var _ Slot = (*Field[any])(nil)

func (f *Field[T]) ValueType() reflect.Type { return reflect.TypeFor[T]() }

func (f *Field[T]) Attach(d *Dependency) { f.dep.Store(d) }

// Get returns the current value of the dependency. A scalar dependency with
// no provider returns its nullable or default implementation object, the
// zero value, or the configured error.
func (f *Field[T]) Get() (T, error) {
	var zero T
	d := f.dep.Load()
	if d == nil {
		return zero, fmt.Errorf("no dependency attached to field of type %s", f.ValueType())
	}
	v, err := d.OnGet()
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("dependency %s: %T is not assignable to %s", d.Identifier(), v, f.ValueType())
	}
	return t, nil
}

// MustGet is Get for components that treat a missing service as fatal.
func (f *Field[T]) MustGet() T {
	v, err := f.Get()
	if err != nil {
		panic(err)
	}
	return v
}
