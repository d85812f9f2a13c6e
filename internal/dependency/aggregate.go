package dependency

import (
	"reflect"
	"slices"
	"sync"
)

// List is an ordered, read-only view of bound service objects.
type List interface {
	Len() int
	At(i int) any
	Values() []any
	Contains(v any) bool
	IndexOf(v any) int
}

// Set is an unordered, de-duplicated view of bound service objects.
type Set interface {
	Len() int
	Values() []any
	Contains(v any) bool
}

func sameObject(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

func indexOf(values []any, v any) int {
	return slices.IndexFunc(values, func(o any) bool { return sameObject(o, v) })
}

type serviceList []any

// NewList returns a List over a copy of values.
func NewList(values []any) List { return serviceList(slices.Clone(values)) }

func (l serviceList) Len() int            { return len(l) }
func (l serviceList) At(i int) any        { return l[i] }
func (l serviceList) Values() []any       { return slices.Clone([]any(l)) }
func (l serviceList) Contains(v any) bool { return indexOf(l, v) >= 0 }
func (l serviceList) IndexOf(v any) int   { return indexOf(l, v) }

type serviceSet struct {
	values []any
}

// NewSet returns a Set of values with duplicates removed.
func NewSet(values []any) Set {
	s := &serviceSet{}
	for _, v := range values {
		if indexOf(s.values, v) < 0 {
			s.values = append(s.values, v)
		}
	}
	return s
}

func (s *serviceSet) Len() int            { return len(s.values) }
func (s *serviceSet) Values() []any       { return slices.Clone(s.values) }
func (s *serviceSet) Contains(v any) bool { return indexOf(s.values, v) >= 0 }

// Vector is a synchronized, growable list of service objects.
type Vector struct {
	mu     sync.RWMutex
	values []any
}

func NewVector(values []any) *Vector {
	return &Vector{values: slices.Clone(values)}
}

func (v *Vector) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.values)
}

func (v *Vector) At(i int) any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[i]
}

func (v *Vector) Values() []any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.values)
}

func (v *Vector) Contains(o any) bool { return v.IndexOf(o) >= 0 }

func (v *Vector) IndexOf(o any) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return indexOf(v.values, o)
}

func (v *Vector) Add(o any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values = append(v.values, o)
}

// Remove deletes the first occurrence of o and reports whether it was found.
func (v *Vector) Remove(o any) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := indexOf(v.values, o)
	if i < 0 {
		return false
	}
	v.values = slices.Delete(v.values, i, i+1)
	return true
}

var _ List = (*Vector)(nil)
