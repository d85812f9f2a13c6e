package dependency

import (
	"fmt"
	"reflect"

	"github.com/muir/reflectutils"
)

// createProxy builds the object injected instead of the service when proxies
// are enabled. Specifications that cannot be proxied disable the proxy.
func (d *Dependency) createProxy() {
	var p any
	switch {
	case d.IsAggregate():
		switch d.AggregateType() {
		case AggregateList:
			p = &ListProxy{dep: d}
		case AggregateSet:
			p = &SetProxy{dep: d}
		}
	case !d.spec.IsInterface():
		d.log.Info("cannot create a proxy for a service dependency which is not an interface, disabling the proxy", "specification", d.spec.Name)
	case d.proxyType == DynamicProxyType:
		p = &DynamicProxy{dep: d, spec: d.spec.Type}
	case d.spec.SmartProxy != nil:
		p = d.spec.SmartProxy(d.GetService)
	default:
		d.log.Info("the specification has no smart proxy, disabling the proxy", "specification", d.spec.Name)
	}

	d.lock.lock()
	defer d.lock.unlock()
	d.proxyObject = p
	if p == nil {
		d.proxy = false
	}
}

// Invoker is implemented by dynamic proxies.
type Invoker interface {
	Invoke(method string, args ...any) ([]any, error)
}

// DynamicProxy forwards method calls by name to the service currently
// bound to its dependency.
type DynamicProxy struct {
	dep  *Dependency
	spec reflect.Type
}

var _ Invoker = (*DynamicProxy)(nil)

// Invoke calls method on the current service. HashCode, Equals and String
// are answered by the proxy itself.
func (p *DynamicProxy) Invoke(method string, args ...any) (out []any, err error) {
	switch method {
	case "HashCode":
		return []any{p.HashCode()}, nil
	case "Equals":
		if len(args) != 1 {
			return nil, fmt.Errorf("Equals takes one argument, got %d", len(args))
		}
		return []any{p.Equals(args[0])}, nil
	case "String":
		return []any{p.String()}, nil
	}

	m, ok := p.spec.MethodByName(method)
	if !ok {
		return nil, fmt.Errorf("%s does not declare %s", reflectutils.TypeName(p.spec), method)
	}
	svc, err := p.dep.GetService()
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, &ServiceUnavailableError{ID: p.dep.Identifier()}
	}
	recv := reflect.ValueOf(svc)
	fn := recv.MethodByName(method)
	if !fn.IsValid() {
		return nil, fmt.Errorf("%s does not implement %s", reflectutils.TypeName(recv.Type()), method)
	}
	if m.Type.NumIn() != len(args) && !m.Type.IsVariadic() {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", method, m.Type.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			in[i] = reflect.Zero(fn.Type().In(min(i, fn.Type().NumIn()-1)))
			continue
		}
		in[i] = reflect.ValueOf(a)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", method, r)
		}
	}()
	for _, v := range fn.Call(in) {
		out = append(out, v.Interface())
	}
	return out, nil
}

func (p *DynamicProxy) HashCode() uintptr {
	return reflect.ValueOf(p).Pointer()
}

func (p *DynamicProxy) Equals(o any) bool {
	other, ok := o.(*DynamicProxy)
	return ok && other == p
}

func (p *DynamicProxy) String() string {
	return "Proxy for " + p.dep.spec.Name
}

// ListProxy is the List injected for list aggregate dependencies when
// proxies are enabled. Every call reads the current bound services.
type ListProxy struct {
	dep *Dependency
}

var _ List = (*ListProxy)(nil)

func (p *ListProxy) list() List {
	obj, err := p.dep.GetService()
	if err != nil {
		return NewList(nil)
	}
	if l, ok := obj.(List); ok {
		return l
	}
	return NewList(nil)
}

func (p *ListProxy) Len() int            { return p.list().Len() }
func (p *ListProxy) At(i int) any        { return p.list().At(i) }
func (p *ListProxy) Values() []any       { return p.list().Values() }
func (p *ListProxy) Contains(v any) bool { return p.list().Contains(v) }
func (p *ListProxy) IndexOf(v any) int   { return p.list().IndexOf(v) }

// SetProxy is ListProxy for set aggregate dependencies.
type SetProxy struct {
	dep *Dependency
}

var _ Set = (*SetProxy)(nil)

func (p *SetProxy) set() Set {
	obj, err := p.dep.GetService()
	if err != nil {
		return NewSet(nil)
	}
	if s, ok := obj.(Set); ok {
		return s
	}
	return NewSet(nil)
}

func (p *SetProxy) Len() int            { return p.set().Len() }
func (p *SetProxy) Values() []any       { return p.set().Values() }
func (p *SetProxy) Contains(v any) bool { return p.set().Contains(v) }
