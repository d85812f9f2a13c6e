package dependency

import (
	"fmt"
	"reflect"

	"github.com/muir/reflectutils"

	"github.com/bayleafwalker/felix-core/internal/registry"
)

// CallbackKind is the event a callback reacts to.
type CallbackKind int

const (
	BindCallback CallbackKind = iota
	UnbindCallback
	ModifiedCallback
)

func ParseCallbackKind(s string) (CallbackKind, error) {
	switch s {
	case "bind":
		return BindCallback, nil
	case "unbind":
		return UnbindCallback, nil
	case "modified":
		return ModifiedCallback, nil
	}
	return 0, fmt.Errorf("unknown callback type %q", s)
}

func (k CallbackKind) String() string {
	switch k {
	case UnbindCallback:
		return "unbind"
	case ModifiedCallback:
		return "modified"
	}
	return "bind"
}

type argKind int

const (
	argService argKind = iota
	argReference
	argProperties
	argMap
)

var (
	referenceType  = reflect.TypeFor[*registry.ServiceReference]()
	propertiesType = reflect.TypeFor[registry.Properties]()
	mapType        = reflect.TypeFor[map[string]any]()
	errorType      = reflect.TypeFor[error]()
)

// Callback is a method of the implementation class called when a service is
// bound, unbound or modified. Its signature is resolved once, when the
// callback is created.
//
// Supported signatures:
//
//	func()
//	func(svc S) / func(*registry.ServiceReference) / func(registry.Properties) / func(map[string]any)
//	func(svc S, *registry.ServiceReference | registry.Properties | map[string]any)
//
// with an optional error result.
type Callback struct {
	Kind   CallbackKind
	Method string

	method    reflect.Method
	args      []argKind
	argTypes  []reflect.Type
	returnErr bool
}

// NewCallback resolves method on pojoType, the pointer type of the
// implementation class.
func NewCallback(kind CallbackKind, method string, pojoType reflect.Type) (*Callback, error) {
	m, ok := pojoType.MethodByName(method)
	if !ok {
		return nil, fmt.Errorf("method %s does not exist in %s", method, reflectutils.TypeName(pojoType))
	}
	c := &Callback{Kind: kind, Method: method, method: m}

	// In(0) is the receiver.
	switch n := m.Type.NumIn() - 1; n {
	case 0:
	case 1:
		c.addArg(m.Type.In(1), true)
	case 2:
		c.addArg(m.Type.In(1), true)
		if !c.addArg(m.Type.In(2), false) {
			return nil, fmt.Errorf("method %s is not a valid dependency callback: the second argument (%s) must be a service reference, a dictionary or a map",
				method, reflectutils.TypeName(m.Type.In(2)))
		}
	default:
		return nil, fmt.Errorf("method %s is not a valid dependency callback: the signature is invalid", method)
	}

	switch m.Type.NumOut() {
	case 0:
	case 1:
		if m.Type.Out(0) != errorType {
			return nil, fmt.Errorf("method %s is not a valid dependency callback: it may only return an error", method)
		}
		c.returnErr = true
	default:
		return nil, fmt.Errorf("method %s is not a valid dependency callback: it may only return an error", method)
	}
	return c, nil
}

// addArg classifies a parameter. Only the first parameter may be the
// service object.
func (c *Callback) addArg(t reflect.Type, serviceAllowed bool) bool {
	var kind argKind
	switch t {
	case referenceType:
		kind = argReference
	case propertiesType:
		kind = argProperties
	case mapType:
		kind = argMap
	default:
		if !serviceAllowed {
			return false
		}
		kind = argService
	}
	c.args = append(c.args, kind)
	c.argTypes = append(c.argTypes, t)
	return true
}

// ServiceType returns the type of the service parameter, or nil when the
// callback does not receive the service object.
func (c *Callback) ServiceType() reflect.Type {
	if len(c.args) > 0 && c.args[0] == argService {
		return c.argTypes[0]
	}
	return nil
}

// call invokes the callback on pojo. Panics raised by the method are
// returned as errors.
func (c *Callback) call(pojo any, ref *registry.ServiceReference, svc any) (err error) {
	recv := reflect.ValueOf(pojo)
	if recv.Type() != c.method.Type.In(0) {
		return fmt.Errorf("receiver %s does not declare %s", reflectutils.TypeName(recv.Type()), c.Method)
	}

	in := make([]reflect.Value, 0, len(c.args)+1)
	in = append(in, recv)
	for i, kind := range c.args {
		var v reflect.Value
		switch kind {
		case argReference:
			v = reflect.ValueOf(ref)
		case argProperties:
			v = reflect.ValueOf(ref.Properties())
		case argMap:
			v = reflect.ValueOf(ref.PropertyMap())
		case argService:
			if svc == nil {
				v = reflect.Zero(c.argTypes[i])
				break
			}
			v = reflect.ValueOf(svc)
			if !v.Type().AssignableTo(c.argTypes[i]) {
				return fmt.Errorf("service %s is not assignable to %s", reflectutils.TypeName(v.Type()), reflectutils.TypeName(c.argTypes[i]))
			}
		}
		in = append(in, v)
	}

	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic: %w", e)
				return
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	out := c.method.Func.Call(in)
	if c.returnErr && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}
