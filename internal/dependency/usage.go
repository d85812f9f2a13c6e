package dependency

import (
	"context"
	"reflect"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/bayleafwalker/felix-core/internal/metrics"
)

// usage is the per-goroutine view of a dependency. While a goroutine is
// inside a component method, every access to the dependency returns the
// same object so that the method sees a consistent service.
type usage struct {
	// componentStack counts nested component method invocations.
	componentStack int
	// stack counts the invocations that still see object.
	stack  int
	object any
}

func (d *Dependency) currentUsage() *usage {
	g := goid()
	if u, ok := d.usages.Load(g); ok {
		return u.(*usage)
	}
	u, _ := d.usages.LoadOrStore(g, &usage{})
	return u.(*usage)
}

// OnEntry is called when the current goroutine enters a method of the
// component.
func (d *Dependency) OnEntry() {
	u := d.currentUsage()
	u.componentStack++
	if u.stack > 0 {
		u.stack++
	}
}

// OnFinally is called when the current goroutine leaves a method of the
// component, whether it returned or panicked.
func (d *Dependency) OnFinally() {
	g := goid()
	v, ok := d.usages.Load(g)
	if !ok {
		return
	}
	u := v.(*usage)
	if u.componentStack > 0 {
		u.componentStack--
	}
	if u.stack > 0 {
		u.stack--
		if u.stack == 0 {
			u.object = nil
		}
	}
	if u.componentStack == 0 && u.stack == 0 {
		d.usages.Delete(g)
	}
}

// OnGet returns the value injected in the dependency field: the proxy when
// proxies are enabled, otherwise the object cached for the current
// invocation. Outside of any component method the object is computed
// afresh and not cached.
func (d *Dependency) OnGet() (any, error) {
	if d.IsProxy() {
		d.lock.rlock()
		p := d.proxyObject
		d.lock.runlock()
		if p != nil {
			return p, nil
		}
	}
	return d.usageObject()
}

func (d *Dependency) usageObject() (any, error) {
	v, ok := d.usages.Load(goid())
	if !ok || v.(*usage).componentStack == 0 {
		return d.createServiceObject()
	}
	u := v.(*usage)
	if u.stack == 0 {
		obj, err := d.createServiceObject()
		if err != nil {
			return nil, err
		}
		u.object = obj
		// The object lives until the outermost method returns.
		u.stack = u.componentStack
	}
	return u.object, nil
}

// GetService returns the service object a proxy delegates to.
func (d *Dependency) GetService() (any, error) {
	if !d.IsProxy() {
		return nil, errNotProxy
	}
	return d.usageObject()
}

// waitForProvider blocks up to the configured timeout for a matching
// reference to be bound.
func (d *Dependency) waitForProvider() {
	start := time.Now()
	d.log.V(1).Info("waiting for a provider", "timeout", d.timeout.String())
	_ = wait.PollUntilContextTimeout(context.Background(), time.Millisecond, d.timeout, true,
		func(context.Context) (bool, error) {
			return d.Size() > 0, nil
		})
	metrics.DependencyWaitDuration.Observe(time.Since(start).Seconds())
}

// createServiceObject builds the object representing the dependency right
// now: the bound service for scalar dependencies, or a container of the
// bound services for aggregate ones.
func (d *Dependency) createServiceObject() (any, error) {
	if d.Size() == 0 && d.timeout > 0 {
		d.waitForProvider()
	}
	refs := d.ServiceReferences()

	if !d.IsAggregate() {
		if len(refs) == 0 {
			return d.fallbackObject()
		}
		svc, err := d.getService(refs[0], true)
		if err != nil {
			d.ungettableService(refs[0], err)
			return d.fallbackObject()
		}
		return svc, nil
	}

	objs := make([]any, 0, len(refs))
	for _, ref := range refs {
		svc, err := d.getService(ref, true)
		if err != nil {
			d.ungettableService(ref, err)
			continue
		}
		objs = append(objs, svc)
	}
	switch d.AggregateType() {
	case AggregateArray:
		return d.newArray(objs)
	case AggregateSet:
		return NewSet(objs), nil
	case AggregateVector:
		return NewVector(objs), nil
	}
	return NewList(objs), nil
}

// newArray returns a []T of the specification type holding objs.
func (d *Dependency) newArray(objs []any) (any, error) {
	if d.spec.Type == nil {
		return objs, nil
	}
	arr := reflect.MakeSlice(reflect.SliceOf(d.spec.Type), 0, len(objs))
	for _, o := range objs {
		v := reflect.ValueOf(o)
		if !v.IsValid() || !v.Type().AssignableTo(d.spec.Type) {
			d.log.Info("service object does not implement the specification, skipping", "specification", d.spec.Name)
			continue
		}
		arr = reflect.Append(arr, v)
	}
	return arr.Interface(), nil
}

// fallbackObject is used by a scalar dependency with no bound service.
// The exception wins over the nullable object. A required dependency only
// fails when it has neither an exception nor nullable support.
func (d *Dependency) fallbackObject() (any, error) {
	if d.exception != "" {
		return nil, d.createError()
	}
	d.lock.rlock()
	obj, nullable, optional := d.nullableObject, d.nullable, d.optional
	d.lock.runlock()
	if obj != nil {
		return obj, nil
	}
	if nullable && d.di == "" {
		d.log.Info("nullable object requested before it was built, creating it now")
		d.createNullableObject()
		d.lock.rlock()
		obj = d.nullableObject
		d.lock.runlock()
		return obj, nil
	}
	if !optional {
		return nil, &ServiceUnavailableError{ID: d.Identifier()}
	}
	return nil, nil
}

// createError builds the error configured for a missing service.
func (d *Dependency) createError() error {
	msg := (&ServiceUnavailableError{ID: d.Identifier()}).Error()
	class, err := d.loadClass(d.exception)
	if err != nil {
		d.log.Error(err, "cannot load the exception class, using the default error", "exception", d.exception)
		return &ServiceUnavailableError{ID: d.Identifier()}
	}
	switch {
	case class.NewError != nil:
		return class.NewError(msg)
	case class.New != nil:
		obj, err := class.New()
		if err == nil {
			if e, ok := obj.(error); ok {
				return e
			}
		}
	}
	d.log.Info("the exception class cannot create an error, using the default error", "exception", d.exception)
	return &ServiceUnavailableError{ID: d.Identifier()}
}

// createNullableObject builds the do-nothing object of the specification.
func (d *Dependency) createNullableObject() {
	var obj any
	switch {
	case !d.spec.IsInterface():
		d.log.Info("nullable objects can only be created for interface specifications, injecting nil", "specification", d.spec.Name)
	case d.spec.Null == nil:
		d.log.Info("the specification does not provide a nullable object, injecting nil", "specification", d.spec.Name)
	default:
		obj = d.spec.Null()
	}
	d.lock.lock()
	d.nullableObject = obj
	d.lock.unlock()
}
