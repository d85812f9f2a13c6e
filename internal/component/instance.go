// Package component manages component instances: it creates implementation
// objects once their dependencies are satisfied and stops them when a
// dependency can no longer be honoured.
package component

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/bayleafwalker/felix-core/internal/bundle"
	"github.com/bayleafwalker/felix-core/internal/dependency"
	"github.com/bayleafwalker/felix-core/internal/handler"
)

var ErrNotValid = errors.New("component instance is not valid")

// Options configures an instance.
type Options struct {
	Handler handler.Options
	// Config is the instance configuration. instance.name names the
	// instance; a name is generated otherwise.
	Config map[string]any
	// Immediate creates the implementation object as soon as the instance
	// becomes valid.
	Immediate bool
}

// InstanceManager drives one instance of a component.
type InstanceManager struct {
	log       logr.Logger
	name      string
	class     *bundle.Class
	handler   *handler.DependencyHandler
	immediate bool

	create sync.Mutex

	mu       sync.Mutex
	state    dependency.InstanceState
	pojos    []any
	creating bool
	restart  bool
}

var _ dependency.Instance = (*InstanceManager)(nil)

// NewInstance configures a stopped instance of c.
func NewInstance(c *handler.Component, opts Options) (*InstanceManager, error) {
	class := c.Class
	if class == nil {
		if opts.Handler.Bundle == nil {
			return nil, fmt.Errorf("component %s: no bundle to load the implementation class from", c.ClassName)
		}
		var err error
		if class, err = opts.Handler.Bundle.LoadClass(c.ClassName); err != nil {
			return nil, err
		}
	}

	name, _ := opts.Config[handler.InstanceNameProperty].(string)
	if name == "" {
		name = class.Name + "-" + uuid.NewString()
	}
	im := &InstanceManager{
		log:       opts.Handler.Log.WithValues("instance", name),
		name:      name,
		class:     class,
		immediate: opts.Immediate,
		state:     dependency.InstanceStopped,
	}
	im.handler = handler.New(opts.Handler, im, im.validityChanged)

	resolved := *c
	resolved.Class = class
	if err := im.handler.Configure(&resolved, opts.Config); err != nil {
		return nil, fmt.Errorf("instance %s: %w", name, err)
	}
	return im, nil
}

func (im *InstanceManager) Name() string      { return im.name }
func (im *InstanceManager) ClassName() string { return im.class.Name }

func (im *InstanceManager) Handler() *handler.DependencyHandler { return im.handler }

func (im *InstanceManager) State() dependency.InstanceState {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.state
}

func (im *InstanceManager) PojoObjects() []any {
	im.mu.Lock()
	defer im.mu.Unlock()
	if len(im.pojos) == 0 {
		return nil
	}
	return append([]any(nil), im.pojos...)
}

// Start starts the dependencies. The instance is valid once all of them
// are resolved.
func (im *InstanceManager) Start() {
	im.mu.Lock()
	if im.state != dependency.InstanceStopped {
		im.mu.Unlock()
		return
	}
	if im.creating {
		// Started again by PojoObject once the object creation is over.
		im.restart = true
		im.mu.Unlock()
		return
	}
	im.state = dependency.InstanceInvalid
	im.mu.Unlock()

	if err := im.handler.Start(); err != nil {
		im.log.Error(err, "cannot start dependencies, stopping instance")
		im.Stop()
		return
	}
	im.log.V(1).Info("instance started")
	im.validityChanged()
}

// Stop stops the dependencies and drops the implementation objects.
func (im *InstanceManager) Stop() {
	im.mu.Lock()
	if im.state <= dependency.InstanceStopped {
		im.mu.Unlock()
		return
	}
	im.state = dependency.InstanceStopped
	im.pojos = nil
	im.mu.Unlock()

	im.handler.Stop()
	im.log.V(1).Info("instance stopped")
}

// Dispose stops the instance for good.
func (im *InstanceManager) Dispose() {
	im.Stop()
	im.mu.Lock()
	im.state = dependency.InstanceDisposed
	im.mu.Unlock()
}

func (im *InstanceManager) validityChanged() {
	im.mu.Lock()
	if im.state <= dependency.InstanceStopped {
		im.mu.Unlock()
		return
	}
	next := dependency.InstanceInvalid
	if im.handler.IsValid() {
		next = dependency.InstanceValid
	}
	changed := next != im.state
	im.state = next
	create := next == dependency.InstanceValid && im.immediate && len(im.pojos) == 0
	im.mu.Unlock()

	if changed {
		im.log.V(1).Info("instance state changed", "state", next.String())
	}
	if create {
		if _, err := im.PojoObject(); err != nil && !errors.Is(err, ErrNotValid) {
			im.log.Error(err, "cannot create the implementation object")
		}
	}
}

// PojoObject returns the implementation object, creating it if needed.
func (im *InstanceManager) PojoObject() (any, error) {
	pojo, restart, err := im.createObject()
	if !restart {
		return pojo, err
	}
	im.log.Info("a static dependency broke while creating the implementation object, restarting instance")
	im.Start()
	return im.PojoObject()
}

// createObject runs under the creation lock. restart reports that a
// dependency stopped the instance during OnCreation and asked for a start,
// which must run after the lock is released.
func (im *InstanceManager) createObject() (pojo any, restart bool, err error) {
	im.create.Lock()
	defer im.create.Unlock()

	im.mu.Lock()
	if im.state != dependency.InstanceValid {
		im.mu.Unlock()
		return nil, false, ErrNotValid
	}
	if len(im.pojos) > 0 {
		pojo := im.pojos[0]
		im.mu.Unlock()
		return pojo, false, nil
	}
	im.mu.Unlock()

	pojo, err = im.newObject()
	if err != nil {
		return nil, false, err
	}
	im.mu.Lock()
	im.pojos = append(im.pojos, pojo)
	im.creating = true
	im.mu.Unlock()

	im.handler.OnCreation(pojo)

	im.mu.Lock()
	im.creating = false
	restart, im.restart = im.restart, false
	im.mu.Unlock()
	if restart {
		return nil, true, nil
	}
	im.log.V(1).Info("implementation object created")
	return pojo, false, nil
}

func (im *InstanceManager) newObject() (any, error) {
	if im.class.Constructor == nil {
		if im.class.New == nil {
			return nil, fmt.Errorf("%s cannot be instantiated", im.class.Name)
		}
		return im.class.New()
	}

	params, err := im.handler.ConstructorParameters()
	if err != nil {
		return nil, err
	}
	fn := reflect.ValueOf(im.class.Constructor)
	in := make([]reflect.Value, fn.Type().NumIn())
	for i := range in {
		v, ok := params[i]
		if !ok {
			return nil, fmt.Errorf("no dependency is injected in parameter %d of the %s constructor", i, im.class.Name)
		}
		if v == nil {
			in[i] = reflect.Zero(fn.Type().In(i))
			continue
		}
		in[i] = reflect.ValueOf(v)
	}
	out := fn.Call(in)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// Invoke runs fn on the implementation object. Every dependency read by fn
// returns the same service until fn returns.
func (im *InstanceManager) Invoke(fn func(pojo any) error) error {
	pojo, err := im.PojoObject()
	if err != nil {
		return err
	}
	im.handler.OnEntry()
	defer im.handler.OnFinally()
	return fn(pojo)
}

// Invoke is InstanceManager.Invoke for a typed implementation object.
func Invoke[T any](im *InstanceManager, fn func(T) error) error {
	return im.Invoke(func(pojo any) error {
		t, ok := pojo.(T)
		if !ok {
			return fmt.Errorf("implementation object %T is not a %s", pojo, reflect.TypeFor[T]())
		}
		return fn(t)
	})
}

// Describe returns the handler description.
func (im *InstanceManager) Describe() handler.Description {
	return im.handler.Describe()
}
