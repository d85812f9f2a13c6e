package dependency

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/bayleafwalker/felix-core/internal/bundle"
	"github.com/bayleafwalker/felix-core/internal/registry"
	"github.com/bayleafwalker/felix-core/internal/version"
)

type Greeter interface {
	Greet() string
}

type greeter struct {
	name string
}

func (g *greeter) Greet() string { return g.name }

type nullGreeter struct{}

func (nullGreeter) Greet() string { return "" }

type greeterProxy struct {
	target func() (any, error)
}

func (p *greeterProxy) Greet() string {
	svc, err := p.target()
	if err != nil || svc == nil {
		return ""
	}
	return svc.(Greeter).Greet()
}

type noGreeterError struct {
	msg string
}

func (e *noGreeterError) Error() string { return e.msg }

var (
	greeterClass = &bundle.Class{
		Name:       "org.example.Greeter",
		Type:       reflect.TypeFor[Greeter](),
		SmartProxy: func(target func() (any, error)) any { return &greeterProxy{target: target} },
		Null:       func() any { return nullGreeter{} },
	}

	testBundle = bundle.New("org.example", version.MustParse("1.0.0")).MustRegister(
		greeterClass,
		&bundle.Class{
			Name: "org.example.DefaultGreeter",
			Type: reflect.TypeFor[*greeter](),
			New:  func() (any, error) { return &greeter{name: "default"}, nil },
		},
		&bundle.Class{
			Name:     "org.example.NoGreeterError",
			NewError: func(msg string) error { return &noGreeterError{msg: msg} },
		},
	)
)

type fakeInstance struct {
	mu     sync.Mutex
	state  InstanceState
	pojos  []any
	stops  int
	starts int
}

func (i *fakeInstance) Name() string      { return "consumer-0" }
func (i *fakeInstance) ClassName() string { return "org.example.Consumer" }

func (i *fakeInstance) State() InstanceState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *fakeInstance) PojoObjects() []any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]any(nil), i.pojos...)
}

func (i *fakeInstance) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stops++
	i.state = InstanceStopped
}

func (i *fakeInstance) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.starts++
	i.state = InstanceValid
}

func (i *fakeInstance) counts() (stops, starts int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stops, i.starts
}

type fakeListener struct {
	mu            sync.Mutex
	validations   int
	invalidations int
}

func (l *fakeListener) Validate(*Dependency) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.validations++
}

func (l *fakeListener) Invalidate(*Dependency) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidations++
}

func (l *fakeListener) counts() (validations, invalidations int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.validations, l.invalidations
}

// consumer is an implementation object recording its callbacks.
type consumer struct {
	mu       sync.Mutex
	events   []string
	failBind bool
}

func (c *consumer) record(e string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *consumer) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *consumer) Bind(g Greeter, _ *registry.ServiceReference) error {
	c.record("bind:" + g.Greet())
	if c.failBind {
		return errors.New("bind refused")
	}
	return nil
}

func (c *consumer) Unbind(g Greeter) {
	c.record("unbind:" + g.Greet())
}

func (c *consumer) Modified(g Greeter, props registry.Properties) {
	color, _ := props.Get("color")
	c.record("modified:" + g.Greet() + ":" + color.(string))
}

func (c *consumer) Panicking() {
	panic("callback panicked")
}

var consumerType = reflect.TypeFor[*consumer]()

func mustCallback(t *testing.T, kind CallbackKind, method string) *Callback {
	t.Helper()
	cb, err := NewCallback(kind, method, consumerType)
	require.NoError(t, err)
	return cb
}

func bindUnbind(t *testing.T) []*Callback {
	return []*Callback{
		mustCallback(t, BindCallback, "Bind"),
		mustCallback(t, UnbindCallback, "Unbind"),
	}
}

func newDependency(t *testing.T, ctx registry.Context, inst Instance, cfg Config) (*Dependency, *fakeListener) {
	t.Helper()
	if cfg.Specification == nil {
		cfg.Specification = greeterClass
	}
	l := &fakeListener{}
	d, err := New(Owner{
		Context:  ctx,
		Bundle:   testBundle,
		Listener: l,
		Instance: inst,
		Log:      logr.Discard(),
	}, cfg)
	require.NoError(t, err)
	return d, l
}

func provide(t *testing.T, reg *registry.Registry, name string, props registry.Properties) *registry.Registration {
	t.Helper()
	p := registry.Properties{"name": name}
	for k, v := range props {
		p[k] = v
	}
	r, err := reg.Register([]string{greeterClass.Name}, &greeter{name: name}, p)
	require.NoError(t, err)
	return r
}

func greetOf(t *testing.T, v any) string {
	t.Helper()
	g, ok := v.(Greeter)
	require.True(t, ok, "%T is not a Greeter", v)
	return g.Greet()
}

func discard() logr.Logger { return logr.Discard() }

// pendingFactory refuses to hand out its service until ready is set.
type pendingFactory struct {
	ready bool
}

func (f *pendingFactory) GetService(*registry.ServiceReference) (any, error) {
	if !f.ready {
		return nil, errors.New("provider not ready")
	}
	return &greeter{name: "pending"}, nil
}

func (f *pendingFactory) UngetService(*registry.ServiceReference, any) {}
