package component

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bayleafwalker/felix-core/internal/bundle"
	"github.com/bayleafwalker/felix-core/internal/dependency"
	"github.com/bayleafwalker/felix-core/internal/handler"
	"github.com/bayleafwalker/felix-core/internal/registry"
	"github.com/bayleafwalker/felix-core/internal/version"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type Greeter interface {
	Greet() string
}

type greeter struct{ name string }

func (g *greeter) Greet() string { return g.name }

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

type consumer struct {
	Greeter dependency.Field[Greeter]

	mu    sync.Mutex
	bound []string
}

func (c *consumer) Bind(g Greeter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound = append(c.bound, g.Greet())
}

func (c *consumer) Bound() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bound...)
}

type service struct {
	greeter Greeter
}

var (
	greeterClass = &bundle.Class{
		Name:       "org.example.Greeter",
		Type:       reflect.TypeFor[Greeter](),
		SmartProxy: func(target func() (any, error)) any { return &greeterProxy{target: target} },
	}
	consumerClass = bundle.Implementation[consumer]("org.example.Consumer")
	serviceClass  = &bundle.Class{
		Name:        "org.example.Service",
		Type:        reflect.TypeFor[*service](),
		Constructor: func(g Greeter) (*service, error) { return &service{greeter: g}, nil },
	}
)

func testBundle() *bundle.Bundle {
	return bundle.New("org.example", version.MustParse("1.0.0")).MustRegister(greeterClass, consumerClass, serviceClass)
}

func provide(t *testing.T, reg *registry.Registry, name string) *registry.Registration {
	t.Helper()
	r, err := reg.Register([]string{greeterClass.Name}, &greeter{name: name}, registry.Properties{"name": name})
	require.NoError(t, err)
	return r
}

func newInstance(t *testing.T, reg *registry.Registry, meta handler.Metadata, immediate bool) *InstanceManager {
	t.Helper()
	im, err := NewInstance(&handler.Component{
		ClassName:    consumerClass.Name,
		Dependencies: []handler.Metadata{meta},
	}, Options{
		Handler:   handler.Options{Context: reg, Bundle: testBundle(), Log: logr.Discard()},
		Config:    map[string]any{handler.InstanceNameProperty: "consumer-0"},
		Immediate: immediate,
	})
	require.NoError(t, err)
	t.Cleanup(im.Dispose)
	return im
}

var bind = []handler.CallbackMetadata{{Type: "bind", Method: "Bind"}}

func TestInstanceFollowsDependencyValidity(t *testing.T) {
	reg := registry.New(logr.Discard())
	im := newInstance(t, reg, handler.Metadata{Field: "Greeter", Callbacks: bind}, true)
	assert.Equal(t, dependency.InstanceStopped, im.State())

	im.Start()
	assert.Equal(t, dependency.InstanceInvalid, im.State())
	assert.Empty(t, im.PojoObjects())
	_, err := im.PojoObject()
	assert.ErrorIs(t, err, ErrNotValid)

	a := provide(t, reg, "a")
	require.Equal(t, dependency.InstanceValid, im.State())
	require.Len(t, im.PojoObjects(), 1)
	c := im.PojoObjects()[0].(*consumer)
	assert.Equal(t, []string{"a"}, c.Bound())
	assert.Equal(t, "a", c.Greeter.MustGet().Greet())

	require.NoError(t, a.Unregister())
	assert.Equal(t, dependency.InstanceInvalid, im.State())

	im.Stop()
	assert.Equal(t, dependency.InstanceStopped, im.State())
	assert.Empty(t, im.PojoObjects())
}

func TestInstanceCreatesObjectLazily(t *testing.T) {
	reg := registry.New(logr.Discard())
	provide(t, reg, "a")
	im := newInstance(t, reg, handler.Metadata{Field: "Greeter"}, false)
	im.Start()

	require.Equal(t, dependency.InstanceValid, im.State())
	assert.Empty(t, im.PojoObjects())

	first, err := im.PojoObject()
	require.NoError(t, err)
	second, err := im.PojoObject()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestGeneratedName(t *testing.T) {
	im, err := NewInstance(&handler.Component{ClassName: consumerClass.Name}, Options{
		Handler: handler.Options{Context: registry.New(logr.Discard()), Bundle: testBundle(), Log: logr.Discard()},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^org\.example\.Consumer-[0-9a-f-]{36}$`, im.Name())
	assert.Equal(t, consumerClass.Name, im.ClassName())
}

func TestInvokeKeepsTheServiceForTheWholeCall(t *testing.T) {
	reg := registry.New(logr.Discard())
	a := provide(t, reg, "a")
	provide(t, reg, "b")
	im := newInstance(t, reg, handler.Metadata{Field: "Greeter", Proxy: new(bool)}, true)
	im.Start()

	err := Invoke(im, func(c *consumer) error {
		before := c.Greeter.MustGet().Greet()
		require.NoError(t, a.Unregister())
		assert.Equal(t, before, c.Greeter.MustGet().Greet())
		return nil
	})
	require.NoError(t, err)

	err = Invoke(im, func(c *consumer) error {
		assert.Equal(t, "b", c.Greeter.MustGet().Greet())
		return nil
	})
	require.NoError(t, err)

	err = Invoke(im, func(*service) error { return nil })
	assert.ErrorContains(t, err, "is not a")

	boom := errors.New("boom")
	assert.ErrorIs(t, im.Invoke(func(any) error { return boom }), boom)
}

func TestConstructorInjection(t *testing.T) {
	reg := registry.New(logr.Discard())
	provide(t, reg, "a")
	im, err := NewInstance(&handler.Component{
		ClassName:    serviceClass.Name,
		Dependencies: []handler.Metadata{{ConstructorParameter: new(int)}},
	}, Options{
		Handler: handler.Options{
			Context: reg,
			Bundle:  testBundle(),
			Proxy:   handler.ProxySettings{Enabled: true},
			Log:     logr.Discard(),
		},
		Immediate: true,
	})
	require.NoError(t, err)
	defer im.Dispose()
	im.Start()

	require.Len(t, im.PojoObjects(), 1)
	s := im.PojoObjects()[0].(*service)
	assert.Equal(t, "a", s.greeter.Greet())
}

func TestStaticDependencyBreakRestartsInstance(t *testing.T) {
	reg := registry.New(logr.Discard())
	a := provide(t, reg, "a")
	im := newInstance(t, reg, handler.Metadata{Field: "Greeter", Policy: "static", Callbacks: bind}, true)
	im.Start()

	require.Equal(t, dependency.InstanceValid, im.State())
	old := im.PojoObjects()[0].(*consumer)
	assert.Equal(t, []string{"a"}, old.Bound())

	provide(t, reg, "b")
	assert.Same(t, old, im.PojoObjects()[0])

	require.NoError(t, a.Unregister())
	require.Equal(t, dependency.InstanceValid, im.State())
	require.Len(t, im.PojoObjects(), 1)
	restarted := im.PojoObjects()[0].(*consumer)
	assert.NotSame(t, old, restarted)
	assert.Equal(t, []string{"b"}, restarted.Bound())
	assert.Equal(t, "b", restarted.Greeter.MustGet().Greet())
}

func TestDisposedInstanceDoesNotRestart(t *testing.T) {
	reg := registry.New(logr.Discard())
	provide(t, reg, "a")
	im := newInstance(t, reg, handler.Metadata{Field: "Greeter"}, true)
	im.Start()
	im.Dispose()

	assert.Equal(t, dependency.InstanceDisposed, im.State())
	im.Start()
	assert.Equal(t, dependency.InstanceDisposed, im.State())
	assert.Empty(t, im.Describe().Dependencies[0].Used)
}

type failingFactory struct{}

func (failingFactory) GetService(*registry.ServiceReference) (any, error) { return nil, errors.New("provider not ready") }
func (failingFactory) UngetService(*registry.ServiceReference, any)       {}

func TestStaticDependencyUngettableDuringCreation(t *testing.T) {
	reg := registry.New(logr.Discard())
	_, err := reg.Register([]string{greeterClass.Name}, failingFactory{}, registry.Properties{"name": "broken"})
	require.NoError(t, err)
	im := newInstance(t, reg, handler.Metadata{Field: "Greeter", Policy: "static", Callbacks: bind}, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		im.Start()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("instance start did not return")
	}

	assert.Equal(t, dependency.InstanceInvalid, im.State())
	assert.Empty(t, im.PojoObjects())
	_, err = im.PojoObject()
	assert.ErrorIs(t, err, ErrNotValid)

	provide(t, reg, "b")
	require.Equal(t, dependency.InstanceValid, im.State())
	require.Len(t, im.PojoObjects(), 1)
	assert.Equal(t, []string{"b"}, im.PojoObjects()[0].(*consumer).Bound())
}
