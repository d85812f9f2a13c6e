package handler

import (
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/bayleafwalker/felix-core/internal/bundle"
	"github.com/bayleafwalker/felix-core/internal/dependency"
	"github.com/bayleafwalker/felix-core/internal/registry"
	"github.com/bayleafwalker/felix-core/internal/version"
)

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

type Clock interface {
	Now() int64
}

type consumer struct {
	Greeter dependency.Field[Greeter]
	All     dependency.Field[[]Greeter]
	List    dependency.Field[dependency.List]
	Vector  dependency.Field[*dependency.Vector]
	Clock   dependency.Field[Clock]
	Any     dependency.Field[any]
	Plain   string

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

func (c *consumer) TooMany(Greeter, string, string) {}

var (
	greeterClass = &bundle.Class{
		Name:       "org.example.Greeter",
		Type:       reflect.TypeFor[Greeter](),
		SmartProxy: func(target func() (any, error)) any { return &greeterProxy{target: target} },
	}
	clockClass    = bundle.Interface[Clock]("org.example.Clock")
	consumerClass = bundle.Implementation[consumer]("org.example.Consumer")
	greeterImpl   = bundle.Implementation[greeter]("org.example.GreeterImpl")
)

func testBundle() *bundle.Bundle {
	return bundle.New("org.example", version.MustParse("1.0.0")).MustRegister(greeterClass, clockClass, consumerClass, greeterImpl)
}

type fakeInstance struct{}

func (fakeInstance) Name() string                    { return "consumer-0" }
func (fakeInstance) ClassName() string               { return consumerClass.Name }
func (fakeInstance) State() dependency.InstanceState { return dependency.InstanceValid }
func (fakeInstance) PojoObjects() []any              { return nil }
func (fakeInstance) Stop()                           {}
func (fakeInstance) Start()                          {}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func newHandler(reg registry.Context, proxy ProxySettings) (*DependencyHandler, *counter) {
	c := &counter{}
	h := New(Options{
		Context: reg,
		Bundle:  testBundle(),
		Proxy:   proxy,
		Log:     logr.Discard(),
	}, fakeInstance{}, c.inc)
	return h, c
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

func ptr[T any](v T) *T { return &v }

func component(deps ...Metadata) *Component {
	return &Component{ClassName: consumerClass.Name, Dependencies: deps}
}

func TestConfigureDeducesSpecificationAndAggregation(t *testing.T) {
	reg := registry.New(logr.Discard())
	h, _ := newHandler(reg, ProxySettings{})
	require.NoError(t, h.Configure(component(
		Metadata{Field: "Greeter"},
		Metadata{ID: "all", Field: "All"},
		Metadata{ID: "list", Field: "List", Specification: greeterClass.Name},
		Metadata{ID: "vector", Field: "Vector", Specification: greeterClass.Name},
		Metadata{ID: "callback", Callbacks: []CallbackMetadata{{Type: "bind", Method: "Bind"}}},
	), nil))

	deps := h.Dependencies()
	require.Len(t, deps, 5)
	assert.Same(t, greeterClass, deps[0].Specification())
	assert.False(t, deps[0].IsAggregate())
	assert.Equal(t, dependency.AggregateArray, deps[1].AggregateType())
	assert.Same(t, greeterClass, deps[1].Specification())
	assert.Equal(t, dependency.AggregateList, deps[2].AggregateType())
	assert.Equal(t, dependency.AggregateVector, deps[3].AggregateType())
	assert.Same(t, greeterClass, deps[4].Specification())
}

func TestConfigureRejectsInvalidDeclarations(t *testing.T) {
	tests := []struct {
		name string
		meta Metadata
		conf map[string]any
		want string
	}{
		{name: "no injection point", meta: Metadata{Specification: greeterClass.Name}, want: "must have a field or callbacks"},
		{name: "missing field", meta: Metadata{Field: "Nope"}, want: "does not exist"},
		{name: "not a dependency field", meta: Metadata{Field: "Plain", Specification: greeterClass.Name}, want: "is not a dependency field"},
		{name: "conflicting specification", meta: Metadata{Field: "Greeter", Specification: clockClass.Name}, want: "conflicts"},
		{name: "unknown specification", meta: Metadata{Field: "Any"}, want: "no specification registered"},
		{name: "too many callback arguments", meta: Metadata{Field: "Greeter", Callbacks: []CallbackMetadata{{Type: "bind", Method: "TooMany"}}}, want: "not a valid dependency callback"},
		{name: "unknown callback type", meta: Metadata{Field: "Greeter", Callbacks: []CallbackMetadata{{Type: "rebind", Method: "Bind"}}}, want: "unknown callback type"},
		{name: "aggregate scalar field", meta: Metadata{Field: "Greeter", Aggregate: true}, want: "is not a slice"},
		{name: "from on aggregate", meta: Metadata{Field: "All", From: "x"}, want: "from attribute"},
		{name: "unknown comparator", meta: Metadata{Field: "Greeter", Comparator: "ranking"}, want: "unknown comparator"},
		{name: "from with dynamic-priority", meta: Metadata{Field: "Greeter", From: "x", Policy: "dynamic-priority"}, want: "from attribute"},
		{name: "bad filter", meta: Metadata{Field: "Greeter", Filter: "(name=a"}, want: "invalid filter"},
		{name: "bad policy", meta: Metadata{Field: "Greeter", Policy: "sticky"}, want: "unknown binding policy"},
		{name: "bad timeout", meta: Metadata{Field: "Greeter", Timeout: "soon"}, want: "invalid timeout"},
		{name: "bad scope", meta: Metadata{Field: "Greeter", Scope: "galaxy"}, want: "unknown scope"},
		{name: "default implementation with exception", meta: Metadata{Field: "Greeter", DefaultImplementation: "a", Exception: "b"}, want: "cannot be used together"},
		{name: "aggregate with exception", meta: Metadata{Field: "All", Exception: "b"}, want: "aggregate"},
		{name: "bad filter override", meta: Metadata{ID: "g", Field: "Greeter"}, conf: map[string]any{RequiresFiltersProperty: map[string]any{"g": 3}}, want: "must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHandler(registry.New(logr.Discard()), ProxySettings{})
			err := h.Configure(component(tt.meta), tt.conf)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfigureRejectsDuplicateIDs(t *testing.T) {
	h, _ := newHandler(registry.New(logr.Discard()), ProxySettings{})
	err := h.Configure(component(
		Metadata{ID: "g", Field: "Greeter"},
		Metadata{ID: "g", Field: "All"},
	), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not unique")
}

func TestValidityFollowsDependencies(t *testing.T) {
	reg := registry.New(logr.Discard())
	h, notified := newHandler(reg, ProxySettings{})
	require.NoError(t, h.Configure(component(
		Metadata{ID: "greeter", Field: "Greeter"},
		Metadata{ID: "clock", Field: "Clock", Optional: true},
	), nil))
	require.NoError(t, h.Start())
	defer h.Stop()

	assert.False(t, h.IsValid())
	assert.Zero(t, notified.get())
	desc := h.Describe()
	require.Len(t, desc.Conditions, 1)
	assert.Equal(t, metav1.ConditionFalse, desc.Conditions[0].Status)
	assert.Equal(t, "1/2 dependencies resolved", desc.Conditions[0].Message)

	r := provide(t, reg, "a", nil)
	assert.True(t, h.IsValid())
	assert.Equal(t, 1, notified.get())
	desc = h.Describe()
	assert.Equal(t, metav1.ConditionTrue, desc.Conditions[0].Status)
	assert.Equal(t, ReasonAllResolved, desc.Conditions[0].Reason)
	require.Len(t, desc.Dependencies, 2)
	assert.Equal(t, "resolved", desc.Dependencies[0].State)

	require.NoError(t, r.Unregister())
	assert.False(t, h.IsValid())
	assert.Equal(t, 2, notified.get())
}

func TestOnCreationAttachesFieldsAndCallsBind(t *testing.T) {
	reg := registry.New(logr.Discard())
	provide(t, reg, "a", nil)
	h, _ := newHandler(reg, ProxySettings{})
	require.NoError(t, h.Configure(component(
		Metadata{Field: "Greeter", Callbacks: []CallbackMetadata{{Type: "bind", Method: "Bind"}}},
	), nil))
	require.NoError(t, h.Start())
	defer h.Stop()

	pojo := &consumer{}
	h.OnCreation(pojo)
	g, err := pojo.Greeter.Get()
	require.NoError(t, err)
	assert.Equal(t, "a", g.Greet())
	assert.Equal(t, []string{"a"}, pojo.Bound())
}

func TestInstanceOverrides(t *testing.T) {
	reg := registry.New(logr.Discard())
	provide(t, reg, "a", registry.Properties{registry.InstanceName: "first"})
	b := provide(t, reg, "b", registry.Properties{registry.ServicePID: "second"})

	tests := []struct {
		name string
		conf map[string]any
	}{
		{name: "filters", conf: map[string]any{RequiresFiltersProperty: map[string]string{"greeter": "(name=b)"}}},
		{name: "from", conf: map[string]any{RequiresFromProperty: map[string]any{"greeter": "second"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHandler(reg, ProxySettings{})
			require.NoError(t, h.Configure(component(Metadata{ID: "greeter", Field: "Greeter"}), tt.conf))
			require.NoError(t, h.Start())
			defer h.Stop()

			d, ok := h.Dependency("greeter")
			require.True(t, ok)
			assert.Same(t, b.Reference(), d.ServiceReference())
		})
	}
}

func TestFromBuildsProviderFilter(t *testing.T) {
	f, err := buildFilter("(name=a)", "provider")
	require.NoError(t, err)
	assert.Equal(t, "(&(|(instance.name=provider)(service.pid=provider))(name=a))", f.String())

	f, err = buildFilter("", "")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestProxySettings(t *testing.T) {
	tests := []struct {
		name      string
		framework ProxySettings
		meta      Metadata
		wantProxy bool
	}{
		{name: "framework default", framework: ProxySettings{Enabled: true}, meta: Metadata{Field: "Greeter"}, wantProxy: true},
		{name: "explicit true wins", framework: ProxySettings{}, meta: Metadata{Field: "Greeter", Proxy: ptr(true)}, wantProxy: true},
		{name: "explicit false", framework: ProxySettings{Enabled: true}, meta: Metadata{Field: "Greeter", Proxy: ptr(false)}},
		{name: "array", framework: ProxySettings{Enabled: true}, meta: Metadata{Field: "All"}},
		{name: "vector", framework: ProxySettings{Enabled: true}, meta: Metadata{Field: "Vector", Specification: greeterClass.Name}},
		{name: "list", framework: ProxySettings{Enabled: true}, meta: Metadata{Field: "List", Specification: greeterClass.Name}, wantProxy: true},
		{name: "no smart proxy", framework: ProxySettings{Enabled: true}, meta: Metadata{Field: "Clock"}},
		{name: "dynamic falls back to smart", framework: ProxySettings{Enabled: true, Type: dependency.DynamicProxyType}, meta: Metadata{Field: "Greeter"}, wantProxy: true},
		{name: "dynamic in untyped field", framework: ProxySettings{Enabled: true, Type: dependency.DynamicProxyType}, meta: Metadata{Field: "Any", Specification: clockClass.Name}, wantProxy: true},
		{name: "implementation class", framework: ProxySettings{Enabled: true}, meta: Metadata{Callbacks: []CallbackMetadata{{Type: "bind", Method: "Bind"}}, Specification: greeterImpl.Name}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHandler(registry.New(logr.Discard()), tt.framework)
			require.NoError(t, h.Configure(component(tt.meta), nil))
			require.NoError(t, h.Start())
			defer h.Stop()
			assert.Equal(t, tt.wantProxy, h.Dependencies()[0].IsProxy())
		})
	}
}

type service struct {
	greeter Greeter
}

func TestConstructorInjection(t *testing.T) {
	class := &bundle.Class{
		Name:        "org.example.Service",
		Type:        reflect.TypeFor[*service](),
		Constructor: func(g Greeter) *service { return &service{greeter: g} },
	}
	reg := registry.New(logr.Discard())
	provide(t, reg, "a", nil)

	h, _ := newHandler(reg, ProxySettings{Enabled: true})
	require.NoError(t, h.Configure(&Component{Class: class, Dependencies: []Metadata{{ConstructorParameter: ptr(0)}}}, nil))
	require.NoError(t, h.Start())
	defer h.Stop()

	params, err := h.ConstructorParameters()
	require.NoError(t, err)
	require.Contains(t, params, 0)
	assert.Equal(t, "a", params[0].(Greeter).Greet())

	h2, _ := newHandler(reg, ProxySettings{})
	err = h2.Configure(&Component{Class: class, Dependencies: []Metadata{{ConstructorParameter: ptr(0)}}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires the proxy mode")

	err = h2.Configure(&Component{Class: class, Dependencies: []Metadata{{ConstructorParameter: ptr(3), Proxy: ptr(true)}}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no parameter 3")
}

func TestCompositeScope(t *testing.T) {
	global := registry.New(logr.Discard())
	local := registry.New(logr.Discard())
	provide(t, global, "global", nil)
	l := provide(t, local, "local", nil)

	h := New(Options{Context: global, Local: local, Bundle: testBundle(), Log: logr.Discard()}, fakeInstance{}, nil)
	require.NoError(t, h.Configure(component(Metadata{ID: "greeter", Field: "Greeter", Scope: "composite"}), nil))
	require.NoError(t, h.Start())
	defer h.Stop()

	d, _ := h.Dependency("greeter")
	assert.Same(t, l.Reference(), d.ServiceReference())
	assert.Len(t, d.MatchingServiceReferences(), 1)
}

func TestParseTimeout(t *testing.T) {
	d, err := ParseTimeout("250")
	require.NoError(t, err)
	assert.Equal(t, int64(250), d.Milliseconds())

	d, err = ParseTimeout("")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseTimeout("infinite")
	require.NoError(t, err)
	assert.Positive(t, d)

	d, err = ParseTimeout("9223372036854775807")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(math.MaxInt64), d)

	_, err = ParseTimeout("-1")
	assert.Error(t, err)
}
