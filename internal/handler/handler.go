package handler

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/muir/reflectutils"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/felix-core/internal/bundle"
	"github.com/bayleafwalker/felix-core/internal/dependency"
	"github.com/bayleafwalker/felix-core/internal/filter"
	"github.com/bayleafwalker/felix-core/internal/metrics"
	"github.com/bayleafwalker/felix-core/internal/registry"
)

const (
	ConditionDependenciesResolved = "DependenciesResolved"

	ReasonAllResolved = "AllResolved"
	ReasonUnresolved  = "Unresolved"
)

// ProxySettings are the framework wide proxy defaults.
type ProxySettings struct {
	Enabled bool
	Type    dependency.ProxyType
}

// Options carries what a handler needs from the framework.
type Options struct {
	// Context is the global service registry.
	Context registry.Context
	// Local is the registry of the enclosing composite, if any.
	Local  registry.Context
	Bundle *bundle.Bundle
	Proxy  ProxySettings
	// Comparators are looked up by the comparator attribute.
	Comparators map[string]dependency.Comparator
	// DefaultTimeout applies to dependencies declaring no timeout.
	DefaultTimeout time.Duration
	Log            logr.Logger
}

// DependencyHandler owns the dependencies of one component instance. The
// instance is valid while every dependency is resolved.
type DependencyHandler struct {
	log      logr.Logger
	opts     Options
	instance dependency.Instance
	notify   func()

	deps   []*dependency.Dependency
	fields map[*dependency.Dependency][]int
	ctor   map[int]*dependency.Dependency

	mu         sync.Mutex
	started    bool
	valid      bool
	conditions []metav1.Condition
}

var _ dependency.StateListener = (*DependencyHandler)(nil)

// New creates a handler for instance. notify is called, outside of any
// handler lock, each time the handler validity may have changed.
func New(opts Options, instance dependency.Instance, notify func()) *DependencyHandler {
	if notify == nil {
		notify = func() {}
	}
	return &DependencyHandler{
		log:      opts.Log.WithValues("instance", instance.Name()),
		opts:     opts,
		instance: instance,
		notify:   notify,
		fields:   map[*dependency.Dependency][]int{},
		ctor:     map[int]*dependency.Dependency{},
	}
}

// Configure creates the dependencies declared by c. Every invalid
// declaration is reported in the returned aggregate error.
func (h *DependencyHandler) Configure(c *Component, instanceConfig map[string]any) error {
	if h.opts.Context == nil {
		return errors.New("handler: no service registry")
	}
	class := c.Class
	if class == nil {
		if h.opts.Bundle == nil {
			return fmt.Errorf("component %s: no bundle to load the implementation class from", c.ClassName)
		}
		var err error
		if class, err = h.opts.Bundle.LoadClass(c.ClassName); err != nil {
			return fmt.Errorf("component %s: %w", c.ClassName, err)
		}
	}

	filters, err := stringMap(instanceConfig, RequiresFiltersProperty)
	if err != nil {
		return err
	}
	froms, err := stringMap(instanceConfig, RequiresFromProperty)
	if err != nil {
		return err
	}

	var errs []error
	ids := sets.New[string]()
	for i := range c.Dependencies {
		m := c.Dependencies[i]
		if m.ID != "" {
			if ids.Has(m.ID) {
				errs = append(errs, &dependency.ConfigurationError{Dependency: m.ID, Reason: "the dependency id is not unique"})
				continue
			}
			ids.Insert(m.ID)
		}
		if f, ok := lookup(filters, m); ok {
			m.Filter = f
		}
		if from, ok := lookup(froms, m); ok {
			m.From = from
		}
		d, field, err := h.configure(class, &m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		h.deps = append(h.deps, d)
		if field != nil {
			h.fields[d] = field
		}
		if m.ConstructorParameter != nil {
			h.ctor[*m.ConstructorParameter] = d
		}
	}
	if err := utilerrors.NewAggregate(errs); err != nil {
		return err
	}
	h.log.V(1).Info("dependencies configured", "count", len(h.deps))
	return nil
}

// lookup returns the instance level override of m, keyed by id, or by
// specification when no id was declared.
func lookup(overrides map[string]string, m Metadata) (string, bool) {
	if m.ID != "" {
		v, ok := overrides[m.ID]
		return v, ok
	}
	v, ok := overrides[m.Specification]
	return v, ok
}

func stringMap(conf map[string]any, key string) (map[string]string, error) {
	switch v := conf[key].(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return v, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("%s: the value of %s must be a string, got %T", key, k, val)
			}
			out[k] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s must be a map of strings, got %T", key, conf[key])
}

var (
	slotType         = reflect.TypeFor[dependency.Slot]()
	listType         = reflect.TypeFor[dependency.List]()
	setType          = reflect.TypeFor[dependency.Set]()
	vectorType       = reflect.TypeFor[*dependency.Vector]()
	dynamicProxyType = reflect.TypeFor[*dependency.DynamicProxy]()
)

// configure checks one declaration and creates its dependency. It returns
// the index path of the injected field, if any.
func (h *DependencyHandler) configure(class *bundle.Class, m *Metadata) (*dependency.Dependency, []int, error) {
	fail := func(format string, args ...any) error {
		return &dependency.ConfigurationError{Dependency: m.name(), Reason: fmt.Sprintf(format, args...)}
	}

	if m.Field == "" && len(m.Callbacks) == 0 && m.ConstructorParameter == nil {
		return nil, nil, fail("a dependency must have a field or callbacks or be injected in the constructor")
	}

	cfg := dependency.Config{
		ID:                    m.ID,
		Field:                 m.Field,
		Optional:              m.Optional,
		Aggregate:             m.Aggregate,
		DefaultImplementation: m.DefaultImplementation,
		Exception:             m.Exception,
		ConstructorIndex:      -1,
	}

	var callbackServiceType reflect.Type
	for _, cm := range m.Callbacks {
		kind, err := dependency.ParseCallbackKind(cm.Type)
		if err != nil {
			return nil, nil, fail("%v", err)
		}
		cb, err := dependency.NewCallback(kind, cm.Method, class.Type)
		if err != nil {
			return nil, nil, fail("%v", err)
		}
		if t := cb.ServiceType(); t != nil && callbackServiceType == nil {
			callbackServiceType = t
		}
		cfg.Callbacks = append(cfg.Callbacks, cb)
	}

	// The injected type comes from the field or the constructor parameter.
	var injected reflect.Type
	var fieldIndex []int
	if m.Field != "" {
		idx, t, err := findSlot(class.Type, m.Field)
		if err != nil {
			return nil, nil, fail("%v", err)
		}
		fieldIndex, injected = idx, t
	}
	if m.ConstructorParameter != nil {
		t, err := constructorParameter(class, *m.ConstructorParameter)
		if err != nil {
			return nil, nil, fail("%v", err)
		}
		if injected != nil && injected != t {
			return nil, nil, fail("the field type %s and the constructor parameter type %s differ",
				reflectutils.TypeName(injected), reflectutils.TypeName(t))
		}
		injected = t
		cfg.ConstructorIndex = *m.ConstructorParameter
	}

	elem := injected
	if injected != nil {
		switch {
		case injected.Kind() == reflect.Slice:
			cfg.AggregateType, elem = dependency.AggregateArray, injected.Elem()
		case injected == listType:
			cfg.AggregateType, elem = dependency.AggregateList, nil
		case injected == setType:
			cfg.AggregateType, elem = dependency.AggregateSet, nil
		case injected == vectorType:
			cfg.AggregateType, elem = dependency.AggregateVector, nil
		case m.Aggregate:
			return nil, nil, fail("the dependency is aggregate but %s is not a slice, List, Set or *Vector", reflectutils.TypeName(injected))
		}
		if cfg.AggregateType != dependency.AggregateNone {
			cfg.Aggregate = true
		}
	}
	if elem == nil {
		elem = callbackServiceType
	}

	spec, err := h.specification(m, elem)
	if err != nil {
		return nil, nil, fail("%v", err)
	}
	cfg.Specification = spec

	if cfg.Aggregate && (m.DefaultImplementation != "" || m.Exception != "") {
		return nil, nil, fail("default-implementation and exception cannot be used with aggregate dependencies")
	}
	if m.DefaultImplementation != "" && m.Exception != "" {
		return nil, nil, fail("default-implementation and exception cannot be used together")
	}
	cfg.Nullable = m.nullable() && m.DefaultImplementation == "" && !cfg.Aggregate

	if cfg.Policy, err = dependency.ParsePolicy(m.Policy); err != nil {
		return nil, nil, fail("%v", err)
	}
	if cfg.Timeout, err = ParseTimeout(m.Timeout); err != nil {
		return nil, nil, fail("%v", err)
	}
	if m.Timeout == "" {
		cfg.Timeout = h.opts.DefaultTimeout
	}
	if m.Comparator != "" {
		cmp, ok := h.opts.Comparators[m.Comparator]
		if !ok {
			return nil, nil, fail("unknown comparator %s", m.Comparator)
		}
		cfg.Comparator, cfg.ComparatorName = cmp, m.Comparator
	}

	if m.From != "" {
		switch {
		case cfg.Aggregate:
			return nil, nil, fail("the from attribute cannot be used with aggregate dependencies")
		case m.Comparator != "":
			return nil, nil, fail("the from attribute cannot be used with a comparator")
		case cfg.Policy == dependency.DynamicPriorityPolicy:
			return nil, nil, fail("the from attribute cannot be used with the dynamic-priority policy")
		}
	}
	if cfg.Filter, err = buildFilter(m.Filter, m.From); err != nil {
		return nil, nil, fail("invalid filter: %v", err)
	}

	cfg.Proxy, cfg.ProxyType = h.proxySettings(m, &cfg, injected)
	if cfg.ConstructorIndex >= 0 {
		switch {
		case cfg.AggregateType == dependency.AggregateArray || cfg.AggregateType == dependency.AggregateVector:
			return nil, nil, fail("arrays and vectors cannot be injected in constructors")
		case !cfg.Proxy:
			return nil, nil, fail("constructor injection requires the proxy mode")
		}
	}

	scope, err := registry.ParseScope(m.Scope)
	if err != nil {
		return nil, nil, fail("%v", err)
	}
	ctx := registry.Context(registry.NewPolicyContext(h.opts.Context, h.opts.Local, scope))

	d, err := dependency.New(dependency.Owner{
		Context:  ctx,
		Bundle:   h.opts.Bundle,
		Listener: h,
		Instance: h.instance,
		Log:      h.log,
	}, cfg)
	if err != nil {
		return nil, nil, err
	}
	return d, fieldIndex, nil
}

// findSlot locates the injection field name in the implementation struct.
func findSlot(pojoType reflect.Type, name string) ([]int, reflect.Type, error) {
	if pojoType == nil || pojoType.Kind() != reflect.Pointer || pojoType.Elem().Kind() != reflect.Struct {
		return nil, nil, errors.New("fields can only be injected in struct implementations")
	}
	var found *reflect.StructField
	reflectutils.WalkStructElements(pojoType.Elem(), func(f reflect.StructField) bool {
		if found != nil {
			return false
		}
		if f.Name == name {
			found = &f
			return false
		}
		return true
	})
	if found == nil {
		return nil, nil, fmt.Errorf("the field %s does not exist in %s", name, reflectutils.TypeName(pojoType))
	}
	if !reflect.PointerTo(found.Type).Implements(slotType) {
		return nil, nil, fmt.Errorf("the field %s of type %s is not a dependency field", name, reflectutils.TypeName(found.Type))
	}
	slot := reflect.New(found.Type).Interface().(dependency.Slot)
	return found.Index, slot.ValueType(), nil
}

func constructorParameter(class *bundle.Class, index int) (reflect.Type, error) {
	if class.Constructor == nil {
		return nil, fmt.Errorf("%s has no constructor", class.Name)
	}
	t := reflect.TypeOf(class.Constructor)
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("the constructor of %s is not a function", class.Name)
	}
	if index < 0 || index >= t.NumIn() {
		return nil, fmt.Errorf("the constructor of %s has no parameter %d", class.Name, index)
	}
	return t.In(index), nil
}

// specification resolves the service specification from the declaration or
// from the injected type.
func (h *DependencyHandler) specification(m *Metadata, injected reflect.Type) (*bundle.Class, error) {
	var fromType *bundle.Class
	if injected != nil && h.opts.Bundle != nil {
		fromType, _ = h.opts.Bundle.ClassFor(injected)
	}
	if m.Specification == "" {
		if fromType == nil {
			if injected != nil {
				return nil, fmt.Errorf("no specification registered for %s", reflectutils.TypeName(injected))
			}
			return nil, errors.New("cannot discover the required specification")
		}
		return fromType, nil
	}

	if h.opts.Bundle == nil {
		return nil, fmt.Errorf("cannot load the specification %s", m.Specification)
	}
	spec, err := h.opts.Bundle.LoadClass(m.Specification)
	if err != nil {
		return nil, err
	}
	if injected != nil && spec.Type != nil && injected != spec.Type && !spec.Type.AssignableTo(injected) {
		return nil, fmt.Errorf("the specification %s conflicts with the injected type %s", m.Specification, reflectutils.TypeName(injected))
	}
	return spec, nil
}

// buildFilter combines the declared filter with the from constraint.
func buildFilter(expr, from string) (*filter.Filter, error) {
	if from != "" {
		v := filter.Escape(from)
		f := fmt.Sprintf("(|(%s=%s)(%s=%s))", registry.InstanceName, v, registry.ServicePID, v)
		if expr != "" {
			f = "(&" + f + expr + ")"
		}
		expr = f
	}
	if expr == "" {
		return nil, nil
	}
	return filter.Parse(expr)
}

// proxySettings applies the framework defaults, the declaration and the
// restrictions of the injected type.
func (h *DependencyHandler) proxySettings(m *Metadata, cfg *dependency.Config, injected reflect.Type) (bool, dependency.ProxyType) {
	enabled, typ := h.opts.Proxy.Enabled, h.opts.Proxy.Type
	if m.Proxy != nil {
		if *m.Proxy && !enabled {
			h.log.Info("proxy enabled on the dependency although proxies are disabled by the framework", "dependency", m.name())
		}
		enabled = *m.Proxy
	}
	if !enabled {
		return false, typ
	}

	spec := cfg.Specification
	switch {
	case cfg.AggregateType == dependency.AggregateArray || cfg.AggregateType == dependency.AggregateVector:
		h.log.Info("arrays and vectors cannot be proxied, disabling the proxy", "dependency", m.name())
		return false, typ
	case cfg.Aggregate:
		return true, typ
	case !spec.IsInterface():
		h.log.Info("cannot create a proxy for a dependency which is not an interface, disabling the proxy", "dependency", m.name())
		return false, typ
	}

	if typ == dependency.DynamicProxyType && injected != nil && !dynamicProxyType.AssignableTo(injected) {
		if spec.SmartProxy == nil {
			h.log.Info("the field cannot hold a dynamic proxy and no smart proxy exists, disabling the proxy", "dependency", m.name())
			return false, typ
		}
		typ = dependency.SmartProxyType
	}
	if typ == dependency.SmartProxyType && spec.SmartProxy == nil {
		h.log.Info("the specification has no smart proxy, disabling the proxy", "dependency", m.name())
		return false, typ
	}
	return true, typ
}

// Start starts every dependency and computes the initial validity.
func (h *DependencyHandler) Start() error {
	var errs []error
	for _, d := range h.deps {
		if err := d.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	h.checkContext()
	return utilerrors.NewAggregate(errs)
}

// Stop stops every dependency.
func (h *DependencyHandler) Stop() {
	h.mu.Lock()
	h.started = false
	h.mu.Unlock()
	for _, d := range h.deps {
		d.Stop()
	}
}

// OnCreation attaches the dependency fields of a new implementation object
// and lets the dependencies call their bind callbacks on it.
func (h *DependencyHandler) OnCreation(pojo any) {
	v := reflect.ValueOf(pojo)
	for _, d := range h.deps {
		if idx, ok := h.fields[d]; ok && v.Kind() == reflect.Pointer && !v.IsNil() {
			v.Elem().FieldByIndex(idx).Addr().Interface().(dependency.Slot).Attach(d)
		}
		d.OnObjectCreation(pojo)
	}
}

// OnEntry and OnFinally bracket a method invocation on an implementation
// object.
func (h *DependencyHandler) OnEntry() {
	for _, d := range h.deps {
		d.OnEntry()
	}
}

func (h *DependencyHandler) OnFinally() {
	for _, d := range h.deps {
		d.OnFinally()
	}
}

// ConstructorParameters returns the constructor parameters handled by the
// dependencies, by index.
func (h *DependencyHandler) ConstructorParameters() (map[int]any, error) {
	out := make(map[int]any, len(h.ctor))
	for i, d := range h.ctor {
		v, err := d.ConstructorParameter()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *DependencyHandler) Dependencies() []*dependency.Dependency {
	return append([]*dependency.Dependency(nil), h.deps...)
}

// Dependency returns the dependency with the given id.
func (h *DependencyHandler) Dependency(id string) (*dependency.Dependency, bool) {
	for _, d := range h.deps {
		if d.ID() == id {
			return d, true
		}
	}
	return nil, false
}

func (h *DependencyHandler) Validate(*dependency.Dependency)   { h.checkContext() }
func (h *DependencyHandler) Invalidate(*dependency.Dependency) { h.checkContext() }

// IsValid reports whether every dependency is resolved.
func (h *DependencyHandler) IsValid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.valid
}

// checkContext recomputes the validity under the handler lock and tells the
// instance when it changed.
func (h *DependencyHandler) checkContext() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	resolved := 0
	for _, d := range h.deps {
		if d.State() == dependency.Resolved {
			resolved++
		}
	}
	valid := resolved == len(h.deps)
	changed := valid != h.valid
	h.valid = valid
	h.setCondition(valid, resolved)
	h.mu.Unlock()

	if changed {
		metrics.HandlerValidityChangesTotal.WithLabelValues(fmt.Sprint(valid)).Inc()
		h.log.V(1).Info("validity changed", "valid", valid)
		h.notify()
	}
}

func (h *DependencyHandler) setCondition(valid bool, resolved int) {
	cond := metav1.Condition{
		Type:               ConditionDependenciesResolved,
		Status:             metav1.ConditionFalse,
		Reason:             ReasonUnresolved,
		Message:            resolvedMessage(resolved, len(h.deps)),
		LastTransitionTime: metav1.NewTime(time.Now()),
	}
	if valid {
		cond.Status, cond.Reason = metav1.ConditionTrue, ReasonAllResolved
	}
	meta.SetStatusCondition(&h.conditions, cond)
}

func resolvedMessage(resolved, total int) string {
	if total == 0 {
		return "No dependencies declared"
	}
	return fmt.Sprintf("%d/%d dependencies resolved", resolved, total)
}

// Description is a snapshot of the handler.
type Description struct {
	Valid        bool                     `yaml:"valid"`
	Conditions   []metav1.Condition       `yaml:"conditions,omitempty"`
	Dependencies []dependency.Description `yaml:"dependencies"`
}

func (h *DependencyHandler) Describe() Description {
	h.mu.Lock()
	desc := Description{
		Valid:      h.valid,
		Conditions: append([]metav1.Condition(nil), h.conditions...),
	}
	h.mu.Unlock()
	for _, d := range h.deps {
		desc.Dependencies = append(desc.Dependencies, d.Describe())
	}
	return desc
}
