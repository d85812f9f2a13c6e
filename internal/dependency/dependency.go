package dependency

import (
	"errors"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/felix-core/internal/bundle"
	"github.com/bayleafwalker/felix-core/internal/filter"
	"github.com/bayleafwalker/felix-core/internal/metrics"
	"github.com/bayleafwalker/felix-core/internal/registry"
)

// Owner groups the collaborators a dependency works with.
type Owner struct {
	Context  registry.Context
	Bundle   *bundle.Bundle
	Listener StateListener
	Instance Instance
	Log      logr.Logger
}

// Dependency is one service requirement of a component instance.
//
// Matching references are tracked through a registry listener. The selected
// references are the matching ones ranked by the comparator, and the bound
// references are the selected ones the component actually uses, according
// to the binding policy and cardinality.
type Dependency struct {
	log      logr.Logger
	ctx      registry.Context
	bundle   *bundle.Bundle
	listener StateListener
	instance Instance

	field         string
	di            string
	exception     string
	nullable      bool
	callbacks     []*Callback
	index         int
	timeout       time.Duration
	aggregateType AggregateType
	proxyType     ProxyType
	policy        Policy

	lock           *rwLock
	id             string
	spec           *bundle.Class
	filter         *filter.Filter
	comparator     Comparator
	comparatorName string
	aggregate      bool
	optional       bool
	proxy          bool
	state          State
	tracking       bool
	started        bool
	frozen         bool
	removeListener func()
	matching       []*registry.ServiceReference
	selected       []*registry.ServiceReference
	bound          []*registry.ServiceReference
	objects        map[*registry.ServiceReference]any
	ungettable     sets.Set[*registry.ServiceReference]
	nullableObject any
	proxyObject    any

	usages sync.Map
}

var _ registry.Listener = (*Dependency)(nil)

// New creates a stopped dependency.
func New(owner Owner, cfg Config) (*Dependency, error) {
	if cfg.Specification == nil {
		return nil, &ConfigurationError{Dependency: cfg.ID, Reason: "no service specification"}
	}
	if owner.Context == nil || owner.Instance == nil || owner.Listener == nil {
		return nil, &ConfigurationError{Dependency: cfg.ID, Reason: "context, instance and listener are required"}
	}
	d := &Dependency{
		log:            owner.Log,
		ctx:            owner.Context,
		bundle:         owner.Bundle,
		listener:       owner.Listener,
		instance:       owner.Instance,
		field:          cfg.Field,
		di:             cfg.DefaultImplementation,
		exception:      cfg.Exception,
		nullable:       cfg.Nullable,
		callbacks:      slices.Clone(cfg.Callbacks),
		index:          cfg.ConstructorIndex,
		timeout:        cfg.Timeout,
		aggregateType:  cfg.AggregateType,
		proxyType:      cfg.ProxyType,
		policy:         cfg.Policy,
		lock:           newRWLock(),
		id:             cfg.ID,
		spec:           cfg.Specification,
		filter:         cfg.Filter,
		comparator:     cfg.Comparator,
		comparatorName: cfg.ComparatorName,
		aggregate:      cfg.Aggregate || cfg.AggregateType != AggregateNone,
		optional:       cfg.Optional,
		proxy:          cfg.Proxy,
		state:          Unresolved,
		objects:        map[*registry.ServiceReference]any{},
		ungettable:     sets.New[*registry.ServiceReference](),
	}
	if d.id == "" {
		d.id = d.spec.Name
	}
	if d.aggregate && d.aggregateType == AggregateNone {
		d.aggregateType = AggregateList
	}
	if d.policy == DynamicPriorityPolicy && d.comparator == nil {
		d.comparator = registry.Compare
		d.comparatorName = "service-ranking"
	}
	d.log = d.log.WithValues("dependency", d.id)
	return d, nil
}

func (d *Dependency) loadClass(name string) (*bundle.Class, error) {
	if d.bundle == nil {
		return nil, &bundle.ClassNotFoundError{Name: name}
	}
	return d.bundle.LoadClass(name)
}

// Start opens tracking and computes the initial state. Optional scalar
// dependencies build their nullable or default implementation object here,
// and proxies are created once for the life of the dependency.
func (d *Dependency) Start() error {
	if d.IsOptional() && !d.IsAggregate() {
		switch {
		case d.di == "" && d.exception == "":
			if d.nullable {
				d.createNullableObject()
			}
		case d.di != "":
			obj, err := d.newDefaultImplementation()
			if err != nil {
				return err
			}
			d.lock.lock()
			d.nullableObject = obj
			d.lock.unlock()
		}
	}
	if d.IsProxy() {
		d.createProxy()
	}

	d.lock.lock()
	d.state = Unresolved
	d.tracking = true
	d.removeListener = d.ctx.AddListener(d.spec.Name, nil, d)
	refs := d.ctx.References(d.spec.Name, nil)
	d.lock.unlock()

	for _, ref := range refs {
		d.addedService(ref)
	}
	d.computeAndSetState()

	hasPojo := len(d.instance.PojoObjects()) > 0
	d.lock.lock()
	if d.policy == StaticPolicy && hasPojo {
		d.frozen = true
	}
	d.started = true
	d.lock.unlock()
	return nil
}

func (d *Dependency) newDefaultImplementation() (any, error) {
	class, err := d.loadClass(d.di)
	if err != nil {
		return nil, &ConfigurationError{Dependency: d.Identifier(), Reason: "cannot load the default-implementation " + d.di, Err: err}
	}
	if class.New == nil {
		return nil, &ConfigurationError{Dependency: d.Identifier(), Reason: "the default-implementation " + d.di + " cannot be instantiated"}
	}
	obj, err := class.New()
	if err != nil {
		return nil, &ConfigurationError{Dependency: d.Identifier(), Reason: "cannot create the default-implementation " + d.di, Err: err}
	}
	return obj, nil
}

// Stop closes tracking, releases every service object and returns the
// dependency to the unresolved, unfrozen state.
func (d *Dependency) Stop() {
	d.lock.lock()
	d.started = false
	if d.removeListener != nil {
		d.removeListener()
		d.removeListener = nil
	}
	d.tracking = false
	d.matching, d.selected, d.bound = nil, nil, nil
	objects := d.objects
	d.objects = map[*registry.ServiceReference]any{}
	d.state = Unresolved
	d.frozen = false
	d.lock.unlock()

	for ref := range objects {
		d.ctx.UngetService(ref)
	}
}

// ServiceChanged feeds registry events into the dependency.
func (d *Dependency) ServiceChanged(e registry.Event) {
	switch e.Type {
	case registry.Registered:
		d.addedService(e.Reference)
	case registry.Modified, registry.ModifiedEndMatch:
		d.modifiedService(e.Reference)
	case registry.Unregistering:
		d.lock.lock()
		d.ungettable.Delete(e.Reference)
		d.lock.unlock()
		d.removedService(e.Reference)
	}
}

func (d *Dependency) accepts(ref *registry.ServiceReference) bool {
	if d.ungettable.Has(ref) {
		return false
	}
	return d.filter == nil || d.filter.Match(ref.PropertyMap())
}

// changeSet lists the bound references that changed.
type changeSet struct {
	departures []*registry.ServiceReference
	arrivals   []*registry.ServiceReference
	modified   *registry.ServiceReference
}

// updateMatching runs mutate under the write lock and, if it changed the
// matching references, re-ranks them and updates the bound references.
func (d *Dependency) updateMatching(mutate func() (changed bool, modified *registry.ServiceReference)) {
	d.lock.lock()
	if !d.tracking || d.state == Broken {
		d.lock.unlock()
		return
	}
	changed, modified := mutate()
	if !changed {
		d.lock.unlock()
		return
	}
	d.selected = d.rank(d.matching)
	d.onChange(modified)
}

func (d *Dependency) addedService(ref *registry.ServiceReference) {
	d.updateMatching(func() (bool, *registry.ServiceReference) {
		if slices.Contains(d.matching, ref) || !d.accepts(ref) {
			return false, nil
		}
		d.matching = append(d.matching, ref)
		return true, nil
	})
}

func (d *Dependency) modifiedService(ref *registry.ServiceReference) {
	d.updateMatching(func() (bool, *registry.ServiceReference) {
		d.ungettable.Delete(ref)
		tracked, accepted := slices.Contains(d.matching, ref), d.accepts(ref)
		switch {
		case tracked && !accepted:
			d.matching = remove(d.matching, ref)
			return true, nil
		case tracked:
			return true, ref
		case accepted:
			d.matching = append(d.matching, ref)
			return true, nil
		}
		return false, nil
	})
}

func (d *Dependency) removedService(ref *registry.ServiceReference) {
	d.updateMatching(func() (bool, *registry.ServiceReference) {
		if !slices.Contains(d.matching, ref) {
			return false, nil
		}
		d.matching = remove(d.matching, ref)
		return true, nil
	})
}

// ungettableService drops ref after its service object could not be
// retrieved. ref is not matched again, even across a restart, until its
// provider modifies it.
func (d *Dependency) ungettableService(ref *registry.ServiceReference, err error) {
	d.log.V(1).Info("bound service cannot be retrieved, treating it as gone", "service", ref.String(), "error", err.Error())
	if !errors.Is(err, registry.ErrUnregistered) {
		d.lock.lock()
		d.ungettable.Insert(ref)
		d.lock.unlock()
	}
	d.removedService(ref)
}

func (d *Dependency) rank(refs []*registry.ServiceReference) []*registry.ServiceReference {
	out := slices.Clone(refs)
	if d.comparator != nil {
		slices.SortStableFunc(out, d.comparator)
	}
	return out
}

func remove(refs []*registry.ServiceReference, ref *registry.ServiceReference) []*registry.ServiceReference {
	return slices.DeleteFunc(slices.Clone(refs), func(r *registry.ServiceReference) bool { return r == ref })
}

// departed removes the bound references that are no longer selected and
// returns them.
func (d *Dependency) departed() []*registry.ServiceReference {
	var departures []*registry.ServiceReference
	kept := d.bound[:0:0]
	for _, ref := range d.bound {
		if slices.Contains(d.selected, ref) {
			kept = append(kept, ref)
			continue
		}
		departures = append(departures, ref)
	}
	d.bound = kept
	return departures
}

// onChange is called with the write lock held after the selection changed.
// It updates the bound references, releases the lock, then invokes unbind
// callbacks for departures before bind callbacks for arrivals.
func (d *Dependency) onChange(modified *registry.ServiceReference) {
	if d.frozen && d.state != Broken {
		for _, ref := range d.bound {
			if !slices.Contains(d.selected, ref) {
				d.breakDependency()
				return
			}
		}
		// The bound set of a frozen dependency does not follow arrivals.
		d.lock.unlock()
		d.computeAndSetState()
		return
	}

	cs := changeSet{departures: d.departed()}
	if d.aggregate {
		for _, ref := range d.selected {
			if !slices.Contains(d.bound, ref) {
				cs.arrivals = append(cs.arrivals, ref)
			}
		}
		if len(d.objects) == 0 || d.policy == DynamicPriorityPolicy {
			d.bound = slices.Clone(d.selected)
		} else {
			d.bound = append(d.bound, cs.arrivals...)
		}
	} else if len(d.selected) > 0 {
		best := d.selected[0]
		if len(d.bound) == 0 {
			d.bound = []*registry.ServiceReference{best}
			cs.arrivals = append(cs.arrivals, best)
		} else if current := d.bound[0]; current != best {
			_, used := d.objects[current]
			if d.policy == DynamicPriorityPolicy || !used {
				d.bound = []*registry.ServiceReference{best}
				cs.departures = append(cs.departures, current)
				cs.arrivals = append(cs.arrivals, best)
			}
		}
	}
	if modified != nil && slices.Contains(d.bound, modified) {
		cs.modified = modified
	}
	d.lock.unlock()

	d.apply(cs)
	d.computeAndSetState()
}

// apply invokes the callbacks of a change set.
func (d *Dependency) apply(cs changeSet) {
	for _, ref := range cs.departures {
		d.callUnbind(ref)
		d.ungetService(ref)
	}
	for _, ref := range cs.arrivals {
		d.callBind(ref)
	}
	if cs.modified != nil {
		d.callModified(cs.modified)
	}
}

// breakDependency is called with the write lock held when a frozen
// dependency loses a bound service. The instance is restarted so that it
// binds afresh.
func (d *Dependency) breakDependency() {
	d.state = Broken
	d.lock.unlockIfHeld()
	metrics.DependencyStateTransitionsTotal.WithLabelValues(Broken.String()).Inc()
	d.log.Info("static dependency lost its bound service, restarting instance", "instance", d.instance.Name())

	d.listener.Invalidate(d)
	d.instance.Stop()
	d.Unfreeze()
	d.instance.Start()
}

// computeAndSetState moves between resolved and unresolved and notifies the
// listener outside of the lock.
func (d *Dependency) computeAndSetState() {
	d.lock.lock()
	if d.state == Broken {
		d.lock.unlock()
		return
	}
	var validate, invalidate bool
	if d.optional || len(d.selected) > 0 {
		if d.state == Unresolved {
			d.state = Resolved
			validate = true
		}
	} else if d.state == Resolved {
		d.state = Unresolved
		invalidate = true
	}
	d.lock.unlock()

	switch {
	case invalidate:
		metrics.DependencyStateTransitionsTotal.WithLabelValues(Unresolved.String()).Inc()
		d.log.V(1).Info("dependency unresolved")
		d.listener.Invalidate(d)
	case validate:
		metrics.DependencyStateTransitionsTotal.WithLabelValues(Resolved.String()).Inc()
		d.log.V(1).Info("dependency resolved")
		d.listener.Validate(d)
	}
}

// OnObjectCreation freezes static dependencies and calls bind callbacks on
// a newly created implementation object for the services already bound.
func (d *Dependency) OnObjectCreation(pojo any) {
	d.lock.lock()
	if !d.started {
		d.lock.unlock()
		return
	}
	if d.policy == StaticPolicy {
		d.frozen = true
	}
	if d.optional && len(d.bound) == 0 {
		d.lock.unlock()
		return
	}
	refs := slices.Clone(d.bound)
	aggregate := d.aggregate
	d.lock.unlock()

	if len(refs) == 0 {
		return
	}
	if !aggregate {
		refs = refs[:1]
	}
	for _, cb := range d.callbacks {
		if cb.Kind != BindCallback {
			continue
		}
		for _, ref := range refs {
			svc, err := d.getService(ref, true)
			if err != nil {
				d.ungettableService(ref, err)
				if !d.isStarted() {
					// A broken static dependency restarted the instance.
					return
				}
				continue
			}
			d.invokeCallback(cb, ref, svc, pojo)
		}
	}
}

func (d *Dependency) isStarted() bool {
	d.lock.rlock()
	defer d.lock.runlock()
	return d.started
}

func (d *Dependency) instanceUsable() bool {
	return d.instance.State() > InstanceStopped && len(d.instance.PojoObjects()) > 0
}

func (d *Dependency) callBind(ref *registry.ServiceReference) {
	if !d.instanceUsable() {
		return
	}
	for _, cb := range d.callbacks {
		if cb.Kind != BindCallback {
			continue
		}
		svc, err := d.getService(ref, true)
		if err != nil {
			d.ungettableService(ref, err)
			continue
		}
		d.invokeCallback(cb, ref, svc, nil)
	}
}

func (d *Dependency) callUnbind(ref *registry.ServiceReference) {
	if !d.instanceUsable() {
		return
	}
	for _, cb := range d.callbacks {
		if cb.Kind != UnbindCallback {
			continue
		}
		svc, _ := d.getService(ref, false)
		d.invokeCallback(cb, ref, svc, nil)
	}
}

func (d *Dependency) callModified(ref *registry.ServiceReference) {
	if !d.instanceUsable() {
		return
	}
	for _, cb := range d.callbacks {
		if cb.Kind != ModifiedCallback {
			continue
		}
		svc, err := d.getService(ref, true)
		if err != nil {
			continue
		}
		d.invokeCallback(cb, ref, svc, nil)
	}
}

// invokeCallback calls cb on pojo, or on every implementation object when
// pojo is nil. A failing callback stops the instance.
func (d *Dependency) invokeCallback(cb *Callback, ref *registry.ServiceReference, svc, pojo any) {
	targets := []any{pojo}
	if pojo == nil {
		targets = d.instance.PojoObjects()
	}
	for _, target := range targets {
		metrics.DependencyCallbacksTotal.WithLabelValues(cb.Kind.String()).Inc()
		err := cb.call(target, ref, svc)
		if err == nil {
			continue
		}
		cerr := &CallbackError{Method: cb.Method, Class: d.instance.ClassName(), Err: err}
		metrics.DependencyCallbackErrorsTotal.WithLabelValues(cb.Kind.String()).Inc()
		d.log.Error(cerr, "dependency callback failed, stopping instance", "instance", d.instance.Name(), "method", cb.Method)
		d.instance.Stop()
		return
	}
}

// getService returns the service object of ref. Stored objects are kept
// until the reference departs or the dependency stops.
func (d *Dependency) getService(ref *registry.ServiceReference, store bool) (any, error) {
	d.lock.rlock()
	svc, ok := d.objects[ref]
	d.lock.runlock()
	if ok {
		return svc, nil
	}

	svc, err := d.ctx.GetService(ref)
	if err != nil {
		return nil, err
	}
	if !store {
		d.ctx.UngetService(ref)
		return svc, nil
	}
	d.lock.lock()
	prev, dup := d.objects[ref]
	if !dup {
		d.objects[ref] = svc
	}
	d.lock.unlock()
	if dup {
		d.ctx.UngetService(ref)
		return prev, nil
	}
	return svc, nil
}

func (d *Dependency) ungetService(ref *registry.ServiceReference) {
	d.lock.lock()
	_, ok := d.objects[ref]
	delete(d.objects, ref)
	d.lock.unlock()
	if ok {
		d.ctx.UngetService(ref)
	}
}

// SetFilter replaces the filter and rebinds against the new matching set.
func (d *Dependency) SetFilter(f *filter.Filter) {
	d.lock.lock()
	d.filter = f
	if !d.tracking {
		d.lock.unlock()
		return
	}
	var matching []*registry.ServiceReference
	for _, ref := range d.ctx.References(d.spec.Name, nil) {
		if d.accepts(ref) {
			matching = append(matching, ref)
		}
	}
	d.matching = matching
	d.selected = d.rank(matching)
	d.applyReconfiguration()
}

// SetComparator changes the ranking of future selections.
func (d *Dependency) SetComparator(cmp Comparator, name string) {
	d.lock.lock()
	defer d.lock.unlock()
	d.comparator = cmp
	d.comparatorName = name
}

// applyReconfiguration is called with the write lock held after the whole
// selection was recomputed. A scalar dependency keeps its bound reference
// while it is still selected, unless the policy asks for the best one.
func (d *Dependency) applyReconfiguration() {
	var cs changeSet
	if d.aggregate {
		for _, ref := range d.selected {
			if !slices.Contains(d.bound, ref) {
				cs.arrivals = append(cs.arrivals, ref)
			}
		}
		cs.departures = d.departed()
		d.bound = slices.Clone(d.selected)
	} else {
		var used *registry.ServiceReference
		if len(d.bound) > 0 {
			used = d.bound[0]
		}
		d.bound = nil
		switch {
		case len(d.selected) == 0:
			if used != nil {
				cs.departures = append(cs.departures, used)
			}
		case used == nil:
			d.bound = []*registry.ServiceReference{d.selected[0]}
			cs.arrivals = append(cs.arrivals, d.selected[0])
		case slices.Contains(d.selected, used) && (d.policy != DynamicPriorityPolicy || used == d.selected[0]):
			d.bound = []*registry.ServiceReference{used}
		default:
			best := d.selected[0]
			d.bound = []*registry.ServiceReference{best}
			cs.departures = append(cs.departures, used)
			cs.arrivals = append(cs.arrivals, best)
		}
	}
	d.lock.unlock()

	d.computeAndSetState()
	d.apply(cs)
}

// SetAggregate switches cardinality. A running scalar dependency becoming
// aggregate binds every selected reference; the reverse keeps only the first.
func (d *Dependency) SetAggregate(aggregate bool) {
	var arrivals, departures []*registry.ServiceReference
	d.lock.lock()
	switch {
	case !d.tracking:
		d.aggregate = aggregate
	case !d.aggregate && aggregate:
		d.aggregate = true
		if d.aggregateType == AggregateNone {
			d.aggregateType = AggregateList
		}
		if d.state == Resolved {
			for _, ref := range d.selected {
				if !slices.Contains(d.bound, ref) {
					d.bound = append(d.bound, ref)
					arrivals = append(arrivals, ref)
				}
			}
		}
	case d.aggregate && !aggregate:
		d.aggregate = false
		if d.state == Resolved && len(d.bound) > 1 {
			departures = slices.Clone(d.bound[1:])
			d.bound = d.bound[:1]
		}
	}
	d.lock.unlock()

	for _, ref := range arrivals {
		d.callBind(ref)
	}
	for _, ref := range departures {
		d.callUnbind(ref)
		d.ungetService(ref)
	}
}

// SetOptionality changes optionality and recomputes the state.
func (d *Dependency) SetOptionality(optional bool) {
	d.lock.lock()
	d.optional = optional
	tracking := d.tracking
	d.lock.unlock()
	if tracking {
		d.computeAndSetState()
	}
}

func (d *Dependency) State() State {
	d.lock.rlock()
	defer d.lock.runlock()
	return d.state
}

func (d *Dependency) IsFrozen() bool {
	d.lock.rlock()
	defer d.lock.runlock()
	return d.frozen
}

func (d *Dependency) Unfreeze() {
	if d.lock.lockIfNotHeld() {
		defer d.lock.unlock()
	}
	d.frozen = false
}

func (d *Dependency) IsAggregate() bool {
	d.lock.rlock()
	defer d.lock.runlock()
	return d.aggregate
}

func (d *Dependency) IsOptional() bool {
	d.lock.rlock()
	defer d.lock.runlock()
	return d.optional
}

func (d *Dependency) IsProxy() bool {
	d.lock.rlock()
	defer d.lock.runlock()
	return d.proxy
}

// Filter returns the filter expression, or "".
func (d *Dependency) Filter() string {
	d.lock.rlock()
	defer d.lock.runlock()
	if d.filter == nil {
		return ""
	}
	return d.filter.String()
}

func (d *Dependency) ComparatorName() string {
	d.lock.rlock()
	defer d.lock.runlock()
	return d.comparatorName
}

func (d *Dependency) AggregateType() AggregateType {
	d.lock.rlock()
	defer d.lock.runlock()
	return d.aggregateType
}

func (d *Dependency) ID() string                    { return d.id }
func (d *Dependency) Field() string                 { return d.field }
func (d *Dependency) Specification() *bundle.Class  { return d.spec }
func (d *Dependency) Policy() Policy                { return d.policy }
func (d *Dependency) ProxyType() ProxyType          { return d.proxyType }
func (d *Dependency) Timeout() time.Duration        { return d.timeout }
func (d *Dependency) Exception() string             { return d.exception }
func (d *Dependency) DefaultImplementation() string { return d.di }
func (d *Dependency) ConstructorIndex() int         { return d.index }
func (d *Dependency) Callbacks() []*Callback        { return slices.Clone(d.callbacks) }

// SupportsNullable reports whether a nullable object is injected when no
// provider is available.
func (d *Dependency) SupportsNullable() bool {
	return d.IsOptional() && !d.IsAggregate() && d.nullable
}

// ServiceReference returns the first bound reference, or nil.
func (d *Dependency) ServiceReference() *registry.ServiceReference {
	d.lock.rlock()
	defer d.lock.runlock()
	if len(d.bound) == 0 {
		return nil
	}
	return d.bound[0]
}

// ServiceReferences returns a copy of the bound references.
func (d *Dependency) ServiceReferences() []*registry.ServiceReference {
	d.lock.rlock()
	defer d.lock.runlock()
	return slices.Clone(d.bound)
}

// Size returns the number of bound references.
func (d *Dependency) Size() int {
	d.lock.rlock()
	defer d.lock.runlock()
	return len(d.bound)
}

// UsedServiceReferences returns the bound references whose service objects
// were retrieved. Scalar dependencies report at most one.
func (d *Dependency) UsedServiceReferences() []*registry.ServiceReference {
	d.lock.rlock()
	defer d.lock.runlock()
	var used []*registry.ServiceReference
	for _, ref := range d.bound {
		if _, ok := d.objects[ref]; ok {
			used = append(used, ref)
			if !d.aggregate {
				break
			}
		}
	}
	return used
}

// MatchingServiceReferences returns every tracked reference accepted by the
// filter, in discovery order.
func (d *Dependency) MatchingServiceReferences() []*registry.ServiceReference {
	d.lock.rlock()
	defer d.lock.runlock()
	return slices.Clone(d.matching)
}

// SelectedServiceReferences returns the matching references in rank order.
func (d *Dependency) SelectedServiceReferences() []*registry.ServiceReference {
	d.lock.rlock()
	defer d.lock.runlock()
	return slices.Clone(d.selected)
}

// Identifier describes the dependency in messages, for example
// "{id=greeter, field=Greeter, specification=org.example.Greeter}".
func (d *Dependency) Identifier() string {
	var parts []string
	if d.id != "" {
		parts = append(parts, "id="+d.id)
	}
	if d.field != "" {
		parts = append(parts, "field="+d.field)
	}
	if len(d.callbacks) > 0 {
		parts = append(parts, "method="+d.callbacks[0].Method)
	}
	if d.spec != nil {
		parts = append(parts, "specification="+d.spec.Name)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

var errNotProxy = errors.New("the dependency has not enabled the proxy mode")

// ConstructorParameter returns the value passed to the constructor parameter
// bound to this dependency: the proxy, or the current service object.
func (d *Dependency) ConstructorParameter() (any, error) {
	d.lock.rlock()
	p := d.proxyObject
	d.lock.runlock()
	if d.IsProxy() && p != nil {
		return p, nil
	}
	return d.createServiceObject()
}

// ConstructorParameterType is the declared type of the injected value.
func (d *Dependency) ConstructorParameterType() reflect.Type {
	if !d.IsAggregate() {
		return d.spec.Type
	}
	switch d.AggregateType() {
	case AggregateArray:
		if d.spec.Type != nil {
			return reflect.SliceOf(d.spec.Type)
		}
		return reflect.TypeFor[[]any]()
	case AggregateSet:
		return reflect.TypeFor[Set]()
	case AggregateVector:
		return reflect.TypeFor[*Vector]()
	}
	return reflect.TypeFor[List]()
}
