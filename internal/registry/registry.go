package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/go-logr/logr"

	"github.com/bayleafwalker/felix-core/internal/filter"
)

var (
	ErrUnregistered = errors.New("service is unregistered")
	ErrNoSpec       = errors.New("at least one specification is required")
)

// EventType classifies a service event.
type EventType int

const (
	Registered EventType = iota
	Modified
	// ModifiedEndMatch is delivered to a filtered listener when a modification
	// makes a previously matching service stop matching.
	ModifiedEndMatch
	Unregistering
)

func (t EventType) String() string {
	switch t {
	case Registered:
		return "registered"
	case Modified:
		return "modified"
	case ModifiedEndMatch:
		return "modified-endmatch"
	case Unregistering:
		return "unregistering"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

type Event struct {
	Type      EventType
	Reference *ServiceReference
}

// Listener receives service events synchronously on the goroutine that
// caused them.
type Listener interface {
	ServiceChanged(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) ServiceChanged(e Event) { f(e) }

// ServiceFactory lets a provider hand out a service object per consumer
// lookup. It is called on the first GetService and released on the last
// UngetService.
type ServiceFactory interface {
	GetService(ref *ServiceReference) (any, error)
	UngetService(ref *ServiceReference, svc any)
}

// Context is the view of a registry that consumers bind through.
type Context interface {
	References(spec string, f *filter.Filter) []*ServiceReference
	GetService(ref *ServiceReference) (any, error)
	UngetService(ref *ServiceReference)
	// AddListener registers l for services published under spec. An empty
	// spec listens to every service. The returned function removes l.
	AddListener(spec string, f *filter.Filter, l Listener) (remove func())
}

type entry struct {
	ref           *ServiceReference
	service       any
	unregistering bool

	// factory bookkeeping
	uses   int
	cached any
}

type listenerEntry struct {
	id     int64
	spec   string
	filter *filter.Filter
	l      Listener
}

// Registry is an in-memory service registry. Events are dispatched outside
// of the registry lock, so listeners may call back into the registry.
type Registry struct {
	log logr.Logger

	mu             sync.RWMutex
	nextID         int64
	nextListenerID int64
	services       map[int64]*entry
	listeners      []*listenerEntry
}

var _ Context = (*Registry)(nil)

func New(log logr.Logger) *Registry {
	return &Registry{
		log:      log,
		nextID:   1,
		services: map[int64]*entry{},
	}
}

// Registration is the provider side handle of a registered service.
type Registration struct {
	registry *Registry
	ref      *ServiceReference

	once sync.Once
}

func (r *Registration) Reference() *ServiceReference { return r.ref }

// Register publishes svc under specs. svc may be a ServiceFactory.
func (r *Registry) Register(specs []string, svc any, props Properties) (*Registration, error) {
	if len(specs) == 0 {
		return nil, ErrNoSpec
	}
	if svc == nil {
		return nil, errors.New("registry: service object is nil")
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	ref := &ServiceReference{
		id:       id,
		registry: r,
		specs:    slices.Clone(specs),
		props:    buildProperties(id, specs, props),
	}
	r.services[id] = &entry{ref: ref, service: svc}
	r.mu.Unlock()

	r.log.V(1).Info("service registered", "service", ref.String())
	r.dispatch(Event{Type: Registered, Reference: ref}, nil)
	return &Registration{registry: r, ref: ref}, nil
}

func buildProperties(id int64, specs []string, props Properties) Properties {
	out := maps.Clone(props)
	if out == nil {
		out = Properties{}
	}
	out[ObjectClass] = slices.Clone(specs)
	out[ServiceID] = id
	return out
}

// SetProperties replaces the service properties and notifies listeners.
func (r *Registration) SetProperties(props Properties) error {
	reg := r.registry
	reg.mu.RLock()
	_, ok := reg.services[r.ref.id]
	reg.mu.RUnlock()
	if !ok {
		return ErrUnregistered
	}

	before := r.ref.PropertyMap()
	r.ref.setProperties(buildProperties(r.ref.id, r.ref.ObjectClasses(), props))
	reg.dispatch(Event{Type: Modified, Reference: r.ref}, before)
	return nil
}

// Unregister removes the service. Listeners see Unregistering while the
// service can still be retrieved, but it no longer shows up in References.
func (r *Registration) Unregister() error {
	err := ErrUnregistered
	r.once.Do(func() {
		reg := r.registry
		reg.mu.Lock()
		if e := reg.services[r.ref.id]; e != nil {
			e.unregistering = true
		}
		reg.mu.Unlock()
		reg.dispatch(Event{Type: Unregistering, Reference: r.ref}, nil)

		reg.mu.Lock()
		e := reg.services[r.ref.id]
		delete(reg.services, r.ref.id)
		reg.mu.Unlock()

		if e != nil && e.cached != nil {
			if f, ok := e.service.(ServiceFactory); ok {
				f.UngetService(r.ref, e.cached)
			}
		}
		reg.log.V(1).Info("service unregistered", "service", r.ref.String())
		err = nil
	})
	return err
}

// GetService returns the service object for ref, asking the ServiceFactory
// if the provider registered one.
func (r *Registry) GetService(ref *ServiceReference) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.services[ref.id]
	if !ok {
		return nil, ErrUnregistered
	}
	e.uses++
	f, isFactory := e.service.(ServiceFactory)
	if !isFactory {
		return e.service, nil
	}
	if e.cached == nil {
		svc, err := f.GetService(ref)
		if err != nil {
			e.uses--
			return nil, fmt.Errorf("registry: service factory for %s: %w", ref, err)
		}
		e.cached = svc
	}
	return e.cached, nil
}

// UngetService releases one use of ref.
func (r *Registry) UngetService(ref *ServiceReference) {
	r.mu.Lock()
	e, ok := r.services[ref.id]
	if !ok || e.uses == 0 {
		r.mu.Unlock()
		return
	}
	e.uses--
	var release any
	if e.uses == 0 && e.cached != nil {
		release, e.cached = e.cached, nil
	}
	r.mu.Unlock()

	if release != nil {
		e.service.(ServiceFactory).UngetService(ref, release)
	}
}

// References returns the services published under spec that match f, best
// first. An empty spec matches every service and a nil filter matches all.
func (r *Registry) References(spec string, f *filter.Filter) []*ServiceReference {
	r.mu.RLock()
	var refs []*ServiceReference
	for _, e := range r.services {
		if !e.unregistering && matches(e.ref, spec, f, e.ref.PropertyMap()) {
			refs = append(refs, e.ref)
		}
	}
	r.mu.RUnlock()
	Sort(refs)
	return refs
}

func (r *Registry) AddListener(spec string, f *filter.Filter, l Listener) func() {
	r.mu.Lock()
	id := r.nextListenerID
	r.nextListenerID++
	r.listeners = append(r.listeners, &listenerEntry{id: id, spec: spec, filter: f, l: l})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.listeners = slices.DeleteFunc(r.listeners, func(le *listenerEntry) bool { return le.id == id })
	}
}

func matches(ref *ServiceReference, spec string, f *filter.Filter, props map[string]any) bool {
	if spec != "" && !slices.Contains(ref.ObjectClasses(), spec) {
		return false
	}
	return f == nil || f.Match(props)
}

// dispatch delivers e to interested listeners. before holds the properties
// prior to a modification.
func (r *Registry) dispatch(e Event, before map[string]any) {
	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()

	now := e.Reference.PropertyMap()
	for _, le := range listeners {
		if matches(e.Reference, le.spec, le.filter, now) {
			le.l.ServiceChanged(e)
			continue
		}
		if e.Type == Modified && matches(e.Reference, le.spec, le.filter, before) {
			le.l.ServiceChanged(Event{Type: ModifiedEndMatch, Reference: e.Reference})
		}
	}
}
