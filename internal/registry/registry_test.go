package registry

import (
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bayleafwalker/felix-core/internal/filter"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) ServiceChanged(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type countingFactory struct {
	gets, ungets int
}

func (f *countingFactory) GetService(*ServiceReference) (any, error) {
	f.gets++
	return "svc", nil
}

func (f *countingFactory) UngetService(*ServiceReference, any) { f.ungets++ }

func TestReferencesOrderedByRankingThenID(t *testing.T) {
	reg := New(logr.Discard())
	low, err := reg.Register([]string{"greeter"}, "a", nil)
	require.NoError(t, err)
	high, err := reg.Register([]string{"greeter"}, "b", Properties{ServiceRanking: 10})
	require.NoError(t, err)
	tie, err := reg.Register([]string{"greeter"}, "c", nil)
	require.NoError(t, err)
	_, err = reg.Register([]string{"other"}, "d", nil)
	require.NoError(t, err)

	refs := reg.References("greeter", nil)
	require.Len(t, refs, 3)
	assert.Same(t, high.Reference(), refs[0])
	assert.Same(t, low.Reference(), refs[1])
	assert.Same(t, tie.Reference(), refs[2])

	assert.Len(t, reg.References("", nil), 4)
	assert.Len(t, reg.References("greeter", filter.MustParse("(service.ranking>=5)")), 1)
}

func TestRegisterRejectsMissingSpec(t *testing.T) {
	_, err := New(logr.Discard()).Register(nil, "a", nil)
	assert.ErrorIs(t, err, ErrNoSpec)
}

func TestListenerEvents(t *testing.T) {
	reg := New(logr.Discard())
	all := &recorder{}
	filtered := &recorder{}
	reg.AddListener("greeter", nil, all)
	remove := reg.AddListener("greeter", filter.MustParse("(lang=en)"), filtered)

	registration, err := reg.Register([]string{"greeter"}, "hello", Properties{"lang": "en"})
	require.NoError(t, err)
	require.NoError(t, registration.SetProperties(Properties{"lang": "fr"}))
	require.NoError(t, registration.Unregister())

	assert.Equal(t, []EventType{Registered, Modified, Unregistering}, all.types())
	assert.Equal(t, []EventType{Registered, ModifiedEndMatch}, filtered.types())

	remove()
	_, err = reg.Register([]string{"greeter"}, "hi", Properties{"lang": "en"})
	require.NoError(t, err)
	assert.Len(t, filtered.types(), 2)

	assert.ErrorIs(t, registration.Unregister(), ErrUnregistered)
	assert.ErrorIs(t, registration.SetProperties(nil), ErrUnregistered)
}

func TestServiceReferenceProperties(t *testing.T) {
	reg := New(logr.Discard())
	registration, err := reg.Register([]string{"a", "b"}, 1, Properties{"Key": "v", ServiceRanking: 3})
	require.NoError(t, err)

	ref := registration.Reference()
	v, ok := ref.Property("key")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, 3, ref.Ranking())
	assert.Equal(t, []string{"a", "b"}, ref.ObjectClasses())
	assert.Equal(t, ref.ID(), ref.Properties()[ServiceID])

	props := ref.Properties()
	props["Key"] = "mutated"
	v, _ = ref.Property("Key")
	assert.Equal(t, "v", v)
}

func TestServiceFactoryLifecycle(t *testing.T) {
	reg := New(logr.Discard())
	factory := &countingFactory{}
	registration, err := reg.Register([]string{"greeter"}, factory, nil)
	require.NoError(t, err)
	ref := registration.Reference()

	svc, err := reg.GetService(ref)
	require.NoError(t, err)
	assert.Equal(t, "svc", svc)
	_, err = reg.GetService(ref)
	require.NoError(t, err)
	assert.Equal(t, 1, factory.gets)

	reg.UngetService(ref)
	assert.Equal(t, 0, factory.ungets)
	reg.UngetService(ref)
	assert.Equal(t, 1, factory.ungets)

	require.NoError(t, registration.Unregister())
	_, err = reg.GetService(ref)
	assert.ErrorIs(t, err, ErrUnregistered)
}

func TestListenerMayCallBackIntoRegistry(t *testing.T) {
	reg := New(logr.Discard())
	var got any
	reg.AddListener("greeter", nil, ListenerFunc(func(e Event) {
		if e.Type == Unregistering {
			got, _ = reg.GetService(e.Reference)
		}
	}))
	registration, err := reg.Register([]string{"greeter"}, "hello", nil)
	require.NoError(t, err)
	require.NoError(t, registration.Unregister())
	assert.Equal(t, "hello", got)
}

func TestPolicyContext(t *testing.T) {
	global := New(logr.Discard())
	local := New(logr.Discard())
	_, err := global.Register([]string{"greeter"}, "global", nil)
	require.NoError(t, err)
	localReg, err := local.Register([]string{"greeter"}, "local", Properties{ServiceRanking: 1})
	require.NoError(t, err)

	assert.Len(t, NewPolicyContext(global, local, GlobalScope).References("greeter", nil), 1)
	assert.Len(t, NewPolicyContext(global, local, LocalScope).References("greeter", nil), 1)

	both := NewPolicyContext(global, local, LocalAndGlobalScope)
	refs := both.References("greeter", nil)
	require.Len(t, refs, 2)
	assert.Same(t, localReg.Reference(), refs[0])

	svc, err := both.GetService(refs[0])
	require.NoError(t, err)
	assert.Equal(t, "local", svc)
	svc, err = both.GetService(refs[1])
	require.NoError(t, err)
	assert.Equal(t, "global", svc)

	rec := &recorder{}
	remove := both.AddListener("greeter", nil, rec)
	_, err = global.Register([]string{"greeter"}, "g2", nil)
	require.NoError(t, err)
	_, err = local.Register([]string{"greeter"}, "l2", nil)
	require.NoError(t, err)
	assert.Len(t, rec.types(), 2)
	remove()

	assert.Equal(t, GlobalScope, NewPolicyContext(global, nil, LocalScope).Scope())
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{
		"":                 GlobalScope,
		"global":           GlobalScope,
		"composite":        LocalScope,
		"Composite+Global": LocalAndGlobalScope,
	} {
		got, err := ParseScope(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseScope("galaxy")
	assert.Error(t, err)
}
