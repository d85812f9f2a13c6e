// Package metrics holds the prometheus collectors shared by the framework
// packages. Collectors are registered on Registry at init time; commands
// decide whether and how to expose it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the registry every collector in this package is registered on.
var Registry = prometheus.NewRegistry()

var (
	ManifestParseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "felix_manifest_parse_total",
			Help: "Number of bundle manifests parsed, by result.",
		},
		[]string{"result"},
	)

	NativeSelectionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "felix_native_selection_total",
			Help: "Number of native library clause selections, by outcome.",
		},
		[]string{"outcome"},
	)

	DependencyStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "felix_dependency_state_transitions_total",
			Help: "Number of dependency state transitions, by target state.",
		},
		[]string{"state"},
	)
	DependencyCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "felix_dependency_callbacks_total",
			Help: "Number of bind, unbind and modified callbacks invoked.",
		},
		[]string{"kind"},
	)
	DependencyCallbackErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "felix_dependency_callback_errors_total",
			Help: "Number of callbacks that failed and stopped their component instance.",
		},
		[]string{"kind"},
	)

	DependencyWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "felix_dependency_wait_duration_seconds",
			Help:    "Time spent waiting for a provider to appear before falling back.",
			Buckets: prometheus.DefBuckets,
		},
	)

	HandlerValidityChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "felix_handler_validity_changes_total",
			Help: "Number of dependency handler validity changes, by new validity.",
		},
		[]string{"valid"},
	)

	ResolverUnresolvedRequired = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "felix_resolver_unresolved_required",
			Help: "Number of unresolved required requirements observed in the last resolution.",
		},
	)
	ResolverResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "felix_resolver_resolution_duration_seconds",
			Help:    "Time taken to resolve requirements.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	Registry.MustRegister(
		ManifestParseTotal,
		NativeSelectionTotal,
		DependencyStateTransitionsTotal,
		DependencyCallbacksTotal,
		DependencyCallbackErrorsTotal,
		DependencyWaitDuration,
		HandlerValidityChangesTotal,
		ResolverUnresolvedRequired,
		ResolverResolutionDuration,
	)
}
