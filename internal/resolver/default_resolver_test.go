package resolver

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bayleafwalker/felix-core/internal/capability"
	"github.com/bayleafwalker/felix-core/internal/manifest"
	"github.com/bayleafwalker/felix-core/internal/metrics"
	"github.com/bayleafwalker/felix-core/internal/version"
)

func bundle(t *testing.T, name string, extra manifest.Headers) Resource {
	t.Helper()
	h := manifest.Headers{
		manifest.BundleManifestVersion: "2",
		manifest.BundleSymbolicName:    name,
		manifest.BundleVersion:         "1.0.0",
	}
	for k, v := range extra {
		h[k] = v
	}
	m, err := manifest.NewParser(logr.Discard()).Parse(nil, h)
	require.NoError(t, err)
	return FromManifest(m)
}

func exporter(t *testing.T, name, pkgVersion string) Resource {
	return bundle(t, name, manifest.Headers{manifest.ExportPackage: "org.example.api;version=" + pkgVersion})
}

func importer(t *testing.T, name, imports string) Resource {
	return bundle(t, name, manifest.Headers{manifest.ImportPackage: imports})
}

func wiresFrom(plan Plan, requirer string) []Wire {
	var out []Wire
	for _, w := range plan.Wires {
		if RevisionName(w.Requirer()) == requirer {
			out = append(out, w)
		}
	}
	return out
}

func TestDefaultResolver_SelectsHighestCompatibleProvider(t *testing.T) {
	in := Input{Resources: []Resource{
		exporter(t, "org.example.api.a", "1.0.0"),
		exporter(t, "org.example.api.b", "1.5.0"),
		exporter(t, "org.example.api.c", "2.0.0"),
		importer(t, "org.example.app", `org.example.api;version="[1.0,2.0)"`),
	}}

	plan, err := NewDefault(logr.Discard()).Resolve(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, plan.Err())

	wires := wiresFrom(plan, "org.example.app_1.0.0")
	require.Len(t, wires, 1)
	assert.Equal(t, "org.example.api.b_1.0.0", RevisionName(wires[0].Provider()))
	assert.Equal(t, "1.5.0", wires[0].Capability.Version().String())
}

func TestDefaultResolver_TieBreaksByRevisionName(t *testing.T) {
	in := Input{Resources: []Resource{
		exporter(t, "provider.b", "1.0.0"),
		exporter(t, "provider.a", "1.0.0"),
		importer(t, "consumer", "org.example.api"),
	}}

	plan, err := NewDefault(logr.Discard()).Resolve(context.Background(), in)
	require.NoError(t, err)

	wires := wiresFrom(plan, "consumer_1.0.0")
	require.Len(t, wires, 1)
	assert.Equal(t, "provider.a_1.0.0", RevisionName(wires[0].Provider()))
}

func TestDefaultResolver_MultipleCardinalityKeepsAllMatches(t *testing.T) {
	a := exporter(t, "provider.a", "1.0.0")
	b := exporter(t, "provider.b", "2.0.0")
	consumer := bundle(t, "consumer", nil)
	req, err := capability.NewRequirement(consumer.Revision, capability.PackageNamespace,
		map[string]string{capability.CardinalityDirective: capability.CardinalityMultiple},
		map[string]any{capability.PackageAttribute: "org.example.api"})
	require.NoError(t, err)
	consumer.Requirements = append(consumer.Requirements, req)

	plan, err := NewDefault(logr.Discard()).Resolve(context.Background(), Input{Resources: []Resource{a, b, consumer}})
	require.NoError(t, err)

	wires := wiresFrom(plan, "consumer_1.0.0")
	require.Len(t, wires, 2)
	assert.Equal(t, "provider.b_1.0.0", RevisionName(wires[0].Provider()))
	assert.Equal(t, "provider.a_1.0.0", RevisionName(wires[1].Provider()))
}

func TestDefaultResolver_Diagnostics(t *testing.T) {
	in := Input{Resources: []Resource{
		importer(t, "consumer", `org.example.missing,org.example.maybe;resolution:=optional`),
		bundle(t, "dynamic", manifest.Headers{manifest.DynamicImportPackage: "org.example.*"}),
	}}

	plan, err := NewDefault(logr.Discard()).Resolve(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, plan.Diagnostics.UnresolvedRequired, 1)
	assert.Equal(t, "consumer_1.0.0", plan.Diagnostics.UnresolvedRequired[0].Requirer)
	assert.Equal(t, capability.PackageNamespace, plan.Diagnostics.UnresolvedRequired[0].Namespace)
	assert.Contains(t, plan.Diagnostics.UnresolvedRequired[0].Requirement, "org.example.missing")
	require.Len(t, plan.Diagnostics.UnresolvedOptional, 1)
	assert.Contains(t, plan.Diagnostics.UnresolvedOptional[0].Requirement, "org.example.maybe")
	assert.Empty(t, wiresFrom(plan, "dynamic_1.0.0"))

	var unresolved *UnresolvedError
	require.ErrorAs(t, plan.Err(), &unresolved)
	assert.Len(t, unresolved.Requirements, 1)
	assert.Contains(t, unresolved.Error(), "no matching capability")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ResolverUnresolvedRequired))
}

func TestDefaultResolver_ReportsVersionRangeOfUnresolvedImport(t *testing.T) {
	in := Input{Resources: []Resource{
		exporter(t, "provider", "1.5.0"),
		importer(t, "consumer", `org.example.api;version="[2.0,3.0)"`),
	}}

	plan, err := NewDefault(logr.Discard()).Resolve(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, plan.Diagnostics.UnresolvedRequired, 1)
	assert.Equal(t, "no matching capability with version >=2.0.0 <3.0.0", plan.Diagnostics.UnresolvedRequired[0].Reason)
}

func TestDefaultResolver_ExternalProvidersAndOrder(t *testing.T) {
	framework := Resource{Revision: fakeRevision{"system.bundle"}}
	fw := capability.NewCapability(framework.Revision, capability.PackageNamespace, nil,
		map[string]any{capability.PackageAttribute: "org.osgi.framework", capability.VersionAttribute: version.MustParse("1.10")})
	framework.Capabilities = []*capability.Capability{fw}

	in := Input{
		Resources: []Resource{
			importer(t, "app", "org.example.api,org.osgi.framework"),
			exporter(t, "api", "1.0.0"),
			exporter(t, "unused", "0.1.0"),
		},
		External: []Resource{framework},
	}

	plan, err := NewDefault(logr.Discard()).Resolve(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, plan.Err())

	wires := wiresFrom(plan, "app_1.0.0")
	require.Len(t, wires, 2)
	assert.Equal(t, "system.bundle", RevisionName(wires[1].Provider()))
	assert.Equal(t, []string{"api_1.0.0", "app_1.0.0", "unused_1.0.0"}, plan.Order)
	assert.Equal(t, []string{"app_1.0.0", "unused_1.0.0"}, plan.Roots)
	assert.Empty(t, plan.Diagnostics.Cyclic)
}

func TestDefaultResolver_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDefault(logr.Discard()).Resolve(ctx, Input{Resources: []Resource{bundle(t, "a", nil)}})
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeRevision struct{ name string }

func (r fakeRevision) SymbolicName() string     { return r.name }
func (r fakeRevision) Version() version.Version { return version.Empty }
