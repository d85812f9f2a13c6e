// Package manifest turns OSGi bundle manifest headers into capabilities and
// requirements.
package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/felix-core/internal/capability"
	"github.com/bayleafwalker/felix-core/internal/metrics"
	"github.com/bayleafwalker/felix-core/internal/nativelib"
	"github.com/bayleafwalker/felix-core/internal/version"
)

const (
	// ManifestVersion1 is assumed when Bundle-ManifestVersion is absent.
	ManifestVersion1 = "1"
	ManifestVersion2 = "2"

	// BootPackagePrefix names packages that only the framework may provide.
	BootPackagePrefix = "java."

	SystemBundleSymbolicName    = "system.bundle"
	FrameworkBundleSymbolicName = "org.apache.felix.framework"

	activationLazy   = "lazy"
	includeDirective = "include"
	excludeDirective = "exclude"
)

// ActivationPolicy is the parsed Bundle-ActivationPolicy.
type ActivationPolicy int

const (
	EagerActivation ActivationPolicy = iota
	LazyActivation
)

func (a ActivationPolicy) String() string {
	if a == LazyActivation {
		return "lazy"
	}
	return "eager"
}

// BundleError reports a manifest that is syntactically or semantically invalid.
type BundleError struct {
	Header string
	Msg    string
	Err    error
}

func (e *BundleError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Header == "" {
		return "manifest: " + msg
	}
	return fmt.Sprintf("manifest: %s: %s", e.Header, msg)
}

func (e *BundleError) Unwrap() error { return e.Err }

func bundleErrorf(header, format string, args ...any) error {
	return &BundleError{Header: header, Msg: fmt.Sprintf(format, args...)}
}

// Manifest is the parsed form of a bundle's headers. It satisfies
// capability.Revision so that it can own its own capabilities.
type Manifest struct {
	ManifestVersion    string
	BundleSymbolicName string
	BundleVersion      version.Version
	Capabilities       []*capability.Capability
	Requirements       []*capability.Requirement

	NativeClauses  []*nativelib.Clause
	NativeOptional bool

	ActivationPolicy  ActivationPolicy
	ActivationInclude string
	ActivationExclude string

	Extension bool
}

func (m *Manifest) SymbolicName() string     { return m.BundleSymbolicName }
func (m *Manifest) Version() version.Version { return m.BundleVersion }

// SelectNative selects the native code clause for p.
func (m *Manifest) SelectNative(s *nativelib.Selector, p nativelib.Platform) (nativelib.Selection, error) {
	return s.Select(m.NativeClauses, m.NativeOptional, p)
}

// Parser parses manifests. Warnings for tolerated legacy constructs are
// logged rather than returned.
type Parser struct {
	log logr.Logger
}

func NewParser(log logr.Logger) *Parser {
	return &Parser{log: log}
}

// Parse parses headers into a Manifest. Capabilities and requirements are
// owned by owner, or by the returned Manifest when owner is nil.
func (p *Parser) Parse(owner capability.Revision, headers Headers) (*Manifest, error) {
	m, err := p.parse(owner, headers)
	if err != nil {
		metrics.ManifestParseTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ManifestParseTotal.WithLabelValues("ok").Inc()
	return m, nil
}

func (p *Parser) parse(owner capability.Revision, headers Headers) (*Manifest, error) {
	m := &Manifest{ManifestVersion: ManifestVersion1, BundleVersion: version.Empty}
	if owner == nil {
		owner = m
	}

	if raw, ok := headers.Get(BundleManifestVersion); ok {
		m.ManifestVersion = strings.TrimSpace(raw)
		if m.ManifestVersion != ManifestVersion2 {
			return nil, bundleErrorf(BundleManifestVersion, "unknown value %q", raw)
		}
	}
	mv := m.ManifestVersion

	if raw, ok := headers.Get(BundleVersion); ok {
		v, err := version.Parse(raw)
		if err != nil && mv == ManifestVersion2 {
			return nil, &BundleError{Header: BundleVersion, Err: err}
		}
		if err == nil {
			m.BundleVersion = v
		}
	}

	var caps []*capability.Capability
	bundleCap, err := p.parseBundleSymbolicName(owner, headers, m.BundleVersion)
	if err != nil {
		return nil, err
	}
	if bundleCap != nil {
		m.BundleSymbolicName = bundleCap.Name()
		// Fragments have neither bundle nor host capabilities.
		if !headers.Has(FragmentHost) {
			caps = append(caps,
				bundleCap,
				capability.NewCapability(owner, capability.HostNamespace, nil, bundleCap.Attributes()))
		}
		if isSingleton(bundleCap) {
			caps = append(caps,
				capability.NewCapability(owner, capability.SingletonNamespace, nil, bundleCap.Attributes()))
		}
	}
	if mv == ManifestVersion2 && m.BundleSymbolicName == "" {
		return nil, bundleErrorf(BundleSymbolicName, "version 2 manifests must include a bundle symbolic name")
	}

	hostReqs, err := p.parseFragmentHost(owner, headers, mv)
	if err != nil {
		return nil, err
	}

	requireClauses, err := standardHeader(headers, RequireBundle)
	if err != nil {
		return nil, err
	}
	requireClauses, err = normalizeRequireClauses(requireClauses, mv)
	if err != nil {
		return nil, err
	}
	requireReqs, err := convert(owner, capability.BundleNamespace, capability.BundleSymbolicNameAttribute, requireClauses)
	if err != nil {
		return nil, err
	}

	importClauses, err := standardHeader(headers, ImportPackage)
	if err != nil {
		return nil, err
	}
	importClauses, err = p.normalizeImportClauses(importClauses, mv)
	if err != nil {
		return nil, err
	}
	importReqs, err := convert(owner, capability.PackageNamespace, capability.PackageAttribute, importClauses)
	if err != nil {
		return nil, err
	}

	dynamicClauses, err := standardHeader(headers, DynamicImportPackage)
	if err != nil {
		return nil, err
	}
	dynamicClauses, err = normalizeDynamicImportClauses(dynamicClauses, mv)
	if err != nil {
		return nil, err
	}
	dynamicReqs, err := convert(owner, capability.PackageNamespace, capability.PackageAttribute, dynamicClauses)
	if err != nil {
		return nil, err
	}

	exportClauses, err := standardHeader(headers, ExportPackage)
	if err != nil {
		return nil, err
	}
	exportClauses, err = p.normalizeExportClauses(exportClauses, mv, m.BundleSymbolicName, m.BundleVersion)
	if err != nil {
		return nil, err
	}
	exportCaps := convertExports(owner, exportClauses)

	if mv != ManifestVersion2 {
		implicit := calculateImplicitImports(exportCaps, importClauses)
		implicitReqs, err := convert(owner, capability.PackageNamespace, capability.PackageAttribute, implicit)
		if err != nil {
			return nil, err
		}
		importReqs = append(importReqs, implicitReqs...)
		exportCaps = calculateImplicitUses(exportCaps, append(importClauses, implicit...))
	}

	m.Capabilities = append(caps, exportCaps...)
	m.Requirements = make([]*capability.Requirement, 0, len(importReqs)+len(requireReqs)+len(hostReqs)+len(dynamicReqs))
	m.Requirements = append(m.Requirements, importReqs...)
	m.Requirements = append(m.Requirements, requireReqs...)
	m.Requirements = append(m.Requirements, hostReqs...)
	m.Requirements = append(m.Requirements, dynamicReqs...)

	if raw, ok := headers.Get(BundleNativeCode); ok {
		elements, err := ParseDelimited(raw, clauseSeparator)
		if err != nil {
			return nil, &BundleError{Header: BundleNativeCode, Err: err}
		}
		m.NativeClauses, m.NativeOptional, err = nativelib.ParseClauses(elements)
		if err != nil {
			p.log.Error(err, "error parsing native library header")
			return nil, &BundleError{Header: BundleNativeCode, Err: err}
		}
	}

	if err := m.parseActivationPolicy(headers); err != nil {
		return nil, err
	}

	m.Extension, err = checkExtensionBundle(headers)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// standardHeader parses a header if present. An absent header yields no clauses.
func standardHeader(headers Headers, name string) ([]Clause, error) {
	raw, ok := headers.Get(name)
	if !ok {
		return nil, nil
	}
	clauses, err := ParseHeader(raw)
	if err != nil {
		return nil, &BundleError{Header: name, Err: err}
	}
	return clauses, nil
}

func (p *Parser) parseBundleSymbolicName(owner capability.Revision, headers Headers, bv version.Version) (*capability.Capability, error) {
	clauses, err := standardHeader(headers, BundleSymbolicName)
	if err != nil || len(clauses) == 0 {
		return nil, err
	}
	if len(clauses) > 1 || len(clauses[0].Paths) > 1 {
		raw, _ := headers.Get(BundleSymbolicName)
		return nil, bundleErrorf(BundleSymbolicName, "cannot have multiple symbolic names: %s", raw)
	}
	attrs := map[string]any{
		capability.BundleSymbolicNameAttribute: clauses[0].Paths[0],
		capability.BundleVersionAttribute:      bv,
	}
	return capability.NewCapability(owner, capability.BundleNamespace, clauses[0].Directives, attrs), nil
}

func isSingleton(c *capability.Capability) bool {
	v, ok := c.Directive(capability.SingletonDirective)
	return ok && strings.EqualFold(strings.TrimSpace(v), "true")
}

func (p *Parser) parseFragmentHost(owner capability.Revision, headers Headers, mv string) ([]*capability.Requirement, error) {
	if mv != ManifestVersion2 {
		if headers.Has(FragmentHost) {
			name, ok := headers.Get(BundleSymbolicName)
			if !ok {
				name, _ = headers.Get(BundleName)
			}
			p.log.Info("only version 2 bundles can be fragments, ignoring Fragment-Host", "bundle", name)
		}
		return nil, nil
	}
	clauses, err := standardHeader(headers, FragmentHost)
	if err != nil || len(clauses) == 0 {
		return nil, err
	}
	if len(clauses) > 1 || len(clauses[0].Paths) > 1 {
		raw, _ := headers.Get(FragmentHost)
		return nil, bundleErrorf(FragmentHost, "fragments cannot have multiple hosts: %s", raw)
	}

	attrs := map[string]any{capability.BundleSymbolicNameAttribute: clauses[0].Paths[0]}
	if raw, ok := clauses[0].Attributes[capability.BundleVersionAttribute]; ok {
		r, err := parseRange(FragmentHost, raw)
		if err != nil {
			return nil, err
		}
		attrs[capability.BundleVersionAttribute] = r
	}
	req, err := capability.NewRequirement(owner, capability.HostNamespace, clauses[0].Directives, attrs)
	if err != nil {
		return nil, &BundleError{Header: FragmentHost, Err: err}
	}
	return []*capability.Requirement{req}, nil
}

func normalizeRequireClauses(clauses []Clause, mv string) ([]Clause, error) {
	// Version 1 bundles cannot require other bundles.
	if mv != ManifestVersion2 {
		return nil, nil
	}
	for _, c := range clauses {
		if raw, ok := c.Attributes[capability.BundleVersionAttribute]; ok {
			r, err := parseRange(RequireBundle, raw)
			if err != nil {
				return nil, err
			}
			c.Attributes[capability.BundleVersionAttribute] = r
		}
	}
	return clauses, nil
}

// normalizeVersionAttributes checks that version and specification-version
// agree and leaves a single version attribute of type version.Range.
func normalizeVersionAttributes(header string, c Clause) error {
	v, hasV := c.Attributes[capability.VersionAttribute]
	sv, hasSV := c.Attributes[capability.SpecificationVersion]
	if hasV && hasSV && strings.TrimSpace(fmt.Sprint(v)) != strings.TrimSpace(fmt.Sprint(sv)) {
		return bundleErrorf(header, "both version and specification-version are specified, but they are not equal")
	}
	if hasV || hasSV {
		delete(c.Attributes, capability.SpecificationVersion)
		if !hasV {
			v = sv
		}
		r, err := parseRange(header, v)
		if err != nil {
			return err
		}
		c.Attributes[capability.VersionAttribute] = r
	}
	if raw, ok := c.Attributes[capability.BundleVersionAttribute]; ok {
		r, err := parseRange(header, raw)
		if err != nil {
			return err
		}
		c.Attributes[capability.BundleVersionAttribute] = r
	}
	return nil
}

func (p *Parser) normalizeImportClauses(clauses []Clause, mv string) ([]Clause, error) {
	seen := sets.New[string]()
	for _, c := range clauses {
		if err := normalizeVersionAttributes(ImportPackage, c); err != nil {
			return nil, err
		}
		for _, pkg := range c.Paths {
			switch {
			case seen.Has(pkg):
				return nil, bundleErrorf(ImportPackage, "duplicate import: %s", pkg)
			case strings.HasPrefix(pkg, BootPackagePrefix):
				return nil, bundleErrorf(ImportPackage, "importing %s* packages not allowed: %s", BootPackagePrefix, pkg)
			case pkg == "":
				return nil, bundleErrorf(ImportPackage, "imported package names cannot be zero length")
			}
			seen.Insert(pkg)
		}

		if mv != ManifestVersion2 {
			if len(c.Directives) > 0 {
				return nil, bundleErrorf(ImportPackage, "version 1 imports cannot contain directives")
			}
			p.keepOnlyVersion(ImportPackage, c, version.Any)
		}
	}
	return clauses, nil
}

// keepOnlyVersion drops every attribute but version from a version 1 clause.
func (p *Parser) keepOnlyVersion(header string, c Clause, def any) {
	if len(c.Attributes) == 0 {
		return
	}
	v, ok := c.Attributes[capability.VersionAttribute]
	if !ok {
		v = def
	}
	for k := range c.Attributes {
		if k != capability.VersionAttribute {
			p.log.Info("ignoring unknown version 1 attribute", "header", header, "attribute", k)
			delete(c.Attributes, k)
		}
	}
	c.Attributes[capability.VersionAttribute] = v
}

func normalizeDynamicImportClauses(clauses []Clause, mv string) ([]Clause, error) {
	for _, c := range clauses {
		if mv != ManifestVersion2 && len(c.Directives) > 0 {
			return nil, bundleErrorf(DynamicImportPackage, "version 1 imports cannot contain directives")
		}
		c.Directives[capability.ResolutionDirective] = capability.ResolutionDynamic

		if err := normalizeVersionAttributes(DynamicImportPackage, c); err != nil {
			return nil, err
		}
		// Duplicates are allowed here.
		for _, pkg := range c.Paths {
			switch {
			case strings.HasPrefix(pkg, BootPackagePrefix):
				return nil, bundleErrorf(DynamicImportPackage, "dynamically importing %s* packages not allowed: %s", BootPackagePrefix, pkg)
			case pkg != "*" && strings.HasSuffix(pkg, "*") && !strings.HasSuffix(pkg, ".*"):
				return nil, bundleErrorf(DynamicImportPackage, "partial package name wild carding is not allowed: %s", pkg)
			}
		}
	}
	return clauses, nil
}

func (p *Parser) normalizeExportClauses(clauses []Clause, mv, bsn string, bv version.Version) ([]Clause, error) {
	for _, c := range clauses {
		for _, pkg := range c.Paths {
			switch {
			case strings.HasPrefix(pkg, BootPackagePrefix):
				return nil, bundleErrorf(ExportPackage, "exporting %s* packages not allowed: %s", BootPackagePrefix, pkg)
			case pkg == "":
				return nil, bundleErrorf(ExportPackage, "exported package names cannot be zero length")
			}
		}

		v, hasV := c.Attributes[capability.VersionAttribute]
		sv, hasSV := c.Attributes[capability.SpecificationVersion]
		if hasV && hasSV && strings.TrimSpace(fmt.Sprint(v)) != strings.TrimSpace(fmt.Sprint(sv)) {
			return nil, bundleErrorf(ExportPackage, "both version and specification-version are specified, but they are not equal")
		}
		delete(c.Attributes, capability.SpecificationVersion)
		raw := ""
		switch {
		case hasV:
			raw = fmt.Sprint(v)
		case hasSV:
			raw = fmt.Sprint(sv)
		}
		pv, err := version.Parse(raw)
		if err != nil {
			return nil, &BundleError{Header: ExportPackage, Err: err}
		}
		c.Attributes[capability.VersionAttribute] = pv

		if mv == ManifestVersion2 {
			_, hasBV := c.Attributes[capability.BundleVersionAttribute]
			_, hasBSN := c.Attributes[capability.BundleSymbolicNameAttribute]
			if hasBV || hasBSN {
				return nil, bundleErrorf(ExportPackage, "exports must not specify bundle symbolic name or bundle version")
			}
			c.Attributes[capability.BundleSymbolicNameAttribute] = bsn
			c.Attributes[capability.BundleVersionAttribute] = bv
			continue
		}
		if len(c.Directives) > 0 {
			return nil, bundleErrorf(ExportPackage, "version 1 exports cannot contain directives")
		}
		p.keepOnlyVersion(ExportPackage, c, version.Empty)
	}
	return clauses, nil
}

func parseRange(header string, raw any) (version.Range, error) {
	if r, ok := raw.(version.Range); ok {
		return r, nil
	}
	r, err := version.ParseRange(fmt.Sprint(raw))
	if err != nil {
		return version.Range{}, &BundleError{Header: header, Err: err}
	}
	return r, nil
}

// convert creates one requirement per clause path, keyed by nameAttr.
func convert(owner capability.Revision, namespace, nameAttr string, clauses []Clause) ([]*capability.Requirement, error) {
	var reqs []*capability.Requirement
	for _, c := range clauses {
		for _, path := range c.Paths {
			attrs := make(map[string]any, len(c.Attributes)+1)
			attrs[nameAttr] = path
			for k, v := range c.Attributes {
				attrs[k] = v
			}
			req, err := capability.NewRequirement(owner, namespace, c.Directives, attrs)
			if err != nil {
				return nil, &BundleError{Msg: path, Err: err}
			}
			reqs = append(reqs, req)
		}
	}
	return reqs, nil
}

func convertExports(owner capability.Revision, clauses []Clause) []*capability.Capability {
	var caps []*capability.Capability
	for _, c := range clauses {
		for _, path := range c.Paths {
			attrs := make(map[string]any, len(c.Attributes)+1)
			attrs[capability.PackageAttribute] = path
			for k, v := range c.Attributes {
				attrs[k] = v
			}
			caps = append(caps, capability.NewCapability(owner, capability.PackageNamespace, c.Directives, attrs))
		}
	}
	return caps
}

// calculateImplicitImports returns an import clause for every exported
// package that is not already imported. Version 1 exports imply imports.
func calculateImplicitImports(exports []*capability.Capability, imports []Clause) []Clause {
	imported := sets.New[string]()
	for _, c := range imports {
		imported.Insert(c.Paths...)
	}
	var implicit []Clause
	for _, export := range exports {
		pkg := export.Name()
		if imported.Has(pkg) {
			continue
		}
		attrs := map[string]any{}
		if v, ok := export.Attribute(capability.VersionAttribute); ok {
			if pv, ok := v.(version.Version); ok {
				attrs[capability.VersionAttribute] = version.AtLeast(pv)
			}
		}
		implicit = append(implicit, Clause{
			Paths:      []string{pkg},
			Directives: map[string]string{},
			Attributes: attrs,
		})
	}
	return implicit
}

// calculateImplicitUses makes every version 1 export use every imported
// package, since version 1 bundles assume a single class space.
func calculateImplicitUses(exports []*capability.Capability, imports []Clause) []*capability.Capability {
	var paths []string
	for _, c := range imports {
		paths = append(paths, c.Paths...)
	}
	uses := strings.Join(paths, ",")
	out := make([]*capability.Capability, 0, len(exports))
	for _, export := range exports {
		out = append(out, capability.NewCapability(
			export.Revision(),
			capability.PackageNamespace,
			map[string]string{capability.UsesDirective: uses},
			export.Attributes()))
	}
	return out
}

func (m *Manifest) parseActivationPolicy(headers Headers) error {
	m.ActivationPolicy = EagerActivation
	clauses, err := standardHeader(headers, BundleActivationPolicy)
	if err != nil || len(clauses) == 0 {
		return err
	}
	for _, path := range clauses[0].Paths {
		if path != activationLazy {
			continue
		}
		m.ActivationPolicy = LazyActivation
		for k, v := range clauses[0].Directives {
			switch {
			case strings.EqualFold(k, includeDirective):
				m.ActivationInclude = v
			case strings.EqualFold(k, excludeDirective):
				m.ActivationExclude = v
			}
		}
		break
	}
	return nil
}

// ErrExtensionTarget is returned when an extension bundle does not attach
// to the system bundle.
var ErrExtensionTarget = errors.New("only the system bundle can have extension bundles")

// ParseExtensionHeader returns the extension directive of a Fragment-Host
// header, or "" when the fragment is not an extension bundle.
func ParseExtensionHeader(header string) (string, error) {
	clauses, err := ParseHeader(header)
	if err != nil {
		return "", &BundleError{Header: FragmentHost, Err: err}
	}
	if len(clauses) != 1 {
		return "", nil
	}
	ext, ok := clauses[0].Directives[capability.ExtensionDirective]
	if !ok {
		return "", nil
	}
	host := clauses[0].Paths[0]
	if host != SystemBundleSymbolicName && host != FrameworkBundleSymbolicName {
		return "", &BundleError{Header: FragmentHost, Err: ErrExtensionTarget}
	}
	return ext, nil
}

func checkExtensionBundle(headers Headers) (bool, error) {
	raw, ok := headers.Get(FragmentHost)
	if !ok {
		return false, nil
	}
	ext, err := ParseExtensionHeader(raw)
	if err != nil || ext == "" {
		return false, err
	}
	if ext != capability.ExtensionFramework && ext != capability.ExtensionBootclasspath {
		return false, bundleErrorf(FragmentHost, "extension bundle must have either 'extension:=framework' or 'extension:=bootclasspath'")
	}
	for _, h := range []string{ImportPackage, RequireBundle, BundleNativeCode, DynamicImportPackage, BundleActivator} {
		if headers.Has(h) {
			return false, bundleErrorf(h, "invalid extension bundle manifest")
		}
	}
	return true, nil
}

// ParseDynamicImportHeader parses a DynamicImport-Package value, as used when
// dynamic imports are added at runtime.
func ParseDynamicImportHeader(owner capability.Revision, header string) ([]*capability.Requirement, error) {
	clauses, err := ParseHeader(header)
	if err != nil {
		return nil, &BundleError{Header: DynamicImportPackage, Err: err}
	}
	clauses, err = normalizeDynamicImportClauses(clauses, ManifestVersion2)
	if err != nil {
		return nil, err
	}
	return convert(owner, capability.PackageNamespace, capability.PackageAttribute, clauses)
}

// ParseExportHeader parses an Export-Package value on behalf of a bundle
// with the given symbolic name and version.
func (p *Parser) ParseExportHeader(owner capability.Revision, header, bsn string, bv version.Version) ([]*capability.Capability, error) {
	clauses, err := ParseHeader(header)
	if err != nil {
		return nil, &BundleError{Header: ExportPackage, Err: err}
	}
	clauses, err = p.normalizeExportClauses(clauses, ManifestVersion2, bsn, bv)
	if err != nil {
		return nil, err
	}
	return convertExports(owner, clauses), nil
}
