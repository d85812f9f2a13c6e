package manifest

import "strings"

// Manifest header names.
const (
	BundleManifestVersion  = "Bundle-ManifestVersion"
	BundleSymbolicName     = "Bundle-SymbolicName"
	BundleName             = "Bundle-Name"
	BundleVersion          = "Bundle-Version"
	BundleActivator        = "Bundle-Activator"
	BundleActivationPolicy = "Bundle-ActivationPolicy"
	BundleNativeCode       = "Bundle-NativeCode"
	FragmentHost           = "Fragment-Host"
	RequireBundle          = "Require-Bundle"
	ImportPackage          = "Import-Package"
	DynamicImportPackage   = "DynamicImport-Package"
	ExportPackage          = "Export-Package"
)

// Headers holds the main attributes of a manifest. Lookups ignore case.
type Headers map[string]string

func (h Headers) Get(name string) (string, bool) {
	if v, ok := h[name]; ok {
		return v, true
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}
