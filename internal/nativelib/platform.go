package nativelib

import (
	"maps"
	"runtime"
)

// Framework property keys describing the running platform.
const (
	OSNameKey    = "org.osgi.framework.os.name"
	OSVersionKey = "org.osgi.framework.os.version"
	ProcessorKey = "org.osgi.framework.processor"
	LanguageKey  = "org.osgi.framework.language"
)

// Platform describes the environment native code is selected for.
type Platform struct {
	OSName    string
	OSVersion string
	Processor string
	Language  string
	// Properties are the framework properties selection filters are
	// evaluated against.
	Properties map[string]string
}

// PlatformFromProperties reads the platform from framework properties.
func PlatformFromProperties(props map[string]string) Platform {
	return Platform{
		OSName:     props[OSNameKey],
		OSVersion:  props[OSVersionKey],
		Processor:  props[ProcessorKey],
		Language:   props[LanguageKey],
		Properties: maps.Clone(props),
	}
}

// CurrentPlatform describes the platform this process runs on. The OS
// version is not known to the Go runtime and is left empty.
func CurrentPlatform() Platform {
	p := Platform{OSName: runtime.GOOS, Processor: runtime.GOARCH, Language: "en"}
	switch runtime.GOOS {
	case "darwin":
		p.OSName = OSMacOSX
	case "windows":
		p.OSName = OSWin32
	}
	switch runtime.GOARCH {
	case "amd64":
		p.Processor = ProcX8664
	case "386":
		p.Processor = ProcX86
	case "ppc64", "ppc64le":
		p.Processor = ProcPowerPC
	}
	p.Properties = map[string]string{
		OSNameKey:    p.OSName,
		OSVersionKey: p.OSVersion,
		ProcessorKey: p.Processor,
		LanguageKey:  p.Language,
	}
	return p
}

func (p Platform) filterProperties() map[string]any {
	out := make(map[string]any, len(p.Properties)+4)
	for k, v := range p.Properties {
		out[k] = v
	}
	out[OSNameKey] = p.OSName
	out[OSVersionKey] = p.OSVersion
	out[ProcessorKey] = p.Processor
	out[LanguageKey] = p.Language
	return out
}
