package nativelib

import (
	"slices"
	"sort"
	"strings"
)

// Canonical operating system names.
const (
	OSAIX               = "aix"
	OSDigitalUnix       = "digitalunix"
	OSEpoc              = "epoc32"
	OSHPUX              = "hpux"
	OSIrix              = "irix"
	OSLinux             = "linux"
	OSMacOS             = "macos"
	OSMacOSX            = "macosx"
	OSNetBSD            = "netbsd"
	OSNetware           = "netware"
	OSOpenBSD           = "openbsd"
	OSOS2               = "os2"
	OSQNX               = "qnx"
	OSSolaris           = "solaris"
	OSSunOS             = "sunos"
	OSVxWorks           = "vxworks"
	OSWindows2000       = "windows2000"
	OSWindows2003       = "windows2003"
	OSWindows7          = "windows7"
	OSWindows8          = "windows8"
	OSWindows9          = "windows9"
	OSWindows10         = "windows10"
	OSWindows95         = "windows95"
	OSWindows98         = "windows98"
	OSWindowsCE         = "windowsce"
	OSWindowsNT         = "windowsnt"
	OSWindowsServer2008 = "windowsserver2008"
	OSWindowsServer2012 = "windowsserver2012"
	OSWindowsVista      = "windowsvista"
	OSWindowsXP         = "windowsxp"
	OSWin32             = "win32"
)

// Canonical processor names.
const (
	ProcX8664   = "x86-64"
	ProcX86     = "x86"
	Proc68K     = "68k"
	ProcARMLE   = "arm_le"
	ProcARMBE   = "arm_be"
	ProcARM     = "arm"
	ProcAlpha   = "alpha"
	ProcIgnite  = "ignite"
	ProcMIPS    = "mips"
	ProcPARISC  = "parisc"
	ProcPowerPC = "powerpc"
	ProcSPARC   = "sparc"
)

// Property prefixes of the configurable alias tables. The key suffix is the
// canonical name, the value a comma separated alias list, e.g.
//
//	felix.native.osname.alias.windowsxp=Windows XP,WinXP,Win32
const (
	OSNameAliasPrefix    = "felix.native.osname.alias."
	ProcessorAliasPrefix = "felix.native.processor.alias."
)

// Aliases maps operating system and processor names to their canonical
// names. Each table entry lists the canonical name first.
type Aliases struct {
	os   map[string][]string
	proc map[string][]string
}

// NewAliases builds alias tables from framework properties carrying the
// OSNameAliasPrefix and ProcessorAliasPrefix keys.
func NewAliases(props map[string]string) *Aliases {
	a := &Aliases{os: map[string][]string{}, proc: map[string][]string{}}
	parseAliases(withPrefix(OSNameAliasPrefix, props), a.os)
	parseAliases(withPrefix(ProcessorAliasPrefix, props), a.proc)
	return a
}

func withPrefix(prefix string, props map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range props {
		if strings.HasPrefix(k, prefix) {
			out[strings.ToLower(strings.TrimPrefix(k, prefix))] = v
		}
	}
	return out
}

func parseAliases(entries map[string]string, table map[string][]string) {
	// Sorted for a deterministic table when alias lists overlap.
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var aliases []string
		for _, alias := range strings.Split(entries[name], ",") {
			if alias = strings.ToLower(strings.TrimSpace(alias)); alias != "" {
				aliases = append(aliases, alias)
			}
		}
		full := append([]string{name}, aliases...)
		table[name] = full
		for _, alias := range aliases {
			existing, ok := table[alias]
			if !ok {
				table[alias] = full
				continue
			}
			for _, other := range aliases {
				if !slices.Contains(existing, other) {
					existing = append(existing, other)
				}
			}
			table[alias] = existing
		}
	}
}

// NormalizeOSName returns the canonical name for an operating system.
// Unknown names are returned lowercased but otherwise unchanged.
func (a *Aliases) NormalizeOSName(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if a != nil {
		if names, ok := a.os[value]; ok {
			return names[0]
		}
	}

	if strings.HasPrefix(value, "win") {
		switch {
		case strings.Contains(value, "32") || strings.Contains(value, "*"):
			return OSWin32
		case strings.Contains(value, "95"):
			return OSWindows95
		case strings.Contains(value, "98"):
			return OSWindows98
		case strings.Contains(value, "nt"):
			return OSWindowsNT
		case strings.Contains(value, "2000"):
			return OSWindows2000
		case strings.Contains(value, "2003"):
			return OSWindows2003
		case strings.Contains(value, "2008"):
			return OSWindowsServer2008
		case strings.Contains(value, "2012"):
			return OSWindowsServer2012
		case strings.Contains(value, "xp"):
			return OSWindowsXP
		case strings.Contains(value, "ce"):
			return OSWindowsCE
		case strings.Contains(value, "vista"):
			return OSWindowsVista
		case windowsRelease(value, "7"):
			return OSWindows7
		case windowsRelease(value, "8"):
			return OSWindows8
		case windowsRelease(value, "9"):
			return OSWindows9
		case windowsRelease(value, "10"):
			return OSWindows10
		}
		return "win"
	}

	for _, p := range []struct {
		canonical string
		prefixes  []string
	}{
		{OSLinux, []string{OSLinux}},
		{OSAIX, []string{OSAIX}},
		{OSDigitalUnix, []string{OSDigitalUnix}},
		{OSHPUX, []string{OSHPUX}},
		{OSIrix, []string{OSIrix}},
		{OSMacOSX, []string{OSMacOSX, "mac os x"}},
		{OSMacOS, []string{OSMacOS, "mac os"}},
		{OSNetware, []string{OSNetware}},
		{OSOpenBSD, []string{OSOpenBSD}},
		{OSNetBSD, []string{OSNetBSD}},
		{OSOS2, []string{OSOS2, "os/2"}},
		{OSQNX, []string{OSQNX, "procnto"}},
		{OSSolaris, []string{OSSolaris}},
		{OSSunOS, []string{OSSunOS}},
		{OSVxWorks, []string{OSVxWorks}},
	} {
		for _, prefix := range p.prefixes {
			if strings.HasPrefix(value, prefix) {
				return p.canonical
			}
		}
	}
	return value
}

func windowsRelease(value, release string) bool {
	return strings.Contains(value, " "+release) ||
		strings.HasPrefix(value, "windows"+release) ||
		value == "win"+release
}

// NormalizeProcessor returns the canonical name for a processor.
// Unknown names are returned lowercased but otherwise unchanged.
func (a *Aliases) NormalizeProcessor(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if a != nil {
		if names, ok := a.proc[value]; ok {
			return names[0]
		}
	}

	for _, p := range []struct {
		canonical string
		prefixes  []string
	}{
		{ProcX8664, []string{ProcX8664, "amd64", "em64", "x86_64"}},
		{ProcX86, []string{ProcX86, "pentium", "i386", "i486", "i586", "i686"}},
		{Proc68K, []string{Proc68K}},
		{ProcARMLE, []string{ProcARMLE}},
		{ProcARMBE, []string{ProcARMBE}},
		{ProcARM, []string{ProcARM}},
		{ProcAlpha, []string{ProcAlpha}},
		{ProcIgnite, []string{ProcIgnite, "psc1k"}},
		{ProcMIPS, []string{ProcMIPS}},
		{ProcPARISC, []string{ProcPARISC}},
		{ProcPowerPC, []string{ProcPowerPC, "power", "ppc"}},
		{ProcSPARC, []string{ProcSPARC}},
	} {
		for _, prefix := range p.prefixes {
			if strings.HasPrefix(value, prefix) {
				return p.canonical
			}
		}
	}
	return value
}

// OSNames returns the canonical name of value followed by its aliases.
func (a *Aliases) OSNames(value string) []string {
	name := a.NormalizeOSName(value)
	if a != nil {
		if names, ok := a.os[name]; ok {
			return names
		}
	}
	return []string{name}
}

// Processors returns the canonical name of value followed by its aliases.
func (a *Aliases) Processors(value string) []string {
	name := a.NormalizeProcessor(value)
	if a != nil {
		if names, ok := a.proc[name]; ok {
			return names
		}
	}
	return []string{name}
}
