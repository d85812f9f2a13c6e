package nativelib

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linux = Platform{
	OSName:    "Linux",
	OSVersion: "5.15.0-91-generic",
	Processor: "amd64",
	Language:  "en",
	Properties: map[string]string{
		"org.osgi.framework.windowing.system": "gtk",
	},
}

func parse(t *testing.T, header string) ([]*Clause, bool) {
	t.Helper()
	var elements []string
	for _, e := range strings.Split(header, ",") {
		elements = append(elements, strings.TrimSpace(e))
	}
	clauses, optional, err := ParseClauses(elements)
	require.NoError(t, err)
	return clauses, optional
}

func selector() *Selector {
	return NewSelector(NewAliases(nil), logr.Discard())
}

func TestParseClause(t *testing.T) {
	c, err := ParseClause(`/lib/http.so; lib/zlib.so; osname=Linux; processor="X86_64"; osversion=2.6; language=en; selection-filter="(org.osgi.framework.windowing.system=gtk)"`)
	require.NoError(t, err)

	assert.Equal(t, []string{"lib/http.so", "lib/zlib.so"}, c.Entries)
	assert.Equal(t, []string{"linux"}, c.OSNames)
	assert.Equal(t, []string{"x86_64"}, c.Processors)
	assert.Equal(t, []string{"2.6.0"}, c.OSVersions)
	assert.Equal(t, []string{"en"}, c.Languages)
	assert.Equal(t, "(org.osgi.framework.windowing.system=gtk)", c.SelectionFilter)
}

func TestParseClauseErrors(t *testing.T) {
	_, err := ParseClause("osname=linux")
	assert.Error(t, err)

	_, err = ParseClause("lib.so; =linux")
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)

	_, _, err = ParseClauses([]string{"*", "lib.so;osname=linux;processor=x86"})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	a := NewAliases(nil)
	for in, want := range map[string]string{
		"Windows XP": OSWindowsXP,
		"Win32":      OSWin32,
		"windows7":   OSWindows7,
		"Windows 10": OSWindows10,
		"Mac OS X":   OSMacOSX,
		"Linux":      OSLinux,
		"SunOS 5.10": OSSunOS,
		"plan9":      "plan9",
	} {
		assert.Equal(t, want, a.NormalizeOSName(in), in)
	}
	for in, want := range map[string]string{
		"amd64":   ProcX8664,
		"x86_64":  ProcX8664,
		"i686":    ProcX86,
		"ppc":     ProcPowerPC,
		"arm_le":  ProcARMLE,
		"riscv64": "riscv64",
	} {
		assert.Equal(t, want, a.NormalizeProcessor(in), in)
	}
}

func TestConfiguredAliases(t *testing.T) {
	a := NewAliases(map[string]string{
		OSNameAliasPrefix + "windowsxp": "Windows XP,WinXP,Win32",
		ProcessorAliasPrefix + "x86-64": "amd64,em64t,x86_64",
	})
	assert.Equal(t, OSWindowsXP, a.NormalizeOSName("WinXP"))
	assert.Equal(t, []string{"windowsxp", "windows xp", "winxp", "win32"}, a.OSNames("Windows XP"))
	assert.Equal(t, ProcX8664, a.NormalizeProcessor("em64t"))

	// An XP platform satisfies a clause written for win32.
	s := NewSelector(a, logr.Discard())
	clauses, _ := parse(t, "lib.dll;osname=win32;processor=x86-64")
	ok, err := s.Match(clauses[0], Platform{OSName: "Windows XP", Processor: "amd64"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchChecksEveryProperty(t *testing.T) {
	s := selector()
	cases := []struct {
		clause string
		want   bool
	}{
		{"a.so;osname=linux;processor=x86-64", true},
		{"a.so;osname=Linux;processor=amd64", true},
		{"a.so;processor=x86-64", false},
		{"a.so;osname=linux", false},
		{"a.so;osname=win32;processor=x86-64", false},
		{"a.so;osname=linux;processor=x86-64;osversion=[5.0,6.0)", true},
		{"a.so;osname=linux;processor=x86-64;osversion=[6.0,7.0)", false},
		{"a.so;osname=linux;processor=x86-64;language=fr", false},
		{`a.so;osname=linux;processor=x86-64;selection-filter="(org.osgi.framework.windowing.system=gtk)"`, true},
		{`a.so;osname=linux;processor=x86-64;selection-filter="(org.osgi.framework.windowing.system=win32)"`, false},
	}
	for _, tc := range cases {
		c, err := ParseClause(tc.clause)
		require.NoError(t, err)
		ok, err := s.Match(c, linux)
		require.NoError(t, err, tc.clause)
		assert.Equal(t, tc.want, ok, tc.clause)
	}
}

func TestMatchWrapsFilterErrors(t *testing.T) {
	c, err := ParseClause(`a.so;osname=linux;processor=x86-64;selection-filter="(broken"`)
	require.NoError(t, err)
	_, err = selector().Match(c, linux)
	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
}

func TestSelectPrefersHighestOSVersionFloor(t *testing.T) {
	clauses, optional := parse(t,
		"v1.so;osname=linux;processor=x86-64;osversion=1.0, "+
			"v2.so;osname=linux;processor=x86-64;osversion=2.0")
	sel, err := selector().Select(clauses, optional, linux)
	require.NoError(t, err)
	require.Equal(t, Selected, sel.Outcome)
	assert.Equal(t, []string{"v2.so"}, sel.Clause.Entries)
}

func TestSelectTieBreaksOnLanguage(t *testing.T) {
	clauses, optional := parse(t,
		"plain.so;osname=linux;processor=x86-64;osversion=2.0, "+
			"lang.so;osname=linux;processor=x86-64;osversion=2.0;language=en, "+
			"old.so;osname=linux;processor=x86-64;osversion=1.0;language=en")
	sel, err := selector().Select(clauses, optional, linux)
	require.NoError(t, err)
	assert.Equal(t, []string{"lang.so"}, sel.Clause.Entries)
}

func TestSelectFallsBackToFirstCandidate(t *testing.T) {
	clauses, optional := parse(t,
		"first.so;osname=linux;processor=x86-64, "+
			"second.so;osname=linux;processor=x86-64")
	sel, err := selector().Select(clauses, optional, linux)
	require.NoError(t, err)
	assert.Equal(t, []string{"first.so"}, sel.Clause.Entries)

	clauses, optional = parse(t,
		"first.so;osname=linux;processor=x86-64, "+
			"second.so;osname=linux;processor=x86-64;language=en")
	sel, err = selector().Select(clauses, optional, linux)
	require.NoError(t, err)
	assert.Equal(t, []string{"second.so"}, sel.Clause.Entries)
}

func TestSelectOptionalMarker(t *testing.T) {
	clauses, optional := parse(t, "lib.dll;osname=win32;processor=x86, *")
	require.True(t, optional)
	require.Len(t, clauses, 1)

	sel, err := selector().Select(clauses, optional, linux)
	require.NoError(t, err)
	assert.Equal(t, NoNativeCode, sel.Outcome)
	assert.NoError(t, sel.Err())

	clauses, optional = parse(t, "lib.dll;osname=win32;processor=x86")
	sel, err = selector().Select(clauses, optional, linux)
	require.NoError(t, err)
	assert.Equal(t, NoMatch, sel.Outcome)
	assert.True(t, errors.Is(sel.Err(), ErrNoMatchingClause))
}

func TestSelectWithoutClauses(t *testing.T) {
	sel, err := selector().Select(nil, false, linux)
	require.NoError(t, err)
	assert.Equal(t, NoNativeCode, sel.Outcome)
}

func TestLibrariesDeduplicatesByName(t *testing.T) {
	c, err := ParseClause("lib/x86/http.so; lib/http.so; lib/zlib.so; osname=linux; processor=x86")
	require.NoError(t, err)
	libs := Selection{Outcome: Selected, Clause: c}.Libraries()
	assert.Equal(t, []Library{
		{Path: "lib/x86/http.so", Name: "http.so"},
		{Path: "lib/zlib.so", Name: "zlib.so"},
	}, libs)
}

func TestFormatOSVersion(t *testing.T) {
	assert.Equal(t, "2.6.32", FormatOSVersion("2.6.32-5-amd64"))
	assert.Equal(t, "10.0.0", FormatOSVersion("10.0"))
	assert.Equal(t, "0.0.0", FormatOSVersion("unknown"))
}
