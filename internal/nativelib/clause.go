// Package nativelib parses Bundle-NativeCode clauses and selects the clause
// matching the running platform.
package nativelib

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bayleafwalker/felix-core/internal/version"
)

// Clause property names.
const (
	OSNameProperty          = "osname"
	OSVersionProperty       = "osversion"
	ProcessorProperty       = "processor"
	LanguageProperty        = "language"
	SelectionFilterProperty = "selection-filter"
)

// OptionalMarker is the trailing clause marking native code as optional.
const OptionalMarker = "*"

// Clause is one Bundle-NativeCode clause. Property values are lowercased and
// OS versions normalized to range syntax at parse time.
type Clause struct {
	Entries         []string
	OSNames         []string
	Processors      []string
	OSVersions      []string
	Languages       []string
	SelectionFilter string
}

// ParseError reports a malformed native code clause.
type ParseError struct {
	Clause string
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("nativelib: %s: %q", e.Msg, e.Clause)
}

// ParseClause parses a single clause. The optional marker yields a clause
// with nil Entries.
func ParseClause(s string) (*Clause, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &ParseError{Clause: s, Msg: "empty clause"}
	}
	if s == OptionalMarker {
		return &Clause{}, nil
	}

	c := &Clause{Entries: []string{}}
	for _, token := range strings.Split(s, ";") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		idx := strings.Index(token, "=")
		if idx < 0 {
			c.Entries = append(c.Entries, strings.TrimPrefix(token, "/"))
			continue
		}
		if idx <= 1 {
			return nil, &ParseError{Clause: s, Msg: "native library entry malformed"}
		}
		property := strings.ToLower(strings.TrimSpace(token[:idx]))
		value := strings.TrimSpace(token[idx+1:])
		if strings.HasPrefix(value, `"`) {
			value = strings.TrimSuffix(strings.TrimPrefix(value, `"`), `"`)
		}
		value = strings.ToLower(value)

		switch property {
		case OSNameProperty:
			c.OSNames = append(c.OSNames, value)
		case OSVersionProperty:
			c.OSVersions = append(c.OSVersions, NormalizeOSVersion(value))
		case ProcessorProperty:
			c.Processors = append(c.Processors, value)
		case LanguageProperty:
			c.Languages = append(c.Languages, value)
		case SelectionFilterProperty:
			c.SelectionFilter = value
		}
	}
	if len(c.Entries) == 0 {
		return nil, &ParseError{Clause: s, Msg: "clause names no library"}
	}
	return c, nil
}

// ParseClauses parses the comma separated elements of a Bundle-NativeCode
// header. A trailing optional marker is stripped and reported as optional;
// the marker anywhere else is an error.
func ParseClauses(elements []string) (clauses []*Clause, optional bool, err error) {
	for i, element := range elements {
		c, err := ParseClause(element)
		if err != nil {
			return nil, false, err
		}
		if c.IsOptionalMarker() {
			if i != len(elements)-1 {
				return nil, false, &ParseError{Clause: element, Msg: "optional marker must be the last clause"}
			}
			optional = true
			continue
		}
		clauses = append(clauses, c)
	}
	return clauses, optional, nil
}

func (c *Clause) IsOptionalMarker() bool { return c.Entries == nil }

// NormalizeOSVersion renders an osversion value as a version range, or the
// empty version when it cannot be parsed.
func NormalizeOSVersion(value string) string {
	r, err := version.ParseRange(value)
	if err != nil {
		return version.Empty.String()
	}
	return r.String()
}

var osVersionPattern = regexp.MustCompile(`\d+\.?\d*\.?\d*`)

// FormatOSVersion extracts a major.minor.micro version from a free-form OS
// version string such as "2.6.32-5-amd64".
func FormatOSVersion(value string) string {
	if m := osVersionPattern.FindString(value); m != "" {
		value = m
	}
	v, err := version.Parse(strings.TrimSuffix(value, "."))
	if err != nil {
		return version.Empty.String()
	}
	return v.String()
}
