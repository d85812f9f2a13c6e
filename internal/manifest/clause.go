package manifest

import (
	"fmt"
	"sort"
	"strings"
)

const (
	clauseSeparator    = ","
	pathSeparator      = ";"
	directiveSeparator = ":="
	attributeSeparator = "="
)

// Clause is one comma separated element of a manifest header:
//
//	path; path; dir1:=dirval1; dir2:=dirval2; attr1=attrval1; attr2=attrval2
type Clause struct {
	Paths      []string
	Directives map[string]string
	Attributes map[string]any
}

// SyntaxError reports a header that cannot be tokenized into clauses.
type SyntaxError struct {
	Value string
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("manifest: %s: %q", e.Msg, e.Value)
}

// ParseDelimited splits value on any of the delimiter characters, ignoring
// delimiters inside double quotes. Tokens are trimmed; quotes are kept.
func ParseDelimited(value, delims string) ([]string, error) {
	const (
		expectChar = 1 << iota
		expectDelimiter
		expectStartQuote
		expectEndQuote
	)

	var (
		out       []string
		sb        strings.Builder
		expecting = expectChar | expectDelimiter | expectStartQuote
	)
	for _, c := range value {
		isDelimiter := strings.ContainsRune(delims, c)
		isQuote := c == '"'
		switch {
		case isDelimiter && expecting&expectDelimiter != 0:
			out = append(out, strings.TrimSpace(sb.String()))
			sb.Reset()
			expecting = expectChar | expectDelimiter | expectStartQuote
		case isQuote && expecting&expectStartQuote != 0:
			sb.WriteRune(c)
			expecting = expectChar | expectEndQuote
		case isQuote && expecting&expectEndQuote != 0:
			sb.WriteRune(c)
			expecting = expectChar | expectStartQuote | expectDelimiter
		case expecting&expectChar != 0:
			sb.WriteRune(c)
		default:
			return nil, &SyntaxError{Value: value, Msg: "invalid delimited string"}
		}
	}
	if expecting&expectEndQuote != 0 {
		return nil, &SyntaxError{Value: value, Msg: "unbalanced quotes"}
	}
	if sb.Len() > 0 {
		out = append(out, strings.TrimSpace(sb.String()))
	}
	return out, nil
}

// ParseHeader decomposes a standard header into clauses. An empty header is an error.
func ParseHeader(header string) ([]Clause, error) {
	if header == "" {
		return nil, &SyntaxError{Value: header, Msg: "a header cannot be an empty string"}
	}
	raw, err := ParseDelimited(header, clauseSeparator)
	if err != nil {
		return nil, err
	}
	clauses := make([]Clause, 0, len(raw))
	for _, s := range raw {
		c, err := parseClause(s)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

func parseClause(s string) (Clause, error) {
	pieces, err := ParseDelimited(s, pathSeparator)
	if err != nil {
		return Clause{}, err
	}

	// Paths come first and never contain '='.
	pathCount := 0
	for _, piece := range pieces {
		if strings.Contains(piece, "=") {
			break
		}
		pathCount++
	}
	if pathCount == 0 {
		return Clause{}, &SyntaxError{Value: s, Msg: "no paths specified in header"}
	}

	c := Clause{
		Paths:      append([]string(nil), pieces[:pathCount]...),
		Directives: map[string]string{},
		Attributes: map[string]any{},
	}
	for _, piece := range pieces[pathCount:] {
		sep := directiveSeparator
		idx := strings.Index(piece, directiveSeparator)
		if idx < 0 {
			sep = attributeSeparator
			idx = strings.Index(piece, attributeSeparator)
		}
		if idx < 0 {
			return Clause{}, &SyntaxError{Value: s, Msg: "not a directive/attribute"}
		}
		key := strings.TrimSpace(piece[:idx])
		value := unquote(strings.TrimSpace(piece[idx+len(sep):]))

		if sep == directiveSeparator {
			if _, dup := c.Directives[key]; dup {
				return Clause{}, &SyntaxError{Value: s, Msg: "duplicate directive " + key}
			}
			c.Directives[key] = value
			continue
		}
		if _, dup := c.Attributes[key]; dup {
			return Clause{}, &SyntaxError{Value: s, Msg: "duplicate attribute " + key}
		}
		c.Attributes[key] = value
	}
	return c, nil
}

func unquote(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}

// String renders the clause in header syntax with sorted, quoted values.
func (c Clause) String() string {
	parts := append([]string(nil), c.Paths...)
	for _, k := range sortedKeys(c.Directives) {
		parts = append(parts, fmt.Sprintf("%s%s\"%s\"", k, directiveSeparator, c.Directives[k]))
	}
	for _, k := range sortedKeys(c.Attributes) {
		parts = append(parts, fmt.Sprintf("%s%s\"%v\"", k, attributeSeparator, c.Attributes[k]))
	}
	return strings.Join(parts, pathSeparator)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
