// Package filter implements OSGi LDAP-style filters (RFC 1960) evaluated
// against property dictionaries.
package filter

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/bayleafwalker/felix-core/internal/version"
)

type op int

const (
	opAnd op = iota
	opOr
	opNot
	opEqual
	opApprox
	opGreaterEq
	opLessEq
	opPresent
	opSubstring
)

// Filter is a parsed LDAP filter. The zero value is not usable; use Parse.
type Filter struct {
	op       op
	attr     string
	value    string
	parts    []string // substring pieces, "" marks a wildcard position
	children []*Filter
}

// SyntaxError reports a malformed filter expression.
type SyntaxError struct {
	Filter string
	Pos    int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("filter: %s at position %d in %q", e.Msg, e.Pos, e.Filter)
}

func Parse(expr string) (*Filter, error) {
	p := &parser{src: expr}
	p.skipSpace()
	f, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected trailing characters")
	}
	return f, nil
}

func MustParse(expr string) *Filter {
	f, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return f
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Filter: p.src, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) parseFilter() (*Filter, error) {
	if p.peek() != '(' {
		return nil, p.errorf("missing '('")
	}
	p.pos++
	p.skipSpace()
	var f *Filter
	var err error
	switch p.peek() {
	case '&':
		p.pos++
		f, err = p.parseList(opAnd)
	case '|':
		p.pos++
		f, err = p.parseList(opOr)
	case '!':
		p.pos++
		p.skipSpace()
		var child *Filter
		child, err = p.parseFilter()
		f = &Filter{op: opNot, children: []*Filter{child}}
	default:
		f, err = p.parseItem()
	}
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.peek() != ')' {
		return nil, p.errorf("missing ')'")
	}
	p.pos++
	p.skipSpace()
	return f, nil
}

func (p *parser) parseList(o op) (*Filter, error) {
	p.skipSpace()
	f := &Filter{op: o}
	for p.peek() == '(' {
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		f.children = append(f.children, child)
	}
	if len(f.children) == 0 {
		return nil, p.errorf("empty filter list")
	}
	return f, nil
}

func (p *parser) parseItem() (*Filter, error) {
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("=<>~()", rune(p.src[p.pos])) {
		p.pos++
	}
	attr := strings.TrimSpace(p.src[start:p.pos])
	if attr == "" {
		return nil, p.errorf("missing attribute name")
	}
	var o op
	switch {
	case strings.HasPrefix(p.src[p.pos:], "~="):
		o = opApprox
		p.pos += 2
	case strings.HasPrefix(p.src[p.pos:], ">="):
		o = opGreaterEq
		p.pos += 2
	case strings.HasPrefix(p.src[p.pos:], "<="):
		o = opLessEq
		p.pos += 2
	case p.peek() == '=':
		o = opEqual
		p.pos++
	default:
		return nil, p.errorf("invalid operator")
	}

	// Read the value, keeping track of unescaped '*' positions for '='.
	var (
		cur      strings.Builder
		parts    []string
		wildcard bool
	)
	for {
		c := p.peek()
		switch c {
		case 0:
			return nil, p.errorf("unterminated value")
		case '(':
			return nil, p.errorf("unescaped '(' in value")
		case ')':
			value := cur.String()
			if o != opEqual || !wildcard {
				if o == opEqual || value != "" {
					return &Filter{op: o, attr: attr, value: value}, nil
				}
				return nil, p.errorf("missing value")
			}
			parts = append(parts, value)
			if len(parts) == 2 && parts[0] == "" && parts[1] == "" {
				return &Filter{op: opPresent, attr: attr}, nil
			}
			return &Filter{op: opSubstring, attr: attr, parts: parts}, nil
		case '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return nil, p.errorf("dangling escape")
			}
			cur.WriteByte(p.src[p.pos])
			p.pos++
		case '*':
			if o == opEqual {
				wildcard = true
				parts = append(parts, cur.String())
				cur.Reset()
			} else {
				cur.WriteByte(c)
			}
			p.pos++
		default:
			cur.WriteByte(c)
			p.pos++
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Match evaluates f against props. Attribute names are matched case-insensitively.
func (f *Filter) Match(props map[string]any) bool {
	switch f.op {
	case opAnd:
		for _, c := range f.children {
			if !c.Match(props) {
				return false
			}
		}
		return true
	case opOr:
		for _, c := range f.children {
			if c.Match(props) {
				return true
			}
		}
		return false
	case opNot:
		return !f.children[0].Match(props)
	}
	v, ok := lookup(props, f.attr)
	if !ok {
		return false
	}
	if f.op == opPresent {
		return true
	}
	return f.compare(v)
}

func lookup(props map[string]any, key string) (any, bool) {
	if v, ok := props[key]; ok {
		return v, true
	}
	for k, v := range props {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func (f *Filter) compare(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case string:
		return f.compareString(val)
	case bool:
		if f.op != opEqual && f.op != opApprox {
			return false
		}
		b, err := strconv.ParseBool(strings.TrimSpace(f.value))
		return err == nil && b == val
	case version.Version:
		other, err := version.Parse(f.value)
		if err != nil {
			return false
		}
		return f.ordered(version.Compare(val, other))
	case fmt.Stringer:
		return f.compareString(val.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if f.compare(rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(f.value), 10, 64)
		if err != nil || f.op == opSubstring {
			return false
		}
		return f.ordered(cmpInt(rv.Int(), n))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(strings.TrimSpace(f.value), 10, 64)
		if err != nil || f.op == opSubstring {
			return false
		}
		return f.ordered(cmpUint(rv.Uint(), n))
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(strings.TrimSpace(f.value), 64)
		if err != nil || f.op == opSubstring {
			return false
		}
		return f.ordered(cmpFloat(rv.Float(), n))
	}
	return f.compareString(fmt.Sprint(v))
}

func (f *Filter) compareString(s string) bool {
	switch f.op {
	case opSubstring:
		return matchSubstring(s, f.parts)
	case opApprox:
		return approx(s) == approx(f.value)
	}
	return f.ordered(strings.Compare(s, f.value))
}

func (f *Filter) ordered(c int) bool {
	switch f.op {
	case opEqual, opApprox:
		return c == 0
	case opGreaterEq:
		return c >= 0
	case opLessEq:
		return c <= 0
	}
	return false
}

func matchSubstring(s string, parts []string) bool {
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := len(parts) - 1
	for _, mid := range parts[1:last] {
		i := strings.Index(s, mid)
		if i < 0 {
			return false
		}
		s = s[i+len(mid):]
	}
	return strings.HasSuffix(s, parts[last])
}

func approx(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// String renders f in normalized form.
func (f *Filter) String() string {
	var b strings.Builder
	f.write(&b)
	return b.String()
}

func (f *Filter) write(b *strings.Builder) {
	b.WriteByte('(')
	switch f.op {
	case opAnd, opOr:
		if f.op == opAnd {
			b.WriteByte('&')
		} else {
			b.WriteByte('|')
		}
		for _, c := range f.children {
			c.write(b)
		}
	case opNot:
		b.WriteByte('!')
		f.children[0].write(b)
	case opPresent:
		b.WriteString(f.attr + "=*")
	case opSubstring:
		b.WriteString(f.attr + "=")
		for i, part := range f.parts {
			if i > 0 {
				b.WriteByte('*')
			}
			b.WriteString(Escape(part))
		}
	default:
		b.WriteString(f.attr)
		switch f.op {
		case opApprox:
			b.WriteString("~=")
		case opGreaterEq:
			b.WriteString(">=")
		case opLessEq:
			b.WriteString("<=")
		default:
			b.WriteByte('=')
		}
		b.WriteString(Escape(f.value))
	}
	b.WriteByte(')')
}

// Escape quotes the characters that are significant in filter values.
func Escape(s string) string {
	if !strings.ContainsAny(s, `\*()`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '*', '(', ')':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
