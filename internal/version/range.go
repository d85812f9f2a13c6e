package version

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Range is an OSGi version range.
//
// Examples:
// - "1.0"         at least 1.0.0
// - "[1.0,2.0)"   1.0.0 inclusive up to 2.0.0 exclusive
// - "(1.0,1.5]"
type Range struct {
	floor            Version
	ceiling          *Version
	floorInclusive   bool
	ceilingInclusive bool
}

// AtLeast is the range [v, infinity).
func AtLeast(v Version) Range {
	return Range{floor: v, floorInclusive: true}
}

// Exactly is the range [v, v].
func Exactly(v Version) Range {
	c := v
	return Range{floor: v, ceiling: &c, floorInclusive: true, ceilingInclusive: true}
}

// Any matches every version.
var Any = AtLeast(Empty)

func ParseRange(raw string) (Range, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Any, nil
	}
	if s[0] != '[' && s[0] != '(' {
		v, err := Parse(s)
		if err != nil {
			return Range{}, fmt.Errorf("version: parse range %q: %w", raw, err)
		}
		return AtLeast(v), nil
	}
	last := s[len(s)-1]
	if last != ']' && last != ')' {
		return Range{}, fmt.Errorf("version: parse range %q: missing closing bracket", raw)
	}
	bounds := strings.Split(s[1:len(s)-1], ",")
	if len(bounds) != 2 {
		return Range{}, fmt.Errorf("version: parse range %q: expected two bounds", raw)
	}
	floor, err := Parse(bounds[0])
	if err != nil {
		return Range{}, fmt.Errorf("version: parse range %q: %w", raw, err)
	}
	ceiling, err := Parse(bounds[1])
	if err != nil {
		return Range{}, fmt.Errorf("version: parse range %q: %w", raw, err)
	}
	if Compare(floor, ceiling) > 0 {
		return Range{}, fmt.Errorf("version: parse range %q: floor is greater than ceiling", raw)
	}
	return Range{
		floor:            floor,
		ceiling:          &ceiling,
		floorInclusive:   s[0] == '[',
		ceilingInclusive: last == ']',
	}, nil
}

func MustParseRange(raw string) Range {
	r, err := ParseRange(raw)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Range) Floor() Version { return r.floor }

// Ceiling returns the upper bound and false when the range is unbounded.
func (r Range) Ceiling() (Version, bool) {
	if r.ceiling == nil {
		return Version{}, false
	}
	return *r.ceiling, true
}

func (r Range) Includes(v Version) bool {
	c := Compare(v, r.floor)
	if c < 0 || (c == 0 && !r.floorInclusive) {
		return false
	}
	if r.ceiling == nil {
		return true
	}
	c = Compare(v, *r.ceiling)
	return c < 0 || (c == 0 && r.ceilingInclusive)
}

func (r Range) Equal(o Range) bool {
	if r.floorInclusive != o.floorInclusive || !r.floor.Equal(o.floor) {
		return false
	}
	if (r.ceiling == nil) != (o.ceiling == nil) {
		return false
	}
	if r.ceiling == nil {
		return true
	}
	return r.ceilingInclusive == o.ceilingInclusive && r.ceiling.Equal(*o.ceiling)
}

func (r Range) String() string {
	if r.ceiling == nil {
		return r.floor.String()
	}
	open, closing := "(", ")"
	if r.floorInclusive {
		open = "["
	}
	if r.ceilingInclusive {
		closing = "]"
	}
	return open + r.floor.String() + "," + r.ceiling.String() + closing
}

// Constraint renders the numeric part of r as a semantic version constraint.
// Qualifiers are not representable and are ignored.
func (r Range) Constraint() (*mm.Constraints, error) {
	lower := ">="
	if !r.floorInclusive {
		lower = ">"
	}
	expr := lower + r.floor.semver().String()
	if r.ceiling != nil {
		upper := "<"
		if r.ceilingInclusive {
			upper = "<="
		}
		expr += ", " + upper + r.ceiling.semver().String()
	}
	c, err := mm.NewConstraint(expr)
	if err != nil {
		return nil, fmt.Errorf("version: constraint for %s: %w", r, err)
	}
	return c, nil
}

// MaxIncluded returns the highest version in candidates that r includes.
//
// If multiple versions are equal, the first encountered wins.
func MaxIncluded(r Range, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !r.Includes(candidate) {
			continue
		}
		if !found || Compare(candidate, best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}
