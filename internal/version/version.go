package version

import (
	"fmt"
	"strconv"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is an OSGi version: major.minor.micro.qualifier.
//
// Numeric ordering is delegated to github.com/Masterminds/semver/v3; the
// qualifier is compared lexically, with the empty qualifier sorting lowest.
type Version struct {
	v         *mm.Version
	qualifier string
}

// Empty is the lowest version, 0.0.0.
var Empty = Version{v: mm.New(0, 0, 0, "", "")}

// New builds a version from its components.
func New(major, minor, micro uint64, qualifier string) Version {
	return Version{v: mm.New(major, minor, micro, "", ""), qualifier: qualifier}
}

// Parse parses an OSGi version string. An empty string yields Empty.
func Parse(raw string) (Version, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Empty, nil
	}
	parts := strings.SplitN(s, ".", 4)
	var nums [3]uint64
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.ParseUint(parts[i], 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("version: parse %q: invalid component %q", raw, parts[i])
		}
		nums[i] = n
	}
	qualifier := ""
	if len(parts) == 4 {
		qualifier = parts[3]
		if qualifier == "" {
			return Version{}, fmt.Errorf("version: parse %q: empty qualifier", raw)
		}
		for _, r := range qualifier {
			if !isQualifierRune(r) {
				return Version{}, fmt.Errorf("version: parse %q: invalid qualifier character %q", raw, r)
			}
		}
	}
	return New(nums[0], nums[1], nums[2], qualifier), nil
}

func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func isQualifierRune(r rune) bool {
	return r == '_' || r == '-' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func (v Version) Major() uint64 { return v.semver().Major() }
func (v Version) Minor() uint64 { return v.semver().Minor() }
func (v Version) Micro() uint64 { return v.semver().Patch() }

func (v Version) Qualifier() string { return v.qualifier }

// Semver returns the numeric part of v as a semantic version.
func (v Version) Semver() *mm.Version { return v.semver() }

func (v Version) semver() *mm.Version {
	if v.v == nil {
		return Empty.v
	}
	return v.v
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Micro())
	if v.qualifier != "" {
		s += "." + v.qualifier
	}
	return s
}

// Equal reports whether a and b denote the same version.
func (v Version) Equal(o Version) bool { return Compare(v, o) == 0 }

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	if c := a.semver().Compare(b.semver()); c != 0 {
		return c
	}
	return strings.Compare(a.qualifier, b.qualifier)
}
