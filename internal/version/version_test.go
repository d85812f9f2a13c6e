package version

import "testing"

func TestParseAndString(t *testing.T) {
	cases := map[string]string{
		"":            "0.0.0",
		"1":           "1.0.0",
		"1.2":         "1.2.0",
		" 1.2.3 ":     "1.2.3",
		"1.2.3.beta1": "1.2.3.beta1",
	}
	for in, want := range cases {
		v, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", in, err)
		}
		if v.String() != want {
			t.Fatalf("Parse(%q) = %s, want %s", in, v, want)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"a.b", "1.-2", "1.2.3.", "1.2.3.q!"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("expected Parse(%q) to fail", in)
		}
	}
}

func TestCompareQualifier(t *testing.T) {
	if Compare(MustParse("1.0.0"), MustParse("1.0.0.a")) >= 0 {
		t.Fatalf("expected empty qualifier to sort lowest")
	}
	if Compare(MustParse("1.0.0.b"), MustParse("1.0.0.a")) <= 0 {
		t.Fatalf("expected qualifier b > a")
	}
	if Compare(MustParse("2.0"), MustParse("1.9.9.z")) <= 0 {
		t.Fatalf("expected 2.0 > 1.9.9.z")
	}
	if !MustParse("1").Equal(MustParse("1.0.0")) {
		t.Fatalf("expected 1 == 1.0.0")
	}
}

func TestRangeIncludes(t *testing.T) {
	r := MustParseRange("[1.0,2.0)")
	if !r.Includes(MustParse("1.0.0")) {
		t.Fatalf("expected floor to be included")
	}
	if !r.Includes(MustParse("1.9.9.x")) {
		t.Fatalf("expected 1.9.9.x to be included")
	}
	if r.Includes(MustParse("2.0.0")) {
		t.Fatalf("expected ceiling to be excluded")
	}

	open := MustParseRange("(1.0,1.5]")
	if open.Includes(MustParse("1.0")) {
		t.Fatalf("expected open floor to exclude 1.0")
	}
	if !open.Includes(MustParse("1.5")) {
		t.Fatalf("expected closed ceiling to include 1.5")
	}

	atLeast := MustParseRange("1.3")
	if !atLeast.Includes(MustParse("99.0")) || atLeast.Includes(MustParse("1.2.9")) {
		t.Fatalf("unexpected at-least semantics for %s", atLeast)
	}
}

func TestParseRangeErrors(t *testing.T) {
	for _, in := range []string{"[1.0,2.0", "[1.0]", "[2.0,1.0]", "[x,2]"} {
		if _, err := ParseRange(in); err == nil {
			t.Fatalf("expected ParseRange(%q) to fail", in)
		}
	}
}

func TestRangeStringRoundTrip(t *testing.T) {
	for _, in := range []string{"1.0.0", "[1.0.0,2.0.0)", "(1.0.0,1.5.0]"} {
		r := MustParseRange(in)
		if r.String() != in {
			t.Fatalf("String() = %s, want %s", r, in)
		}
		if !MustParseRange(r.String()).Equal(r) {
			t.Fatalf("expected reparsed %s to be equal", in)
		}
	}
}

func TestRangeConstraint(t *testing.T) {
	c, err := MustParseRange("[1.0,2.0)").Constraint()
	if err != nil {
		t.Fatalf("Constraint error: %v", err)
	}
	if !c.Check(MustParse("1.5").Semver()) {
		t.Fatalf("expected 1.5.0 to satisfy constraint")
	}
	if c.Check(MustParse("2.0").Semver()) {
		t.Fatalf("expected 2.0.0 to NOT satisfy constraint")
	}
}

func TestMaxIncluded(t *testing.T) {
	r := MustParseRange("[1.0.0,2.0.0)")
	candidates := []Version{
		MustParse("0.9.0"),
		MustParse("1.0.0"),
		MustParse("1.5.0"),
		MustParse("2.0.0"),
	}

	best, ok := MaxIncluded(r, candidates)
	if !ok {
		t.Fatalf("expected to find an included version")
	}
	if Compare(best, MustParse("1.5.0")) != 0 {
		t.Fatalf("expected best=1.5.0, got %s", best)
	}
}
