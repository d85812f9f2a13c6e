package nativelib

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/go-logr/logr"

	"github.com/bayleafwalker/felix-core/internal/filter"
	"github.com/bayleafwalker/felix-core/internal/metrics"
	"github.com/bayleafwalker/felix-core/internal/version"
)

// Outcome is the result kind of a clause selection.
type Outcome int

const (
	// NoNativeCode means the bundle has no native code for this platform:
	// either no clauses were declared or none matched an optional header.
	NoNativeCode Outcome = iota
	// NoMatch means clauses were declared, none matched, and native code is
	// mandatory. The bundle must not resolve.
	NoMatch
	// Selected means exactly one clause was chosen.
	Selected
)

func (o Outcome) String() string {
	switch o {
	case NoMatch:
		return "no-match"
	case Selected:
		return "selected"
	}
	return "none"
}

// ErrNoMatchingClause is returned by Selection.Err for the NoMatch outcome.
var ErrNoMatchingClause = errors.New("unable to select a native library clause")

// SelectionError wraps failures to evaluate a clause against the platform.
type SelectionError struct {
	Clause *Clause
	Err    error
}

func (e *SelectionError) Error() string {
	if e.Clause == nil {
		return fmt.Sprintf("nativelib: %v", e.Err)
	}
	return fmt.Sprintf("nativelib: clause %v: %v", e.Clause.Entries, e.Err)
}

func (e *SelectionError) Unwrap() error { return e.Err }

// Selection is the result of Selector.Select.
type Selection struct {
	Outcome Outcome
	Clause  *Clause
}

// Err reports the NoMatch outcome as a resolution failure.
func (s Selection) Err() error {
	if s.Outcome == NoMatch {
		return &SelectionError{Err: ErrNoMatchingClause}
	}
	return nil
}

// Library is one native library entry of the selected clause.
type Library struct {
	Path string
	Name string
}

// Libraries returns the selected clause's entries, keeping only the first
// entry for each file name.
func (s Selection) Libraries() []Library {
	if s.Outcome != Selected || s.Clause == nil {
		return nil
	}
	libs := make([]Library, 0, len(s.Clause.Entries))
	seen := map[string]bool{}
	for _, entry := range s.Clause.Entries {
		name := path.Base(entry)
		if seen[name] {
			continue
		}
		seen[name] = true
		libs = append(libs, Library{Path: entry, Name: name})
	}
	return libs
}

// Selector matches native code clauses against a platform.
type Selector struct {
	aliases *Aliases
	log     logr.Logger
}

func NewSelector(aliases *Aliases, log logr.Logger) *Selector {
	return &Selector{aliases: aliases, log: log}
}

// Match reports whether c applies to p. The OS name and processor must
// match; OS versions, languages and the selection filter are only checked
// when declared.
func (s *Selector) Match(c *Clause, p Platform) (bool, error) {
	if !s.matchAny(c.OSNames, s.aliases.OSNames(p.OSName), s.aliases.NormalizeOSName) {
		return false, nil
	}
	if !s.matchAny(c.Processors, s.aliases.Processors(p.Processor), s.aliases.NormalizeProcessor) {
		return false, nil
	}
	if len(c.OSVersions) > 0 {
		ok, err := matchOSVersion(p.OSVersion, c.OSVersions)
		if err != nil {
			return false, &SelectionError{Clause: c, Err: err}
		}
		if !ok {
			return false, nil
		}
	}
	if len(c.Languages) > 0 && !slices.Contains(c.Languages, strings.ToLower(p.Language)) {
		return false, nil
	}
	if c.SelectionFilter != "" {
		f, err := filter.Parse(c.SelectionFilter)
		if err != nil {
			return false, &SelectionError{Clause: c, Err: fmt.Errorf("error evaluating filter expression %q: %w", c.SelectionFilter, err)}
		}
		if !f.Match(p.filterProperties()) {
			return false, nil
		}
	}
	return true, nil
}

// matchAny reports whether any declared value, taken as written or
// normalized, is among the platform's names.
func (s *Selector) matchAny(declared, platformNames []string, normalize func(string) string) bool {
	for _, d := range declared {
		if slices.Contains(platformNames, d) || slices.Contains(platformNames, normalize(d)) {
			return true
		}
	}
	return false
}

func matchOSVersion(current string, ranges []string) (bool, error) {
	v, err := version.Parse(FormatOSVersion(current))
	if err != nil {
		return false, err
	}
	for _, raw := range ranges {
		r, err := version.ParseRange(raw)
		if err != nil {
			return false, fmt.Errorf("error evaluating osversion %q: %w", raw, err)
		}
		if r.Includes(v) {
			return true, nil
		}
	}
	return false, nil
}

// Select chooses the clause for p. See Outcome for the three possible results.
func (s *Selector) Select(clauses []*Clause, optional bool, p Platform) (Selection, error) {
	sel, err := s.selectClause(clauses, optional, p)
	if err != nil {
		metrics.NativeSelectionTotal.WithLabelValues("error").Inc()
		return Selection{}, err
	}
	metrics.NativeSelectionTotal.WithLabelValues(sel.Outcome.String()).Inc()
	return sel, nil
}

func (s *Selector) selectClause(clauses []*Clause, optional bool, p Platform) (Selection, error) {
	if len(clauses) == 0 {
		return Selection{Outcome: NoNativeCode}, nil
	}
	var matching []*Clause
	for _, c := range clauses {
		ok, err := s.Match(c, p)
		if err != nil {
			return Selection{}, err
		}
		if ok {
			matching = append(matching, c)
		}
	}
	switch len(matching) {
	case 0:
		if optional {
			s.log.V(1).Info("no native clause matched, native code is optional", "os", p.OSName, "processor", p.Processor)
			return Selection{Outcome: NoNativeCode}, nil
		}
		return Selection{Outcome: NoMatch}, nil
	case 1:
		return Selection{Outcome: Selected, Clause: matching[0]}, nil
	}
	idx, err := firstSortedClause(matching)
	if err != nil {
		return Selection{}, &SelectionError{Err: err}
	}
	return Selection{Outcome: Selected, Clause: matching[idx]}, nil
}

// firstSortedClause breaks ties between matching clauses:
//  1. clauses declaring an osversion are preferred;
//  2. among them, only those with a range floor equal to the highest floor
//     seen are kept;
//  3. of the remaining candidates, the first declaring a language wins,
//     otherwise the first candidate.
func firstSortedClause(clauses []*Clause) (int, error) {
	maxFloor := version.Empty
	var withVersion []int
	for i, c := range clauses {
		if len(c.OSVersions) > 0 {
			withVersion = append(withVersion, i)
		}
		for _, raw := range c.OSVersions {
			r, err := version.ParseRange(raw)
			if err != nil {
				return 0, err
			}
			if version.Compare(r.Floor(), maxFloor) >= 0 {
				maxFloor = r.Floor()
			}
		}
	}
	if len(withVersion) == 1 {
		return withVersion[0], nil
	}

	candidates := make([]int, 0, len(clauses))
	for i := range clauses {
		candidates = append(candidates, i)
	}
	if len(withVersion) > 1 {
		var highest []int
		for _, i := range withVersion {
			for _, raw := range clauses[i].OSVersions {
				r, err := version.ParseRange(raw)
				if err != nil {
					return 0, err
				}
				if version.Compare(r.Floor(), maxFloor) >= 0 {
					highest = append(highest, i)
					break
				}
			}
		}
		switch len(highest) {
		case 0:
		case 1:
			return highest[0], nil
		default:
			candidates = highest
		}
	}

	for _, i := range candidates {
		if len(clauses[i].Languages) > 0 {
			return i, nil
		}
	}
	return candidates[0], nil
}
