package resolver

import (
	"fmt"
	"strings"
)

// UnresolvedError lists the required requirements a plan could not satisfy.
type UnresolvedError struct {
	Requirements []UnresolvedRequirement
}

func (e *UnresolvedError) Error() string {
	parts := make([]string, 0, len(e.Requirements))
	for _, u := range e.Requirements {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", u.Requirer, u.Requirement, u.Reason))
	}
	return fmt.Sprintf("%d unresolved requirement(s): %s", len(parts), strings.Join(parts, "; "))
}

// Err returns an *UnresolvedError when required requirements are
// unresolved.
func (p Plan) Err() error {
	if len(p.Diagnostics.UnresolvedRequired) == 0 {
		return nil
	}
	return &UnresolvedError{Requirements: p.Diagnostics.UnresolvedRequired}
}
