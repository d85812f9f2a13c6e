package resolver

import "context"

// Resolver computes a Plan for an Input.
type Resolver interface {
	Resolve(ctx context.Context, in Input) (Plan, error)
}
