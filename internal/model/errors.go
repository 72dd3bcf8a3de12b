package model

import "marketgate.dev/pkg/xerr"

// newInvariantError builds the InvariantViolation error the model's
// constructors return on an invariant breach (NewTicker with bid > ask while
// both are nonzero, NewBookSnapshot with an unordered side).
func newInvariantError(reason string, ctx map[string]any) error {
	return xerr.WithContext(xerr.InvariantViolation, reason, ctx)
}
