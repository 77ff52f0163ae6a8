package session

import "errors"

// Lifecycle errors. The HTTP layer maps these onto the API error taxonomy:
// not-found → 404, everything else here → 400.
var (
	ErrNotFound         = errors.New("session not found")
	ErrStepNotFound     = errors.New("step not found")
	ErrInvalidState     = errors.New("session is not active")
	ErrInvalidStepState = errors.New("step is not in a valid state for this transition")
	ErrExpired          = errors.New("session expired")
	ErrBudgetExceeded   = errors.New("session step budget exceeded")
	ErrPolicyDenied     = errors.New("session policy denied")
)
