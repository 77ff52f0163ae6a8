// Package credit meters billable actions: a preflight check before any
// credit-bearing step executes, and a deduction after it succeeds.
package credit

import (
	"context"
	"errors"
)

// ErrInsufficientCredits means the tenant's balance cannot cover the action.
// The HTTP layer maps it to 402.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Action codes reported to the meter.
const (
	ActionOpenURL   = "browse.open_url"
	ActionSearch    = "browse.search"
	ActionExtract   = "browse.extract"
	ActionSummarize = "browse.summarize"
	ActionStep      = "browse.step"
)

// costs maps step kinds to credit amounts. Read-only navigation is free;
// search, extraction, and summarization each cost one credit.
var costs = map[string]int{
	"open_url":    0,
	"scroll":      0,
	"screenshot":  0,
	"end_session": 0,
	"click":       0,
	"type":        0,
	"search":      1,
	"extract":     1,
	"summarize":   1,
}

// Cost returns the credit cost of a step kind. Unknown kinds cost zero.
func Cost(kind string) int {
	return costs[kind]
}

// ActionCode returns the meter action code for a step kind.
func ActionCode(kind string) string {
	switch kind {
	case "open_url":
		return ActionOpenURL
	case "search":
		return ActionSearch
	case "extract":
		return ActionExtract
	case "summarize":
		return ActionSummarize
	default:
		return ActionStep
	}
}

// Meter checks and records credit usage. Preflight must be called before a
// credit-bearing action executes; Deduct after it succeeds. A Deduct failure
// after successful execution is logged by the caller, never surfaced to the
// client.
type Meter interface {
	// Preflight reports whether tenantID can afford amount, along with the
	// available balance.
	Preflight(ctx context.Context, tenantID string, amount int, actionCode string) (allowed bool, available int64, err error)

	// Deduct records a completed charge against tenantID, referencing the
	// entity that caused it.
	Deduct(ctx context.Context, tenantID string, amount int, actionCode, refType, refID string) error
}
