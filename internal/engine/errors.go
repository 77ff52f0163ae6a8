package engine

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned by the action dispatcher for a name outside
// the closed action set.
var ErrUnknownAction = errors.New("unknown action")

// BlockedError is a guardrail refusal. It always carries a human-readable
// reason and is audited before it is returned. The HTTP layer maps it to 403.
type BlockedError struct {
	Kind   string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("action %s blocked: %s", e.Kind, e.Reason)
}

// ErrInvalidArgument marks malformed request parameters (bad mode, bad
// format, missing fields). The HTTP layer maps it to 400.
var ErrInvalidArgument = errors.New("invalid argument")
