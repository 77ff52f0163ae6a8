// Package audit provides an HMAC-signed, append-only event trail for session
// and step state transitions.
//
// Emission is best-effort by contract: the primary state transition never
// blocks on, and never fails because of, an audit write. Dispatcher gives
// callers a bounded async queue over any Sink; Store is the SQLite-backed
// Sink with signed rows and retention pruning.
package audit

import (
	"context"
	"time"
)

// Event types emitted by the engine and session manager.
const (
	EventSessionCreated  = "session.created"
	EventSessionClosed   = "session.closed"
	EventStepProposed    = "step.proposed"
	EventStepApproved    = "step.approved"
	EventStepRejected    = "step.rejected"
	EventStepExecuted    = "step.executed"
	EventPolicyBlocked   = "policy.violation.blocked"
	EventExtractCreated  = "extract.created"
)

// DefaultZone is the application zone recorded when the caller supplies none.
const DefaultZone = "automation"

// Event is one audit record. Payload carries event-specific detail and is
// stored as JSON.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	TenantID    string                 `json:"tenant_id"`
	Zone        string                 `json:"zone"`
	ActorUserID string                 `json:"actor_user_id"`
	EventType   string                 `json:"event_type"`
	Direction   string                 `json:"direction"`
	Source      string                 `json:"source"`
	EntityType  string                 `json:"entity_type"`
	EntityID    string                 `json:"entity_id"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Signature   string                 `json:"signature,omitempty"`
}

// Sink receives audit events. Implementations must tolerate concurrent calls.
type Sink interface {
	Emit(ctx context.Context, ev *Event) error
}
