// Package session owns the Session/Step/Artifact data model, its SQLite
// persistence, and the session lifecycle rules: expiry, step budget, and
// tenant scoping.
package session

import (
	"time"

	"github.com/dativo-io/warden/internal/guardrail"
)

// Session statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
)

// Step statuses. Legal transitions: proposed→approved→executed,
// proposed→rejected, or approved→executed when classification is safe_auto.
const (
	StepProposed = "proposed"
	StepApproved = "approved"
	StepRejected = "rejected"
	StepExecuted = "executed"
)

// Step kinds.
const (
	KindOpenURL    = "open_url"
	KindScroll     = "scroll"
	KindScreenshot = "screenshot"
	KindEndSession = "end_session"
	KindSearch     = "search"
	KindClick      = "click"
	KindExtract    = "extract"
	KindSummarize  = "summarize"
	KindType       = "type"
)

// Step proposers.
const (
	ProposedByAgent = "agent"
	ProposedByUser  = "user"
)

// Artifact types.
const (
	ArtifactText   = "extracted_text"
	ArtifactLinks  = "extracted_links"
	ArtifactTables = "extracted_tables"
	ArtifactReport = "report"
)

// Session is one bounded unit of agentic browsing work. step_count never
// exceeds max_steps while active; no steps run once status leaves active.
type Session struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	UserID          string    `json:"user_id"`
	PolicyProfileID string    `json:"policy_profile_id,omitempty"`
	Purpose         string    `json:"purpose,omitempty"`
	Status          string    `json:"status"`
	StepCount       int       `json:"step_count"`
	MaxSteps        int       `json:"max_steps"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// Step is one discrete proposed or executed action within a session.
type Step struct {
	ID            string                 `json:"id"`
	SessionID     string                 `json:"session_id"`
	TenantID      string                 `json:"tenant_id"`
	StepNumber    int                    `json:"step_number"`
	Kind          string                 `json:"kind"`
	Status        string                 `json:"status"`
	RiskLevel     guardrail.RiskLevel    `json:"risk_level"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Result        map[string]interface{} `json:"result,omitempty"`
	Rationale     string                 `json:"rationale,omitempty"`
	ProposedBy    string                 `json:"proposed_by"`
	ApprovedBy    string                 `json:"approved_by,omitempty"`
	BlockedReason string                 `json:"blocked_reason,omitempty"`
	URLBefore     string                 `json:"url_before,omitempty"`
	URLAfter      string                 `json:"url_after,omitempty"`
	DurationMS    int64                  `json:"duration_ms,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Artifact is an immutable stored output (extracted content or a generated
// summary) tied to a session.
type Artifact struct {
	ID           string                 `json:"id"`
	SessionID    string                 `json:"session_id"`
	TenantID     string                 `json:"tenant_id"`
	ArtifactType string                 `json:"artifact_type"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
