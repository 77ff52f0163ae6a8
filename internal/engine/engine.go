// Package engine implements the step state machine: propose under guardrail
// classification, explicit approve/reject, and metered execution.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/warden/internal/audit"
	"github.com/dativo-io/warden/internal/browse"
	"github.com/dativo-io/warden/internal/credit"
	"github.com/dativo-io/warden/internal/guardrail"
	"github.com/dativo-io/warden/internal/llm"
	wardenotel "github.com/dativo-io/warden/internal/otel"
	"github.com/dativo-io/warden/internal/session"
)

var tracer = wardenotel.Tracer("github.com/dativo-io/warden/internal/engine")

// maxResultLinks caps the links included in a step result or fetch response.
// Full link lists (up to the extraction cap) stay in artifacts.
const maxResultLinks = 50

// Engine orchestrates sessions, guardrails, fetching, credits, and audit.
type Engine struct {
	sessions   *session.Manager
	rules      *guardrail.Ruleset
	fetcher    *browse.Fetcher
	meter      credit.Meter
	summarizer *llm.Summarizer
	sink       audit.Sink
}

// New creates the execution engine. meter, summarizer, and sink may each be
// nil: no metering, degraded summaries, and no audit emission respectively.
func New(sessions *session.Manager, rules *guardrail.Ruleset, fetcher *browse.Fetcher, meter credit.Meter, summarizer *llm.Summarizer, sink audit.Sink) *Engine {
	return &Engine{
		sessions:   sessions,
		rules:      rules,
		fetcher:    fetcher,
		meter:      meter,
		summarizer: summarizer,
		sink:       sink,
	}
}

// ProposeResult is the outcome of a propose call.
type ProposeResult struct {
	Step             *session.Step `json:"step"`
	RequiresApproval bool          `json:"requires_approval"`
}

// Propose validates the session, classifies the action, and persists the
// step. A safe_auto classification lands the step directly in approved; a
// confirm_needed one in proposed. A blocked classification persists nothing:
// the refusal is audited and returned as a BlockedError.
func (e *Engine) Propose(ctx context.Context, tenantID, sessionID, kind string, payload map[string]interface{}, rationale, proposedBy string) (*ProposeResult, error) {
	ctx, span := tracer.Start(ctx, "engine.propose",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("step.kind", kind),
		))
	defer span.End()

	sess, err := e.sessions.Validate(ctx, tenantID, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	decision := e.rules.Classify(kind, payload)
	span.SetAttributes(attribute.String("risk_level", string(decision.RiskLevel)))

	if decision.RiskLevel == guardrail.RiskBlocked {
		e.auditBlocked(ctx, sess, kind, payload, decision)
		return nil, &BlockedError{Kind: kind, Reason: decision.BlockedReason}
	}

	status := session.StepProposed
	approvedBy := ""
	if decision.RiskLevel == guardrail.RiskSafeAuto {
		status = session.StepApproved
		approvedBy = "auto"
	}
	if proposedBy == "" {
		proposedBy = session.ProposedByAgent
	}

	step := &session.Step{
		SessionID:  sess.ID,
		TenantID:   sess.TenantID,
		StepNumber: sess.StepCount + 1,
		Kind:       kind,
		Status:     status,
		RiskLevel:  decision.RiskLevel,
		Payload:    payload,
		Rationale:  rationale,
		ProposedBy: proposedBy,
		ApprovedBy: approvedBy,
	}
	if err := e.sessions.Store().CreateStep(ctx, step); err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.emit(ctx, sess, audit.EventStepProposed, "step", step.ID, map[string]interface{}{
		"kind":        kind,
		"risk_level":  string(decision.RiskLevel),
		"step_number": step.StepNumber,
		"proposed_by": proposedBy,
	})

	return &ProposeResult{
		Step:             step,
		RequiresApproval: decision.RiskLevel == guardrail.RiskConfirmNeeded,
	}, nil
}

// Approve moves a proposed step to approved, recording the approver.
func (e *Engine) Approve(ctx context.Context, tenantID, stepID, approver string) (*session.Step, error) {
	step, err := e.sessions.Store().GetStep(ctx, tenantID, stepID)
	if err != nil {
		return nil, err
	}
	if step.Status != session.StepProposed {
		return nil, fmt.Errorf("%w: cannot approve a %s step", session.ErrInvalidStepState, step.Status)
	}

	step.Status = session.StepApproved
	step.ApprovedBy = approver
	if err := e.sessions.Store().UpdateStep(ctx, step); err != nil {
		return nil, err
	}

	sess, err := e.sessions.Store().GetSession(ctx, tenantID, step.SessionID)
	if err == nil {
		e.emit(ctx, sess, audit.EventStepApproved, "step", step.ID, map[string]interface{}{
			"kind":        step.Kind,
			"approved_by": approver,
		})
	}
	return step, nil
}

// Reject moves a proposed step to rejected. Terminal.
func (e *Engine) Reject(ctx context.Context, tenantID, stepID, reason string) (*session.Step, error) {
	step, err := e.sessions.Store().GetStep(ctx, tenantID, stepID)
	if err != nil {
		return nil, err
	}
	if step.Status != session.StepProposed {
		return nil, fmt.Errorf("%w: cannot reject a %s step", session.ErrInvalidStepState, step.Status)
	}

	step.Status = session.StepRejected
	step.BlockedReason = reason
	if err := e.sessions.Store().UpdateStep(ctx, step); err != nil {
		return nil, err
	}

	sess, err := e.sessions.Store().GetSession(ctx, tenantID, step.SessionID)
	if err == nil {
		e.emit(ctx, sess, audit.EventStepRejected, "step", step.ID, map[string]interface{}{
			"kind":   step.Kind,
			"reason": reason,
		})
	}
	return step, nil
}

// Execute runs an approved step: credit preflight, dispatch by kind, then
// executed status, step-count increment, and deduction. A deduction failure
// after a committed result is logged, never surfaced.
func (e *Engine) Execute(ctx context.Context, tenantID, stepID string) (*session.Step, error) {
	ctx, span := tracer.Start(ctx, "engine.execute",
		trace.WithAttributes(attribute.String("step.id", stepID)))
	defer span.End()

	step, err := e.sessions.Store().GetStep(ctx, tenantID, stepID)
	if err != nil {
		return nil, err
	}
	if step.Status != session.StepApproved {
		return nil, fmt.Errorf("%w: cannot execute a %s step", session.ErrInvalidStepState, step.Status)
	}

	sess, err := e.sessions.Validate(ctx, tenantID, step.SessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	cost := credit.Cost(step.Kind)
	if cost > 0 && e.meter != nil {
		allowed, available, err := e.meter.Preflight(ctx, tenantID, cost, credit.ActionCode(step.Kind))
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("credit preflight: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("%w: have %d, need %d", credit.ErrInsufficientCredits, available, cost)
		}
	}

	start := time.Now()
	result, urlAfter, err := e.dispatch(ctx, step)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	step.Status = session.StepExecuted
	step.Result = result
	step.URLAfter = urlAfter
	step.DurationMS = time.Since(start).Milliseconds()
	if err := e.sessions.Store().UpdateStep(ctx, step); err != nil {
		return nil, err
	}
	if err := e.sessions.Store().IncrementStepCount(ctx, sess.ID); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("step_count_increment_failed")
	}

	if cost > 0 && e.meter != nil {
		if err := e.meter.Deduct(ctx, tenantID, cost, credit.ActionCode(step.Kind), "step", step.ID); err != nil {
			log.Error().Err(err).Str("step_id", step.ID).Int("amount", cost).
				Func(wardenotel.LogTraceFields(ctx)).Msg("credit_deduct_failed")
		}
	}

	e.emit(ctx, sess, audit.EventStepExecuted, "step", step.ID, map[string]interface{}{
		"kind":        step.Kind,
		"risk_level":  string(step.RiskLevel),
		"duration_ms": step.DurationMS,
	})
	return step, nil
}

// dispatch routes execution by step kind. Kinds without a wired execution
// path return an explicit pending stub instead of failing.
func (e *Engine) dispatch(ctx context.Context, step *session.Step) (map[string]interface{}, string, error) {
	switch step.Kind {
	case session.KindOpenURL:
		url, _ := step.Payload["url"].(string)
		if url == "" {
			return nil, "", fmt.Errorf("%w: open_url requires a url", ErrInvalidArgument)
		}
		page, err := e.fetcher.Fetch(ctx, url)
		if err != nil {
			return nil, "", err
		}
		return pageResult(page), page.URL, nil
	case session.KindEndSession:
		return map[string]interface{}{"status": "ok"}, "", nil
	default:
		return map[string]interface{}{
			"status": "pending",
			"detail": fmt.Sprintf("execution capability pending for kind %q", step.Kind),
		}, "", nil
	}
}

// pageResult shapes a fetched page into a step result, truncating the link
// list for response size.
func pageResult(page *browse.Page) map[string]interface{} {
	return map[string]interface{}{
		"url":         page.URL,
		"status_code": page.StatusCode,
		"title":       page.Title,
		"description": page.MetaDescription,
		"text":        page.Text,
		"links":       browse.TruncateLinks(page.Links, maxResultLinks),
		"link_count":  len(page.Links),
		"truncated":   page.Truncated,
	}
}

// auditBlocked emits the policy refusal event. Emission happens before the
// error is returned to the caller.
func (e *Engine) auditBlocked(ctx context.Context, sess *session.Session, kind string, payload map[string]interface{}, decision guardrail.Decision) {
	e.emit(ctx, sess, audit.EventPolicyBlocked, "session", sess.ID, map[string]interface{}{
		"kind":            kind,
		"payload":         payload,
		"blocked_reason":  decision.BlockedReason,
		"ruleset_version": decision.RulesetVersion,
	})
}

func (e *Engine) emit(ctx context.Context, sess *session.Session, eventType, entityType, entityID string, payload map[string]interface{}) {
	if e.sink == nil {
		return
	}
	err := e.sink.Emit(ctx, &audit.Event{
		TenantID:    sess.TenantID,
		ActorUserID: sess.UserID,
		EventType:   eventType,
		Direction:   "internal",
		Source:      "engine",
		EntityType:  entityType,
		EntityID:    entityID,
		Payload:     payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("event_type", eventType).
			Func(wardenotel.LogTraceFields(ctx)).Msg("audit_emit_failed")
	}
}
