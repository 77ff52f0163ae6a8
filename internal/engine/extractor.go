package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/warden/internal/audit"
	"github.com/dativo-io/warden/internal/credit"
	"github.com/dativo-io/warden/internal/guardrail"
	"github.com/dativo-io/warden/internal/llm"
	wardenotel "github.com/dativo-io/warden/internal/otel"
	"github.com/dativo-io/warden/internal/session"
)

// Extraction modes accepted by ExtractContent.
const (
	ModeText   = "text"
	ModeLinks  = "links"
	ModeTables = "tables"
)

// FetchURL is the composite single-call path: validate, classify, fetch, and
// persist an already-executed step in one round trip. A blocked
// classification is audited and refused; confirm_needed resolves by
// executing directly, since the caller chose this path over propose/approve.
func (e *Engine) FetchURL(ctx context.Context, tenantID, sessionID, url string) (*session.Step, error) {
	ctx, span := tracer.Start(ctx, "engine.fetch_url",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("url", url),
		))
	defer span.End()

	if url == "" {
		return nil, fmt.Errorf("%w: fetch_url requires a url", ErrInvalidArgument)
	}

	sess, err := e.sessions.Validate(ctx, tenantID, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	payload := map[string]interface{}{"url": url}
	decision := e.rules.Classify(session.KindOpenURL, payload)
	span.SetAttributes(attribute.String("risk_level", string(decision.RiskLevel)))

	if decision.RiskLevel == guardrail.RiskBlocked {
		e.auditBlocked(ctx, sess, session.KindOpenURL, payload, decision)
		return nil, &BlockedError{Kind: session.KindOpenURL, Reason: decision.BlockedReason}
	}

	start := time.Now()
	page, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	step := &session.Step{
		SessionID:  sess.ID,
		TenantID:   sess.TenantID,
		StepNumber: sess.StepCount + 1,
		Kind:       session.KindOpenURL,
		Status:     session.StepExecuted,
		RiskLevel:  decision.RiskLevel,
		Payload:    payload,
		Result:     pageResult(page),
		ProposedBy: session.ProposedByUser,
		ApprovedBy: "auto",
		URLBefore:  url,
		URLAfter:   page.URL,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err := e.sessions.Store().CreateStep(ctx, step); err != nil {
		return nil, err
	}
	if err := e.sessions.Store().IncrementStepCount(ctx, sess.ID); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("step_count_increment_failed")
	}

	e.emit(ctx, sess, audit.EventStepExecuted, "step", step.ID, map[string]interface{}{
		"kind":        step.Kind,
		"risk_level":  string(decision.RiskLevel),
		"url":         url,
		"status_code": page.StatusCode,
		"duration_ms": step.DurationMS,
	})
	return step, nil
}

// ExtractContent validates content shape per mode, stores the artifact, and
// records an executed extract step. Costs one credit.
func (e *Engine) ExtractContent(ctx context.Context, tenantID, sessionID, mode string, content map[string]interface{}) (*session.Artifact, error) {
	ctx, span := tracer.Start(ctx, "engine.extract_content",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("mode", mode),
		))
	defer span.End()

	sess, err := e.sessions.Validate(ctx, tenantID, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	artifactType, err := validateExtractShape(mode, content)
	if err != nil {
		return nil, err
	}

	cost := credit.Cost(session.KindExtract)
	if err := e.preflight(ctx, tenantID, cost, session.KindExtract); err != nil {
		return nil, err
	}

	art := &session.Artifact{
		SessionID:    sess.ID,
		TenantID:     sess.TenantID,
		ArtifactType: artifactType,
		Meta:         content,
	}
	if err := e.sessions.Store().CreateArtifact(ctx, art); err != nil {
		return nil, err
	}

	step := &session.Step{
		SessionID:  sess.ID,
		TenantID:   sess.TenantID,
		StepNumber: sess.StepCount + 1,
		Kind:       session.KindExtract,
		Status:     session.StepExecuted,
		RiskLevel:  guardrail.RiskConfirmNeeded,
		Payload:    map[string]interface{}{"mode": mode},
		Result:     map[string]interface{}{"artifact_id": art.ID, "artifact_type": artifactType},
		ProposedBy: session.ProposedByUser,
		ApprovedBy: "auto",
	}
	if err := e.sessions.Store().CreateStep(ctx, step); err != nil {
		return nil, err
	}
	if err := e.sessions.Store().IncrementStepCount(ctx, sess.ID); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("step_count_increment_failed")
	}
	e.deduct(ctx, tenantID, cost, session.KindExtract, art.ID)

	e.emit(ctx, sess, audit.EventExtractCreated, "artifact", art.ID, map[string]interface{}{
		"artifact_type": artifactType,
		"mode":          mode,
	})
	return art, nil
}

// Summarize generates a summary of collected content in the requested format
// and stores it as a report artifact. Costs one credit. A failing or
// unreachable model degrades to a placeholder summary rather than failing.
func (e *Engine) Summarize(ctx context.Context, tenantID, sessionID, content, format string) (*session.Artifact, error) {
	ctx, span := tracer.Start(ctx, "engine.summarize",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("format", format),
		))
	defer span.End()

	if content == "" {
		return nil, fmt.Errorf("%w: summarize requires content", ErrInvalidArgument)
	}
	switch format {
	case "", llm.FormatReport, llm.FormatFactsWithCitations, llm.FormatTable:
	default:
		return nil, fmt.Errorf("%w: unknown summary format %q", ErrInvalidArgument, format)
	}

	sess, err := e.sessions.Validate(ctx, tenantID, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	cost := credit.Cost(session.KindSummarize)
	if err := e.preflight(ctx, tenantID, cost, session.KindSummarize); err != nil {
		return nil, err
	}

	var summary *llm.Summary
	if e.summarizer != nil {
		summary, err = e.summarizer.Summarize(ctx, content, format, sess.Purpose)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	} else {
		summary = &llm.Summary{Content: "[summary unavailable: no model provider configured]", Format: format, Degraded: true}
	}

	art := &session.Artifact{
		SessionID:    sess.ID,
		TenantID:     sess.TenantID,
		ArtifactType: session.ArtifactReport,
		Meta: map[string]interface{}{
			"content":  summary.Content,
			"format":   summary.Format,
			"model":    summary.Model,
			"degraded": summary.Degraded,
		},
	}
	if err := e.sessions.Store().CreateArtifact(ctx, art); err != nil {
		return nil, err
	}

	step := &session.Step{
		SessionID:  sess.ID,
		TenantID:   sess.TenantID,
		StepNumber: sess.StepCount + 1,
		Kind:       session.KindSummarize,
		Status:     session.StepExecuted,
		RiskLevel:  guardrail.RiskConfirmNeeded,
		Payload:    map[string]interface{}{"format": summary.Format, "content_chars": len(content)},
		Result:     map[string]interface{}{"artifact_id": art.ID, "degraded": summary.Degraded},
		ProposedBy: session.ProposedByUser,
		ApprovedBy: "auto",
	}
	if err := e.sessions.Store().CreateStep(ctx, step); err != nil {
		return nil, err
	}
	if err := e.sessions.Store().IncrementStepCount(ctx, sess.ID); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("step_count_increment_failed")
	}
	e.deduct(ctx, tenantID, cost, session.KindSummarize, art.ID)

	e.emit(ctx, sess, audit.EventExtractCreated, "artifact", art.ID, map[string]interface{}{
		"artifact_type": session.ArtifactReport,
		"format":        summary.Format,
		"degraded":      summary.Degraded,
	})
	return art, nil
}

// validateExtractShape checks the content payload for the requested mode and
// returns the artifact type it maps to.
func validateExtractShape(mode string, content map[string]interface{}) (string, error) {
	switch mode {
	case ModeText:
		if _, ok := content["text"].(string); !ok {
			return "", fmt.Errorf("%w: mode text requires a text string", ErrInvalidArgument)
		}
		return session.ArtifactText, nil
	case ModeLinks:
		if _, ok := content["links"].([]interface{}); !ok {
			return "", fmt.Errorf("%w: mode links requires a links array", ErrInvalidArgument)
		}
		return session.ArtifactLinks, nil
	case ModeTables:
		if _, ok := content["tables"].([]interface{}); !ok {
			return "", fmt.Errorf("%w: mode tables requires a tables array", ErrInvalidArgument)
		}
		return session.ArtifactTables, nil
	default:
		return "", fmt.Errorf("%w: unknown extract mode %q", ErrInvalidArgument, mode)
	}
}

func (e *Engine) preflight(ctx context.Context, tenantID string, cost int, kind string) error {
	if cost == 0 || e.meter == nil {
		return nil
	}
	allowed, available, err := e.meter.Preflight(ctx, tenantID, cost, credit.ActionCode(kind))
	if err != nil {
		return fmt.Errorf("credit preflight: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: have %d, need %d", credit.ErrInsufficientCredits, available, cost)
	}
	return nil
}

func (e *Engine) deduct(ctx context.Context, tenantID string, cost int, kind, refID string) {
	if cost == 0 || e.meter == nil {
		return
	}
	if err := e.meter.Deduct(ctx, tenantID, cost, credit.ActionCode(kind), "artifact", refID); err != nil {
		log.Error().Err(err).Str("ref_id", refID).Int("amount", cost).
			Func(wardenotel.LogTraceFields(ctx)).Msg("credit_deduct_failed")
	}
}
