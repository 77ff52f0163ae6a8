package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/warden/internal/audit"
	"github.com/dativo-io/warden/internal/policy"
)

// Manager owns session lifecycle: creation under policy caps, lazy expiry,
// close, and the validation gate every mutating call passes through.
type Manager struct {
	store    *Store
	resolver *policy.Resolver
	engine   *policy.Engine
	sink     audit.Sink
	now      func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithClock overrides the manager's time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager. engine may be nil to skip operator
// cap checks; sink may be nil to skip audit emission.
func NewManager(store *Store, resolver *policy.Resolver, engine *policy.Engine, sink audit.Sink, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		resolver: resolver,
		engine:   engine,
		sink:     sink,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create resolves the effective policy profile (explicit id → tenant default
// → fallback), checks it against operator caps, and persists a new active
// session. Emits "session.created".
func (m *Manager) Create(ctx context.Context, tenantID, userID, purpose, profileID string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "session.create",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("policy_profile_id", profileID),
		))
	defer span.End()

	profile, err := m.resolver.Resolve(profileID, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if m.engine != nil {
		decision, err := m.engine.EvaluateSessionLimits(ctx, profile)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("evaluating session limits: %w", err)
		}
		if !decision.Allowed {
			return nil, fmt.Errorf("%w: %s", ErrPolicyDenied, strings.Join(decision.Reasons, "; "))
		}
	}

	now := m.now()
	sess := &Session{
		TenantID:        tenantID,
		UserID:          userID,
		PolicyProfileID: profileID,
		Purpose:         purpose,
		Status:          StatusActive,
		StepCount:       0,
		MaxSteps:        profile.MaxSteps,
		ExpiresAt:       now.Add(profile.TTL()),
		CreatedAt:       now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, err
	}

	m.emit(ctx, sess, audit.EventSessionCreated, map[string]interface{}{
		"purpose":           sess.Purpose,
		"policy_profile_id": sess.PolicyProfileID,
		"max_steps":         sess.MaxSteps,
		"expires_at":        sess.ExpiresAt,
	})

	span.SetAttributes(attribute.String("session.id", sess.ID))
	return sess, nil
}

// Get returns the session and its ordered steps, flipping status to expired
// when expires_at has passed. Expiry is evaluated only at read time; there is
// no background sweep.
func (m *Manager) Get(ctx context.Context, tenantID, id string) (*Session, []Step, error) {
	sess, err := m.store.GetSession(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	m.lazyExpire(ctx, sess)

	steps, err := m.store.ListSteps(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	return sess, steps, nil
}

// Close completes an active session. Closing a session in any other state —
// including one that just lazily expired — fails with ErrInvalidState.
func (m *Manager) Close(ctx context.Context, tenantID, id, reason string) (*Session, error) {
	sess, err := m.store.GetSession(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	m.lazyExpire(ctx, sess)

	if sess.Status != StatusActive {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, sess.Status)
	}

	if err := m.store.SetSessionStatus(ctx, sess.ID, StatusCompleted); err != nil {
		return nil, err
	}
	sess.Status = StatusCompleted

	m.emit(ctx, sess, audit.EventSessionClosed, map[string]interface{}{
		"reason":     reason,
		"step_count": sess.StepCount,
	})
	return sess, nil
}

// Validate is the gate for every mutating call: the session must exist under
// this tenant, be active, be unexpired (performing the lazy flip if not), and
// have budget left.
func (m *Manager) Validate(ctx context.Context, tenantID, id string) (*Session, error) {
	sess, err := m.store.GetSession(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if m.lazyExpire(ctx, sess) {
		return nil, fmt.Errorf("%w at %s", ErrExpired, sess.ExpiresAt.Format(time.RFC3339))
	}

	switch sess.Status {
	case StatusActive:
	case StatusExpired:
		return nil, fmt.Errorf("%w at %s", ErrExpired, sess.ExpiresAt.Format(time.RFC3339))
	default:
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, sess.Status)
	}

	if sess.StepCount >= sess.MaxSteps {
		return nil, fmt.Errorf("%w: %d/%d", ErrBudgetExceeded, sess.StepCount, sess.MaxSteps)
	}
	return sess, nil
}

// Store exposes the underlying store for the execution engine.
func (m *Manager) Store() *Store {
	return m.store
}

// Now returns the manager's current time (UTC).
func (m *Manager) Now() time.Time {
	return m.now()
}

// lazyExpire flips an active-but-past-expiry session to expired and reports
// whether it did.
func (m *Manager) lazyExpire(ctx context.Context, sess *Session) bool {
	if sess.Status != StatusActive || m.now().Before(sess.ExpiresAt) {
		return false
	}
	if err := m.store.SetSessionStatus(ctx, sess.ID, StatusExpired); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("lazy_expire_failed")
	}
	sess.Status = StatusExpired
	return true
}

// emit sends an audit event about sess, best-effort.
func (m *Manager) emit(ctx context.Context, sess *Session, eventType string, payload map[string]interface{}) {
	if m.sink == nil {
		return
	}
	err := m.sink.Emit(ctx, &audit.Event{
		TenantID:    sess.TenantID,
		ActorUserID: sess.UserID,
		EventType:   eventType,
		Direction:   "internal",
		Source:      "session_manager",
		EntityType:  "session",
		EntityID:    sess.ID,
		Payload:     payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("audit_emit_failed")
	}
}
