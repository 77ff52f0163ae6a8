package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/warden/internal/guardrail"
	wardenotel "github.com/dativo-io/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/dativo-io/warden/internal/session")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	policy_profile_id TEXT NOT NULL DEFAULT '',
	purpose TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	step_count INTEGER NOT NULL DEFAULT 0,
	max_steps INTEGER NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON sessions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

CREATE TABLE IF NOT EXISTS steps (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	step_number INTEGER NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}',
	result_json TEXT NOT NULL DEFAULT '',
	rationale TEXT NOT NULL DEFAULT '',
	proposed_by TEXT NOT NULL DEFAULT 'agent',
	approved_by TEXT NOT NULL DEFAULT '',
	blocked_reason TEXT NOT NULL DEFAULT '',
	url_before TEXT NOT NULL DEFAULT '',
	url_after TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_steps_session ON steps(session_id, step_number);
CREATE INDEX IF NOT EXISTS idx_steps_tenant ON steps(tenant_id);

CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	artifact_type TEXT NOT NULL,
	meta_json TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id);
`

// Store persists sessions, steps, and artifacts in SQLite. All reads are
// scoped by tenant_id; a tenant mismatch is indistinguishable from absence.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) the sessions database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sessions database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating sessions schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession persists a new session, assigning ID and created_at when unset.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	ctx, span := tracer.Start(ctx, "session.store.create",
		trace.WithAttributes(attribute.String("tenant_id", sess.TenantID)))
	defer span.End()

	if sess.ID == "" {
		sess.ID = "ses_" + uuid.New().String()[:12]
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, tenant_id, user_id, policy_profile_id, purpose, status, step_count, max_steps, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TenantID, sess.UserID, sess.PolicyProfileID, sess.Purpose,
		sess.Status, sess.StepCount, sess.MaxSteps, sess.ExpiresAt, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))
	return nil
}

// GetSession returns the session scoped by tenant, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, tenantID, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, policy_profile_id, purpose, status, step_count, max_steps, expires_at, created_at
		 FROM sessions WHERE id = ? AND tenant_id = ?`, id, tenantID)

	var sess Session
	err := row.Scan(&sess.ID, &sess.TenantID, &sess.UserID, &sess.PolicyProfileID,
		&sess.Purpose, &sess.Status, &sess.StepCount, &sess.MaxSteps,
		&sess.ExpiresAt, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return &sess, nil
}

// SetSessionStatus updates the session status.
func (s *Store) SetSessionStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return nil
}

// IncrementStepCount adds exactly 1 to the session step counter.
func (s *Store) IncrementStepCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET step_count = step_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("incrementing step count: %w", err)
	}
	return nil
}

// SetSessionExpiry overwrites expires_at. Used by lifecycle tests; sessions
// created through the manager always derive expiry from their profile.
func (s *Store) SetSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ? WHERE id = ?`, expiresAt, id)
	if err != nil {
		return fmt.Errorf("updating session expiry: %w", err)
	}
	return nil
}

// CreateStep persists a new step, assigning ID and created_at when unset.
func (s *Store) CreateStep(ctx context.Context, step *Step) error {
	ctx, span := tracer.Start(ctx, "session.store.create_step",
		trace.WithAttributes(
			attribute.String("session.id", step.SessionID),
			attribute.String("step.kind", step.Kind),
		))
	defer span.End()

	if step.ID == "" {
		step.ID = "stp_" + uuid.New().String()[:12]
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	payloadJSON, resultJSON, err := stepJSONBlobs(step)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO steps (id, session_id, tenant_id, step_number, kind, status, risk_level, payload_json, result_json,
		 rationale, proposed_by, approved_by, blocked_reason, url_before, url_after, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.SessionID, step.TenantID, step.StepNumber, step.Kind, step.Status,
		string(step.RiskLevel), payloadJSON, resultJSON, step.Rationale, step.ProposedBy,
		step.ApprovedBy, step.BlockedReason, step.URLBefore, step.URLAfter,
		step.DurationMS, step.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storing step: %w", err)
	}
	span.SetAttributes(attribute.String("step.id", step.ID))
	return nil
}

// GetStep returns the step scoped by tenant, or ErrStepNotFound.
func (s *Store) GetStep(ctx context.Context, tenantID, id string) (*Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, tenant_id, step_number, kind, status, risk_level, payload_json, result_json,
		 rationale, proposed_by, approved_by, blocked_reason, url_before, url_after, duration_ms, created_at
		 FROM steps WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanStep(row)
}

// UpdateStep writes the mutable step fields: status, approval, block reason,
// result, url_after, and duration.
func (s *Store) UpdateStep(ctx context.Context, step *Step) error {
	_, resultJSON, err := stepJSONBlobs(step)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE steps SET status = ?, approved_by = ?, blocked_reason = ?, result_json = ?, url_after = ?, duration_ms = ?
		 WHERE id = ?`,
		step.Status, step.ApprovedBy, step.BlockedReason, resultJSON,
		step.URLAfter, step.DurationMS, step.ID,
	)
	if err != nil {
		return fmt.Errorf("updating step: %w", err)
	}
	return nil
}

// ListSteps returns all steps of a session ordered by step number, then
// creation time for steps sharing a number.
func (s *Store) ListSteps(ctx context.Context, tenantID, sessionID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tenant_id, step_number, kind, status, risk_level, payload_json, result_json,
		 rationale, proposed_by, approved_by, blocked_reason, url_before, url_after, duration_ms, created_at
		 FROM steps WHERE session_id = ? AND tenant_id = ?
		 ORDER BY step_number ASC, created_at ASC`, sessionID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			continue
		}
		steps = append(steps, *step)
	}
	return steps, nil
}

// CreateArtifact persists a new artifact, assigning ID and created_at when
// unset. Artifacts are immutable after creation.
func (s *Store) CreateArtifact(ctx context.Context, art *Artifact) error {
	if art.ID == "" {
		art.ID = "art_" + uuid.New().String()[:12]
	}
	if art.CreatedAt.IsZero() {
		art.CreatedAt = time.Now().UTC()
	}

	metaJSON := "{}"
	if art.Meta != nil {
		b, err := json.Marshal(art.Meta)
		if err != nil {
			return fmt.Errorf("marshaling artifact meta: %w", err)
		}
		metaJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, session_id, tenant_id, artifact_type, meta_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		art.ID, art.SessionID, art.TenantID, art.ArtifactType, metaJSON, art.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storing artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns all artifacts of a session, oldest first.
func (s *Store) ListArtifacts(ctx context.Context, tenantID, sessionID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tenant_id, artifact_type, meta_json, created_at
		 FROM artifacts WHERE session_id = ? AND tenant_id = ? ORDER BY created_at ASC`,
		sessionID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		var art Artifact
		var metaJSON string
		if err := rows.Scan(&art.ID, &art.SessionID, &art.TenantID, &art.ArtifactType, &metaJSON, &art.CreatedAt); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(metaJSON), &art.Meta)
		artifacts = append(artifacts, art)
	}
	return artifacts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStep(row rowScanner) (*Step, error) {
	var step Step
	var riskLevel, payloadJSON, resultJSON string
	err := row.Scan(&step.ID, &step.SessionID, &step.TenantID, &step.StepNumber,
		&step.Kind, &step.Status, &riskLevel, &payloadJSON, &resultJSON,
		&step.Rationale, &step.ProposedBy, &step.ApprovedBy, &step.BlockedReason,
		&step.URLBefore, &step.URLAfter, &step.DurationMS, &step.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrStepNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning step: %w", err)
	}

	step.RiskLevel = guardrail.RiskLevel(riskLevel)
	if payloadJSON != "" && payloadJSON != "{}" {
		_ = json.Unmarshal([]byte(payloadJSON), &step.Payload)
	}
	if resultJSON != "" {
		_ = json.Unmarshal([]byte(resultJSON), &step.Result)
	}
	return &step, nil
}

func stepJSONBlobs(step *Step) (payloadJSON, resultJSON string, err error) {
	payloadJSON = "{}"
	if step.Payload != nil {
		b, err := json.Marshal(step.Payload)
		if err != nil {
			return "", "", fmt.Errorf("marshaling step payload: %w", err)
		}
		payloadJSON = string(b)
	}
	resultJSON = ""
	if step.Result != nil {
		b, err := json.Marshal(step.Result)
		if err != nil {
			return "", "", fmt.Errorf("marshaling step result: %w", err)
		}
		resultJSON = string(b)
	}
	return payloadJSON, resultJSON, nil
}
