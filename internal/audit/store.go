package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	wardenotel "github.com/dativo-io/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/dativo-io/warden/internal/audit")

// ErrEventNotFound is returned when an audit event does not exist.
var ErrEventNotFound = errors.New("audit event not found")

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	timestamp TIMESTAMP NOT NULL,
	tenant_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	event_json TEXT NOT NULL,
	signature TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_events(tenant_id);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_events(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_events(event_type);
`

// Store persists HMAC-signed audit events in SQLite. It implements Sink.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore creates an audit store with HMAC signing.
func NewStore(dbPath string, signingKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Store{db: db, signer: signer}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Emit signs and persists one audit event. Missing ID/timestamp/zone fields
// are filled in.
func (s *Store) Emit(ctx context.Context, ev *Event) error {
	ctx, span := tracer.Start(ctx, "audit.emit",
		trace.WithAttributes(
			attribute.String("tenant_id", ev.TenantID),
			attribute.String("event_type", ev.EventType),
		))
	defer span.End()

	if ev.ID == "" {
		ev.ID = "evt_" + uuid.New().String()[:12]
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Zone == "" {
		ev.Zone = DefaultZone
	}

	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}

	signature, err := s.signer.Sign(eventJSON)
	if err != nil {
		return fmt.Errorf("signing audit event: %w", err)
	}
	ev.Signature = signature

	signedJSON, _ := json.Marshal(ev)

	query := `INSERT INTO audit_events (id, timestamp, tenant_id, event_type, entity_type, entity_id, event_json, signature)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		ev.ID, ev.Timestamp, ev.TenantID, ev.EventType, ev.EntityType, ev.EntityID,
		string(signedJSON), signature,
	)
	if err != nil {
		return fmt.Errorf("storing audit event: %w", err)
	}
	return nil
}

// Get retrieves one audit event by ID.
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	var eventJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_json FROM audit_events WHERE id = ?`, id).Scan(&eventJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying audit event: %w", err)
	}

	var ev Event
	if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
		return nil, fmt.Errorf("unmarshaling audit event: %w", err)
	}
	return &ev, nil
}

// List returns audit events matching the filters, newest first.
func (s *Store) List(ctx context.Context, tenantID, entityID string, from, to time.Time, limit int) ([]Event, error) {
	ctx, span := tracer.Start(ctx, "audit.list",
		trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	query := `SELECT event_json FROM audit_events WHERE 1=1`
	args := []interface{}{}

	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	if entityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, entityID)
	}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, to)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var results []Event
	for rows.Next() {
		var eventJSON string
		if err := rows.Scan(&eventJSON); err != nil {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
			continue
		}
		results = append(results, ev)
	}
	span.SetAttributes(attribute.Int("audit.count", len(results)))
	return results, nil
}

// Verify checks the HMAC signature integrity of a stored event.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	ev, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	signature := ev.Signature
	ev.Signature = ""

	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshaling for verification: %w", err)
	}
	return s.signer.Verify(eventJSON, signature), nil
}

// Prune deletes events older than the cutoff and returns the number removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("pruning audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
