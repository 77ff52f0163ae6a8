package credit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	wardenotel "github.com/dativo-io/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/dativo-io/warden/internal/credit")

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS credit_balances (
	tenant_id  TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_entries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id   TEXT NOT NULL,
	amount      INTEGER NOT NULL,
	action_code TEXT NOT NULL,
	ref_type    TEXT,
	ref_id      TEXT,
	created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_entries_tenant ON credit_entries(tenant_id, created_at);
`

// DefaultInitialBalance is granted to a tenant on first use of the local
// ledger.
const DefaultInitialBalance = 1000

// Ledger is a local SQLite-backed Meter for single-node deployments without
// an external credit service.
type Ledger struct {
	db             *sql.DB
	initialBalance int64
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithInitialBalance sets the balance granted to first-seen tenants.
func WithInitialBalance(n int64) LedgerOption {
	return func(l *Ledger) { l.initialBalance = n }
}

// NewLedger opens (or creates) the ledger database at path.
func NewLedger(path string, opts ...LedgerOption) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening credit ledger: %w", err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing credit ledger schema: %w", err)
	}
	l := &Ledger{db: db, initialBalance: DefaultInitialBalance}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Balance returns the tenant's current balance, seeding the initial grant on
// first sight.
func (l *Ledger) Balance(ctx context.Context, tenantID string) (int64, error) {
	if err := l.seed(ctx, tenantID); err != nil {
		return 0, err
	}
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE tenant_id = ?`, tenantID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("reading balance: %w", err)
	}
	return balance, nil
}

// Grant adds amount to the tenant's balance and records a ledger entry.
func (l *Ledger) Grant(ctx context.Context, tenantID string, amount int64, reason string) error {
	if err := l.seed(ctx, tenantID); err != nil {
		return err
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting grant: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE credit_balances SET balance = balance + ?, updated_at = ? WHERE tenant_id = ?`,
		amount, now, tenantID,
	); err != nil {
		return fmt.Errorf("applying grant: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_entries (tenant_id, amount, action_code, ref_type, ref_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tenantID, amount, "grant", "reason", reason, now,
	); err != nil {
		return fmt.Errorf("recording grant: %w", err)
	}
	return tx.Commit()
}

// Preflight implements Meter.
func (l *Ledger) Preflight(ctx context.Context, tenantID string, amount int, actionCode string) (bool, int64, error) {
	ctx, span := tracer.Start(ctx, "credit.preflight",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("action_code", actionCode),
			attribute.Int("amount", amount),
		))
	defer span.End()

	balance, err := l.Balance(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return false, 0, err
	}
	return balance >= int64(amount), balance, nil
}

// Deduct implements Meter. The balance check and debit run in one
// transaction; a balance that fell below amount since preflight surfaces as
// ErrInsufficientCredits.
func (l *Ledger) Deduct(ctx context.Context, tenantID string, amount int, actionCode, refType, refID string) error {
	ctx, span := tracer.Start(ctx, "credit.deduct",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("action_code", actionCode),
			attribute.Int("amount", amount),
		))
	defer span.End()

	if amount == 0 {
		return nil
	}
	if err := l.seed(ctx, tenantID); err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting deduct: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE tenant_id = ?`, tenantID,
	).Scan(&balance); err != nil {
		return fmt.Errorf("reading balance: %w", err)
	}
	if balance < int64(amount) {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientCredits, balance, amount)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE credit_balances SET balance = balance - ?, updated_at = ? WHERE tenant_id = ?`,
		amount, now, tenantID,
	); err != nil {
		return fmt.Errorf("applying deduct: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_entries (tenant_id, amount, action_code, ref_type, ref_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tenantID, -amount, actionCode, refType, refID, now,
	); err != nil {
		return fmt.Errorf("recording deduct: %w", err)
	}
	return tx.Commit()
}

// seed inserts the initial balance row for a first-seen tenant.
func (l *Ledger) seed(ctx context.Context, tenantID string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO credit_balances (tenant_id, balance, updated_at) VALUES (?, ?, ?)`,
		tenantID, l.initialBalance, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("seeding balance: %w", err)
	}
	return nil
}
