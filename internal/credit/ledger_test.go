package credit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, opts ...LedgerOption) *Ledger {
	t.Helper()
	l, err := NewLedger(filepath.Join(t.TempDir(), "credits.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedgerSeedsInitialBalance(t *testing.T) {
	l := newTestLedger(t)

	balance, err := l.Balance(context.Background(), "acme")
	require.NoError(t, err)
	assert.EqualValues(t, DefaultInitialBalance, balance)
}

func TestLedgerPreflightAndDeduct(t *testing.T) {
	l := newTestLedger(t, WithInitialBalance(2))
	ctx := context.Background()

	allowed, available, err := l.Preflight(ctx, "acme", 1, ActionSearch)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 2, available)

	require.NoError(t, l.Deduct(ctx, "acme", 1, ActionSearch, "step", "stp_1"))
	require.NoError(t, l.Deduct(ctx, "acme", 1, ActionExtract, "artifact", "art_1"))

	allowed, available, err = l.Preflight(ctx, "acme", 1, ActionSearch)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.EqualValues(t, 0, available)

	err = l.Deduct(ctx, "acme", 1, ActionSearch, "step", "stp_2")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestLedgerZeroAmountDeductIsNoop(t *testing.T) {
	l := newTestLedger(t, WithInitialBalance(1))
	ctx := context.Background()

	require.NoError(t, l.Deduct(ctx, "acme", 0, ActionOpenURL, "step", "stp_1"))
	balance, err := l.Balance(ctx, "acme")
	require.NoError(t, err)
	assert.EqualValues(t, 1, balance)
}

func TestLedgerGrant(t *testing.T) {
	l := newTestLedger(t, WithInitialBalance(0))
	ctx := context.Background()

	require.NoError(t, l.Grant(ctx, "acme", 5, "topup"))
	balance, err := l.Balance(ctx, "acme")
	require.NoError(t, err)
	assert.EqualValues(t, 5, balance)
}

func TestLedgerTenantsAreIsolated(t *testing.T) {
	l := newTestLedger(t, WithInitialBalance(3))
	ctx := context.Background()

	require.NoError(t, l.Deduct(ctx, "acme", 3, ActionSummarize, "artifact", "art_1"))

	balance, err := l.Balance(ctx, "other")
	require.NoError(t, err)
	assert.EqualValues(t, 3, balance)
}

func TestCostTable(t *testing.T) {
	assert.Equal(t, 0, Cost("open_url"))
	assert.Equal(t, 0, Cost("scroll"))
	assert.Equal(t, 1, Cost("search"))
	assert.Equal(t, 1, Cost("extract"))
	assert.Equal(t, 1, Cost("summarize"))
	assert.Equal(t, 0, Cost("anything_else"))
}
