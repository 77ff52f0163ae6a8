package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), Caps{MaxSteps: 50, TTLMinutes: 120})
	require.NoError(t, err)
	return engine
}

func TestEvaluateWithinCaps(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.EvaluateSessionLimits(context.Background(), Profile{
		ID: "standard", MaxSteps: 25, TTLMinutes: 60,
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reasons)
}

func TestEvaluateStepsOverCap(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.EvaluateSessionLimits(context.Background(), Profile{
		ID: "greedy", MaxSteps: 51, TTLMinutes: 60,
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.NotEmpty(t, decision.Reasons)
}

func TestEvaluateTTLOverCap(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.EvaluateSessionLimits(context.Background(), Profile{
		ID: "long", MaxSteps: 10, TTLMinutes: 121,
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestEvaluateAtExactCap(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.EvaluateSessionLimits(context.Background(), Profile{
		ID: "edge", MaxSteps: 50, TTLMinutes: 120,
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
