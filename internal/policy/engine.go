package policy

import (
	"context"
	"embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
)

//go:embed rego/*.rego
var embeddedPolicies embed.FS

// Decision is the result of evaluating operator caps against a requested
// session profile.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
}

// Caps are the operator-level upper bounds loaded into OPA as data.
type Caps struct {
	MaxSteps   int `json:"max_steps"`
	TTLMinutes int `json:"ttl_minutes"`
}

const (
	sessionLimitsFile  = "rego/session_limits.rego"
	sessionLimitsQuery = "data.warden.policy.session_limits.deny"
)

// Engine evaluates session-creation caps using embedded OPA.
type Engine struct {
	caps     Caps
	prepared rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with the precompiled session_limits
// policy and the given operator caps loaded as OPA data.
func NewEngine(ctx context.Context, caps Caps) (*Engine, error) {
	content, err := embeddedPolicies.ReadFile(sessionLimitsFile)
	if err != nil {
		return nil, fmt.Errorf("reading embedded policy %s: %w", sessionLimitsFile, err)
	}

	store := inmem.NewFromObject(map[string]interface{}{
		"policy": map[string]interface{}{
			"caps": map[string]interface{}{
				"max_steps":   caps.MaxSteps,
				"ttl_minutes": caps.TTLMinutes,
			},
		},
	})

	r := rego.New(
		rego.Query(sessionLimitsQuery),
		rego.Module(sessionLimitsFile, string(content)),
		rego.Store(store),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing Rego policy %s: %w", sessionLimitsFile, err)
	}

	return &Engine{caps: caps, prepared: prepared}, nil
}

// EvaluateSessionLimits checks a requested profile against operator caps.
func (e *Engine) EvaluateSessionLimits(ctx context.Context, p Profile) (*Decision, error) {
	input := map[string]interface{}{
		"max_steps":   p.MaxSteps,
		"ttl_minutes": p.TTLMinutes,
	}

	results, err := e.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", sessionLimitsFile, err)
	}

	decision := &Decision{Allowed: true}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision, nil
	}

	// The deny query yields a set of reason strings; OPA returns it as
	// []interface{} or, occasionally, map[string]interface{}.
	switch v := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, msg := range v {
			if msgStr, ok := msg.(string); ok {
				decision.Reasons = append(decision.Reasons, msgStr)
			}
		}
	case map[string]interface{}:
		for _, msg := range v {
			if msgStr, ok := msg.(string); ok {
				decision.Reasons = append(decision.Reasons, msgStr)
			}
		}
	}

	if len(decision.Reasons) > 0 {
		decision.Allowed = false
	}
	return decision, nil
}
