// Package patterns provides the embedded default guardrail ruleset.
// The YAML file in this directory defines deny/allow domain patterns,
// blocked network ranges, and sensitive-field patterns consumed by
// internal/guardrail.
package patterns

import _ "embed"

//go:embed guardrail.yaml
var guardrailYAML []byte

// GuardrailYAML returns the embedded default guardrail ruleset.
func GuardrailYAML() []byte { return guardrailYAML }
