// Package guardrail classifies proposed browsing actions into risk tiers.
//
// Classification is a pure function over an injected Ruleset: deny/allow
// domain patterns, blocked network ranges, and sensitive-field patterns.
// The default ruleset is embedded YAML (patterns/guardrail.yaml); operators
// can load a replacement file without touching classifier logic.
package guardrail

import (
	"fmt"
	"net"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/dativo-io/warden/patterns"
)

// RulesetFile is the top-level YAML structure for a guardrail ruleset.
type RulesetFile struct {
	Version string `yaml:"version"`
	Deny    struct {
		Domains  []RuleConfig `yaml:"domains"`
		Hosts    []string     `yaml:"hosts"`
		Networks []string     `yaml:"networks"`
	} `yaml:"deny"`
	Allow struct {
		Domains []RuleConfig `yaml:"domains"`
	} `yaml:"allow"`
	SensitiveFields []RuleConfig `yaml:"sensitive_fields"`
}

// RuleConfig is a single named regex rule.
type RuleConfig struct {
	Name   string `yaml:"name"`
	Regex  string `yaml:"regex"`
	Reason string `yaml:"reason,omitempty"`
}

type compiledRule struct {
	name    string
	pattern *regexp.Regexp
	reason  string
}

// Ruleset is a compiled, immutable guardrail ruleset ready for classification.
type Ruleset struct {
	Version string

	denyDomains     []compiledRule
	denyHosts       []string
	denyNetworks    []*net.IPNet
	allowDomains    []compiledRule
	sensitiveFields []compiledRule
}

// ParseRuleset parses and compiles a guardrail ruleset from YAML bytes.
func ParseRuleset(data []byte) (*Ruleset, error) {
	var rf RulesetFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing guardrail YAML: %w", err)
	}

	rs := &Ruleset{
		Version:   rf.Version,
		denyHosts: rf.Deny.Hosts,
	}

	var err error
	if rs.denyDomains, err = compileRules(rf.Deny.Domains, "deny domain"); err != nil {
		return nil, err
	}
	if rs.allowDomains, err = compileRules(rf.Allow.Domains, "allow domain"); err != nil {
		return nil, err
	}
	if rs.sensitiveFields, err = compileRules(rf.SensitiveFields, "sensitive field"); err != nil {
		return nil, err
	}

	for _, cidr := range rf.Deny.Networks {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parsing deny network %q: %w", cidr, err)
		}
		rs.denyNetworks = append(rs.denyNetworks, ipNet)
	}

	return rs, nil
}

func compileRules(configs []RuleConfig, kind string) ([]compiledRule, error) {
	rules := make([]compiledRule, 0, len(configs))
	for _, rc := range configs {
		compiled, err := regexp.Compile(rc.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling %s rule %q: %w", kind, rc.Name, err)
		}
		rules = append(rules, compiledRule{name: rc.Name, pattern: compiled, reason: rc.Reason})
	}
	return rules, nil
}

// LoadRuleset reads and compiles a guardrail ruleset file from disk.
// Returns nil (not an error) if the file does not exist, so callers can
// fall back to the embedded default.
func LoadRuleset(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading guardrail ruleset %s: %w", path, err)
	}
	return ParseRuleset(data)
}

// DefaultRuleset compiles the embedded default ruleset.
func DefaultRuleset() (*Ruleset, error) {
	return ParseRuleset(patterns.GuardrailYAML())
}

// MustDefaultRuleset is DefaultRuleset, panicking on error. The embedded
// ruleset is validated by tests, so a failure here is a build defect.
func MustDefaultRuleset() *Ruleset {
	rs, err := DefaultRuleset()
	if err != nil {
		panic(fmt.Sprintf("compiling embedded guardrail ruleset: %v", err))
	}
	return rs
}
