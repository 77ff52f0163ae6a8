package guardrail

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// RiskLevel is the risk tier assigned to a proposed action.
type RiskLevel string

const (
	RiskSafeAuto      RiskLevel = "safe_auto"
	RiskConfirmNeeded RiskLevel = "confirm_needed"
	RiskBlocked       RiskLevel = "blocked"
)

// Decision is the result of classifying one proposed action.
type Decision struct {
	RiskLevel      RiskLevel `json:"risk_level"`
	BlockedReason  string    `json:"blocked_reason,omitempty"`
	RulesetVersion string    `json:"ruleset_version"`
}

// Action kinds with fixed classifications. Kinds absent from both sets fall
// through to confirm_needed, never to auto-allow.
var (
	safeAutoKinds = map[string]bool{
		"scroll":      true,
		"screenshot":  true,
		"end_session": true,
	}
	confirmKinds = map[string]bool{
		"search":    true,
		"click":     true,
		"extract":   true,
		"summarize": true,
	}
)

// Classify maps an action kind and payload to a risk tier. It is
// deterministic and evaluated fresh on every call; payloads vary per step so
// decisions are never cached.
func (rs *Ruleset) Classify(kind string, payload map[string]interface{}) Decision {
	d := Decision{RiskLevel: RiskConfirmNeeded, RulesetVersion: rs.Version}

	switch {
	case kind == "open_url":
		return rs.classifyURL(payloadString(payload, "url"))
	case safeAutoKinds[kind]:
		d.RiskLevel = RiskSafeAuto
	case confirmKinds[kind]:
		d.RiskLevel = RiskConfirmNeeded
	case kind == "type":
		return rs.classifyTypeTarget(payload)
	}

	return d
}

// classifyURL applies deny rules first, then allow rules. Absence from the
// allow list is not a block: unlisted hosts require confirmation.
func (rs *Ruleset) classifyURL(rawURL string) Decision {
	d := Decision{RulesetVersion: rs.Version}

	host := extractHost(rawURL)
	if host == "" {
		d.RiskLevel = RiskBlocked
		d.BlockedReason = fmt.Sprintf("unparseable target URL %q", rawURL)
		return d
	}

	if reason := rs.denyMatch(host); reason != "" {
		d.RiskLevel = RiskBlocked
		d.BlockedReason = fmt.Sprintf("target %s denied: %s", host, reason)
		return d
	}

	for _, rule := range rs.allowDomains {
		if rule.pattern.MatchString(host) {
			d.RiskLevel = RiskSafeAuto
			return d
		}
	}

	d.RiskLevel = RiskConfirmNeeded
	return d
}

// denyMatch returns a human-readable reason when host matches any deny rule,
// or "" when clean. Host literals are matched exactly and as dot-suffix so
// "x.169.254.169.254" is caught by the metadata address entry.
func (rs *Ruleset) denyMatch(host string) string {
	for _, denied := range rs.denyHosts {
		if host == denied || strings.HasSuffix(host, "."+denied) {
			return fmt.Sprintf("blocked host %s", denied)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, ipNet := range rs.denyNetworks {
			if ipNet.Contains(ip) {
				return fmt.Sprintf("address in blocked range %s", ipNet)
			}
		}
	}

	for _, rule := range rs.denyDomains {
		if rule.pattern.MatchString(host) {
			if rule.reason != "" {
				return rule.reason
			}
			return rule.name
		}
	}

	return ""
}

// classifyTypeTarget blocks typing into fields that look like credential or
// challenge inputs; everything else needs confirmation.
func (rs *Ruleset) classifyTypeTarget(payload map[string]interface{}) Decision {
	d := Decision{RiskLevel: RiskConfirmNeeded, RulesetVersion: rs.Version}

	target := payloadString(payload, "target_selector")
	if target == "" {
		target = payloadString(payload, "target_field")
	}
	if target == "" {
		target = payloadString(payload, "selector")
	}

	for _, rule := range rs.sensitiveFields {
		if rule.pattern.MatchString(target) {
			d.RiskLevel = RiskBlocked
			d.BlockedReason = fmt.Sprintf("typing into sensitive field %q (%s)", target, rule.name)
			return d
		}
	}

	return d
}

// extractHost returns the lowercase host of rawURL without port, tolerating
// scheme-less inputs ("example.com/path").
func extractHost(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	v, _ := payload[key].(string)
	return v
}
