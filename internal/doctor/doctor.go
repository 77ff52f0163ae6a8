// Package doctor provides health checks for Warden configuration and runtime.
// Used by `warden doctor` before putting an installation in front of agents.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dativo-io/warden/internal/audit"
	"github.com/dativo-io/warden/internal/config"
	"github.com/dativo-io/warden/internal/credit"
	"github.com/dativo-io/warden/internal/guardrail"
	"github.com/dativo-io/warden/internal/policy"
	"github.com/dativo-io/warden/internal/session"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"` // pass, warn, fail
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which check categories to run.
type Options struct {
	SkipUpstream bool // Skip connectivity checks (for CI/offline)
}

// Run executes all doctor checks and returns a report.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = append(report.Checks, CheckResult{
			Name: "config_load", Category: "config", Status: "fail",
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check WARDEN_DATA_DIR and warden.config.yaml",
		})
	} else {
		report.Checks = append(report.Checks, checkDataDir(cfg))
		report.Checks = append(report.Checks, checkSigningKey(cfg))
		report.Checks = append(report.Checks, checkGuardrailRules(cfg))
		report.Checks = append(report.Checks, checkPolicyProfiles(cfg))
		report.Checks = append(report.Checks, checkAuditDB(cfg))
		report.Checks = append(report.Checks, checkSessionDB(cfg))
		report.Checks = append(report.Checks, checkCredits(cfg))
		if !opts.SkipUpstream {
			report.Checks = append(report.Checks, checkSummarizer(ctx, cfg))
		}
	}
	report.Checks = append(report.Checks, checkAPIKeys())

	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			report.Summary.Pass++
		case "warn":
			report.Summary.Warn++
		case "fail":
			report.Summary.Fail++
		}
	}

	report.Status = "pass"
	if report.Summary.Warn > 0 {
		report.Status = "warn"
	}
	if report.Summary.Fail > 0 {
		report.Status = "fail"
	}
	return report
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s — %v", cfg.DataDir, err),
			Fix:     "Ensure directory exists and is writable",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s not writable — %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return CheckResult{
		Name: "data_dir_writable", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

func checkSigningKey(cfg *config.Config) CheckResult {
	if cfg.UsingDefaultSigningKey() {
		return CheckResult{
			Name: "signing_key", Category: "config", Status: "warn",
			Message: "Using generated default",
			Fix:     "Set WARDEN_SIGNING_KEY for production",
		}
	}
	return CheckResult{Name: "signing_key", Category: "config", Status: "pass", Message: "Configured"}
}

func checkGuardrailRules(cfg *config.Config) CheckResult {
	if cfg.GuardrailRules != "" {
		rules, err := guardrail.LoadRuleset(cfg.GuardrailRules)
		if err != nil {
			return CheckResult{
				Name: "guardrail_rules", Category: "guardrail", Status: "fail",
				Message: fmt.Sprintf("%s — %v", cfg.GuardrailRules, err),
				Fix:     "Fix the ruleset YAML or unset WARDEN_GUARDRAIL_RULES",
			}
		}
		if rules != nil {
			return CheckResult{
				Name: "guardrail_rules", Category: "guardrail", Status: "pass",
				Message: fmt.Sprintf("%s (version %s)", cfg.GuardrailRules, rules.Version),
			}
		}
	}
	rules, err := guardrail.DefaultRuleset()
	if err != nil {
		return CheckResult{
			Name: "guardrail_rules", Category: "guardrail", Status: "fail",
			Message: fmt.Sprintf("embedded ruleset: %v", err),
		}
	}
	return CheckResult{
		Name: "guardrail_rules", Category: "guardrail", Status: "pass",
		Message: fmt.Sprintf("embedded default (version %s)", rules.Version),
	}
}

func checkPolicyProfiles(cfg *config.Config) CheckResult {
	if cfg.PolicyProfiles == "" {
		return CheckResult{
			Name: "policy_profiles", Category: "config", Status: "pass",
			Message: "none configured (fallback profile only)",
		}
	}
	pf, err := policy.LoadProfiles(cfg.PolicyProfiles)
	if err != nil {
		return CheckResult{
			Name: "policy_profiles", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s — %v", cfg.PolicyProfiles, err),
		}
	}
	if pf == nil {
		return CheckResult{
			Name: "policy_profiles", Category: "config", Status: "warn",
			Message: fmt.Sprintf("%s — file not found, fallback profile only", cfg.PolicyProfiles),
		}
	}
	return CheckResult{
		Name: "policy_profiles", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (%d profile(s))", cfg.PolicyProfiles, len(pf.Profiles)),
	}
}

func checkAuditDB(cfg *config.Config) CheckResult {
	store, err := audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
	if err != nil {
		return CheckResult{
			Name: "audit_db", Category: "storage", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	_ = store.Close()
	return CheckResult{Name: "audit_db", Category: "storage", Status: "pass", Message: cfg.AuditDBPath()}
}

func checkSessionDB(cfg *config.Config) CheckResult {
	store, err := session.NewStore(cfg.SessionsDBPath())
	if err != nil {
		return CheckResult{
			Name: "session_db", Category: "storage", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	_ = store.Close()
	return CheckResult{Name: "session_db", Category: "storage", Status: "pass", Message: cfg.SessionsDBPath()}
}

func checkCredits(cfg *config.Config) CheckResult {
	if cfg.CreditServiceURL != "" {
		return CheckResult{
			Name: "credit_meter", Category: "credits", Status: "pass",
			Message: fmt.Sprintf("external service %s", cfg.CreditServiceURL),
		}
	}
	ledger, err := credit.NewLedger(cfg.CreditDBPath())
	if err != nil {
		return CheckResult{
			Name: "credit_meter", Category: "credits", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	_ = ledger.Close()
	return CheckResult{
		Name: "credit_meter", Category: "credits", Status: "pass",
		Message: fmt.Sprintf("local ledger %s", cfg.CreditDBPath()),
	}
}

// checkSummarizer probes the configured LLM endpoint. Summaries degrade
// gracefully when no provider is reachable, so this can only warn.
func checkSummarizer(ctx context.Context, cfg *config.Config) CheckResult {
	if os.Getenv("WARDEN_OPENAI_API_KEY") != "" {
		return CheckResult{
			Name: "summarizer", Category: "llm", Status: "pass",
			Message: "OpenAI key configured (env)",
		}
	}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.OllamaBaseURL+"/api/tags", nil)
	if err != nil {
		return CheckResult{
			Name: "summarizer", Category: "llm", Status: "warn",
			Message: fmt.Sprintf("invalid ollama_base_url %s: %v", cfg.OllamaBaseURL, err),
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{
			Name: "summarizer", Category: "llm", Status: "warn",
			Message: fmt.Sprintf("%s unreachable — summaries will degrade to raw excerpts", cfg.OllamaBaseURL),
			Fix:     "Start ollama or set WARDEN_OPENAI_API_KEY",
		}
	}
	resp.Body.Close()
	return CheckResult{
		Name: "summarizer", Category: "llm", Status: "pass",
		Message: fmt.Sprintf("%s (model %s)", cfg.OllamaBaseURL, cfg.SummaryModel),
	}
}

func checkAPIKeys() CheckResult {
	keys := os.Getenv("WARDEN_API_KEYS")
	if keys == "" {
		return CheckResult{
			Name: "api_keys", Category: "config", Status: "warn",
			Message: "WARDEN_API_KEYS not set — every API request will be rejected",
			Fix:     "Set WARDEN_API_KEYS=key:tenant[:user],...",
		}
	}
	return CheckResult{Name: "api_keys", Category: "config", Status: "pass", Message: "Configured"}
}
