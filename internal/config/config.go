// Package config holds OPERATOR-LEVEL configuration for a Warden installation.
//
// This is infrastructure config set by whoever deploys Warden, NOT tenant or
// end-user configuration. Settings come from env vars (WARDEN_*) or a
// warden.config.yaml file. Tenant identity (API key → user/tenant) is
// resolved by the identity resolver, and per-tenant credit balances live in
// the credit ledger — neither belongs here.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dativo-io/warden/internal/cryptoutil"
)

// Viper keys. Each maps to an env var with the WARDEN_ prefix
// (e.g. "signing_key" → WARDEN_SIGNING_KEY) and to a YAML field
// in warden.config.yaml.
const (
	KeyDataDir            = "data_dir"
	KeySigningKey         = "signing_key"
	KeyDefaultMaxSteps    = "default_max_steps"
	KeyDefaultTTLMinutes  = "default_ttl_minutes"
	KeyMaxStepsCap        = "max_steps_cap"
	KeyMaxTTLMinutesCap   = "max_ttl_minutes_cap"
	KeyFetchTimeoutSec    = "fetch_timeout_seconds"
	KeyMaxFetchBytes      = "max_fetch_bytes"
	KeyMaxLinks           = "max_links"
	KeyGuardrailRules     = "guardrail_rules"
	KeyPolicyProfiles     = "policy_profiles"
	KeyOllamaBaseURL      = "ollama_base_url"
	KeySummaryModel       = "summary_model"
	KeyCreditServiceURL   = "credit_service_url"
	KeyAuditRetentionDays = "audit_retention_days"
	KeyAuditWebhookURL    = "audit_webhook_url"
)

// Defaults that do NOT involve crypto material. The signing key intentionally
// has no baked-in default — when unset we generate a deterministic
// per-machine fallback and warn loudly.
const (
	DefaultMaxSteps    = 50
	DefaultTTLMinutes  = 30
	DefaultStepsCap    = 200
	DefaultTTLCap      = 240
	DefaultFetchSec    = 15
	DefaultFetchBytes  = 500 * 1024
	DefaultMaxLinks    = 200
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultSummaryModel = "llama3.2"
)

// Config holds resolved operator-level configuration for a Warden process.
type Config struct {
	DataDir            string // Base directory for all state (~/.warden)
	SigningKey         string // HMAC-SHA256 key for audit signing (≥32 bytes)
	DefaultMaxSteps    int    // Session step budget when no profile applies
	DefaultTTLMinutes  int    // Session lifetime when no profile applies
	MaxStepsCap        int    // Operator cap enforced by the policy engine
	MaxTTLMinutesCap   int    // Operator cap enforced by the policy engine
	FetchTimeoutSec    int    // Outbound fetch timeout
	MaxFetchBytes      int64  // Outbound fetch body cap
	MaxLinks           int    // Link extraction cap
	GuardrailRules     string // Optional guardrail ruleset override path
	PolicyProfiles     string // Optional policy profiles YAML path
	OllamaBaseURL      string // Summarizer endpoint (operator infrastructure)
	SummaryModel       string // Model used for summaries
	CreditServiceURL   string // External credit meter base URL ("" = local ledger)
	AuditRetentionDays int    // 0 keeps audit events forever
	AuditWebhookURL    string // Optional endpoint receiving a copy of every audit event

	usingDefaultSigningKey bool
}

// UsingDefaultSigningKey returns true if the audit signing key was derived
// (not set explicitly). Commands should warn when this is the case.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// SessionsDBPath returns the full path to the sessions SQLite database.
func (c *Config) SessionsDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// AuditDBPath returns the full path to the audit SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// CreditDBPath returns the full path to the local credit ledger database.
func (c *Config) CreditDBPath() string {
	return filepath.Join(c.DataDir, "credits.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning when the signing key is not explicitly set.
// Suppressed when WARDEN_QUICKSTART=1 or true.
func (c *Config) WarnIfDefaultKeys() {
	if isQuickstart() {
		return
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default WARDEN_SIGNING_KEY — set via env var or config file for production")
	}
}

func isQuickstart() bool {
	v := os.Getenv("WARDEN_QUICKSTART")
	return v == "1" || v == "true" || v == "TRUE"
}

func init() {
	viper.SetEnvPrefix("WARDEN")
	viper.AutomaticEnv()
	viper.SetDefault(KeyDefaultMaxSteps, DefaultMaxSteps)
	viper.SetDefault(KeyDefaultTTLMinutes, DefaultTTLMinutes)
	viper.SetDefault(KeyMaxStepsCap, DefaultStepsCap)
	viper.SetDefault(KeyMaxTTLMinutesCap, DefaultTTLCap)
	viper.SetDefault(KeyFetchTimeoutSec, DefaultFetchSec)
	viper.SetDefault(KeyMaxFetchBytes, DefaultFetchBytes)
	viper.SetDefault(KeyMaxLinks, DefaultMaxLinks)
	viper.SetDefault(KeyOllamaBaseURL, DefaultOllamaURL)
	viper.SetDefault(KeySummaryModel, DefaultSummaryModel)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:            resolveDataDir(),
		SigningKey:         viper.GetString(KeySigningKey),
		DefaultMaxSteps:    viper.GetInt(KeyDefaultMaxSteps),
		DefaultTTLMinutes:  viper.GetInt(KeyDefaultTTLMinutes),
		MaxStepsCap:        viper.GetInt(KeyMaxStepsCap),
		MaxTTLMinutesCap:   viper.GetInt(KeyMaxTTLMinutesCap),
		FetchTimeoutSec:    viper.GetInt(KeyFetchTimeoutSec),
		MaxFetchBytes:      viper.GetInt64(KeyMaxFetchBytes),
		MaxLinks:           viper.GetInt(KeyMaxLinks),
		GuardrailRules:     viper.GetString(KeyGuardrailRules),
		PolicyProfiles:     viper.GetString(KeyPolicyProfiles),
		OllamaBaseURL:      viper.GetString(KeyOllamaBaseURL),
		SummaryModel:       viper.GetString(KeySummaryModel),
		CreditServiceURL:   viper.GetString(KeyCreditServiceURL),
		AuditRetentionDays: viper.GetInt(KeyAuditRetentionDays),
		AuditWebhookURL:    viper.GetString(KeyAuditWebhookURL),
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. This is NOT cryptographically strong — it
// exists solely so `warden serve` works out of the box while still signing
// audit rows with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("warden:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.DefaultMaxSteps <= 0 || c.DefaultTTLMinutes <= 0 {
		return fmt.Errorf("default_max_steps and default_ttl_minutes must be positive")
	}
	if c.DefaultMaxSteps > c.MaxStepsCap {
		return fmt.Errorf("default_max_steps %d exceeds max_steps_cap %d", c.DefaultMaxSteps, c.MaxStepsCap)
	}
	if c.DefaultTTLMinutes > c.MaxTTLMinutesCap {
		return fmt.Errorf("default_ttl_minutes %d exceeds max_ttl_minutes_cap %d", c.DefaultTTLMinutes, c.MaxTTLMinutesCap)
	}
	if c.FetchTimeoutSec <= 0 || c.MaxFetchBytes <= 0 || c.MaxLinks <= 0 {
		return fmt.Errorf("fetch limits must be positive")
	}
	return nil
}

// validateSigningKey accepts either ≥32 raw bytes or ≥64 hex characters
// (decoded length ≥32 for HMAC-SHA256).
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && n%2 == 0 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes: %w", err)
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set WARDEN_SIGNING_KEY", n)
}
