package doctor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkByName(t *testing.T, report *Report, name string) CheckResult {
	t.Helper()
	for _, c := range report.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not in report", name)
	return CheckResult{}
}

func TestRunWithCleanEnvironment(t *testing.T) {
	t.Setenv("WARDEN_DATA_DIR", t.TempDir())
	t.Setenv("WARDEN_SIGNING_KEY", "doctor-test-signing-key-1234567890")
	t.Setenv("WARDEN_API_KEYS", "key1:acme")

	report := Run(context.Background(), Options{SkipUpstream: true})

	assert.Equal(t, "pass", checkByName(t, report, "data_dir_writable").Status)
	assert.Equal(t, "pass", checkByName(t, report, "signing_key").Status)
	assert.Equal(t, "pass", checkByName(t, report, "guardrail_rules").Status)
	assert.Equal(t, "pass", checkByName(t, report, "audit_db").Status)
	assert.Equal(t, "pass", checkByName(t, report, "session_db").Status)
	assert.Equal(t, "pass", checkByName(t, report, "credit_meter").Status)
	assert.Equal(t, "pass", checkByName(t, report, "api_keys").Status)
	assert.Zero(t, report.Summary.Fail)
}

func TestRunWarnsOnMissingAPIKeys(t *testing.T) {
	t.Setenv("WARDEN_DATA_DIR", t.TempDir())
	t.Setenv("WARDEN_SIGNING_KEY", "doctor-test-signing-key-1234567890")
	t.Setenv("WARDEN_API_KEYS", "")

	report := Run(context.Background(), Options{SkipUpstream: true})

	require.Equal(t, "warn", checkByName(t, report, "api_keys").Status)
	assert.Equal(t, "warn", report.Status)
}
