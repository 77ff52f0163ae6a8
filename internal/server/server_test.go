package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/warden/internal/audit"
	"github.com/dativo-io/warden/internal/browse"
	"github.com/dativo-io/warden/internal/credit"
	"github.com/dativo-io/warden/internal/engine"
	"github.com/dativo-io/warden/internal/guardrail"
	"github.com/dativo-io/warden/internal/identity"
	"github.com/dativo-io/warden/internal/policy"
	"github.com/dativo-io/warden/internal/session"
	"github.com/dativo-io/warden/internal/tenant"
)

const (
	testAPIKey     = "test-api-key"
	testSigningKey = "test-signing-key-1234567890123456"
)

type apiEnv struct {
	srv    *httptest.Server
	ledger *credit.Ledger
	audits *audit.Store
}

func newAPIEnv(t *testing.T, opts ...Option) *apiEnv {
	t.Helper()
	return newAPIEnvRules(t, guardrail.MustDefaultRuleset(), opts...)
}

// newAPIEnvRules lets a test swap the guardrail ruleset, e.g. to allow-list
// loopback so fetches can reach an httptest upstream.
func newAPIEnvRules(t *testing.T, rules *guardrail.Ruleset, opts ...Option) *apiEnv {
	t.Helper()
	dir := t.TempDir()

	audits, err := audit.NewStore(filepath.Join(dir, "audit.db"), testSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { audits.Close() })

	store, err := session.NewStore(filepath.Join(dir, "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver := policy.NewResolver(nil, policy.Profile{ID: "default", MaxSteps: 50, TTLMinutes: 30})
	sessions := session.NewManager(store, resolver, nil, audits)

	ledger, err := credit.NewLedger(filepath.Join(dir, "credits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	eng := engine.New(sessions, rules, browse.NewFetcher(), ledger, nil, audits)

	ids := identity.NewStaticResolver(map[string]identity.Identity{
		testAPIKey: {TenantID: "acme", UserID: "agent-1"},
	})

	opts = append([]Option{WithAuditStore(audits)}, opts...)
	server := NewServer(eng, sessions, ids, opts...)
	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)

	return &apiEnv{srv: srv, ledger: ledger, audits: audits}
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("X-Warden-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (e *apiEnv) action(t *testing.T, body map[string]interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/actions", body)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	return resp, out
}

func (e *apiEnv) createSession(t *testing.T) string {
	t.Helper()
	resp, out := e.action(t, map[string]interface{}{
		"action":  "create_session",
		"purpose": "rent comps",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := out["session"].(map[string]interface{})
	return sess["id"].(string)
}

func TestHealthUnauthenticated(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestActionsRequireAuth(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := http.Post(env.srv.URL+"/v1/actions", "application/json",
		bytes.NewBufferString(`{"action":"create_session"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBearerTokenAccepted(t *testing.T) {
	env := newAPIEnv(t)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/actions",
		bytes.NewBufferString(`{"action":"create_session","purpose":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateAndGetSession(t *testing.T) {
	env := newAPIEnv(t)
	id := env.createSession(t)

	resp, out := env.action(t, map[string]interface{}{
		"action":     "get_session",
		"session_id": id,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	sess := out["session"].(map[string]interface{})
	assert.Equal(t, "active", sess["status"])
	assert.Equal(t, "rent comps", sess["purpose"])

	// Same session over the REST read path.
	getResp := env.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestGetSessionNotFound(t *testing.T) {
	env := newAPIEnv(t)

	resp, out := env.action(t, map[string]interface{}{
		"action":     "get_session",
		"session_id": "ses_missing",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", out["error"])
}

func TestUnknownActionRejected(t *testing.T) {
	env := newAPIEnv(t)

	resp, out := env.action(t, map[string]interface{}{"action": "launch_missiles"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", out["error"])
}

func TestInvalidJSONBody(t *testing.T) {
	env := newAPIEnv(t)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/actions",
		bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	req.Header.Set("X-Warden-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProposeBlockedReturns403(t *testing.T) {
	env := newAPIEnv(t)
	id := env.createSession(t)

	resp, out := env.action(t, map[string]interface{}{
		"action":     "propose_step",
		"session_id": id,
		"kind":       "open_url",
		"payload":    map[string]interface{}{"url": "https://www.paypal.com/signin"},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "blocked", out["error"])
	assert.NotEmpty(t, out["blocked_reason"])
	assert.Equal(t, false, out["requires_approval"])
}

func TestConfirmNeededFlow(t *testing.T) {
	env := newAPIEnv(t)
	id := env.createSession(t)

	resp, out := env.action(t, map[string]interface{}{
		"action":     "propose_step",
		"session_id": id,
		"kind":       "search",
		"payload":    map[string]interface{}{"query": "berlin rents"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, out["requires_approval"])
	step := out["step"].(map[string]interface{})
	stepID := step["id"].(string)

	// Executing before approval is a 400.
	resp, out = env.action(t, map[string]interface{}{
		"action":  "execute_step",
		"step_id": stepID,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_state", out["error"])

	resp, out = env.action(t, map[string]interface{}{
		"action":   "approve_step",
		"step_id":  stepID,
		"approver": "reviewer",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", out["step"].(map[string]interface{})["status"])

	resp, out = env.action(t, map[string]interface{}{
		"action":  "execute_step",
		"step_id": stepID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "executed", out["step"].(map[string]interface{})["status"])
}

func TestRejectStepFlow(t *testing.T) {
	env := newAPIEnv(t)
	id := env.createSession(t)

	_, out := env.action(t, map[string]interface{}{
		"action":     "propose_step",
		"session_id": id,
		"kind":       "click",
		"payload":    map[string]interface{}{"selector": "#buy"},
	})
	stepID := out["step"].(map[string]interface{})["id"].(string)

	resp, out := env.action(t, map[string]interface{}{
		"action":  "reject_step",
		"step_id": stepID,
		"reason":  "out of scope",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", out["step"].(map[string]interface{})["status"])
}

func TestInsufficientCreditsReturns402(t *testing.T) {
	env := newAPIEnv(t)
	id := env.createSession(t)

	// Drain the tenant balance.
	ctx := context.Background()
	bal, err := env.ledger.Balance(ctx, "acme")
	require.NoError(t, err)
	require.NoError(t, env.ledger.Deduct(ctx, "acme", int(bal), "test.drain", "test", "t1"))

	_, out := env.action(t, map[string]interface{}{
		"action":     "propose_step",
		"session_id": id,
		"kind":       "search",
		"payload":    map[string]interface{}{"query": "x"},
	})
	stepID := out["step"].(map[string]interface{})["id"].(string)
	_, _ = env.action(t, map[string]interface{}{
		"action": "approve_step", "step_id": stepID, "approver": "reviewer",
	})

	resp, out := env.action(t, map[string]interface{}{
		"action": "execute_step", "step_id": stepID,
	})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "insufficient_credits", out["error"])
}

func TestFetchURLUpstreamFailureReturns502(t *testing.T) {
	rules, err := guardrail.ParseRuleset([]byte(`
version: "test.local"
allow:
  domains:
    - name: loopback_test
      regex: '^127\.0\.0\.1$'
`))
	require.NoError(t, err)
	env := newAPIEnvRules(t, rules)
	id := env.createSession(t)

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := dead.URL
	dead.Close()

	resp, out := env.action(t, map[string]interface{}{
		"action":     "fetch_url",
		"session_id": id,
		"url":        url,
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "upstream_fetch_failure", out["error"])
}

func TestFetchURLBlockedByDefaultRuleset(t *testing.T) {
	env := newAPIEnv(t)
	id := env.createSession(t)

	resp, out := env.action(t, map[string]interface{}{
		"action":     "fetch_url",
		"session_id": id,
		"url":        "http://127.0.0.1:9/",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "blocked", out["error"])
}

func TestSummarizeWithoutProviderDegrades(t *testing.T) {
	env := newAPIEnv(t)
	id := env.createSession(t)

	resp, out := env.action(t, map[string]interface{}{
		"action":     "summarize",
		"session_id": id,
		"text":       "Two-bedroom flats in Mitte average 1800 EUR.",
		"format":     "report",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	art := out["artifact"].(map[string]interface{})
	assert.Equal(t, "report", art["artifact_type"])
}

func TestSummarizeInvalidFormat(t *testing.T) {
	env := newAPIEnv(t)
	id := env.createSession(t)

	resp, out := env.action(t, map[string]interface{}{
		"action":     "summarize",
		"session_id": id,
		"text":       "hello",
		"format":     "interpretive_dance",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", out["error"])
}

func TestExtractContentAndListArtifacts(t *testing.T) {
	env := newAPIEnv(t)
	id := env.createSession(t)

	resp, _ := env.action(t, map[string]interface{}{
		"action":     "extract_content",
		"session_id": id,
		"mode":       "text",
		"content":    map[string]interface{}{"text": "rent data", "source_url": "https://example.org"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/artifacts", nil)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var listed map[string]interface{}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listed))
	assert.Len(t, listed["artifacts"], 1)
}

func TestCloseSession(t *testing.T) {
	env := newAPIEnv(t)
	id := env.createSession(t)

	resp, out := env.action(t, map[string]interface{}{
		"action":     "close_session",
		"session_id": id,
		"reason":     "done",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", out["session"].(map[string]interface{})["status"])

	// Closing again is an invalid state transition.
	resp, out = env.action(t, map[string]interface{}{
		"action":     "close_session",
		"session_id": id,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_state", out["error"])
}

func TestAuditReadAPI(t *testing.T) {
	env := newAPIEnv(t)
	env.createSession(t)

	resp := env.do(t, http.MethodGet, "/v1/audit", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	events := out["events"].([]interface{})
	require.NotEmpty(t, events)

	evID := events[0].(map[string]interface{})["id"].(string)

	getResp := env.do(t, http.MethodGet, "/v1/audit/"+evID, nil)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)

	verifyResp := env.do(t, http.MethodGet, fmt.Sprintf("/v1/audit/%s/verify", evID), nil)
	defer verifyResp.Body.Close()
	require.Equal(t, http.StatusOK, verifyResp.StatusCode)
	var verdict map[string]interface{}
	require.NoError(t, json.NewDecoder(verifyResp.Body).Decode(&verdict))
	assert.Equal(t, true, verdict["valid"])
}

func TestRateLimitReturns429(t *testing.T) {
	env := newAPIEnv(t, WithTenantManager(tenant.NewManager(1)))

	var saw429 bool
	for i := 0; i < 5; i++ {
		resp, _ := env.action(t, map[string]interface{}{"action": "get_session", "session_id": "ses_x"})
		if resp.StatusCode == http.StatusTooManyRequests {
			saw429 = true
			break
		}
	}
	assert.True(t, saw429)
}
