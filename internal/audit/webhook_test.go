package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSinkDeliversSignedEvent(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Warden-Signature")
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, testSigningKey)
	ev := &Event{ID: "evt_123", TenantID: "acme", EventType: EventStepExecuted}
	require.NoError(t, sink.Emit(context.Background(), ev))

	var decoded Event
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "evt_123", decoded.ID)

	mac := hmac.New(sha256.New, []byte(testSigningKey))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestWebhookSinkNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, testSigningKey)
	err := sink.Emit(context.Background(), &Event{ID: "evt_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

type failingSink struct{ err error }

func (f *failingSink) Emit(context.Context, *Event) error { return f.err }

func TestMultiSinkAttemptsAllSinks(t *testing.T) {
	boom := errors.New("boom")
	rec := &countingSink{}
	m := MultiSink{&failingSink{err: boom}, rec}

	err := m.Emit(context.Background(), &Event{ID: "evt_1"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, rec.delivered())
}
