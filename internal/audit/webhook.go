package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const webhookTimeout = 10 * time.Second

// WebhookSink forwards each audit event as JSON to an operator-configured
// endpoint. The request body is signed with HMAC-SHA256 so the receiver can
// authenticate the source. Delivery runs behind the Dispatcher, so a slow or
// down receiver never blocks the primary state transition.
type WebhookSink struct {
	url        string
	signingKey []byte
	client     *http.Client
}

// NewWebhookSink creates a sink posting to url, signing bodies with key.
func NewWebhookSink(url, signingKey string) *WebhookSink {
	return &WebhookSink{
		url:        url,
		signingKey: []byte(signingKey),
		client:     &http.Client{Timeout: webhookTimeout},
	}
}

// Emit implements Sink.
func (w *WebhookSink) Emit(ctx context.Context, ev *Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling audit event %s: %w", ev.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	mac := hmac.New(sha256.New, w.signingKey)
	mac.Write(body)
	req.Header.Set("X-Warden-Signature", hex.EncodeToString(mac.Sum(nil)))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering audit event %s: %w", ev.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d for event %s", resp.StatusCode, ev.ID)
	}
	return nil
}

// MultiSink fans an event out to every sink in order. The first error is
// returned after all sinks have been attempted; later sinks still see the
// event when an earlier one fails.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, ev *Event) error {
	var first error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
