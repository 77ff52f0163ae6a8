package credit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPMeter talks to an external credit service. Expected endpoints:
//
//	POST {base}/v1/credits/preflight  {tenant_id, amount, action_code}
//	  → 200 {allowed, available}
//	POST {base}/v1/credits/deduct     {tenant_id, amount, action_code, ref_type, ref_id}
//	  → 200, or 402 when the balance fell below amount since preflight
type HTTPMeter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPMeter creates a meter against the credit service at baseURL.
func NewHTTPMeter(baseURL string) *HTTPMeter {
	return &HTTPMeter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type preflightRequest struct {
	TenantID   string `json:"tenant_id"`
	Amount     int    `json:"amount"`
	ActionCode string `json:"action_code"`
}

type preflightResponse struct {
	Allowed   bool  `json:"allowed"`
	Available int64 `json:"available"`
}

type deductRequest struct {
	TenantID   string `json:"tenant_id"`
	Amount     int    `json:"amount"`
	ActionCode string `json:"action_code"`
	RefType    string `json:"ref_type,omitempty"`
	RefID      string `json:"ref_id,omitempty"`
}

// Preflight implements Meter.
func (m *HTTPMeter) Preflight(ctx context.Context, tenantID string, amount int, actionCode string) (bool, int64, error) {
	body, err := m.post(ctx, "/v1/credits/preflight", preflightRequest{
		TenantID:   tenantID,
		Amount:     amount,
		ActionCode: actionCode,
	})
	if err != nil {
		return false, 0, err
	}

	var resp preflightResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, 0, fmt.Errorf("decoding preflight response: %w", err)
	}
	return resp.Allowed, resp.Available, nil
}

// Deduct implements Meter.
func (m *HTTPMeter) Deduct(ctx context.Context, tenantID string, amount int, actionCode, refType, refID string) error {
	if amount == 0 {
		return nil
	}
	_, err := m.post(ctx, "/v1/credits/deduct", deductRequest{
		TenantID:   tenantID,
		Amount:     amount,
		ActionCode: actionCode,
		RefType:    refType,
		RefID:      refID,
	})
	return err
}

func (m *HTTPMeter) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding credit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building credit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credit service %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("reading credit response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, ErrInsufficientCredits
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("credit service %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
