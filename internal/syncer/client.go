package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/offpay/internal/payment"
)

// DefaultHTTPTimeout bounds a single ledger round trip.
const DefaultHTTPTimeout = 15 * time.Second

// HTTPLedger is a LedgerService reached over the ledger HTTP API.
type HTTPLedger struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLedger returns a client for the ledger at baseURL. A nil client
// gets DefaultHTTPTimeout.
func NewHTTPLedger(baseURL string, client *http.Client) *HTTPLedger {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPLedger{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Sync posts payloads to /api/v1/sync.
func (l *HTTPLedger) Sync(ctx context.Context, payloads []payment.SyncPayload) ([]payment.SyncOutcome, error) {
	var out []payment.SyncOutcome
	if err := l.post(ctx, "/api/v1/sync", payloads, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordOfflineAccept posts req to /api/v1/offline-accept.
func (l *HTTPLedger) RecordOfflineAccept(ctx context.Context, req payment.OfflineAccept) (payment.OfflineAcceptResult, error) {
	var out payment.OfflineAcceptResult
	if err := l.post(ctx, "/api/v1/offline-accept", req, &out); err != nil {
		return payment.OfflineAcceptResult{}, err
	}
	return out, nil
}

// Health reports whether the ledger answers GET /health.
func (l *HTTPLedger) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET /health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /health: %s", resp.Status)
	}
	return nil
}

func (l *HTTPLedger) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("POST %s: decode response: %w", path, err)
	}
	return nil
}
