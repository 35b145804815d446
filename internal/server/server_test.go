package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offpay/internal/handshake"
	"github.com/roach88/offpay/internal/ledger"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/reconcile"
	"github.com/roach88/offpay/internal/syncer"
	"github.com/roach88/offpay/internal/testutil"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	srv   *httptest.Server
	clock *testutil.ManualClock
	payer handshake.Party
	payee handshake.Party
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock: testutil.NewManualClock(epoch),
		payer: handshake.Party{Address: "alice@offpay", Name: "Alice", Keys: testutil.KeyPair(t, "alice")},
		payee: handshake.Party{Address: "shop@offpay", Name: "Corner Shop", Keys: testutil.KeyPair(t, "shop")},
	}
	repo := ledger.NewMemoryRepository()
	svc, err := ledger.New(repo, ledger.WithClock(f.clock), ledger.WithIDs(testutil.NewSequence("L")))
	require.NoError(t, err)
	s := New(svc, reconcile.New(repo, reconcile.WithClock(f.clock)), opts...)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) receipt(t *testing.T, amount int64) handshake.Receipt {
	t.Helper()
	req, err := handshake.NewRequest(handshake.RequestParams{
		Amount:   amount,
		Currency: "BDT",
		Intent:   payment.Intent{Code: payment.IntentP2P},
	}, f.payee, f.clock.Now())
	require.NoError(t, err)
	rcpt, err := handshake.Approve(req, f.payer, f.clock.Now())
	require.NoError(t, err)
	return rcpt
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSyncEndpoint(t *testing.T) {
	f := newFixture(t)
	rcpt := f.receipt(t, 200)
	d, err := handshake.DraftFor(rcpt, payment.Outgoing)
	require.NoError(t, err)

	// The device-side client speaks the same wire format.
	out, err := syncer.NewHTTPLedger(f.srv.URL, nil).Sync(context.Background(), []payment.SyncPayload{d.Payload, {}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, payment.OutcomeSettled, out[0].Status)
	require.NotNil(t, out[0].TxID)
	assert.Equal(t, "L-0001", *out[0].TxID)
	assert.Equal(t, payment.OutcomeRejected, out[1].Status)
	assert.Nil(t, out[1].TxID)
}

func TestSyncEndpointRejectsBadBodies(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/sync", `{"not":"an array"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var big bytes.Buffer
	big.WriteString("[")
	for i := 0; i <= MaxBatch; i++ {
		if i > 0 {
			big.WriteString(",")
		}
		big.WriteString("{}")
	}
	big.WriteString("]")
	resp = f.post(t, "/api/v1/sync", big.String())
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = f.get(t, "/api/v1/sync")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func offlineAccept(t *testing.T, rcpt handshake.Receipt) payment.OfflineAccept {
	t.Helper()
	proof, err := handshake.Encode(rcpt)
	require.NoError(t, err)
	req := rcpt.OriginalRequest
	return payment.OfflineAccept{
		ClientTxID:        handshake.ClientTxID(req),
		Nonce:             req.Nonce,
		SenderAddress:     rcpt.PayerAddress,
		ReceiverAddress:   rcpt.PayeeAddress,
		Amount:            rcpt.Amount,
		Intent:            rcpt.Intent,
		AcceptedAt:        rcpt.ApprovedAt,
		ExpiresAt:         req.ExpiresAt,
		SenderSignature:   rcpt.Signature,
		ReceiverSignature: rcpt.PayeeSignature,
		Proof:             proof,
	}
}

func TestOfflineAcceptEndpoint(t *testing.T) {
	f := newFixture(t)
	accept := offlineAccept(t, f.receipt(t, 200))

	client := syncer.NewHTTPLedger(f.srv.URL, nil)
	first, err := client.RecordOfflineAccept(context.Background(), accept)
	require.NoError(t, err)
	second, err := client.RecordOfflineAccept(context.Background(), accept)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, first.Success)
	assert.Equal(t, "pending", first.Status)
	assert.Equal(t, "L-0001", first.TxID)
}

func TestOfflineAcceptEndpointRejectsMismatch(t *testing.T) {
	f := newFixture(t)
	accept := offlineAccept(t, f.receipt(t, 200))
	accept.Amount = 1

	body, err := json.Marshal(accept)
	require.NoError(t, err)
	resp := f.post(t, "/api/v1/offline-accept", string(body))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var e map[string]string
	decode(t, resp, &e)
	assert.Equal(t, "The payment details are invalid.", e["error"])

	resp = f.post(t, "/api/v1/offline-accept", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReconciliationEndpoint(t *testing.T) {
	f := newFixture(t)
	for _, amount := range []int64{100, 200} {
		d, err := handshake.DraftFor(f.receipt(t, amount), payment.Outgoing)
		require.NoError(t, err)
		_, err = syncer.NewHTTPLedger(f.srv.URL, nil).Sync(context.Background(), []payment.SyncPayload{d.Payload})
		require.NoError(t, err)
	}

	resp := f.get(t, "/api/v1/reconciliation?since=2026-03-01T00:00:00Z&address=alice@offpay")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report reconcile.Report
	decode(t, resp, &report)
	assert.Equal(t, 2, report.Summary.TotalTransactions)
	assert.Equal(t, int64(300), report.Summary.SettledAmount)
	assert.Equal(t, 100.0, report.Summary.ReconciliationRate)

	resp = f.get(t, "/api/v1/reconciliation?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.get(t, "/api/v1/reconciliation?since=2026-03-02T00:00:00Z&until=2026-03-01T00:00:00Z")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	healthy := newFixture(t)
	resp := healthy.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sick := newFixture(t, WithHealthCheck(func(context.Context) error { return errors.New("db down") }))
	resp = sick.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/api/v1/sync", `[{}]`)

	resp := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `offpay_settlement_outcomes_total{reason="malformed",status="rejected"} 1`)
	assert.Contains(t, string(body), `offpay_http_requests_total{endpoint="/api/v1/sync",method="POST",status="200"} 1`)
}

func TestExtraHandler(t *testing.T) {
	f := newFixture(t, WithHandler("/metrics/kafka", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("kafka"))
	})))
	resp := f.get(t, "/metrics/kafka")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "kafka", string(body))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	repo := ledger.NewMemoryRepository()
	svc, err := ledger.New(repo)
	require.NoError(t, err)
	s := New(svc, reconcile.New(repo))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
