package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/offpay/internal/executor"
	"github.com/roach88/offpay/internal/handshake"
	"github.com/roach88/offpay/internal/journal"
	"github.com/roach88/offpay/internal/lock"
	"github.com/roach88/offpay/internal/nonce"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/store"
	"github.com/roach88/offpay/internal/testutil"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// fakeLedger records submissions and answers through respond.
type fakeLedger struct {
	mu      sync.Mutex
	calls   [][]payment.SyncPayload
	accepts []payment.OfflineAccept
	respond func([]payment.SyncPayload) ([]payment.SyncOutcome, error)
}

func (f *fakeLedger) Sync(_ context.Context, payloads []payment.SyncPayload) ([]payment.SyncOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, payloads)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		return respond(payloads)
	}
	return settleAll(payloads)
}

func (f *fakeLedger) RecordOfflineAccept(_ context.Context, req payment.OfflineAccept) (payment.OfflineAcceptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepts = append(f.accepts, req)
	return payment.OfflineAcceptResult{Success: true, Status: "accepted_offline", ClientTxID: req.ClientTxID}, nil
}

func (f *fakeLedger) setRespond(fn func([]payment.SyncPayload) ([]payment.SyncOutcome, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func settleAll(payloads []payment.SyncPayload) ([]payment.SyncOutcome, error) {
	out := make([]payment.SyncOutcome, len(payloads))
	for i := range payloads {
		id := fmt.Sprintf("srv-%d", i+1)
		out[i] = payment.SyncOutcome{TxID: &id, Status: payment.OutcomeSettled}
	}
	return out, nil
}

func rejectAll(reason string) func([]payment.SyncPayload) ([]payment.SyncOutcome, error) {
	return func(payloads []payment.SyncPayload) ([]payment.SyncOutcome, error) {
		out := make([]payment.SyncOutcome, len(payloads))
		for i := range payloads {
			out[i] = payment.SyncOutcome{Status: payment.OutcomeRejected, Reason: reason}
		}
		return out, nil
	}
}

type harness struct {
	store  *store.Store
	clock  *testutil.ManualClock
	lock   *lock.Lock
	exec   *executor.Executor
	engine *Engine
	ledger *fakeLedger
	payer  handshake.Party
	payee  handshake.Party
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:  testutil.OpenStore(t),
		clock:  testutil.NewManualClock(epoch),
		lock:   lock.New(),
		ledger: &fakeLedger{},
		payer:  handshake.Party{Address: "alice@offpay", Name: "Alice", Keys: testutil.KeyPair(t, "alice")},
		payee:  handshake.Party{Address: "shop@offpay", Name: "Corner Shop", Keys: testutil.KeyPair(t, "shop")},
	}
	j := journal.New(h.store, 0, h.clock, nil)
	exec, err := executor.New(h.store, j, nonce.New(h.store, 0, h.clock), h.lock,
		executor.WithClock(h.clock),
		executor.WithIDs(testutil.NewSequence("tx")),
	)
	require.NoError(t, err)
	h.exec = exec

	base := []Option{WithClock(h.clock), WithProjector(exec), WithDeviceID("device-alice")}
	h.engine = New(h.store, j, h.lock, h.ledger, append(base, opts...)...)
	return h
}

func (h *harness) load(t *testing.T, amount int64) {
	t.Helper()
	_, err := h.exec.Load(context.Background(), amount)
	require.NoError(t, err)
}

// pay runs a full handshake and commits the payer's side.
func (h *harness) pay(t *testing.T, amount int64) string {
	t.Helper()
	now := h.clock.Now()
	req, err := handshake.NewRequest(handshake.RequestParams{
		Amount:   amount,
		Currency: "BDT",
		Intent:   payment.Intent{Code: payment.IntentMerchant, Label: "tea"},
	}, h.payee, now)
	require.NoError(t, err)
	rcpt, err := handshake.Approve(req, h.payer, now)
	require.NoError(t, err)
	d, err := handshake.DraftFor(rcpt, payment.Outgoing)
	require.NoError(t, err)
	id, err := h.exec.Commit(context.Background(), d, nil)
	require.NoError(t, err)
	return id
}

func (h *harness) tx(t *testing.T, id string) payment.Transaction {
	t.Helper()
	tx, err := h.store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func (h *harness) queued(t *testing.T, id string) bool {
	t.Helper()
	ok, err := h.store.IsQueued(context.Background(), id)
	require.NoError(t, err)
	return ok
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	b, err := h.store.Balance(context.Background())
	require.NoError(t, err)
	return b
}
