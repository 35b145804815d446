package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/offpay/internal/journal"
	"github.com/roach88/offpay/internal/lock"
	"github.com/roach88/offpay/internal/nonce"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/store"
	"github.com/roach88/offpay/internal/testutil"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

var errInjected = errors.New("injected fault")

// faultyStore fails the operation named by failAt.
type faultyStore struct {
	*store.Store
	failAt string
}

func (f *faultyStore) InsertNonce(ctx context.Context, n string, at time.Time) error {
	if f.failAt == "nonce" {
		return errInjected
	}
	return f.Store.InsertNonce(ctx, n, at)
}

func (f *faultyStore) AppendJournal(ctx context.Context, e payment.JournalEntry) (int64, error) {
	if f.failAt == "journal" {
		return 0, errInjected
	}
	return f.Store.AppendJournal(ctx, e)
}

func (f *faultyStore) InsertTransaction(ctx context.Context, tx payment.Transaction) error {
	if f.failAt == "persist" {
		return errInjected
	}
	return f.Store.InsertTransaction(ctx, tx)
}

func (f *faultyStore) GetTransaction(ctx context.Context, id string) (payment.Transaction, error) {
	tx, err := f.Store.GetTransaction(ctx, id)
	if f.failAt == "readback" && err == nil {
		tx.Amount++
	}
	return tx, err
}

func (f *faultyStore) Enqueue(ctx context.Context, txID string, p payment.SyncPayload, at time.Time) error {
	if f.failAt == "enqueue" {
		return errInjected
	}
	return f.Store.Enqueue(ctx, txID, p, at)
}

func (f *faultyStore) SetJournalStatus(ctx context.Context, txID string, s payment.JournalStatus) error {
	if f.failAt == "finalize" && s == payment.JournalCommitted {
		return errInjected
	}
	return f.Store.SetJournalStatus(ctx, txID, s)
}

type harness struct {
	exec     *Executor
	store    *faultyStore
	clock    *testutil.ManualClock
	journal  *journal.Journal
	nonces   *nonce.Registry
	triggers atomic.Int32
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWithNonceCapacity(t, 0, opts...)
}

// newHarnessWithNonceCapacity bounds the nonce registry at capacity
// (<= 0 uses the default).
func newHarnessWithNonceCapacity(t *testing.T, capacity int, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store: &faultyStore{Store: testutil.OpenStore(t)},
		clock: testutil.NewManualClock(epoch),
	}
	h.journal = journal.New(h.store, 0, h.clock, nil)
	h.nonces = nonce.New(h.store, capacity, h.clock)

	base := []Option{
		WithClock(h.clock),
		WithIDs(testutil.NewSequence("tx")),
		WithTrigger(func() { h.triggers.Add(1) }),
	}
	exec, err := New(h.store, h.journal, h.nonces, lock.New(), append(base, opts...)...)
	require.NoError(t, err)
	h.exec = exec
	return h
}

func (h *harness) load(t *testing.T, amount int64) {
	t.Helper()
	_, err := h.exec.Load(context.Background(), amount)
	require.NoError(t, err)
}

func draft(n int, amount int64) payment.Draft {
	nonceHex := testutil.Nonce(n)
	return payment.Draft{
		ClientTxID:       "client-" + nonceHex,
		Nonce:            nonceHex,
		Direction:        payment.Outgoing,
		SenderAddress:    "alice@offpay",
		RecipientAddress: "shop@offpay",
		Amount:           amount,
		Currency:         "BDT",
		Intent:           payment.Intent{Code: payment.IntentMerchant, Label: "tea"},
		Signature:        "payer-sig",
		CounterSignature: "payee-sig",
		IssuedAt:         epoch.Add(-time.Minute),
		Payload: payment.SyncPayload{
			QRPayload: "receipt",
			Signature: "payer-sig",
			Nonce:     nonceHex,
			PublicKey: "payer-pk",
		},
	}
}

func (f *faultyStore) PutTransaction(ctx context.Context, tx payment.Transaction) error {
	if f.failAt == "put" {
		return errInjected
	}
	return f.Store.PutTransaction(ctx, tx)
}
