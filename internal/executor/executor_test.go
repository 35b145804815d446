package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offpay/internal/journal"
	"github.com/roach88/offpay/internal/lock"
	"github.com/roach88/offpay/internal/nonce"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/policy"
	"github.com/roach88/offpay/internal/store"
	"github.com/roach88/offpay/internal/testutil"
)

func TestNewRequiresDurableState(t *testing.T) {
	s := testutil.OpenStore(t)
	j := journal.New(s, 0, nil, nil)
	n := nonce.New(s, 0, nil)
	lk := lock.New()

	_, err := New(nil, j, n, lk)
	assert.Error(t, err)
	_, err = New(s, nil, n, lk)
	assert.Error(t, err)
	_, err = New(s, j, nil, lk)
	assert.Error(t, err)
	_, err = New(s, j, n, nil)
	assert.Error(t, err)
	_, err = New(s, j, n, lk, WithLimits(policy.Limits{}))
	assert.Error(t, err)

	_, err = New(s, j, n, lk)
	assert.NoError(t, err)
}

func TestScenarioA_OfflinePaymentAccepted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.load(t, 1000)

	txID, err := h.exec.Commit(ctx, draft(1, 200), nil)
	require.NoError(t, err)
	assert.Equal(t, "tx-0002", txID) // tx-0001 went to the wallet load

	tx, err := h.store.GetTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, payment.StateAcceptedOffline, tx.SettlementState)
	assert.Equal(t, payment.StatusQueued, tx.Status)
	assert.Equal(t, payment.ModeOffline, tx.Mode)
	assert.Equal(t, epoch, tx.CreatedAt)

	queued, err := h.store.IsQueued(ctx, txID)
	require.NoError(t, err)
	assert.True(t, queued)

	balance, err := h.exec.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(800), balance)

	session := h.exec.Session()
	assert.Equal(t, int64(800), session.Balance)
	assert.Equal(t, int64(200), session.SpentToday)
	require.Len(t, session.Recent, 1)
	assert.Equal(t, txID, session.Recent[0].ID)

	entries, err := h.journal.Entries(ctx, txID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, payment.JournalCommitted, entries[0].Status)

	assert.Equal(t, int32(1), h.triggers.Load())
	assert.Equal(t, "", h.exec.Lock().Holder())
}

func TestScenarioB_PerTransactionLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.load(t, 1000)

	_, err := h.exec.Commit(ctx, draft(1, 600), nil)
	require.Error(t, err)
	assert.True(t, payment.IsKind(err, payment.KindPolicy))
	assert.Equal(t, StepPolicy, payment.StepOf(err))
	assert.Contains(t, payment.UserMessage(err), "per-transaction limit")
	assert.Equal(t, policy.ReasonPerTxLimit, policy.ReasonOf(err))

	assertNothingPersisted(t, h, draft(1, 600).Nonce)
	assert.Zero(t, h.triggers.Load())
}

func TestCommitUsesPolicyContext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// The ledger is empty; the caller-supplied figures decide.
	_, err := h.exec.Commit(ctx, draft(1, 100), &PolicyContext{SpentToday: 0, Balance: 500})
	require.NoError(t, err)

	_, err = h.exec.Commit(ctx, draft(2, 100), &PolicyContext{SpentToday: 3950, Balance: 500})
	assert.Equal(t, policy.ReasonDailyLimit, policy.ReasonOf(err))
}

func TestCommitRejectsNegativePolicyContext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, pctx := range []*PolicyContext{
		{SpentToday: -1 << 63, Balance: 500},
		{SpentToday: 0, Balance: -1},
	} {
		_, err := h.exec.Commit(ctx, draft(1, 100), pctx)
		require.Error(t, err)
		assert.True(t, payment.IsKind(err, payment.KindValidation), "kind = %s", payment.KindOf(err))
		assert.Equal(t, StepPolicy, payment.StepOf(err))
	}
	assertNothingPersisted(t, h, draft(1, 100).Nonce)
}

func TestCommitDerivesDailySpendFromLedger(t *testing.T) {
	h := newHarness(t, WithLimits(policy.Limits{PerTx: 500, Daily: 600, WalletMax: 5000}))
	ctx := context.Background()
	h.load(t, 2000)

	_, err := h.exec.Commit(ctx, draft(1, 400), nil)
	require.NoError(t, err)
	_, err = h.exec.Commit(ctx, draft(2, 300), nil)
	assert.Equal(t, policy.ReasonDailyLimit, policy.ReasonOf(err))

	// Outside the trailing window the earlier spend no longer counts.
	h.clock.Advance(25 * time.Hour)
	_, err = h.exec.Commit(ctx, draft(3, 300), nil)
	assert.NoError(t, err)
}

func TestCommitIncoming(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := draft(1, 300)
	d.Direction = payment.Incoming
	txID, err := h.exec.Commit(ctx, d, nil)
	require.NoError(t, err)

	// Incoming money is not spendable until settled.
	balance, _ := h.exec.Balance(ctx)
	assert.Zero(t, balance)

	tx, _ := h.store.GetTransaction(ctx, txID)
	assert.Equal(t, payment.Incoming, tx.Direction)
}

func TestCommitIncomingRespectsWalletCeiling(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.load(t, 1900)

	d := draft(1, 200)
	d.Direction = payment.Incoming
	_, err := h.exec.Commit(ctx, d, nil)
	assert.Equal(t, policy.ReasonWalletLimit, policy.ReasonOf(err))
}

func TestCommitRejectsInvalidDraft(t *testing.T) {
	h := newHarness(t)
	d := draft(1, 100)
	d.Signature = ""
	_, err := h.exec.Commit(context.Background(), d, nil)
	assert.True(t, payment.IsKind(err, payment.KindValidation))
	assert.Equal(t, StepValidate, payment.StepOf(err))
}

func TestReplayRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.load(t, 1000)

	first, err := h.exec.Commit(ctx, draft(1, 100), nil)
	require.NoError(t, err)

	_, err = h.exec.Commit(ctx, draft(1, 100), nil)
	require.Error(t, err)
	assert.True(t, payment.IsKind(err, payment.KindDuplicateNonce))
	assert.Equal(t, StepNonce, payment.StepOf(err))

	// The original commit is untouched by the rejected replay.
	_, err = h.store.GetTransaction(ctx, first)
	assert.NoError(t, err)
	seen, _ := h.nonces.Seen(ctx, draft(1, 100).Nonce)
	assert.True(t, seen)
	balance, _ := h.exec.Balance(ctx)
	assert.Equal(t, int64(900), balance)
}

func TestReplayRejectedAfterRegistryEviction(t *testing.T) {
	s := &faultyStore{Store: testutil.OpenStore(t)}
	clk := testutil.NewManualClock(epoch)
	exec, err := New(s, journal.New(s, 0, clk, nil), nonce.New(s, 1, clk), lock.New(),
		WithClock(clk), WithIDs(testutil.NewSequence("tx")))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = exec.Load(ctx, 1000)
	require.NoError(t, err)

	_, err = exec.Commit(ctx, draft(1, 100), nil)
	require.NoError(t, err)
	_, err = exec.Commit(ctx, draft(2, 100), nil) // evicts nonce 1 from the registry
	require.NoError(t, err)

	_, err = exec.Commit(ctx, draft(1, 100), nil)
	require.Error(t, err)
	assert.True(t, payment.IsKind(err, payment.KindDuplicateNonce))
	assert.Equal(t, StepPersist, payment.StepOf(err))

	balance, _ := exec.Balance(ctx)
	assert.Equal(t, int64(800), balance)
}

func TestRollbackAtEveryStep(t *testing.T) {
	tests := []struct {
		failAt string
		step   string
	}{
		{"nonce", StepNonce},
		{"journal", StepJournal},
		{"persist", StepPersist},
		{"readback", StepPersist},
		{"enqueue", StepEnqueue},
	}

	for _, tt := range tests {
		t.Run(tt.failAt, func(t *testing.T) {
			h := newHarness(t)
			h.load(t, 1000)
			h.store.failAt = tt.failAt

			d := draft(1, 200)
			_, err := h.exec.Commit(context.Background(), d, nil)
			require.Error(t, err)
			assert.True(t, payment.IsKind(err, payment.KindDurability), "kind = %s", payment.KindOf(err))
			assert.Equal(t, tt.step, payment.StepOf(err))
			assert.Equal(t, "The payment could not be saved on this device.", payment.UserMessage(err))

			h.store.failAt = ""
			assertNothingPersisted(t, h, d.Nonce)
			assert.Zero(t, h.triggers.Load())
			assert.Equal(t, "", h.exec.Lock().Holder())

			// The same payment can be retried once the fault clears.
			_, err = h.exec.Commit(context.Background(), d, nil)
			assert.NoError(t, err)
		})
	}
}

func TestRollbackAtCapacityKeepsRegistry(t *testing.T) {
	for _, failAt := range []string{"journal", "persist", "readback", "enqueue"} {
		t.Run(failAt, func(t *testing.T) {
			h := newHarnessWithNonceCapacity(t, 2)
			ctx := context.Background()
			h.load(t, 1000)

			for i := 1; i <= 2; i++ {
				_, err := h.exec.Commit(ctx, draft(i, 100), nil)
				require.NoError(t, err)
			}

			h.store.failAt = failAt
			_, err := h.exec.Commit(ctx, draft(3, 100), nil)
			require.Error(t, err)
			h.store.failAt = ""

			// The registry is exactly what it was before the failed commit.
			for i, want := range map[int]bool{1: true, 2: true, 3: false} {
				seen, err := h.nonces.Seen(ctx, draft(i, 100).Nonce)
				require.NoError(t, err)
				assert.Equal(t, want, seen, "nonce %d", i)
			}
			n, err := h.store.CountNonces(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// A successful commit evicts the oldest entry.
			_, err = h.exec.Commit(ctx, draft(3, 100), nil)
			require.NoError(t, err)
			seen, err := h.nonces.Seen(ctx, draft(1, 100).Nonce)
			require.NoError(t, err)
			assert.False(t, seen)
			n, err = h.store.CountNonces(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestFinalizeFailureLeavesCommitDurable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.load(t, 1000)
	h.store.failAt = "finalize"

	txID, err := h.exec.Commit(ctx, draft(1, 200), nil)
	require.NoError(t, err)

	pending, err := h.journal.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	h.store.failAt = ""
	report, err := h.exec.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{txID}, report.Completed)

	pending, _ = h.journal.Pending(ctx)
	assert.Empty(t, pending)
}

func TestCommitCancelledWhileWaitingForLock(t *testing.T) {
	h := newHarness(t)
	release, err := h.exec.Lock().Acquire(context.Background(), "sync")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.exec.Commit(ctx, draft(1, 100), &PolicyContext{Balance: 1000})
	require.Error(t, err)
	assert.Equal(t, StepLock, payment.StepOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoad(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	load, err := h.exec.Load(ctx, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), load.Amount)
	assert.Equal(t, int64(1500), h.exec.Session().Balance)

	_, err = h.exec.Load(ctx, 501)
	assert.Equal(t, policy.ReasonWalletLimit, policy.ReasonOf(err))
	assert.True(t, payment.IsKind(err, payment.KindPolicy))

	_, err = h.exec.Load(ctx, 0)
	assert.True(t, payment.IsKind(err, payment.KindValidation))
}

func TestCheck(t *testing.T) {
	h := newHarness(t)
	h.load(t, 300)

	d, err := h.exec.Check(context.Background(), 200)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = h.exec.Check(context.Background(), 400)
	require.NoError(t, err)
	assert.Equal(t, policy.ReasonInsufficientBalance, d.Violation.Reason)
}

func assertNothingPersisted(t *testing.T, h *harness, nonceHex string) {
	t.Helper()
	ctx := context.Background()

	txs, err := h.store.ListTransactions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, txs, "ledger rows left behind")

	queue, err := h.store.Queued(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue, "queue items left behind")

	seen, err := h.nonces.Seen(ctx, nonceHex)
	require.NoError(t, err)
	assert.False(t, seen, "nonce left registered")

	for _, status := range []payment.JournalStatus{payment.JournalStarted, payment.JournalCommitted} {
		entries, err := h.store.JournalByStatus(ctx, status)
		require.NoError(t, err)
		assert.Empty(t, entries, "%s journal entries left behind", status)
	}

	report, err := h.exec.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Total())
}

var _ Ledger = (*store.Store)(nil)
