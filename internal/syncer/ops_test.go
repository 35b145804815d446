package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offpay/internal/handshake"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/store"
)

func TestReverseRequiresRejected(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1000)
	id := h.pay(t, 200)

	_, err := h.engine.Reverse(context.Background(), id)
	require.Error(t, err)
	assert.True(t, payment.IsKind(err, payment.KindValidation))
	assert.Equal(t, payment.StateAcceptedOffline, h.tx(t, id).SettlementState)
}

func TestReverseUnknownTransaction(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Reverse(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPruneHonoursRetention(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.load(t, 1000)
	id := h.pay(t, 200)
	_, err := h.engine.SyncQueued(ctx)
	require.NoError(t, err)

	h.clock.Advance(6 * 24 * time.Hour)
	n, err := h.engine.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(2 * 24 * time.Hour)
	n, err = h.engine.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = h.store.GetTransaction(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordAccept(t *testing.T) {
	h := newHarness(t)
	h.load(t, 1000)
	id := h.pay(t, 200)
	tx := h.tx(t, id)

	res, err := h.engine.RecordAccept(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, h.ledger.accepts, 1)
	got := h.ledger.accepts[0]
	require.NoError(t, got.Validate())
	assert.Equal(t, tx.ClientTxID, got.ClientTxID)
	assert.Equal(t, "alice@offpay", got.SenderAddress)
	assert.Equal(t, "shop@offpay", got.ReceiverAddress)
	assert.Equal(t, int64(200), got.Amount)
	assert.Equal(t, "device-alice", got.SenderDeviceID)
	assert.Empty(t, got.ReceiverDeviceID)
	assert.Equal(t, tx.Signature, got.SenderSignature)
	assert.Equal(t, tx.CounterSignature, got.ReceiverSignature)

	rcpt, err := handshake.DecodeReceipt(got.Proof)
	require.NoError(t, err)
	require.NoError(t, handshake.VerifyReceipt(rcpt, nil))
	assert.Equal(t, rcpt.OriginalRequest.Nonce, got.Nonce)
}

func TestRecordAcceptUnknownTransaction(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.RecordAccept(context.Background(), "missing")
	assert.Error(t, err)
	assert.Empty(t, h.ledger.accepts)
}
