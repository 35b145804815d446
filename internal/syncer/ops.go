package syncer

import (
	"context"
	"fmt"

	"github.com/roach88/offpay/internal/handshake"
	"github.com/roach88/offpay/internal/payment"
)

// Reverse moves a rejected transaction to reversed, returning its amount to
// the balance. The change is journaled so a crash mid-way is replayed.
func (e *Engine) Reverse(ctx context.Context, txID string) (payment.Transaction, error) {
	release, err := e.lock.Acquire(ctx, "reverse")
	if err != nil {
		return payment.Transaction{}, fmt.Errorf("reverse: acquire lock: %w", err)
	}
	defer release()

	tx, err := e.ledger.GetTransaction(ctx, txID)
	if err != nil {
		return payment.Transaction{}, fmt.Errorf("reverse %s: %w", txID, err)
	}
	if err := tx.SettlementState.Transition(payment.StateReversed); err != nil {
		return payment.Transaction{}, err
	}

	wctx := context.WithoutCancel(ctx)
	tx.SettlementState = payment.StateReversed
	tx.Status = payment.StatusFailed
	if _, err := e.journal.Write(wctx, payment.JournalEntry{
		TxID:     tx.ID,
		Kind:     payment.JournalReversal,
		Snapshot: tx,
	}); err != nil {
		return payment.Transaction{}, err
	}
	if err := e.ledger.PutTransaction(wctx, tx); err != nil {
		if rerr := e.journal.MarkRolledBack(wctx, tx.ID); rerr != nil {
			e.logger.Error("reversal journal entry left started", "tx_id", tx.ID, "error", rerr)
		}
		return payment.Transaction{}, &payment.Error{Kind: payment.KindDurability, Message: "record reversal", Err: err}
	}
	if err := e.journal.MarkCommitted(wctx, tx.ID); err != nil {
		e.logger.Error("reversal journal entry left started", "tx_id", tx.ID, "error", err)
	}
	e.logger.Info("payment reversed", "tx_id", tx.ID, "amount", tx.Amount)
	e.refresh(wctx)
	return tx, nil
}

// Prune deletes settled records older than the retention window.
func (e *Engine) Prune(ctx context.Context) (int64, error) {
	release, err := e.lock.Acquire(ctx, "prune")
	if err != nil {
		return 0, fmt.Errorf("prune: acquire lock: %w", err)
	}
	defer release()

	n, err := e.ledger.PruneSettled(ctx, e.clock.Now().Add(-e.retention))
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	if n > 0 {
		e.logger.Info("settled records pruned", "count", n)
		e.refresh(ctx)
	}
	return n, nil
}

// RecordAccept tells the ledger about a freshly committed offline payment
// before it is settled. Failure is harmless: sync delivers the record anyway.
func (e *Engine) RecordAccept(ctx context.Context, txID string) (payment.OfflineAcceptResult, error) {
	req, err := e.offlineAccept(ctx, txID)
	if err != nil {
		return payment.OfflineAcceptResult{}, err
	}
	res, err := e.service.RecordOfflineAccept(ctx, req)
	if err != nil {
		e.logger.Debug("offline accept not recorded", "tx_id", txID, "error", err)
		return payment.OfflineAcceptResult{}, fmt.Errorf("record offline accept: %w", err)
	}
	return res, nil
}

func (e *Engine) offlineAccept(ctx context.Context, txID string) (payment.OfflineAccept, error) {
	tx, err := e.ledger.GetTransaction(ctx, txID)
	if err != nil {
		return payment.OfflineAccept{}, fmt.Errorf("record offline accept: %w", err)
	}
	entries, err := e.journal.Entries(ctx, txID)
	if err != nil {
		return payment.OfflineAccept{}, fmt.Errorf("record offline accept: %w", err)
	}
	var qr string
	for _, entry := range entries {
		if entry.Kind == payment.JournalCommit {
			qr = entry.Payload.QRPayload
			break
		}
	}
	if qr == "" {
		return payment.OfflineAccept{}, fmt.Errorf("record offline accept: no receipt journaled for %s", txID)
	}
	rcpt, err := handshake.DecodeReceipt(qr)
	if err != nil {
		return payment.OfflineAccept{}, fmt.Errorf("record offline accept: %w", err)
	}

	req := payment.OfflineAccept{
		ClientTxID:        tx.ClientTxID,
		Nonce:             rcpt.OriginalRequest.Nonce,
		SenderAddress:     rcpt.PayerAddress,
		ReceiverAddress:   rcpt.PayeeAddress,
		Amount:            rcpt.Amount,
		Intent:            rcpt.Intent,
		AcceptedAt:        rcpt.ApprovedAt,
		ExpiresAt:         rcpt.OriginalRequest.ExpiresAt,
		SenderSignature:   rcpt.Signature,
		ReceiverSignature: rcpt.PayeeSignature,
		Proof:             qr,
	}
	if tx.Direction == payment.Outgoing {
		req.SenderDeviceID = e.deviceID
	} else {
		req.ReceiverDeviceID = e.deviceID
	}
	return req, nil
}
