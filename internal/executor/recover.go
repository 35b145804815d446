package executor

import (
	"context"
	"errors"

	"github.com/roach88/offpay/internal/journal"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/store"
)

// Recover resolves journal entries left started by a crash. Run it at
// startup before accepting commits.
func (e *Executor) Recover(ctx context.Context) (journal.Report, error) {
	release, err := e.lock.Acquire(ctx, "recover")
	if err != nil {
		return journal.Report{}, &payment.Error{Kind: payment.KindDurability, Step: StepLock, Message: "acquire lock", Err: err}
	}
	defer release()

	report, err := e.journal.Recover(ctx, replayer{e})
	if err != nil {
		return report, err
	}
	if _, err := e.nonces.Trim(ctx); err != nil {
		e.logger.Warn("nonce registry not trimmed", "error", err)
	}
	if report.Total() > 0 {
		e.logger.Info("journal recovered",
			"completed", len(report.Completed),
			"replayed", len(report.Replayed),
			"rolled_back", len(report.RolledBack))
	}
	if err := e.RefreshSession(ctx); err != nil {
		e.logger.Warn("session projection not rebuilt", "error", err)
	}
	return report, nil
}

// replayer applies journal snapshots to the ledger.
type replayer struct {
	e *Executor
}

func (r replayer) Applied(ctx context.Context, entry payment.JournalEntry) (bool, error) {
	tx, err := r.e.ledger.GetTransaction(ctx, entry.TxID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if entry.Kind == payment.JournalReversal {
		return tx.SettlementState == entry.Snapshot.SettlementState, nil
	}
	// A fresh commit is complete once it is also waiting in the queue.
	if tx.SettlementState == payment.StateAcceptedOffline {
		return r.e.ledger.IsQueued(ctx, entry.TxID)
	}
	return true, nil
}

func (r replayer) Replay(ctx context.Context, entry payment.JournalEntry) error {
	if entry.Kind == payment.JournalCommit {
		err := r.e.nonces.Register(ctx, entry.Snapshot.Nonce)
		if err != nil && !payment.IsKind(err, payment.KindDuplicateNonce) {
			return err
		}
	}
	if err := r.e.ledger.PutTransaction(ctx, entry.Snapshot); err != nil {
		return err
	}
	if entry.Kind == payment.JournalCommit && entry.Snapshot.SettlementState == payment.StateAcceptedOffline {
		return r.e.ledger.Enqueue(ctx, entry.TxID, entry.Payload, entry.Timestamp)
	}
	return nil
}

func (r replayer) Undo(ctx context.Context, entry payment.JournalEntry) error {
	if entry.Kind != payment.JournalCommit {
		// A reversal is a single upsert: the prior state is still in place.
		return nil
	}
	if err := r.e.ledger.Dequeue(ctx, entry.TxID); err != nil {
		return err
	}
	if err := r.e.ledger.DeleteTransaction(ctx, entry.TxID); err != nil {
		return err
	}
	return r.e.nonces.Unregister(ctx, entry.Snapshot.Nonce)
}
