package executor

import (
	"context"
	"fmt"

	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/policy"
)

// Session returns a copy of the current projection.
func (e *Executor) Session() Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.session
	s.Recent = append([]payment.Transaction(nil), e.session.Recent...)
	return s
}

// RefreshSession rebuilds the projection from the durable ledger.
// It only reads, so callers may invoke it with or without the lock held.
func (e *Executor) RefreshSession(ctx context.Context) error {
	balance, err := e.ledger.Balance(ctx)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	now := e.clock.Now()
	spent, err := e.ledger.SpentSince(ctx, now.Add(-spendWindow))
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	recent, err := e.ledger.ListTransactions(ctx, e.recent)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}

	e.mu.Lock()
	e.session = Session{Balance: balance, SpentToday: spent, Recent: recent, UpdatedAt: now}
	e.mu.Unlock()
	return nil
}

// Balance reads the spendable balance from the ledger.
func (e *Executor) Balance(ctx context.Context) (int64, error) {
	balance, err := e.ledger.Balance(ctx)
	if err != nil {
		return 0, &payment.Error{Kind: payment.KindDurability, Message: "read balance", Err: err}
	}
	return balance, nil
}

// Load tops up the offline wallet by amount, bounded by the wallet ceiling.
func (e *Executor) Load(ctx context.Context, amount int64) (payment.WalletLoad, error) {
	release, err := e.lock.Acquire(ctx, "load")
	if err != nil {
		return payment.WalletLoad{}, &payment.Error{Kind: payment.KindDurability, Step: StepLock, Message: "acquire lock", Err: err}
	}
	defer release()

	balance, err := e.Balance(ctx)
	if err != nil {
		return payment.WalletLoad{}, err
	}
	if v := e.limits.CheckWalletLoadLimit(balance, amount); v != nil {
		return payment.WalletLoad{}, payment.Wrap(payment.KindPolicy, StepPolicy, v.AsError())
	}

	load := payment.WalletLoad{ID: e.ids.NewID(), Amount: amount, LoadedAt: e.clock.Now()}
	if err := e.ledger.InsertLoad(ctx, load); err != nil {
		return payment.WalletLoad{}, &payment.Error{Kind: payment.KindDurability, Step: StepPersist, Message: "record wallet load", Err: err}
	}
	if err := e.RefreshSession(ctx); err != nil {
		e.logger.Warn("session projection not rebuilt", "error", err)
	}
	e.logger.Info("wallet loaded", "amount", amount, "balance", balance+amount)
	return load, nil
}

// SpentToday sums outgoing payments in the trailing 24 hours.
func (e *Executor) SpentToday(ctx context.Context) (int64, error) {
	spent, err := e.ledger.SpentSince(ctx, e.clock.Now().Add(-spendWindow))
	if err != nil {
		return 0, &payment.Error{Kind: payment.KindDurability, Message: "read spent today", Err: err}
	}
	return spent, nil
}

// Check evaluates policy for an outgoing amount without committing.
func (e *Executor) Check(ctx context.Context, amount int64) (policy.Decision, error) {
	balance, err := e.Balance(ctx)
	if err != nil {
		return policy.Decision{}, err
	}
	spent, err := e.SpentToday(ctx)
	if err != nil {
		return policy.Decision{}, err
	}
	return e.limits.ValidateOfflinePayment(amount, spent, balance), nil
}
