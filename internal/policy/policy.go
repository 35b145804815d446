// Package policy bounds offline exposure with pure limit checks.
//
// All functions are total over int64 inputs and perform no I/O, so the same
// checks run on the device before commit and on the server before settlement
// (where they are authoritative).
package policy

import (
	"errors"
	"fmt"

	"github.com/roach88/offpay/internal/payment"
)

// Default limits, in minor currency units.
const (
	DefaultPerTxLimit      int64 = 500
	DefaultWalletMax       int64 = 2000
	DefaultDailySpendLimit int64 = 4000
)

// Reason identifies which check failed.
type Reason string

const (
	ReasonInvalidAmount       Reason = "invalid_amount"
	ReasonPerTxLimit          Reason = "per_tx_limit"
	ReasonDailyLimit          Reason = "daily_limit"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonWalletLimit         Reason = "wallet_limit"
)

// Limits are the configured exposure bounds.
type Limits struct {
	PerTx     int64
	Daily     int64
	WalletMax int64
}

// DefaultLimits returns the documented defaults.
func DefaultLimits() Limits {
	return Limits{
		PerTx:     DefaultPerTxLimit,
		Daily:     DefaultDailySpendLimit,
		WalletMax: DefaultWalletMax,
	}
}

// Validate rejects non-positive limits.
func (l Limits) Validate() error {
	if l.PerTx <= 0 || l.Daily <= 0 || l.WalletMax <= 0 {
		return fmt.Errorf("policy limits must be positive: %+v", l)
	}
	return nil
}

// Violation describes a failed check.
type Violation struct {
	Reason    Reason
	Limit     int64
	Attempted int64
}

// Error renders an actionable message.
func (v *Violation) Error() string {
	switch v.Reason {
	case ReasonInvalidAmount:
		return fmt.Sprintf("amount %d must be positive", v.Attempted)
	case ReasonPerTxLimit:
		return fmt.Sprintf("amount %d exceeds per-transaction limit of %d", v.Attempted, v.Limit)
	case ReasonDailyLimit:
		return fmt.Sprintf("payment would bring today's spending to %d, over the daily limit of %d", v.Attempted, v.Limit)
	case ReasonInsufficientBalance:
		return fmt.Sprintf("amount %d exceeds wallet balance of %d", v.Attempted, v.Limit)
	case ReasonWalletLimit:
		return fmt.Sprintf("wallet balance would reach %d, over the wallet limit of %d", v.Attempted, v.Limit)
	default:
		return string(v.Reason)
	}
}

// AsError converts v into a payment PolicyViolation, or nil.
func (v *Violation) AsError() error {
	if v == nil {
		return nil
	}
	kind := payment.KindPolicy
	if v.Reason == ReasonInvalidAmount {
		kind = payment.KindValidation
	}
	return &payment.Error{Kind: kind, Message: v.Error(), Err: v}
}

// ReasonOf extracts the violation reason from err, if any.
func ReasonOf(err error) Reason {
	var v *Violation
	if errors.As(err, &v) {
		return v.Reason
	}
	return ""
}

// CheckPerTxLimit fails if amount <= 0 or amount > PerTx.
func (l Limits) CheckPerTxLimit(amount int64) *Violation {
	if amount <= 0 {
		return &Violation{Reason: ReasonInvalidAmount, Attempted: amount}
	}
	if amount > l.PerTx {
		return &Violation{Reason: ReasonPerTxLimit, Limit: l.PerTx, Attempted: amount}
	}
	return nil
}

// CheckDailyLimit fails if spentToday + amount > Daily. A negative
// spentToday counts as nothing spent.
func (l Limits) CheckDailyLimit(spentToday, amount int64) *Violation {
	spentToday = max(spentToday, 0)
	// Compare without overflowing: spentToday + amount > Daily.
	if amount > l.Daily-spentToday {
		return &Violation{Reason: ReasonDailyLimit, Limit: l.Daily, Attempted: saturatingAdd(spentToday, amount)}
	}
	return nil
}

// CheckWalletBalance fails if amount > balance.
func (l Limits) CheckWalletBalance(balance, amount int64) *Violation {
	if amount > balance {
		return &Violation{Reason: ReasonInsufficientBalance, Limit: balance, Attempted: amount}
	}
	return nil
}

// CheckWalletLoadLimit fails if loadAmount <= 0 or currentBalance + loadAmount > WalletMax.
// A negative currentBalance counts as empty.
func (l Limits) CheckWalletLoadLimit(currentBalance, loadAmount int64) *Violation {
	currentBalance = max(currentBalance, 0)
	if loadAmount <= 0 {
		return &Violation{Reason: ReasonInvalidAmount, Attempted: loadAmount}
	}
	if loadAmount > l.WalletMax-currentBalance {
		return &Violation{Reason: ReasonWalletLimit, Limit: l.WalletMax, Attempted: saturatingAdd(currentBalance, loadAmount)}
	}
	return nil
}

// Decision is the outcome of a composed validation.
type Decision struct {
	Allowed   bool
	Violation *Violation
}

// Err returns the decision as an error, nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return d.Violation.AsError()
}

func decide(checks ...func() *Violation) Decision {
	for _, check := range checks {
		if v := check(); v != nil {
			return Decision{Violation: v}
		}
	}
	return Decision{Allowed: true}
}

// ValidateOfflinePayment checks an outgoing payment: per-transaction limit,
// then daily limit, then balance. The first failure short-circuits.
func (l Limits) ValidateOfflinePayment(amount, spentToday, balance int64) Decision {
	return decide(
		func() *Violation { return l.CheckPerTxLimit(amount) },
		func() *Violation { return l.CheckDailyLimit(spentToday, amount) },
		func() *Violation { return l.CheckWalletBalance(balance, amount) },
	)
}

// ValidateIncomingPayment checks a received payment: per-transaction limit,
// then the wallet ceiling.
func (l Limits) ValidateIncomingPayment(amount, balance int64) Decision {
	return decide(
		func() *Violation { return l.CheckPerTxLimit(amount) },
		func() *Violation { return l.CheckWalletLoadLimit(balance, amount) },
	)
}

// ValidateSettlement is the server-side subset: the server cannot see the
// device balance, so it enforces per-transaction and daily limits only.
func (l Limits) ValidateSettlement(amount, spentToday int64) Decision {
	return decide(
		func() *Violation { return l.CheckPerTxLimit(amount) },
		func() *Violation { return l.CheckDailyLimit(spentToday, amount) },
	)
}

func saturatingAdd(a, b int64) int64 {
	const maxInt64 = int64(^uint64(0) >> 1)
	if b > 0 && a > maxInt64-b {
		return maxInt64
	}
	return a + b
}
