package harness

import (
	"context"
	"fmt"

	"github.com/roach88/offpay/internal/ledger"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/policy"
	"github.com/roach88/offpay/internal/syncer"
)

// AssertionError describes a mismatch between expected and actual state.
type AssertionError struct {
	Subject  string
	Expected any
	Actual   any
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %v, got %v", e.Subject, e.Expected, e.Actual)
}

func (w *world) checkOutcome(i int, want *Expect, err error) {
	if want == nil || want.Error == "" {
		if err != nil {
			w.result.AddError(fmt.Sprintf("flow[%d]: unexpected error: %v", i, err))
		}
		return
	}
	if err == nil {
		w.result.AddError(fmt.Sprintf("flow[%d]: expected %s error, step succeeded", i, want.Error))
		return
	}
	if got := string(payment.KindOf(err)); got != want.Error {
		w.result.AddError(fmt.Sprintf("flow[%d]: %v", i, &AssertionError{Subject: "error kind", Expected: want.Error, Actual: got}))
	}
	if want.Reason != "" {
		if got := string(policy.ReasonOf(err)); got != want.Reason {
			w.result.AddError(fmt.Sprintf("flow[%d]: %v", i, &AssertionError{Subject: "policy reason", Expected: want.Reason, Actual: got}))
		}
	}
}

func (w *world) checkCounts(i int, want *Expect, res syncer.Result) {
	if want == nil {
		return
	}
	for _, c := range []struct {
		name string
		want *int
		got  int
	}{
		{"settled", want.Settled, res.Settled},
		{"rejected", want.Rejected, res.Rejected},
		{"expired", want.Expired, res.Expired},
		{"failed", want.Failed, res.Failed},
	} {
		if c.want != nil && *c.want != c.got {
			w.result.AddError(fmt.Sprintf("flow[%d]: %v", i, &AssertionError{Subject: c.name, Expected: *c.want, Actual: c.got}))
		}
	}
}

func (w *world) check(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertBalance:
		got, err := w.devices[a.Device].store.Balance(ctx)
		if err != nil {
			return err
		}
		if got != *a.Value {
			return &AssertionError{Subject: a.Device + " balance", Expected: *a.Value, Actual: got}
		}
	case AssertQueued:
		items, err := w.devices[a.Device].store.Queued(ctx)
		if err != nil {
			return err
		}
		if int64(len(items)) != *a.Value {
			return &AssertionError{Subject: a.Device + " queue", Expected: *a.Value, Actual: len(items)}
		}
	case AssertState:
		ref := w.payments[a.Payment]
		if ref == nil {
			return fmt.Errorf("payment %q was never committed", a.Payment)
		}
		txID, ok := ref.txIDs[a.Device]
		if !ok {
			return fmt.Errorf("payment %q was never committed on %s", a.Payment, a.Device)
		}
		tx, err := w.devices[a.Device].store.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if string(tx.SettlementState) != a.State {
			return &AssertionError{Subject: fmt.Sprintf("%s state of %s", a.Device, a.Payment), Expected: a.State, Actual: tx.SettlementState}
		}
	case AssertLedger:
		records, err := w.repo.List(ctx, ledger.Filter{})
		if err != nil {
			return err
		}
		clientTxID := ""
		if a.Payment != "" {
			ref := w.payments[a.Payment]
			if ref == nil {
				return fmt.Errorf("payment %q was never committed", a.Payment)
			}
			clientTxID = ref.clientTxID
		}
		n := 0
		for _, rec := range records {
			if clientTxID != "" && rec.ClientTxID != clientTxID {
				continue
			}
			if a.Status != "" && string(rec.Status) != a.Status {
				continue
			}
			n++
		}
		if int64(n) != *a.Value {
			return &AssertionError{Subject: "ledger records", Expected: *a.Value, Actual: n}
		}
	}
	return nil
}
