package harness

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/offpay/internal/executor"
	"github.com/roach88/offpay/internal/handshake"
	"github.com/roach88/offpay/internal/journal"
	"github.com/roach88/offpay/internal/ledger"
	"github.com/roach88/offpay/internal/lock"
	"github.com/roach88/offpay/internal/nonce"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/policy"
	"github.com/roach88/offpay/internal/signer"
	"github.com/roach88/offpay/internal/store"
	"github.com/roach88/offpay/internal/syncer"
	"github.com/roach88/offpay/internal/testutil"
)

// Epoch is the time every scenario starts at.
var Epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// Currency used for scenario payments.
const Currency = "BDT"

type device struct {
	name  string
	party handshake.Party
	store *store.Store
	exec  *executor.Executor
	sync  *syncer.Engine
}

// paymentRef tracks a named payment across devices.
type paymentRef struct {
	clientTxID string
	receipt    handshake.Receipt
	request    handshake.Request
	txIDs      map[string]string // device name → local transaction id
}

type world struct {
	scenario *Scenario
	clock    *testutil.ManualClock
	repo     *ledger.MemoryRepository
	devices  map[string]*device
	payments map[string]*paymentRef
	result   *Result
}

// Run executes a scenario against fresh wallets and an in-process ledger.
//
// Setup failures (store, key derivation) are returned as errors; step and
// assertion mismatches are reported in the Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "offpay-scenario-")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	w, err := newWorld(scenario, dir)
	if err != nil {
		return nil, err
	}
	defer w.close()

	for i, step := range scenario.Flow {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w.step(ctx, i, step)
	}
	for i, a := range scenario.Assertions {
		if err := w.check(ctx, a); err != nil {
			w.result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return w.result, nil
}

func newWorld(s *Scenario, dir string) (*world, error) {
	clk := testutil.NewManualClock(Epoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deadline := syncer.DefaultDeadline
	if s.SyncDeadline != "" {
		deadline, _ = time.ParseDuration(s.SyncDeadline)
	}

	repo := ledger.NewMemoryRepository()
	svc, err := ledger.New(repo,
		ledger.WithLimits(s.ServerLimits.policy()),
		ledger.WithDeadline(deadline),
		ledger.WithClock(clk),
		ledger.WithIDs(testutil.NewSequence("L")),
		ledger.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}

	w := &world{
		scenario: s,
		clock:    clk,
		repo:     repo,
		devices:  make(map[string]*device, len(s.Devices)),
		payments: make(map[string]*paymentRef),
		result:   NewResult(),
	}
	for _, name := range s.Devices {
		d, err := newDevice(name, filepath.Join(dir, name+".db"), s.DeviceLimits.policy(), deadline, svc, clk, logger)
		if err != nil {
			w.close()
			return nil, err
		}
		w.devices[name] = d
	}
	return w, nil
}

func newDevice(name, path string, limits policy.Limits, deadline time.Duration, svc syncer.LedgerService, clk *testutil.ManualClock, logger *slog.Logger) (*device, error) {
	seed := sha256.Sum256([]byte("offpay-scenario-key/" + name))
	keys, err := signer.KeyPairFromSeed(seed[:])
	if err != nil {
		return nil, fmt.Errorf("derive key for %s: %w", name, err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", name, err)
	}

	logger = logger.With("device", name)
	j := journal.New(st, 0, clk, logger)
	lk := lock.New()
	exec, err := executor.New(st, j, nonce.New(st, 0, clk), lk,
		executor.WithLimits(limits),
		executor.WithClock(clk),
		executor.WithIDs(testutil.NewSequence(name)),
		executor.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create executor for %s: %w", name, err)
	}
	engine := syncer.New(st, j, lk, svc,
		syncer.WithClock(clk),
		syncer.WithDeadline(deadline),
		syncer.WithProjector(exec),
		syncer.WithDeviceID("device-"+name),
		syncer.WithLogger(logger),
	)
	return &device{
		name:  name,
		party: handshake.Party{Address: name + "@offpay", Name: name, Keys: keys},
		store: st,
		exec:  exec,
		sync:  engine,
	}, nil
}

func (w *world) close() {
	for _, d := range w.devices {
		d.store.Close()
	}
}

// step runs one flow step. Outcome mismatches go to the result.
func (w *world) step(ctx context.Context, i int, s Step) {
	ev := TraceEvent{Action: s.Action, Device: s.Device, Payment: s.Payment, Outcome: "ok"}
	var err error
	switch s.Action {
	case ActionLoad:
		_, err = w.devices[s.Device].exec.Load(ctx, s.Amount)
		ev.Detail = map[string]any{"amount": s.Amount}
	case ActionPay:
		ev.Device = s.From
		ev.Detail = map[string]any{"to": s.To, "amount": s.Amount}
		err = w.pay(ctx, s)
	case ActionAccept:
		if w.payments[s.Payment] == nil {
			w.result.AddError(fmt.Sprintf("flow[%d]: payment %q was never committed", i, s.Payment))
			break
		}
		err = w.accept(ctx, s)
	case ActionSync:
		var res syncer.Result
		res, err = w.devices[s.Device].sync.SyncQueued(ctx)
		ev.Detail = map[string]any{"settled": res.Settled, "rejected": res.Rejected, "expired": res.Expired, "failed": res.Failed}
		if err == nil {
			w.checkCounts(i, s.Expect, res)
		}
	case ActionReverse:
		var txID string
		if ref := w.payments[s.Payment]; ref != nil {
			txID = ref.txIDs[s.Device]
		}
		if txID == "" {
			w.result.AddError(fmt.Sprintf("flow[%d]: payment %q was never committed on %s", i, s.Payment, s.Device))
			break
		}
		_, err = w.devices[s.Device].sync.Reverse(ctx, txID)
	case ActionPrune:
		var n int64
		n, err = w.devices[s.Device].sync.Prune(ctx)
		ev.Detail = map[string]any{"pruned": n}
	case ActionAdvance:
		d, _ := time.ParseDuration(s.Duration)
		w.clock.Advance(d)
		ev.Detail = map[string]any{"duration": s.Duration}
	}

	if err != nil {
		ev.Outcome = string(payment.KindOf(err))
		if ev.Outcome == "" {
			ev.Outcome = "error"
		}
	}
	w.result.addTrace(ev)
	w.checkOutcome(i, s.Expect, err)
}

// pay runs the handshake: the payee requests, the payer approves and
// commits, then the payee verifies the receipt and commits.
func (w *world) pay(ctx context.Context, s Step) error {
	payer, payee := w.devices[s.From], w.devices[s.To]
	now := w.clock.Now()

	label := s.Label
	if label == "" {
		label = "scenario"
	}
	req, err := handshake.NewRequest(handshake.RequestParams{
		Amount:   s.Amount,
		Currency: Currency,
		Intent:   payment.Intent{Code: payment.IntentP2P, Label: label},
	}, payee.party, now)
	if err != nil {
		return err
	}
	rcpt, err := handshake.Approve(req, payer.party, now)
	if err != nil {
		return err
	}
	draft, err := handshake.DraftFor(rcpt, payment.Outgoing)
	if err != nil {
		return err
	}
	txID, err := payer.exec.Commit(ctx, draft, nil)
	if err != nil {
		return err
	}

	ref := &paymentRef{
		clientTxID: handshake.ClientTxID(req),
		receipt:    rcpt,
		request:    req,
		txIDs:      map[string]string{payer.name: txID},
	}
	if s.Payment != "" {
		w.payments[s.Payment] = ref
	}
	if s.PayerOnly {
		return nil
	}
	id, err := w.commitIncoming(ctx, payee, ref)
	if err != nil {
		return err
	}
	ref.txIDs[payee.name] = id
	return nil
}

// accept re-presents a known receipt to a device.
func (w *world) accept(ctx context.Context, s Step) error {
	ref := w.payments[s.Payment]
	id, err := w.commitIncoming(ctx, w.devices[s.Device], ref)
	if err != nil {
		return err
	}
	if _, ok := ref.txIDs[s.Device]; !ok {
		ref.txIDs[s.Device] = id
	}
	return nil
}

func (w *world) commitIncoming(ctx context.Context, payee *device, ref *paymentRef) (string, error) {
	if err := handshake.VerifyReceipt(ref.receipt, &ref.request); err != nil {
		return "", err
	}
	draft, err := handshake.DraftFor(ref.receipt, payment.Incoming)
	if err != nil {
		return "", err
	}
	return payee.exec.Commit(ctx, draft, nil)
}
