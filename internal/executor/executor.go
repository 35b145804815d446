package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/journal"
	"github.com/roach88/offpay/internal/lock"
	"github.com/roach88/offpay/internal/nonce"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/policy"
	"github.com/roach88/offpay/internal/store"
)

// Commit step names, recorded on payment.Error.Step.
const (
	StepValidate   = "validate"
	StepLock       = "lock"
	StepPolicy     = "policy"
	StepNonce      = "nonce"
	StepJournal    = "journal"
	StepPersist    = "persist"
	StepEnqueue    = "enqueue"
	StepProjection = "projection"
	StepFinalize   = "finalize"
)

// DefaultRecentLimit is the number of transactions kept in the session projection.
const DefaultRecentLimit = 20

// spendWindow is the trailing window for the daily limit.
const spendWindow = 24 * time.Hour

// Ledger is the durable state the executor mutates. Implemented by *store.Store.
type Ledger interface {
	InsertTransaction(ctx context.Context, tx payment.Transaction) error
	PutTransaction(ctx context.Context, tx payment.Transaction) error
	GetTransaction(ctx context.Context, id string) (payment.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	ListTransactions(ctx context.Context, limit int) ([]payment.Transaction, error)
	Balance(ctx context.Context) (int64, error)
	SpentSince(ctx context.Context, since time.Time) (int64, error)
	Enqueue(ctx context.Context, txID string, payload payment.SyncPayload, at time.Time) error
	Dequeue(ctx context.Context, txID string) error
	IsQueued(ctx context.Context, txID string) (bool, error)
	InsertLoad(ctx context.Context, load payment.WalletLoad) error
}

// PolicyContext carries spending figures the caller already has.
// A nil PolicyContext makes the executor derive them from the ledger.
type PolicyContext struct {
	SpentToday int64
	Balance    int64
}

// Session is the in-memory projection shown to the user. It is rebuilt from
// the ledger after every commit and sync, never edited in place.
type Session struct {
	Balance    int64                 `json:"balance"`
	SpentToday int64                 `json:"spent_today"`
	Recent     []payment.Transaction `json:"recent"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// Executor performs atomic local commits.
type Executor struct {
	ledger  Ledger
	journal *journal.Journal
	nonces  *nonce.Registry
	lock    *lock.Lock
	limits  policy.Limits
	clock   clock.Clock
	ids     payment.IDGenerator
	logger  *slog.Logger
	recent  int

	mu      sync.RWMutex
	session Session
	trigger func()
}

// Option configures an Executor.
type Option func(*Executor)

// WithLimits overrides the default policy limits.
func WithLimits(l policy.Limits) Option {
	return func(e *Executor) { e.limits = l }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithIDs sets the transaction id generator.
func WithIDs(g payment.IDGenerator) Option {
	return func(e *Executor) { e.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithRecentLimit sets how many transactions the session keeps.
func WithRecentLimit(n int) Option {
	return func(e *Executor) { e.recent = n }
}

// WithTrigger registers the hook fired after each successful commit.
func WithTrigger(fn func()) Option {
	return func(e *Executor) { e.trigger = fn }
}

// New creates an executor. The ledger, journal, nonce registry and lock are
// mandatory: without durable storage there is nothing to commit to.
func New(ledger Ledger, j *journal.Journal, nonces *nonce.Registry, lk *lock.Lock, opts ...Option) (*Executor, error) {
	switch {
	case ledger == nil:
		return nil, errors.New("executor: ledger is required")
	case j == nil:
		return nil, errors.New("executor: journal is required")
	case nonces == nil:
		return nil, errors.New("executor: nonce registry is required")
	case lk == nil:
		return nil, errors.New("executor: lock is required")
	}

	e := &Executor{
		ledger:  ledger,
		journal: j,
		nonces:  nonces,
		lock:    lk,
		limits:  policy.DefaultLimits(),
		clock:   clock.System{},
		ids:     payment.UUIDv7{},
		logger:  slog.Default(),
		recent:  DefaultRecentLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.limits.Validate(); err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	return e, nil
}

// SetTrigger replaces the post-commit hook. Safe for concurrent use.
func (e *Executor) SetTrigger(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trigger = fn
}

// Lock exposes the exclusivity lock shared with the sync engine.
func (e *Executor) Lock() *lock.Lock {
	return e.lock
}

// Limits returns the configured policy limits.
func (e *Executor) Limits() policy.Limits {
	return e.limits
}

type undoStep struct {
	step string
	fn   func(context.Context) error
}

// Commit atomically records d. On success it returns the new transaction id;
// on failure a *payment.Error naming the failed step, with every completed
// step undone.
func (e *Executor) Commit(ctx context.Context, d payment.Draft, pctx *PolicyContext) (string, error) {
	if err := d.Validate(); err != nil {
		return "", payment.Wrap(payment.KindValidation, StepValidate, err)
	}

	// Step 1
	release, err := e.lock.Acquire(ctx, "commit")
	if err != nil {
		return "", &payment.Error{Kind: payment.KindDurability, Step: StepLock, Message: "acquire lock", Err: err}
	}
	defer release()

	// Step 2
	if err := e.checkPolicy(ctx, d, pctx); err != nil {
		return "", payment.Wrap(payment.KindPolicy, StepPolicy, err)
	}

	// Once state is touched the commit finishes or rolls back; the
	// caller's cancellation no longer applies.
	wctx := context.WithoutCancel(ctx)
	now := e.clock.Now()
	tx := payment.Transaction{
		ID:               e.ids.NewID(),
		ClientTxID:       d.ClientTxID,
		Nonce:            d.Nonce,
		Direction:        d.Direction,
		SenderAddress:    d.SenderAddress,
		RecipientAddress: d.RecipientAddress,
		Amount:           d.Amount,
		Currency:         d.Currency,
		Intent:           d.Intent,
		Metadata:         d.Metadata,
		Mode:             payment.ModeOffline,
		Status:           payment.StatusQueued,
		SettlementState:  payment.StateAcceptedOffline,
		Signature:        d.Signature,
		CounterSignature: d.CounterSignature,
		IssuedAt:         d.IssuedAt,
		CreatedAt:        now,
	}
	log := e.logger.With("tx_id", tx.ID, "direction", tx.Direction)

	var undo []undoStep
	fail := func(kind payment.Kind, step string, err error) (string, error) {
		e.rollback(wctx, log, undo)
		log.Warn("commit failed", "step", step, "error", err)
		return "", payment.Wrap(kind, step, err)
	}

	// Step 3
	if err := e.nonces.Register(wctx, d.Nonce); err != nil {
		return fail(payment.KindDurability, StepNonce, err)
	}
	undo = append(undo, undoStep{StepNonce, func(ctx context.Context) error {
		return e.nonces.Unregister(ctx, d.Nonce)
	}})

	// Step 4
	if _, err := e.journal.Write(wctx, payment.JournalEntry{
		TxID:      tx.ID,
		Kind:      payment.JournalCommit,
		Timestamp: now,
		Snapshot:  tx,
		Payload:   d.Payload,
	}); err != nil {
		return fail(payment.KindDurability, StepJournal, err)
	}
	undo = append(undo, undoStep{StepJournal, func(ctx context.Context) error {
		return e.journal.MarkRolledBack(ctx, tx.ID)
	}})

	// Step 5
	if err := e.ledger.InsertTransaction(wctx, tx); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fail(payment.KindDuplicateNonce, StepPersist, &payment.Error{
				Kind: payment.KindDuplicateNonce, Message: "payment already recorded", Err: err,
			})
		}
		return fail(payment.KindDurability, StepPersist, err)
	}
	// The pre-write snapshot had no row for this id.
	undo = append(undo, undoStep{StepPersist, func(ctx context.Context) error {
		return e.ledger.DeleteTransaction(ctx, tx.ID)
	}})
	if err := e.verifyPersisted(wctx, tx); err != nil {
		return fail(payment.KindDurability, StepPersist, err)
	}

	// Step 6
	if err := e.ledger.Enqueue(wctx, tx.ID, d.Payload, now); err != nil {
		return fail(payment.KindDurability, StepEnqueue, err)
	}
	undo = append(undo, undoStep{StepEnqueue, func(ctx context.Context) error {
		return e.ledger.Dequeue(ctx, tx.ID)
	}})

	// Step 7
	if err := e.RefreshSession(wctx); err != nil {
		log.Warn("session projection not rebuilt", "step", StepProjection, "error", err)
	}

	// Step 8
	if err := e.journal.MarkCommitted(wctx, tx.ID); err != nil {
		// Durable effects are complete; recovery will mark the entry.
		log.Error("journal entry left started", "step", StepFinalize, "error", err)
	}
	if _, err := e.nonces.Trim(wctx); err != nil {
		log.Warn("nonce registry not trimmed", "step", StepFinalize, "error", err)
	}
	release()
	log.Info("payment committed", "amount", tx.Amount, "client_tx_id", tx.ClientTxID)
	e.fireTrigger()

	return tx.ID, nil
}

func (e *Executor) checkPolicy(ctx context.Context, d payment.Draft, pctx *PolicyContext) error {
	var spent, balance int64
	if pctx != nil {
		if pctx.SpentToday < 0 || pctx.Balance < 0 {
			return payment.Errorf(payment.KindValidation, "policy context must not be negative: spent %d, balance %d", pctx.SpentToday, pctx.Balance)
		}
		spent, balance = pctx.SpentToday, pctx.Balance
	} else {
		var err error
		if balance, err = e.ledger.Balance(ctx); err != nil {
			return &payment.Error{Kind: payment.KindDurability, Message: "read balance", Err: err}
		}
		if d.Direction == payment.Outgoing {
			if spent, err = e.ledger.SpentSince(ctx, e.clock.Now().Add(-spendWindow)); err != nil {
				return &payment.Error{Kind: payment.KindDurability, Message: "read spent today", Err: err}
			}
		}
	}

	var decision policy.Decision
	if d.Direction == payment.Outgoing {
		decision = e.limits.ValidateOfflinePayment(d.Amount, spent, balance)
	} else {
		decision = e.limits.ValidateIncomingPayment(d.Amount, balance)
	}
	return decision.Err()
}

func (e *Executor) verifyPersisted(ctx context.Context, want payment.Transaction) error {
	got, err := e.ledger.GetTransaction(ctx, want.ID)
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	if got.ID != want.ID || got.Nonce != want.Nonce || got.Amount != want.Amount ||
		got.SettlementState != want.SettlementState || got.Signature != want.Signature {
		return fmt.Errorf("read back: stored transaction %s does not match", want.ID)
	}
	return nil
}

// rollback runs undo steps in reverse order. Failures are logged; a started
// journal entry left behind is resolved by recovery.
func (e *Executor) rollback(ctx context.Context, log *slog.Logger, undo []undoStep) {
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i].fn(ctx); err != nil {
			log.Error("rollback step failed", "step", undo[i].step, "error", err)
		}
	}
}

func (e *Executor) fireTrigger() {
	e.mu.RLock()
	fn := e.trigger
	e.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
