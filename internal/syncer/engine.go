package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/journal"
	"github.com/roach88/offpay/internal/lock"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/store"
)

// Defaults for the engine's time windows.
const (
	DefaultDeadline  = 96 * time.Hour
	DefaultRetention = 7 * 24 * time.Hour
	DefaultInterval  = 30 * time.Second
)

// DefaultBatchSize is the most payloads sent in one LedgerService.Sync call.
// It stays below the ledger API's per-request cap.
const DefaultBatchSize = 100

// LedgerService is the remote settlement ledger.
type LedgerService interface {
	// Sync settles payloads; outcomes align with payloads by position.
	Sync(ctx context.Context, payloads []payment.SyncPayload) ([]payment.SyncOutcome, error)
	RecordOfflineAccept(ctx context.Context, req payment.OfflineAccept) (payment.OfflineAcceptResult, error)
}

// Ledger is the local state the engine reads and mutates. Implemented by *store.Store.
type Ledger interface {
	Queued(ctx context.Context) ([]store.QueueItem, error)
	GetTransaction(ctx context.Context, id string) (payment.Transaction, error)
	PutTransaction(ctx context.Context, tx payment.Transaction) error
	UpdateSettlement(ctx context.Context, id string, u store.SettlementUpdate) error
	Dequeue(ctx context.Context, txID string) error
	PruneSettled(ctx context.Context, before time.Time) (int64, error)
}

// Projector rebuilds the user-facing session after ledger changes.
type Projector interface {
	RefreshSession(ctx context.Context) error
}

// Rejection is a record the server refused for good.
type Rejection struct {
	TxID   string `json:"tx_id"`
	Reason string `json:"reason"`
}

// Result summarizes one sync pass.
type Result struct {
	Settled    int         `json:"settled"`
	Rejected   int         `json:"rejected"`
	Expired    int         `json:"expired"`
	Failed     int         `json:"failed"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

// Engine runs sync passes.
type Engine struct {
	ledger    Ledger
	journal   *journal.Journal
	lock      *lock.Lock
	service   LedgerService
	projector Projector
	clock     clock.Clock
	logger    *slog.Logger
	deadline  time.Duration
	retention time.Duration
	interval  time.Duration
	deviceID  string
	batchSize int

	group   singleflight.Group
	trigger chan struct{}
	online  atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDeadline sets how long after issue a record may still be delivered.
func WithDeadline(d time.Duration) Option {
	return func(e *Engine) { e.deadline = d }
}

// WithRetention sets how long settled records are kept before pruning.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) { e.retention = d }
}

// WithInterval sets the periodic sync interval used by Run.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithProjector sets the session projection rebuilt after each pass.
func WithProjector(p Projector) Option {
	return func(e *Engine) { e.projector = p }
}

// WithDeviceID identifies this device in offline-accept records.
func WithDeviceID(id string) Option {
	return func(e *Engine) { e.deviceID = id }
}

// WithBatchSize caps the payloads per LedgerService.Sync call. Values <= 0
// use DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// New creates an engine. The lock must be the one the executor uses.
func New(ledger Ledger, j *journal.Journal, lk *lock.Lock, service LedgerService, opts ...Option) *Engine {
	e := &Engine{
		ledger:    ledger,
		journal:   j,
		lock:      lk,
		service:   service,
		clock:     clock.System{},
		logger:    slog.Default(),
		deadline:  DefaultDeadline,
		retention: DefaultRetention,
		interval:  DefaultInterval,
		trigger:   make(chan struct{}, 1),
	}
	e.online.Store(true)
	for _, opt := range opts {
		opt(e)
	}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	return e
}

// Trigger requests a sync pass. Multiple triggers before the pass starts
// coalesce into one. Never blocks.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// SetOnline records connectivity. Going from offline to online triggers a pass.
func (e *Engine) SetOnline(online bool) {
	was := e.online.Swap(online)
	if online && !was {
		e.logger.Info("connectivity restored")
		e.Trigger()
	}
}

// Online reports the last recorded connectivity.
func (e *Engine) Online() bool {
	return e.online.Load()
}

// Run syncs on every trigger and every interval until ctx is done.
// Passes are skipped while offline.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.trigger:
		case <-ticker.C:
		}
		if !e.online.Load() {
			continue
		}
		res, err := e.SyncQueued(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("sync pass failed", "error", err)
			continue
		}
		if res.Settled+res.Rejected+res.Expired > 0 {
			e.logger.Info("sync pass complete",
				"settled", res.Settled, "rejected", res.Rejected,
				"expired", res.Expired, "failed", res.Failed)
		}
	}
}

// SyncQueued delivers the queue once. Concurrent calls share a single pass.
func (e *Engine) SyncQueued(ctx context.Context) (Result, error) {
	v, err, _ := e.group.Do("sync", func() (any, error) {
		return e.syncOnce(ctx)
	})
	res, _ := v.(Result)
	return res, err
}

type pending struct {
	tx      payment.Transaction
	payload payment.SyncPayload
}

func (e *Engine) syncOnce(ctx context.Context) (Result, error) {
	var res Result

	batch, err := e.prepare(ctx, &res)
	if err != nil {
		return res, err
	}
	if len(batch) == 0 {
		e.refresh(ctx)
		return res, nil
	}

	// Chunks go out in acceptance order; a failed chunk stops the pass so
	// nothing later is delivered ahead of it.
	for start := 0; start < len(batch); start += e.batchSize {
		chunk := batch[start:min(start+e.batchSize, len(batch))]
		outcomes, err := e.submit(ctx, chunk)
		if err != nil {
			res.Failed += len(batch) - start
			e.refresh(ctx)
			return res, err
		}
		if err := e.apply(ctx, chunk, outcomes, &res); err != nil {
			return res, err
		}
	}
	e.refresh(ctx)
	return res, nil
}

// submit sends one chunk. Outcomes align with chunk by position.
func (e *Engine) submit(ctx context.Context, chunk []pending) ([]payment.SyncOutcome, error) {
	payloads := make([]payment.SyncPayload, len(chunk))
	for i, p := range chunk {
		payloads[i] = p.payload
	}
	outcomes, err := e.service.Sync(ctx, payloads)
	if err == nil && len(outcomes) != len(chunk) {
		err = fmt.Errorf("ledger returned %d outcomes for %d payloads", len(outcomes), len(chunk))
	}
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	return outcomes, nil
}

// prepare drains the queue under the lock: expired records are finalized
// locally, the rest move to sync_pending and form the batch.
func (e *Engine) prepare(ctx context.Context, res *Result) ([]pending, error) {
	release, err := e.lock.Acquire(ctx, "sync")
	if err != nil {
		return nil, fmt.Errorf("sync: acquire lock: %w", err)
	}
	defer release()

	items, err := e.ledger.Queued(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: read queue: %w", err)
	}

	now := e.clock.Now()
	var batch []pending
	for _, item := range items {
		log := e.logger.With("tx_id", item.TxID)
		tx, err := e.ledger.GetTransaction(ctx, item.TxID)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("dropping queue item without ledger row")
			if err := e.ledger.Dequeue(ctx, item.TxID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sync: read transaction: %w", err)
		}

		switch tx.SettlementState {
		case payment.StateAcceptedOffline, payment.StateSyncPending:
		default:
			// Already final; a previous pass stopped before dequeueing.
			if err := e.ledger.Dequeue(ctx, item.TxID); err != nil {
				return nil, err
			}
			continue
		}

		if now.After(tx.IssuedAt.Add(e.deadline)) {
			if err := e.finish(ctx, tx, payment.StateExpired, payment.ReasonExpired, now); err != nil {
				return nil, err
			}
			res.Expired++
			log.Info("payment expired before delivery")
			continue
		}

		if tx.SettlementState == payment.StateAcceptedOffline {
			if err := e.ledger.UpdateSettlement(ctx, tx.ID, store.SettlementUpdate{
				State:  payment.StateSyncPending,
				Status: payment.StatusQueued,
			}); err != nil {
				return nil, fmt.Errorf("sync: mark pending: %w", err)
			}
			tx.SettlementState = payment.StateSyncPending
		}
		batch = append(batch, pending{tx: tx, payload: item.Payload})
	}
	return batch, nil
}

func (e *Engine) apply(ctx context.Context, batch []pending, outcomes []payment.SyncOutcome, res *Result) error {
	release, err := e.lock.Acquire(context.WithoutCancel(ctx), "sync")
	if err != nil {
		return fmt.Errorf("sync: acquire lock: %w", err)
	}
	defer release()

	now := e.clock.Now()
	for i, out := range outcomes {
		tx := batch[i].tx
		log := e.logger.With("tx_id", tx.ID, "status", out.Status)

		switch out.Status {
		case payment.OutcomeSettled:
			if err := e.ledger.UpdateSettlement(ctx, tx.ID, store.SettlementUpdate{
				State:     payment.StateSettled,
				Status:    payment.StatusSettled,
				SettledAt: &now,
				SyncedAt:  &now,
			}); err != nil {
				return fmt.Errorf("sync: settle %s: %w", tx.ID, err)
			}
			if err := e.ledger.Dequeue(ctx, tx.ID); err != nil {
				return fmt.Errorf("sync: dequeue %s: %w", tx.ID, err)
			}
			res.Settled++

		case payment.OutcomeRejected:
			state := payment.StateRejected
			if out.Reason == payment.ReasonExpired {
				state = payment.StateExpired
			}
			if err := e.finish(ctx, tx, state, out.Reason, now); err != nil {
				return err
			}
			if state == payment.StateExpired {
				res.Expired++
			} else {
				res.Rejected++
			}
			res.Rejections = append(res.Rejections, Rejection{TxID: tx.ID, Reason: out.Reason})
			log.Warn("payment rejected by ledger", "reason", out.Reason)

		default:
			res.Failed++
			log.Info("payment left queued for retry", "reason", out.Reason)
		}
	}
	return nil
}

// finish moves tx to a failed terminal state and removes it from the queue.
func (e *Engine) finish(ctx context.Context, tx payment.Transaction, state payment.SettlementState, reason string, now time.Time) error {
	if err := tx.SettlementState.Transition(state); err != nil {
		return err
	}
	if err := e.ledger.UpdateSettlement(ctx, tx.ID, store.SettlementUpdate{
		State:    state,
		Status:   payment.StatusFailed,
		Reason:   reason,
		SyncedAt: &now,
	}); err != nil {
		return fmt.Errorf("sync: mark %s %s: %w", state, tx.ID, err)
	}
	if err := e.ledger.Dequeue(ctx, tx.ID); err != nil {
		return fmt.Errorf("sync: dequeue %s: %w", tx.ID, err)
	}
	return nil
}

func (e *Engine) refresh(ctx context.Context) {
	if e.projector == nil {
		return
	}
	if err := e.projector.RefreshSession(ctx); err != nil {
		e.logger.Warn("session projection not rebuilt", "error", err)
	}
}
