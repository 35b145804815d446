// Package journal implements the write-ahead log that makes a local commit
// recoverable after a crash.
//
// Every commit writes a started entry before touching the ledger, and marks
// it committed only after all steps succeed. On restart, Recover completes
// or undoes whatever was left started.
package journal

import (
	"context"
	"log/slog"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/payment"
)

// DefaultCapacity is the number of entries kept before the oldest finished
// entries are evicted.
const DefaultCapacity = 1000

// Backend persists journal entries. Implemented by *store.Store.
type Backend interface {
	AppendJournal(ctx context.Context, e payment.JournalEntry) (int64, error)
	SetJournalStatus(ctx context.Context, txID string, status payment.JournalStatus) error
	JournalByStatus(ctx context.Context, status payment.JournalStatus) ([]payment.JournalEntry, error)
	JournalEntries(ctx context.Context, txID string) ([]payment.JournalEntry, error)
	TrimJournal(ctx context.Context, max int) (int64, error)
}

// Replayer applies or undoes the effects of a journal entry.
// The executor implements it; Replay and Undo must be idempotent.
type Replayer interface {
	// Applied reports whether every effect of e is already durable.
	Applied(ctx context.Context, e payment.JournalEntry) (bool, error)
	Replay(ctx context.Context, e payment.JournalEntry) error
	Undo(ctx context.Context, e payment.JournalEntry) error
}

// Journal is the write-ahead log.
type Journal struct {
	backend  Backend
	capacity int
	clock    clock.Clock
	logger   *slog.Logger
}

// New creates a journal over backend. A capacity <= 0 uses DefaultCapacity.
func New(backend Backend, capacity int, c clock.Clock, logger *slog.Logger) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{backend: backend, capacity: capacity, clock: c, logger: logger}
}

// Write appends e as a started entry and returns its sequence number.
// Any failure is a durability error: the caller must abort the commit.
func (j *Journal) Write(ctx context.Context, e payment.JournalEntry) (int64, error) {
	e.Status = payment.JournalStarted
	if e.Timestamp.IsZero() {
		e.Timestamp = j.clock.Now()
	}
	seq, err := j.backend.AppendJournal(ctx, e)
	if err != nil {
		return 0, &payment.Error{Kind: payment.KindDurability, Message: "write journal entry", Err: err}
	}
	return seq, nil
}

// MarkCommitted finishes the started entry for txID and trims the ring.
func (j *Journal) MarkCommitted(ctx context.Context, txID string) error {
	if err := j.backend.SetJournalStatus(ctx, txID, payment.JournalCommitted); err != nil {
		return &payment.Error{Kind: payment.KindDurability, Message: "mark journal committed", Err: err}
	}
	if n, err := j.backend.TrimJournal(ctx, j.capacity); err != nil {
		j.logger.Warn("journal trim failed", "error", err)
	} else if n > 0 {
		j.logger.Debug("journal trimmed", "evicted", n)
	}
	return nil
}

// MarkRolledBack records that the started entry for txID was undone.
func (j *Journal) MarkRolledBack(ctx context.Context, txID string) error {
	if err := j.backend.SetJournalStatus(ctx, txID, payment.JournalRolledBack); err != nil {
		return &payment.Error{Kind: payment.KindDurability, Message: "mark journal rolled back", Err: err}
	}
	return nil
}

// Entries returns every entry for txID, oldest first.
func (j *Journal) Entries(ctx context.Context, txID string) ([]payment.JournalEntry, error) {
	return j.backend.JournalEntries(ctx, txID)
}

// Pending returns started entries, oldest first.
func (j *Journal) Pending(ctx context.Context) ([]payment.JournalEntry, error) {
	return j.backend.JournalByStatus(ctx, payment.JournalStarted)
}

// Report summarizes a recovery pass.
type Report struct {
	Completed  []string `json:"completed"`
	Replayed   []string `json:"replayed"`
	RolledBack []string `json:"rolled_back"`
}

// Total returns the number of entries handled.
func (r Report) Total() int {
	return len(r.Completed) + len(r.Replayed) + len(r.RolledBack)
}

// Recover scans started entries oldest first. Entries whose effects are
// already durable are marked committed; others are replayed and marked
// committed, or undone and marked rolled back if replay fails.
// The caller holds the exclusivity lock.
func (j *Journal) Recover(ctx context.Context, r Replayer) (Report, error) {
	var report Report

	pending, err := j.Pending(ctx)
	if err != nil {
		return report, &payment.Error{Kind: payment.KindDurability, Message: "read pending journal entries", Err: err}
	}

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log := j.logger.With("tx_id", e.TxID, "seq", e.Seq, "kind", e.Kind)

		applied, err := r.Applied(ctx, e)
		if err != nil {
			return report, &payment.Error{Kind: payment.KindDurability, Message: "inspect journal entry", Err: err}
		}
		if applied {
			if err := j.MarkCommitted(ctx, e.TxID); err != nil {
				return report, err
			}
			report.Completed = append(report.Completed, e.TxID)
			log.Info("journal entry already applied")
			continue
		}

		if err := r.Replay(ctx, e); err != nil {
			log.Warn("journal replay failed, undoing", "error", err)
			if uerr := r.Undo(ctx, e); uerr != nil {
				return report, &payment.Error{Kind: payment.KindDurability, Message: "undo journal entry", Err: uerr}
			}
			if err := j.MarkRolledBack(ctx, e.TxID); err != nil {
				return report, err
			}
			report.RolledBack = append(report.RolledBack, e.TxID)
			continue
		}

		if err := j.MarkCommitted(ctx, e.TxID); err != nil {
			return report, err
		}
		report.Replayed = append(report.Replayed, e.TxID)
		log.Info("journal entry replayed")
	}

	return report, nil
}
