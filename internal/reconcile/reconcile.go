// Package reconcile audits the central ledger: every record in a window is
// classified as matched, unmatched or disputed, and the window is summarized.
// It never writes.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/ledger"
	"github.com/roach88/offpay/internal/payment"
)

// DefaultLateSync is the sync delay beyond which a settled offline payment
// is disputed.
const DefaultLateSync = 24 * time.Hour

// Classification is the audit verdict for one record.
type Classification string

const (
	Matched   Classification = "matched"
	Unmatched Classification = "unmatched"
	Disputed  Classification = "disputed"
)

// Audit reasons.
const (
	ReasonLateSync = "late sync"
	ReasonPending  = "pending settlement"
)

// Source lists ledger records. Implemented by ledger repositories.
type Source interface {
	List(ctx context.Context, f ledger.Filter) ([]ledger.Record, error)
}

// Query selects the audit window. Zero times are unbounded.
type Query struct {
	Since   time.Time `json:"since,omitempty"`
	Until   time.Time `json:"until,omitempty"`
	Address string    `json:"address,omitempty"`
}

// Item is one audited record.
type Item struct {
	TxID           string         `json:"txId"`
	ClientTxID     string         `json:"clientTxId"`
	Amount         int64          `json:"amount"`
	Mode           payment.Mode   `json:"mode"`
	Status         ledger.Status  `json:"status"`
	Classification Classification `json:"classification"`
	Reason         string         `json:"reason,omitempty"`
	SyncDelayMs    int64          `json:"syncDelayMs,omitempty"`
}

// Summary aggregates a window.
type Summary struct {
	TotalTransactions  int     `json:"totalTransactions"`
	TotalAmount        int64   `json:"totalAmount"`
	SettledAmount      int64   `json:"settledAmount"`
	OfflineAmount      int64   `json:"offlineAmount"`
	OnlineAmount       int64   `json:"onlineAmount"`
	Matched            int     `json:"matched"`
	Unmatched          int     `json:"unmatched"`
	Disputed           int     `json:"disputed"`
	ReconciliationRate float64 `json:"reconciliationRate"`
}

// Report is the result of one audit run.
type Report struct {
	Query       Query     `json:"query"`
	GeneratedAt time.Time `json:"generatedAt"`
	Summary     Summary   `json:"summary"`
	Items       []Item    `json:"items"`
}

// Engine runs audits.
type Engine struct {
	source   Source
	clock    clock.Clock
	lateSync time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source for GeneratedAt.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLateSync sets the dispute threshold.
func WithLateSync(d time.Duration) Option {
	return func(e *Engine) { e.lateSync = d }
}

// New creates an engine reading from source.
func New(source Source, opts ...Option) *Engine {
	e := &Engine{source: source, clock: clock.System{}, lateSync: DefaultLateSync}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run audits the records selected by q.
func (e *Engine) Run(ctx context.Context, q Query) (Report, error) {
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return Report{}, payment.Errorf(payment.KindValidation, "until %s is before since %s", q.Until, q.Since)
	}
	records, err := e.source.List(ctx, ledger.Filter{Since: q.Since, Until: q.Until, Address: q.Address})
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: %w", err)
	}

	report := Report{Query: q, GeneratedAt: e.clock.Now(), Items: make([]Item, 0, len(records))}
	s := &report.Summary
	for _, rec := range records {
		item := e.classify(rec)
		report.Items = append(report.Items, item)

		s.TotalTransactions++
		s.TotalAmount += rec.Amount
		if rec.Status == ledger.StatusSettled {
			s.SettledAmount += rec.Amount
		}
		switch rec.Mode {
		case payment.ModeOffline:
			s.OfflineAmount += rec.Amount
		case payment.ModeOnline:
			s.OnlineAmount += rec.Amount
		}
		switch item.Classification {
		case Matched:
			s.Matched++
		case Unmatched:
			s.Unmatched++
		case Disputed:
			s.Disputed++
		}
	}
	s.ReconciliationRate = rate(s.Matched, s.TotalTransactions)
	return report, nil
}

func (e *Engine) classify(rec ledger.Record) Item {
	item := Item{
		TxID:       rec.TxID,
		ClientTxID: rec.ClientTxID,
		Amount:     rec.Amount,
		Mode:       rec.Mode,
		Status:     rec.Status,
	}
	switch rec.Status {
	case ledger.StatusSettled:
		item.Classification = Matched
		if rec.Mode != payment.ModeOffline {
			break
		}
		synced := rec.SyncedAt
		if synced == nil {
			synced = rec.SettledAt
		}
		if synced == nil {
			break
		}
		delay := synced.Sub(rec.IssuedAt)
		item.SyncDelayMs = delay.Milliseconds()
		if delay > e.lateSync {
			item.Classification = Disputed
			item.Reason = ReasonLateSync
		}
	case ledger.StatusPending:
		item.Classification = Unmatched
		item.Reason = ReasonPending
	default:
		item.Classification = Unmatched
		item.Reason = rec.Reason
		if item.Reason == "" {
			item.Reason = string(rec.Status)
		}
	}
	return item
}

// rate returns matched/total as a percentage rounded to two places, 0 for
// an empty window.
func rate(matched, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(matched)/float64(total)*100*100) / 100
}
