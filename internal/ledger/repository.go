package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository stores ledger records.
type Repository interface {
	// ByClientTxID returns the record for id or ErrNotFound.
	ByClientTxID(ctx context.Context, id string) (Record, error)
	// ByNonce returns the record whose request or payer nonce is n, or ErrNotFound.
	ByNonce(ctx context.Context, n string) (Record, error)
	// Save inserts rec or updates the record with the same ClientTxID.
	// A settled record is never modified. Returns the stored record.
	Save(ctx context.Context, rec Record) (Record, error)
	// SpentBetween sums settled amounts paid by payer with IssuedAt in
	// [since, until].
	SpentBetween(ctx context.Context, payer string, since, until time.Time) (int64, error)
	// List returns records matching f ordered by IssuedAt.
	List(ctx context.Context, f Filter) ([]Record, error)
}

// MemoryRepository keeps records in memory. Safe for concurrent use.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

// ByClientTxID implements Repository.
func (m *MemoryRepository) ByClientTxID(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// ByNonce implements Repository.
func (m *MemoryRepository) ByNonce(_ context.Context, n string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.RequestNonce == n || (rec.PayerNonce != "" && rec.PayerNonce == n) {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

// Save implements Repository.
func (m *MemoryRepository) Save(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[rec.ClientTxID]
	if !ok {
		m.records[rec.ClientTxID] = rec
		return rec, nil
	}
	if existing.Status == StatusSettled {
		return existing, nil
	}
	existing.Status = rec.Status
	existing.Reason = rec.Reason
	if rec.PayerNonce != "" {
		existing.PayerNonce = rec.PayerNonce
	}
	if rec.Proof != "" {
		existing.Proof = rec.Proof
	}
	if rec.SyncedAt != nil {
		existing.SyncedAt = rec.SyncedAt
	}
	if rec.SettledAt != nil {
		existing.SettledAt = rec.SettledAt
	}
	m.records[rec.ClientTxID] = existing
	return existing, nil
}

// SpentBetween implements Repository.
func (m *MemoryRepository) SpentBetween(_ context.Context, payer string, since, until time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, rec := range m.records {
		if rec.Status == StatusSettled && rec.PayerAddress == payer &&
			!rec.IssuedAt.Before(since) && !rec.IssuedAt.After(until) {
			total += rec.Amount
		}
	}
	return total, nil
}

// List implements Repository.
func (m *MemoryRepository) List(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Record{}
	for _, rec := range m.records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].TxID < out[j].TxID
	})
	return out, nil
}
