package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/payment"
)

// AppendJournal writes e and returns its assigned sequence number.
// The entry's Seq field is ignored.
func (s *Store) AppendJournal(ctx context.Context, e payment.JournalEntry) (int64, error) {
	snapshot, err := marshalJSON(e.Snapshot)
	if err != nil {
		return 0, fmt.Errorf("append journal: marshal snapshot: %w", err)
	}
	payload, err := marshalJSON(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("append journal: marshal payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO journal (tx_id, kind, status, timestamp, snapshot, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.TxID, string(e.Kind), string(e.Status), clock.Millis(e.Timestamp), snapshot, payload)
	if err != nil {
		return 0, fmt.Errorf("append journal: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append journal: last insert id: %w", err)
	}
	return seq, nil
}

// SetJournalStatus moves the newest started entry for txID to status.
// Returns ErrNotFound if txID has no started entry.
func (s *Store) SetJournalStatus(ctx context.Context, txID string, status payment.JournalStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE journal SET status = ?
		WHERE seq = (
			SELECT MAX(seq) FROM journal WHERE tx_id = ? AND status = 'started'
		)
	`, string(status), txID)
	if err != nil {
		return fmt.Errorf("set journal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set journal status: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("started journal entry for %s: %w", txID, ErrNotFound)
	}
	return nil
}

// JournalByStatus returns entries with the given status, oldest first.
func (s *Store) JournalByStatus(ctx context.Context, status payment.JournalStatus) ([]payment.JournalEntry, error) {
	return s.queryJournal(ctx, `
		SELECT seq, tx_id, kind, status, timestamp, snapshot, payload
		FROM journal WHERE status = ? ORDER BY seq ASC
	`, string(status))
}

// JournalEntries returns every entry for txID, oldest first.
func (s *Store) JournalEntries(ctx context.Context, txID string) ([]payment.JournalEntry, error) {
	return s.queryJournal(ctx, `
		SELECT seq, tx_id, kind, status, timestamp, snapshot, payload
		FROM journal WHERE tx_id = ? ORDER BY seq ASC
	`, txID)
}

// TrimJournal evicts the oldest finished entries until at most max remain.
// Started entries are never evicted. Returns the number of entries removed.
func (s *Store) TrimJournal(ctx context.Context, max int) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM journal`).Scan(&total); err != nil {
		return 0, fmt.Errorf("trim journal: count: %w", err)
	}
	excess := total - int64(max)
	if excess <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM journal WHERE seq IN (
			SELECT seq FROM journal WHERE status != 'started'
			ORDER BY seq ASC LIMIT ?
		)
	`, excess)
	if err != nil {
		return 0, fmt.Errorf("trim journal: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryJournal(ctx context.Context, query string, args ...any) ([]payment.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []payment.JournalEntry{}
	for rows.Next() {
		var (
			e                 payment.JournalEntry
			kind, status      string
			ts                int64
			snapshot, payload string
		)
		if err := rows.Scan(&e.Seq, &e.TxID, &kind, &status, &ts, &snapshot, &payload); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		if err := json.Unmarshal([]byte(snapshot), &e.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal journal snapshot %d: %w", e.Seq, err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal journal payload %d: %w", e.Seq, err)
		}
		e.Kind = payment.JournalKind(kind)
		e.Status = payment.JournalStatus(status)
		e.Timestamp = clock.FromMillis(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}
