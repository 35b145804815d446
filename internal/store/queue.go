package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/payment"
)

// QueueItem is a payload waiting for settlement.
type QueueItem struct {
	Seq        int64
	TxID       string
	Payload    payment.SyncPayload
	EnqueuedAt time.Time
}

// Enqueue adds txID to the sync queue. Enqueueing an id twice keeps the
// original position.
func (s *Store) Enqueue(ctx context.Context, txID string, payload payment.SyncPayload, at time.Time) error {
	data, err := marshalJSON(payload)
	if err != nil {
		return fmt.Errorf("enqueue: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (tx_id, payload, enqueued_at) VALUES (?, ?, ?)
		ON CONFLICT(tx_id) DO NOTHING
	`, txID, data, clock.Millis(at))
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Dequeue removes txID from the queue. Removing a missing id is not an error.
func (s *Store) Dequeue(ctx context.Context, txID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE tx_id = ?`, txID); err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	return nil
}

// IsQueued reports whether txID is waiting in the queue.
func (s *Store) IsQueued(ctx context.Context, txID string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE tx_id = ?`, txID).Scan(&count); err != nil {
		return false, fmt.Errorf("check queue: %w", err)
	}
	return count > 0, nil
}

// Queued returns the queue in acceptance order.
func (s *Store) Queued(ctx context.Context) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, tx_id, payload, enqueued_at FROM sync_queue ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	items := []QueueItem{}
	for rows.Next() {
		var (
			item    QueueItem
			payload string
			at      int64
		)
		if err := rows.Scan(&item.Seq, &item.TxID, &payload, &at); err != nil {
			return nil, fmt.Errorf("scan queue: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &item.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal queue payload %s: %w", item.TxID, err)
		}
		item.EnqueuedAt = clock.FromMillis(at)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return items, nil
}
