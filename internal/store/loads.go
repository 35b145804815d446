package store

import (
	"context"
	"fmt"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/payment"
)

// InsertLoad records a wallet top-up.
func (s *Store) InsertLoad(ctx context.Context, load payment.WalletLoad) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_loads (id, amount, loaded_at) VALUES (?, ?, ?)
	`, load.ID, load.Amount, clock.Millis(load.LoadedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("insert load %s: %w", load.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert load: %w", err)
	}
	return nil
}

// ListLoads returns every top-up, oldest first.
func (s *Store) ListLoads(ctx context.Context) ([]payment.WalletLoad, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount, loaded_at FROM wallet_loads ORDER BY loaded_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query loads: %w", err)
	}
	defer rows.Close()

	loads := []payment.WalletLoad{}
	for rows.Next() {
		var (
			l  payment.WalletLoad
			at int64
		)
		if err := rows.Scan(&l.ID, &l.Amount, &at); err != nil {
			return nil, fmt.Errorf("scan load: %w", err)
		}
		l.LoadedAt = clock.FromMillis(at)
		loads = append(loads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loads: %w", err)
	}
	return loads, nil
}
