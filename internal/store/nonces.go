package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/offpay/internal/clock"
)

// InsertNonce records nonce as consumed.
// Returns ErrDuplicate if it is already present.
func (s *Store) InsertNonce(ctx context.Context, nonce string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO nonces (nonce, created_at) VALUES (?, ?)
		ON CONFLICT(nonce) DO NOTHING
	`, nonce, clock.Millis(at))
	if err != nil {
		return fmt.Errorf("insert nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert nonce: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("nonce %s: %w", nonce, ErrDuplicate)
	}
	return nil
}

// DeleteNonce forgets nonce. Deleting a missing nonce is not an error.
func (s *Store) DeleteNonce(ctx context.Context, nonce string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nonces WHERE nonce = ?`, nonce); err != nil {
		return fmt.Errorf("delete nonce: %w", err)
	}
	return nil
}

// HasNonce reports whether nonce is in the registry.
func (s *Store) HasNonce(ctx context.Context, nonce string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nonces WHERE nonce = ?`, nonce).Scan(&count); err != nil {
		return false, fmt.Errorf("check nonce: %w", err)
	}
	return count > 0, nil
}

// CountNonces returns the registry size.
func (s *Store) CountNonces(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nonces`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count nonces: %w", err)
	}
	return count, nil
}

// TrimNonces evicts the oldest nonces until at most max remain.
func (s *Store) TrimNonces(ctx context.Context, max int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM nonces WHERE seq NOT IN (
			SELECT seq FROM nonces ORDER BY seq DESC LIMIT ?
		)
	`, max)
	if err != nil {
		return 0, fmt.Errorf("trim nonces: %w", err)
	}
	return res.RowsAffected()
}
