package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/payment"
)

const txColumns = `id, client_tx_id, nonce, direction, sender_address, recipient_address,
	amount, currency, intent_code, intent_label, metadata, mode, status,
	settlement_state, reason, signature, counter_signature, issued_at,
	created_at, settled_at, synced_at`

// InsertTransaction writes a new ledger row.
// Returns ErrDuplicate if the id or nonce is already recorded.
func (s *Store) InsertTransaction(ctx context.Context, tx payment.Transaction) error {
	args, err := txArgs(tx)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// PutTransaction writes tx, replacing any row with the same id.
// Used by recovery and rollback to restore a snapshot.
func (s *Store) PutTransaction(ctx context.Context, tx payment.Transaction) error {
	args, err := txArgs(tx)
	if err != nil {
		return fmt.Errorf("put transaction: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			settlement_state = excluded.settlement_state,
			reason = excluded.reason,
			counter_signature = excluded.counter_signature,
			settled_at = excluded.settled_at,
			synced_at = excluded.synced_at
	`, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("put transaction %s: %w", tx.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("put transaction: %w", err)
	}
	return nil
}

// GetTransaction returns the ledger row for id, or ErrNotFound.
func (s *Store) GetTransaction(ctx context.Context, id string) (payment.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return payment.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// HasTransaction reports whether a ledger row exists for id.
func (s *Store) HasTransaction(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check transaction: %w", err)
	}
	return count > 0, nil
}

// DeleteTransaction removes the row for id. Deleting a missing row is not an error.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return nil
}

// ListTransactions returns up to limit rows, newest first.
// A limit <= 0 returns every row.
func (s *Store) ListTransactions(ctx context.Context, limit int) ([]payment.Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		ORDER BY created_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []payment.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

// SettlementUpdate is the mutable part of a ledger row.
type SettlementUpdate struct {
	State     payment.SettlementState
	Status    payment.Status
	Reason    string
	SettledAt *time.Time
	SyncedAt  *time.Time
}

// UpdateSettlement applies u to the row for id. The caller is responsible for
// checking that the state transition is legal.
func (s *Store) UpdateSettlement(ctx context.Context, id string, u SettlementUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET settlement_state = ?, status = ?, reason = ?,
		    settled_at = COALESCE(?, settled_at),
		    synced_at = COALESCE(?, synced_at)
		WHERE id = ?
	`, string(u.State), string(u.Status), u.Reason, nullMillis(u.SettledAt), nullMillis(u.SyncedAt), id)
	if err != nil {
		return fmt.Errorf("update settlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update settlement: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update settlement %s: %w", id, ErrNotFound)
	}
	return nil
}

// Balance derives the spendable balance from the durable ledger:
// loads plus settled incoming payments minus outgoing payments that still count.
func (s *Store) Balance(ctx context.Context) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT SUM(amount) FROM wallet_loads), 0)
			+ COALESCE((SELECT SUM(amount) FROM transactions
				WHERE direction = 'incoming' AND settlement_state = ?), 0)
			- COALESCE((SELECT SUM(amount) FROM transactions
				WHERE direction = 'outgoing' AND settlement_state NOT IN (?, ?)), 0)
	`, string(payment.StateSettled), string(payment.StateReversed), string(payment.StateExpired)).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return balance, nil
}

// SpentSince sums outgoing payments created at or after since that still count.
func (s *Store) SpentSince(ctx context.Context, since time.Time) (int64, error) {
	var spent int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE direction = 'outgoing'
		  AND created_at >= ?
		  AND settlement_state NOT IN (?, ?)
	`, clock.Millis(since), string(payment.StateReversed), string(payment.StateExpired)).Scan(&spent)
	if err != nil {
		return 0, fmt.Errorf("spent since: %w", err)
	}
	return spent, nil
}

// PruneSettled deletes settled rows whose settlement is older than before,
// together with their journal entries. Returns the number of rows removed.
func (s *Store) PruneSettled(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("prune: begin tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := clock.Millis(before)
	_, err = tx.ExecContext(ctx, `
		DELETE FROM journal WHERE status != 'started' AND tx_id IN (
			SELECT id FROM transactions
			WHERE settlement_state = ? AND settled_at IS NOT NULL AND settled_at < ?
		)
	`, string(payment.StateSettled), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune: journal: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM transactions
		WHERE settlement_state = ? AND settled_at IS NOT NULL AND settled_at < ?
	`, string(payment.StateSettled), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune: transactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune: commit: %w", err)
	}
	return n, nil
}

func txArgs(tx payment.Transaction) ([]any, error) {
	metadata, err := marshalMetadata(tx.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		tx.ID,
		tx.ClientTxID,
		tx.Nonce,
		string(tx.Direction),
		tx.SenderAddress,
		tx.RecipientAddress,
		tx.Amount,
		tx.Currency,
		string(tx.Intent.Code),
		tx.Intent.Label,
		metadata,
		string(tx.Mode),
		string(tx.Status),
		string(tx.SettlementState),
		tx.Reason,
		tx.Signature,
		tx.CounterSignature,
		clock.Millis(tx.IssuedAt),
		clock.Millis(tx.CreatedAt),
		nullMillis(tx.SettledAt),
		nullMillis(tx.SyncedAt),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(r rowScanner) (payment.Transaction, error) {
	var (
		tx                          payment.Transaction
		direction, code, mode       string
		status, state, metadataJSON string
		issuedAt, createdAt         int64
		settledAt, syncedAt         sql.NullInt64
	)
	err := r.Scan(
		&tx.ID,
		&tx.ClientTxID,
		&tx.Nonce,
		&direction,
		&tx.SenderAddress,
		&tx.RecipientAddress,
		&tx.Amount,
		&tx.Currency,
		&code,
		&tx.Intent.Label,
		&metadataJSON,
		&mode,
		&status,
		&state,
		&tx.Reason,
		&tx.Signature,
		&tx.CounterSignature,
		&issuedAt,
		&createdAt,
		&settledAt,
		&syncedAt,
	)
	if err != nil {
		return payment.Transaction{}, err
	}

	metadata, err := unmarshalMetadata(metadataJSON)
	if err != nil {
		return payment.Transaction{}, err
	}

	tx.Direction = payment.Direction(direction)
	tx.Intent.Code = payment.IntentCode(code)
	tx.Metadata = metadata
	tx.Mode = payment.Mode(mode)
	tx.Status = payment.Status(status)
	tx.SettlementState = payment.SettlementState(state)
	tx.IssuedAt = clock.FromMillis(issuedAt)
	tx.CreatedAt = clock.FromMillis(createdAt)
	tx.SettledAt = timePtr(settledAt)
	tx.SyncedAt = timePtr(syncedAt)
	return tx, nil
}
