package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/offpay/internal/payment"
)

//go:embed postgres.sql
var postgresSchema string

const recordColumns = `tx_id, client_tx_id, request_nonce, payer_nonce, payer_address, payee_address,
	amount, currency, intent_code, intent_label, mode, status, reason, proof,
	issued_at, synced_at, settled_at`

// PostgresRepository stores records in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &PostgresRepository{db: pool}, nil
}

// Close releases the pool.
func (p *PostgresRepository) Close() {
	p.db.Close()
}

// Ping checks the connection.
func (p *PostgresRepository) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// ByClientTxID implements Repository.
func (p *PostgresRepository) ByClientTxID(ctx context.Context, id string) (Record, error) {
	row := p.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM ledger_records WHERE client_tx_id = $1`, id)
	return scanRecord(row)
}

// ByNonce implements Repository.
func (p *PostgresRepository) ByNonce(ctx context.Context, n string) (Record, error) {
	row := p.db.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM ledger_records
		WHERE request_nonce = $1 OR payer_nonce = $1
		ORDER BY issued_at
		LIMIT 1`, n)
	return scanRecord(row)
}

// Save implements Repository. Concurrent saves of one ClientTxID resolve
// through the unique constraint; the first settled write wins.
func (p *PostgresRepository) Save(ctx context.Context, rec Record) (Record, error) {
	row := p.db.QueryRow(ctx, `
		INSERT INTO ledger_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (client_tx_id) DO UPDATE SET
			status      = EXCLUDED.status,
			reason      = EXCLUDED.reason,
			payer_nonce = COALESCE(NULLIF(EXCLUDED.payer_nonce, ''), ledger_records.payer_nonce),
			proof       = COALESCE(NULLIF(EXCLUDED.proof, ''), ledger_records.proof),
			synced_at   = COALESCE(EXCLUDED.synced_at, ledger_records.synced_at),
			settled_at  = COALESCE(EXCLUDED.settled_at, ledger_records.settled_at)
		WHERE ledger_records.status <> 'settled'
		RETURNING `+recordColumns,
		rec.TxID, rec.ClientTxID, rec.RequestNonce, rec.PayerNonce, rec.PayerAddress, rec.PayeeAddress,
		rec.Amount, rec.Currency, string(rec.Intent.Code), rec.Intent.Label, string(rec.Mode),
		string(rec.Status), rec.Reason, rec.Proof, rec.IssuedAt, rec.SyncedAt, rec.SettledAt,
	)
	stored, err := scanRecord(row)
	if errors.Is(err, ErrNotFound) {
		// The conflicting row is settled and was left untouched.
		return p.ByClientTxID(ctx, rec.ClientTxID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("save ledger record: %w", err)
	}
	return stored, nil
}

// SpentBetween implements Repository.
func (p *PostgresRepository) SpentBetween(ctx context.Context, payer string, since, until time.Time) (int64, error) {
	var total int64
	err := p.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM ledger_records
		WHERE status = 'settled' AND payer_address = $1
		  AND issued_at >= $2 AND issued_at <= $3`,
		payer, since, until).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("spent between: %w", err)
	}
	return total, nil
}

// List implements Repository.
func (p *PostgresRepository) List(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM ledger_records WHERE TRUE`
	var args []any
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND issued_at >= $%d", len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		query += fmt.Sprintf(" AND issued_at < $%d", len(args))
	}
	if f.Address != "" {
		args = append(args, f.Address)
		query += fmt.Sprintf(" AND (payer_address = $%d OR payee_address = $%d)", len(args), len(args))
	}
	query += " ORDER BY issued_at, tx_id"

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger records: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                      Record
		intentCode, mode, status string
	)
	err := row.Scan(
		&rec.TxID, &rec.ClientTxID, &rec.RequestNonce, &rec.PayerNonce, &rec.PayerAddress, &rec.PayeeAddress,
		&rec.Amount, &rec.Currency, &intentCode, &rec.Intent.Label, &mode, &status, &rec.Reason, &rec.Proof,
		&rec.IssuedAt, &rec.SyncedAt, &rec.SettledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan ledger record: %w", err)
	}
	rec.Intent.Code = payment.IntentCode(intentCode)
	rec.Mode = payment.Mode(mode)
	rec.Status = Status(status)
	rec.IssuedAt = rec.IssuedAt.UTC()
	rec.SyncedAt = utcPtr(rec.SyncedAt)
	rec.SettledAt = utcPtr(rec.SettledAt)
	return rec, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
