package ledger

import (
	"errors"
	"time"

	"github.com/roach88/offpay/internal/payment"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("ledger record not found")

// Status is the server-side settlement status of a record.
type Status string

const (
	// StatusPending: acceptance recorded, not yet settled.
	StatusPending  Status = "pending"
	StatusSettled  Status = "settled"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Server rejection and failure reasons reported in SyncOutcome.Reason.
const (
	ReasonMalformed       = "malformed"
	ReasonPayloadMismatch = "payload_mismatch"
	ReasonDuplicateNonce  = "duplicate_nonce"
	ReasonGateway         = "gateway_unavailable"
	ReasonStorage         = "storage_unavailable"
)

// Record is one payment in the central ledger, keyed by ClientTxID.
type Record struct {
	TxID         string         `json:"tx_id"`
	ClientTxID   string         `json:"client_tx_id"`
	RequestNonce string         `json:"request_nonce"`
	PayerNonce   string         `json:"payer_nonce,omitempty"`
	PayerAddress string         `json:"payer_address"`
	PayeeAddress string         `json:"payee_address"`
	Amount       int64          `json:"amount"`
	Currency     string         `json:"currency"`
	Intent       payment.Intent `json:"intent"`
	Mode         payment.Mode   `json:"mode"`
	Status       Status         `json:"status"`
	Reason       string         `json:"reason,omitempty"`
	Proof        string         `json:"-"`
	IssuedAt     time.Time      `json:"issued_at"`
	SyncedAt     *time.Time     `json:"synced_at,omitempty"`
	SettledAt    *time.Time     `json:"settled_at,omitempty"`
}

// Filter selects records by issue time and party. Zero fields do not filter.
type Filter struct {
	Since   time.Time
	Until   time.Time
	Address string
}

// Match reports whether r passes f. Since is inclusive, Until exclusive.
func (f Filter) Match(r Record) bool {
	if !f.Since.IsZero() && r.IssuedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.IssuedAt.Before(f.Until) {
		return false
	}
	if f.Address != "" && r.PayerAddress != f.Address && r.PayeeAddress != f.Address {
		return false
	}
	return true
}
