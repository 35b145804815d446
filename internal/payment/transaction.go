package payment

import (
	"fmt"
	"time"
)

// Mode distinguishes payments made with and without connectivity.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// Status is the coarse, user-visible status of a transaction.
type Status string

const (
	StatusPending Status = "pending"
	StatusQueued  Status = "queued"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// Direction records whether the local device paid or received.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// Transaction is the canonical payment record.
type Transaction struct {
	ID               string          `json:"id"`
	ClientTxID       string          `json:"client_tx_id"`
	Nonce            string          `json:"nonce"`
	Direction        Direction       `json:"direction"`
	SenderAddress    string          `json:"sender_address"`
	RecipientAddress string          `json:"recipient_address"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Intent           Intent          `json:"intent"`
	Metadata         Metadata        `json:"metadata,omitempty"`
	Mode             Mode            `json:"mode"`
	Status           Status          `json:"status"`
	SettlementState  SettlementState `json:"settlement_state"`
	Reason           string          `json:"reason,omitempty"`
	Signature        string          `json:"signature"`
	CounterSignature string          `json:"counter_signature,omitempty"`
	IssuedAt         time.Time       `json:"issued_at"`
	CreatedAt        time.Time       `json:"created_at"`
	SettledAt        *time.Time      `json:"settled_at,omitempty"`
	SyncedAt         *time.Time      `json:"synced_at,omitempty"`
}

// Counts reports whether the transaction still affects the spendable balance.
// Expired and reversed outgoing payments never moved money.
func (t Transaction) Counts() bool {
	return t.SettlementState != StateExpired && t.SettlementState != StateReversed
}

// Draft is what a caller hands to the executor. The executor assigns ID,
// state, status and CreatedAt.
type Draft struct {
	ClientTxID       string
	Nonce            string
	Direction        Direction
	SenderAddress    string
	RecipientAddress string
	Amount           int64
	Currency         string
	Intent           Intent
	Metadata         Metadata
	Signature        string
	CounterSignature string
	IssuedAt         time.Time

	// Payload is the signed artifact shipped to the server on sync.
	Payload SyncPayload
}

// Validate checks the draft at the commit boundary.
func (d Draft) Validate() error {
	switch {
	case d.Amount <= 0:
		return Errorf(KindValidation, "amount must be positive, got %d", d.Amount)
	case d.Nonce == "":
		return Errorf(KindValidation, "nonce is required")
	case d.ClientTxID == "":
		return Errorf(KindValidation, "client tx id is required")
	case d.Direction != Outgoing && d.Direction != Incoming:
		return Errorf(KindValidation, "unknown direction %q", d.Direction)
	case d.Signature == "":
		return Errorf(KindValidation, "signature is required")
	case d.IssuedAt.IsZero():
		return Errorf(KindValidation, "issued at is required")
	case len(d.Currency) != 3:
		return Errorf(KindValidation, "currency must be a 3-letter code, got %q", d.Currency)
	}
	if err := ValidateAddress(d.SenderAddress); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if err := ValidateAddress(d.RecipientAddress); err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	if d.SenderAddress == d.RecipientAddress {
		return Errorf(KindValidation, "sender and recipient must differ")
	}
	if err := d.Intent.Validate(); err != nil {
		return err
	}
	if err := d.Metadata.Validate(); err != nil {
		return err
	}
	return d.Payload.Validate()
}
