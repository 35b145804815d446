package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/offpay/internal/payment"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTransaction creates an outgoing offline transaction with minimal required fields.
func createTestTransaction(id, nonce string, amount int64, createdAt time.Time) payment.Transaction {
	return payment.Transaction{
		ID:               id,
		ClientTxID:       "ctx-" + id,
		Nonce:            nonce,
		Direction:        payment.Outgoing,
		SenderAddress:    "alice@wallet",
		RecipientAddress: "shop@wallet",
		Amount:           amount,
		Currency:         "BDT",
		Intent:           payment.Intent{Code: payment.IntentMerchant, Label: "groceries"},
		Mode:             payment.ModeOffline,
		Status:           payment.StatusQueued,
		SettlementState:  payment.StateAcceptedOffline,
		Signature:        "sig-" + id,
		IssuedAt:         createdAt.Add(-time.Minute),
		CreatedAt:        createdAt,
	}
}
