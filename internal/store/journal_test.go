package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roach88/offpay/internal/payment"
)

func appendStarted(t *testing.T, s *Store, txID string) int64 {
	t.Helper()
	tx := createTestTransaction(txID, "n-"+txID, 100, testEpoch)
	seq, err := s.AppendJournal(context.Background(), payment.JournalEntry{
		TxID:      txID,
		Kind:      payment.JournalCommit,
		Status:    payment.JournalStarted,
		Timestamp: testEpoch,
		Snapshot:  tx,
		Payload:   payment.SyncPayload{QRPayload: "qr", Signature: "sig", Nonce: tx.Nonce, PublicKey: "pk"},
	})
	if err != nil {
		t.Fatalf("AppendJournal() failed: %v", err)
	}
	return seq
}

func TestAppendJournal_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq := appendStarted(t, s, "tx-1")
	if seq <= 0 {
		t.Errorf("seq = %d, want > 0", seq)
	}

	entries, err := s.JournalEntries(ctx, "tx-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Seq != seq || e.Status != payment.JournalStarted || e.Kind != payment.JournalCommit {
		t.Errorf("entry mismatch: %+v", e)
	}
	if e.Snapshot.ID != "tx-1" || e.Snapshot.Amount != 100 || !e.Snapshot.CreatedAt.Equal(testEpoch) {
		t.Errorf("snapshot mismatch: %+v", e.Snapshot)
	}
	if e.Payload.QRPayload != "qr" || e.Payload.Nonce != "n-tx-1" {
		t.Errorf("payload mismatch: %+v", e.Payload)
	}
}

func TestSetJournalStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	appendStarted(t, s, "tx-1")
	if err := s.SetJournalStatus(ctx, "tx-1", payment.JournalCommitted); err != nil {
		t.Fatal(err)
	}

	started, _ := s.JournalByStatus(ctx, payment.JournalStarted)
	if len(started) != 0 {
		t.Errorf("started entries remain: %d", len(started))
	}

	// Nothing left to move.
	err := s.SetJournalStatus(ctx, "tx-1", payment.JournalRolledBack)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestJournalByStatus_OldestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	appendStarted(t, s, "tx-b")
	appendStarted(t, s, "tx-a")
	appendStarted(t, s, "tx-c")
	if err := s.SetJournalStatus(ctx, "tx-a", payment.JournalCommitted); err != nil {
		t.Fatal(err)
	}

	started, err := s.JournalByStatus(ctx, payment.JournalStarted)
	if err != nil {
		t.Fatal(err)
	}
	if len(started) != 2 || started[0].TxID != "tx-b" || started[1].TxID != "tx-c" {
		t.Errorf("unexpected started entries: %+v", started)
	}
}

func TestTrimJournal_KeepsStarted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	appendStarted(t, s, "pending")
	for _, id := range []string{"a", "b", "c", "d"} {
		appendStarted(t, s, id)
		if err := s.SetJournalStatus(ctx, id, payment.JournalCommitted); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.TrimJournal(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("trimmed %d, want 3", n)
	}

	started, _ := s.JournalByStatus(ctx, payment.JournalStarted)
	if len(started) != 1 || started[0].TxID != "pending" {
		t.Errorf("started entry evicted: %+v", started)
	}
	committed, _ := s.JournalByStatus(ctx, payment.JournalCommitted)
	if len(committed) != 1 || committed[0].TxID != "d" {
		t.Errorf("expected newest committed entry to survive, got %+v", committed)
	}

	// Under the cap: no-op.
	n, err = s.TrimJournal(ctx, 10)
	if err != nil || n != 0 {
		t.Errorf("TrimJournal under cap = %d, %v", n, err)
	}
}

func TestJournalTimestampPrecision(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ts := testEpoch.Add(1234 * time.Millisecond)
	_, err := s.AppendJournal(ctx, payment.JournalEntry{
		TxID: "tx-1", Kind: payment.JournalReversal, Status: payment.JournalStarted, Timestamp: ts,
	})
	if err != nil {
		t.Fatal(err)
	}
	entries, _ := s.JournalEntries(ctx, "tx-1")
	if !entries[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", entries[0].Timestamp, ts)
	}
}
