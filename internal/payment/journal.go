package payment

import "time"

// JournalKind is the operation a journal entry protects.
type JournalKind string

const (
	JournalCommit   JournalKind = "commit"
	JournalReversal JournalKind = "reversal"
)

// JournalStatus tracks a journal entry through the commit protocol.
type JournalStatus string

const (
	JournalStarted    JournalStatus = "started"
	JournalCommitted  JournalStatus = "committed"
	JournalRolledBack JournalStatus = "rolled_back"
)

// JournalEntry is one write-ahead record. Snapshot is the transaction as it
// will be persisted; Payload is what will be queued for sync.
type JournalEntry struct {
	Seq       int64         `json:"seq"`
	TxID      string        `json:"tx_id"`
	Kind      JournalKind   `json:"kind"`
	Status    JournalStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Snapshot  Transaction   `json:"snapshot"`
	Payload   SyncPayload   `json:"payload"`
}

// WalletLoad is a top-up of the offline wallet.
type WalletLoad struct {
	ID       string    `json:"id"`
	Amount   int64     `json:"amount"`
	LoadedAt time.Time `json:"loaded_at"`
}
