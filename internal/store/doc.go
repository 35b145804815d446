// Package store provides SQLite-backed durable storage for the offline wallet.
//
// The store holds five tables:
//   - transactions: the local ledger, one row per payment
//   - journal: write-ahead entries guarding every commit
//   - nonces: the bounded registry of consumed nonces
//   - sync_queue: payloads awaiting settlement, in acceptance order
//   - wallet_loads: top-ups of the offline wallet
//
// # Ordering
//
// Queue and journal reads are ordered by seq (insertion order), never by
// timestamp, so acceptance order survives clock adjustments.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=FULL: every commit reaches stable storage
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// The store performs no locking of its own beyond SQLite's; callers mutate it
// only while holding the exclusivity lock.
package store
