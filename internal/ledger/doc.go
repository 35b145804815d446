// Package ledger is the server side of settlement.
//
// Service re-verifies every synced receipt, enforces the sync deadline and
// the server-authoritative limits, deduplicates by nonce and client tx id,
// moves money through a Gateway and records the outcome in a Repository.
// Rejections are also published to a RejectionSink for operators.
//
// Repositories: MemoryRepository (tests, single-node demos) and
// PostgresRepository (pgx pool). Gateways: NoopGateway and KafkaGateway.
package ledger
