// Package syncer delivers locally committed payments to the settlement
// ledger and applies the server's verdicts.
//
// A sync pass drains the local queue in acceptance order under the
// exclusivity lock, submits the batch with the lock released, then re-takes
// the lock to apply outcomes. Settled and rejected records leave the queue;
// transient failures stay for the next pass. Concurrent passes collapse
// into one.
package syncer
