// Package executor commits offline payments to the local ledger atomically.
//
// A commit runs eight steps under the exclusivity lock:
//
//  1. acquire the lock
//  2. evaluate policy
//  3. register the nonce
//  4. write a started journal entry
//  5. persist the transaction and read it back
//  6. enqueue the sync payload
//  7. rebuild the session projection (best-effort)
//  8. mark the journal entry committed, release, trigger sync
//
// A failure in steps 3 through 6 undoes the completed steps in reverse
// order: dequeue, restore the ledger, roll back the journal entry,
// unregister the nonce. Either every effect is durable or none is.
package executor
