// Package payment defines the offline payment data model shared by every
// component: the Transaction record, its settlement state machine, the
// structured intent and metadata types, the error taxonomy and the sync wire
// structures.
//
// Amounts are int64 minor currency units. There are no floats anywhere in
// signed or persisted payment data.
package payment
