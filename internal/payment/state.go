package payment

// SettlementState is the lifecycle stage of an offline-originated transaction.
//
//	accepted_offline → sync_pending → settled
//	                              ↘ rejected → reversed
//	                              ↘ expired
//
// accepted_offline may also expire directly when the deadline passes before
// the record is ever queued for delivery.
type SettlementState string

const (
	StateAcceptedOffline SettlementState = "accepted_offline"
	StateSyncPending     SettlementState = "sync_pending"
	StateSettled         SettlementState = "settled"
	StateRejected        SettlementState = "rejected"
	StateReversed        SettlementState = "reversed"
	StateExpired         SettlementState = "expired"
)

var transitions = map[SettlementState][]SettlementState{
	StateAcceptedOffline: {StateSyncPending, StateExpired},
	StateSyncPending:     {StateSettled, StateRejected, StateExpired},
	StateRejected:        {StateReversed},
}

// CanTransition reports whether s → next is a legal move.
func (s SettlementState) CanTransition(next SettlementState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s SettlementState) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transition returns a ValidationError for an illegal move.
func (s SettlementState) Transition(next SettlementState) error {
	if !s.CanTransition(next) {
		return Errorf(KindValidation, "illegal settlement transition %s -> %s", s, next)
	}
	return nil
}
