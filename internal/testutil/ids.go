package testutil

import (
	"fmt"
	"sync"
)

// Sequence generates ids of the form "<prefix>-0001", "<prefix>-0002", ...
//
// Unlike payment.FixedIDs it never runs out, which suits tests that commit
// an unknown number of transactions but still want stable ids.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence creates a sequence. If prefix is empty, "tx" is used.
func NewSequence(prefix string) *Sequence {
	if prefix == "" {
		prefix = "tx"
	}
	return &Sequence{prefix: prefix}
}

// NewID returns the next id. Implements payment.IDGenerator.
func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%04d", s.prefix, s.n)
}

// Nonce returns a deterministic 32-hex-character nonce for i.
func Nonce(i int) string {
	return fmt.Sprintf("%032x", i)
}
