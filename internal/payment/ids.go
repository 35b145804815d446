package payment

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces unique transaction ids.
// Implemented by UUIDv7 (production) and FixedIDs (tests).
type IDGenerator interface {
	NewID() string
}

// UUIDv7 generates time-sortable UUIDv7 ids, so local ids sort by creation
// time. Stateless and safe for concurrent use.
type UUIDv7 struct{}

// NewID returns a hyphenated UUIDv7.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedIDs returns predetermined ids in order, for deterministic tests.
// Panics once exhausted so a misconfigured test fails fast.
type FixedIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDs creates a generator returning ids in order.
func NewFixedIDs(ids ...string) *FixedIDs {
	return &FixedIDs{ids: ids}
}

// NewID returns the next predetermined id.
func (g *FixedIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedIDs: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
