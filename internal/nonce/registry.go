// Package nonce keeps the bounded registry of consumed nonces that blocks
// replay of a payment on the local device.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/store"
)

// DefaultCapacity is the number of nonces retained before FIFO eviction.
const DefaultCapacity = 500

// ErrDuplicate marks a nonce that was already registered.
var ErrDuplicate = errors.New("nonce already used")

// Backend persists the registry. Implemented by *store.Store.
type Backend interface {
	InsertNonce(ctx context.Context, nonce string, at time.Time) error
	DeleteNonce(ctx context.Context, nonce string) error
	HasNonce(ctx context.Context, nonce string) (bool, error)
	TrimNonces(ctx context.Context, max int) (int64, error)
}

// Registry is a persistent, FIFO-bounded set of consumed nonces.
// Callers serialize access through the exclusivity lock.
type Registry struct {
	backend  Backend
	capacity int
	clock    clock.Clock
}

// New creates a registry over backend. A capacity <= 0 uses DefaultCapacity.
func New(backend Backend, capacity int, c clock.Clock) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if c == nil {
		c = clock.System{}
	}
	return &Registry{backend: backend, capacity: capacity, clock: c}
}

// Register records nonce. A nonce already present yields a
// KindDuplicateNonce error wrapping ErrDuplicate.
//
// Register never evicts: a commit that rolls back after registering must
// leave the registry as it found it. Call Trim once the commit is durable.
func (r *Registry) Register(ctx context.Context, nonce string) error {
	if nonce == "" {
		return payment.Errorf(payment.KindValidation, "nonce is required")
	}
	err := r.backend.InsertNonce(ctx, nonce, r.clock.Now())
	if errors.Is(err, store.ErrDuplicate) {
		return &payment.Error{Kind: payment.KindDuplicateNonce, Message: "payment nonce already used", Err: ErrDuplicate}
	}
	if err != nil {
		return &payment.Error{Kind: payment.KindDurability, Message: "register nonce", Err: err}
	}
	return nil
}

// Trim evicts the oldest nonces beyond capacity and returns how many were
// dropped.
func (r *Registry) Trim(ctx context.Context) (int64, error) {
	n, err := r.backend.TrimNonces(ctx, r.capacity)
	if err != nil {
		return 0, fmt.Errorf("trim nonce registry: %w", err)
	}
	return n, nil
}

// Unregister forgets nonce. Used only by commit rollback.
func (r *Registry) Unregister(ctx context.Context, nonce string) error {
	if err := r.backend.DeleteNonce(ctx, nonce); err != nil {
		return fmt.Errorf("unregister nonce: %w", err)
	}
	return nil
}

// Seen reports whether nonce is currently registered.
func (r *Registry) Seen(ctx context.Context, nonce string) (bool, error) {
	return r.backend.HasNonce(ctx, nonce)
}

// Capacity returns the eviction bound.
func (r *Registry) Capacity() int {
	return r.capacity
}
