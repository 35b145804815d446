// Package lock provides the exclusivity lock serializing commit and sync.
package lock

import (
	"context"
	"sync"
)

// Lock is a FIFO, single-holder, non-reentrant mutex whose acquisition can be
// abandoned through a context. Waiters are granted the lock in arrival order.
type Lock struct {
	mu      sync.Mutex
	held    bool
	holder  string
	waiters []*waiter
}

type waiter struct {
	owner string
	ready chan struct{}
}

// New returns an unheld lock.
func New() *Lock {
	return &Lock{}
}

// Acquire blocks until the lock is granted to owner or ctx is done.
// The returned release func is idempotent.
func (l *Lock) Acquire(ctx context.Context, owner string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if !l.held && len(l.waiters) == 0 {
		l.held = true
		l.holder = owner
		l.mu.Unlock()
		return l.releaser(), nil
	}
	w := &waiter{owner: owner, ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return l.releaser(), nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-w.ready:
			// Handed over concurrently with cancellation: pass it on.
			l.mu.Unlock()
			l.unlock()
		default:
			l.remove(w)
			l.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

// Holder returns the current owner, or "" when unheld.
func (l *Lock) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// Waiters returns the number of queued acquirers.
func (l *Lock) Waiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

func (l *Lock) releaser() func() {
	var once sync.Once
	return func() { once.Do(l.unlock) }
}

func (l *Lock) unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) == 0 {
		l.held = false
		l.holder = ""
		return
	}
	next := l.waiters[0]
	l.waiters[0] = nil
	l.waiters = l.waiters[1:]
	l.holder = next.owner
	close(next.ready)
}

// remove drops w from the queue. Caller holds l.mu.
func (l *Lock) remove(w *waiter) {
	for i, cur := range l.waiters {
		if cur == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}
