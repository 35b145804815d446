package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorTracksProbe(t *testing.T) {
	h := newHarness(t)
	var up atomic.Bool
	var probes atomic.Int32
	probe := func(context.Context) error {
		probes.Add(1)
		if up.Load() {
			return nil
		}
		return errors.New("no route to ledger")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Monitor(ctx, probe, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return !h.engine.Online() }, time.Second, time.Millisecond)

	up.Store(true)
	require.Eventually(t, h.engine.Online, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(h.engine.trigger) == 1 }, time.Second, time.Millisecond,
		"coming back online triggers a pass")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, probes.Load(), int32(2))
}

func TestMonitorAndRunSettleAfterReconnect(t *testing.T) {
	h := newHarness(t, WithInterval(time.Hour))
	h.load(t, 1000)
	h.pay(t, 150)

	var up atomic.Bool
	probe := func(context.Context) error {
		if up.Load() {
			return nil
		}
		return errors.New("offline")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.engine.Monitor(ctx, probe, 5*time.Millisecond)
	go h.engine.Run(ctx)

	require.Eventually(t, func() bool { return !h.engine.Online() }, time.Second, time.Millisecond)
	assert.Zero(t, h.ledger.callCount())

	up.Store(true)
	require.Eventually(t, func() bool {
		return h.ledger.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
