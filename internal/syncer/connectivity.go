package syncer

import (
	"context"
	"time"
)

// Probe checks whether the ledger is reachable.
type Probe func(ctx context.Context) error

// Monitor probes connectivity immediately and then every interval, feeding
// the result to SetOnline until ctx is done. A failing probe takes the
// engine offline; the next success brings it back and triggers a pass.
func (e *Engine) Monitor(ctx context.Context, probe Probe, interval time.Duration) error {
	if interval <= 0 {
		interval = e.interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := probe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && e.Online() {
			e.logger.Warn("ledger unreachable", "error", err)
		}
		e.SetOnline(err == nil)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
