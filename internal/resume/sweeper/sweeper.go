// Package sweeper runs periodic expiry cleanup against the session registry.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/gammon.space/internal/resume/registry"
)

type sweepLoopInput struct {
	ctx      context.Context
	interval time.Duration
}

func normalizeSweepLoopInput(reg *registry.Registry, ctx context.Context, interval time.Duration) (sweepLoopInput, bool) {
	if reg == nil {
		return sweepLoopInput{}, false
	}
	// Interval zero means sweeping is disabled, not "use a default":
	// deployments that sweep via cron or the maintenance endpoint set it to
	// opt out of the background loop.
	if interval <= 0 {
		return sweepLoopInput{}, false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return sweepLoopInput{
		ctx:      ctx,
		interval: interval,
	}, true
}

// Start launches the sweep loop in a goroutine. The first sweep runs
// immediately; subsequent sweeps run every interval until cancel is called.
// The returned channel closes once the loop has exited. A non-positive
// interval disables the loop and returns no worker.
func Start(reg *registry.Registry, interval time.Duration) (context.CancelFunc, chan struct{}) {
	if reg == nil || interval <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		Run(ctx, reg, interval)
	}()

	return cancel, done
}

// Run executes the sweep loop until ctx is canceled. A non-positive
// interval disables sweeping and Run returns immediately. A sweep failure
// is logged and retried on the next tick; transient storage outages must
// not kill the loop.
func Run(ctx context.Context, reg *registry.Registry, interval time.Duration) {
	normalized, ok := normalizeSweepLoopInput(reg, ctx, interval)
	if !ok {
		return
	}

	sweep(normalized.ctx, reg)

	ticker := time.NewTicker(normalized.interval)
	defer ticker.Stop()

	for {
		select {
		case <-normalized.ctx.Done():
			return
		case <-ticker.C:
			sweep(normalized.ctx, reg)
		}
	}
}

func sweep(ctx context.Context, reg *registry.Registry) {
	revoked, err := reg.CleanupExpiredSessions(ctx)
	if err != nil {
		log.Printf("session sweep failed: %v", err)
		return
	}
	if revoked > 0 {
		log.Printf("session sweep revoked %d session(s)", revoked)
	}
}
