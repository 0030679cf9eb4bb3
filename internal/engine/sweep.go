package engine

import (
	"time"

	"github.com/loomhq/loom/internal/model"
)

// sweepLoop periodically aborts runs that have outlived their expiry
// deadline. Executions normally observe their own context deadline; the
// sweep catches runs left dangling by a crash or a missed wakeup. It never
// writes a terminal timestamp: expired status is derived from expires_at.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	runs, err := e.store.Runs().All(e.ctx, nil)
	if err != nil {
		e.log.Warn("expiry sweep list runs", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, run := range runs {
		if run.Terminal() || !now.After(run.ExpiresAt) {
			continue
		}
		e.mu.Lock()
		x, running := e.active[run.ID]
		e.mu.Unlock()
		if running {
			// The deadline fires the normal expiry path in execute.
			x.cancel()
			continue
		}
		if run.Status(now) != model.RunStatusExpired {
			continue
		}
		if err := e.expire(run); err != nil {
			e.log.Warn("expiry sweep close stream", "run_id", run.ID, "error", err)
		}
	}
}
