package recorder

import (
	"context"
	"time"
)

// monitorPeriod is the monitoring timer's fixed period (spec §4.L).
const monitorPeriod = 1 * time.Second

// RunMonitor polls the middleware for its current topic snapshot once per
// monitorPeriod and feeds it to the engine, until ctx is canceled.
func RunMonitor(ctx context.Context, e *Engine) {
	ticker := time.NewTicker(monitorPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SetTopicInfo(e.mw.Snapshot())
		}
	}
}
