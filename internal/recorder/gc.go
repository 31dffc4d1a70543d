package recorder

import (
	"context"
	"time"
)

// gcPeriod is the garbage-collection timer's fixed period (spec §4.M).
const gcPeriod = 1 * time.Second

// RunGC calls Engine.GarbageCollect once per gcPeriod until ctx is
// canceled.
func RunGC(ctx context.Context, e *Engine) {
	ticker := time.NewTicker(gcPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.GarbageCollect(time.Now())
		}
	}
}
