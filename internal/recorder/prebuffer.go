package recorder

import (
	"sync"
	"time"

	"github.com/otus-rec/rec-agent/internal/frame"
)

// preBuffer is the engine's pre-roll deque (spec Component H). Unlike
// queue.TimeBoundedQueue, it carries no background worker of its own: it
// is trimmed only when the engine's GC timer calls Trim, keeping pre-buffer
// maintenance on the same cadence as the rest of engine housekeeping.
type preBuffer struct {
	mu      sync.Mutex
	frames  []*frame.Frame
	length  time.Duration
	enabled bool
}

func newPreBuffer(length time.Duration) *preBuffer {
	return &preBuffer{length: length}
}

// Push appends f if pre-buffering is currently enabled.
func (p *preBuffer) Push(f *frame.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	p.frames = append(p.frames, f)
}

// SetEnabled toggles pre-buffering without discarding any held frames.
func (p *preBuffer) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// Enabled reports whether pre-buffering is currently on.
func (p *preBuffer) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// SetLength changes the retention window; takes effect on the next Trim.
func (p *preBuffer) SetLength(length time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.length = length
}

// GetLength returns the currently configured retention window.
func (p *preBuffer) GetLength() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.length
}

// Clear drops all held frames (spec 4.H: "Cleared on disable, on
// disconnect, and on filter changes").
func (p *preBuffer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

// Count returns the number of currently held frames.
func (p *preBuffer) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Trim evicts frames from the head while now-recvTime exceeds length.
func (p *preBuffer) Trim(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := now.Add(-p.length)
	i := 0
	for i < len(p.frames) && p.frames[i].MonotonicReceiveTime.Before(cutoff) {
		i++
	}
	p.frames = p.frames[i:]
}

// Snapshot returns a copy of every currently held frame, oldest first,
// suitable for seeding a new writer worker.
func (p *preBuffer) Snapshot() []*frame.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*frame.Frame, len(p.frames))
	copy(out, p.frames)
	return out
}
