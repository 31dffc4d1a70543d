package recorder

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/otus-rec/rec-agent/internal/frame"
	"github.com/otus-rec/rec-agent/internal/middleware"
	"github.com/otus-rec/rec-agent/pkg/measurement"
)

// writerState mirrors spec Component I's two run states.
type writerState int

const (
	writerRunning writerState = iota
	writerFlushing
)

// writerWaitTick bounds how long the worker blocks for a new frame before
// re-checking its flushing flag, keeping shutdown latency low.
const writerWaitTick = 100 * time.Millisecond

// writerStatus is a point-in-time snapshot of one writer worker.
type writerStatus struct {
	Healthy           bool
	Message           string
	WrittenCount      int64
	QueuedCount       int64
	FirstWrittenRecv  time.Time
	LastWrittenRecv   time.Time
	BackRecvForLength time.Time
}

// writer is one record job's HDF5-writer-worker equivalent: a single
// goroutine draining a frame queue into a measurement.Writer (spec
// Component I).
type writer struct {
	hostName string

	mu        sync.Mutex
	queue     []*frame.Frame
	state     writerState
	topicMeta map[string]middleware.TopicInfo

	healthy bool
	message string

	written          int64
	firstWrittenRecv time.Time
	lastWrittenRecv  time.Time

	wake chan struct{}
	done chan struct{}
}

// newWriter creates and starts a writer worker rooted at completePath,
// seeding it with the given topic metadata and pre-buffer frames.
func newWriter(completePath, hostName string, topicMeta map[string]middleware.TopicInfo, seed []*frame.Frame) *writer {
	w := &writer{
		hostName:  hostName,
		queue:     append([]*frame.Frame(nil), seed...),
		topicMeta: topicMeta,
		healthy:   true,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go w.run(completePath)
	return w
}

// AddFrame appends f if the writer is still accepting frames; it returns
// false once the writer has started flushing (spec 4.I "Flushing ...
// add_frame returns false").
func (w *writer) AddFrame(f *frame.Frame) bool {
	w.mu.Lock()
	if w.state != writerRunning {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, f)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush transitions the writer into draining mode; it exits once its
// queue empties.
func (w *writer) Flush() {
	w.mu.Lock()
	w.state = writerFlushing
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// SetTopicInfo updates the schema applied to future entries.
func (w *writer) SetTopicInfo(meta map[string]middleware.TopicInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.topicMeta = meta
}

// Exited reports whether the worker goroutine has terminated.
func (w *writer) Exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Status snapshots the worker's counters for RecordJob.get_job_status.
func (w *writer) Status() writerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := writerStatus{
		Healthy:          w.healthy,
		Message:          w.message,
		WrittenCount:     w.written,
		QueuedCount:      int64(len(w.queue)),
		FirstWrittenRecv: w.firstWrittenRecv,
		LastWrittenRecv:  w.lastWrittenRecv,
	}
	if len(w.queue) > 0 {
		st.BackRecvForLength = w.queue[len(w.queue)-1].MonotonicReceiveTime
	} else {
		st.BackRecvForLength = w.lastWrittenRecv
	}
	return st
}

func (w *writer) run(completePath string) {
	defer close(w.done)

	meas, err := measurement.Open(filepath.Join(completePath, w.hostName))
	if err != nil {
		w.mu.Lock()
		w.healthy = false
		w.message = fmt.Sprintf("open measurement: %v", err)
		w.mu.Unlock()
		slog.Error("writer failed to open measurement", "path", completePath, "error", err)
		return
	}
	defer meas.Close()

	w.mu.Lock()
	for topic, info := range w.topicMeta {
		meas.SetChannelMeta(measurement.ChannelMeta{Topic: topic, TypeName: info.Description})
	}
	w.mu.Unlock()

	ticker := time.NewTicker(writerWaitTick)
	defer ticker.Stop()

	for {
		f, ok := w.popFront()
		if ok {
			if err := meas.AddEntry(f.Topic, f.PublishTime, f.ReceiveTime, f.PublisherClock, f.Payload); err != nil {
				w.mu.Lock()
				w.healthy = false
				w.message = fmt.Sprintf("add entry: %v", err)
				w.mu.Unlock()
				slog.Warn("writer failed to add entry", "topic", f.Topic, "error", err)
				continue
			}
			w.mu.Lock()
			w.written++
			if w.firstWrittenRecv.IsZero() {
				w.firstWrittenRecv = f.ReceiveTime
			}
			w.lastWrittenRecv = f.ReceiveTime
			w.mu.Unlock()
			continue
		}

		w.mu.Lock()
		flushing := w.state == writerFlushing
		empty := len(w.queue) == 0
		w.mu.Unlock()
		if flushing && empty {
			return
		}

		select {
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

func (w *writer) popFront() (*frame.Frame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil, false
	}
	f := w.queue[0]
	w.queue = w.queue[1:]
	return f, true
}
