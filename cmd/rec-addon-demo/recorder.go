package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/otus-rec/rec-agent/internal/protocol"
	"github.com/otus-rec/rec-agent/internal/queue"
)

// demoFrame is the payload type flowing through this add-on's queues. A nil
// *demoFrame pushed onto a job buffer is the end-of-recording sentinel,
// mirroring original_source's nullptr-BaseFrame convention for signalling
// a flusher to finish up and stop.
type demoFrame struct {
	seq int64
}

// jobState tracks one job's recording progress. buffer is nil once the job
// has finished flushing.
type jobState struct {
	buffer      *queue.TimeBoundedQueue[*demoFrame]
	state       string
	healthy     bool
	description string
	frameCount  int64
}

// demoRecorder is a minimal stand-in for a real add-on's recording
// backend: it has no actual frames to capture, so it generates its own at
// a fixed interval and otherwise implements the exact state machine every
// add-on must (initialize/deinitialize, pre-buffer, per-job buffers with
// an EnableFlushing worker each).
type demoRecorder struct {
	id          string
	name        string
	description string

	mu               sync.Mutex
	initialized      bool
	preBufferEnabled bool
	preBuffer        *queue.TimeBoundedQueue[*demoFrame]
	jobs             map[int64]*jobState
	lastStatus       string

	nextSeq int64
}

func newDemoRecorder(id, name string) *demoRecorder {
	return &demoRecorder{
		id:          id,
		name:        name,
		description: "sample add-on generating synthetic frames for protocol exercise",
		preBuffer:   queue.New[*demoFrame](4 * time.Second),
		jobs:        make(map[int64]*jobState),
	}
}

// startFrameGenerator runs until the returned stop func is called, pushing
// one synthetic frame every interval into the pre-buffer and every
// currently recording job's buffer (the demo's equivalent of the backend's
// RecordFrameCallback).
func (r *demoRecorder) startFrameGenerator(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				r.recordFrame()
			}
		}
	}()
	return func() { close(done) }
}

func (r *demoRecorder) recordFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return
	}

	r.nextSeq++
	f := &demoFrame{seq: r.nextSeq}

	if r.preBufferEnabled {
		r.preBuffer.Push(f)
	}
	for _, job := range r.jobs {
		if job.state != protocol.JobStateRecording {
			continue
		}
		job.frameCount++
		job.buffer.Push(f)
	}
}

func (r *demoRecorder) setLastStatus(msg string) {
	r.lastStatus = msg
}

// Initialize mirrors original_source Recorder::Initialize.
func (r *demoRecorder) Initialize() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		r.setLastStatus("initialization failed: already initialized")
		return false
	}
	r.initialized = true
	r.setLastStatus("initialization succeeded")
	return true
}

// Deinitialize mirrors original_source Recorder::Deinitialize: every
// recording job is flushed out (sentinel pushed, buffer left to drain)
// rather than abandoned.
func (r *demoRecorder) Deinitialize() bool {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		r.setLastStatus("deinitialization failed: already deinitialized")
		return false
	}
	for _, job := range r.jobs {
		if job.state == protocol.JobStateRecording {
			job.state = protocol.JobStateFlushing
			job.healthy = true
			job.description = "stop recording triggered, flushing buffer"
			job.buffer.Push(nil)
		}
	}
	r.initialized = false
	r.mu.Unlock()

	r.setLastStatus("deinitialization succeeded")
	return true
}

// StartRecording mirrors original_source Recorder::StartRecording: a fresh
// buffer seeded from the pre-buffer (if enabled), with its own flusher.
func (r *demoRecorder) StartRecording(jobID int64, path string) bool {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		r.setLastStatus("start recording failed: add-on not initialized")
		return false
	}
	if _, exists := r.jobs[jobID]; exists {
		r.mu.Unlock()
		r.setLastStatus("start recording failed: job id already exists")
		return false
	}

	buffer := queue.New[*demoFrame](1000 * time.Second)
	if r.preBufferEnabled {
		for _, f := range r.preBuffer.CopyInto(nil) {
			buffer.Push(f)
		}
	}
	job := &jobState{
		buffer:      buffer,
		state:       protocol.JobStateRecording,
		healthy:     true,
		description: fmt.Sprintf("start recording succeeded, writing to %s", path),
		frameCount:  int64(buffer.Count()),
	}
	r.jobs[jobID] = job
	buffer.SetFlushingCallback(r.flushCallback(jobID))
	buffer.EnableFlushing()
	r.mu.Unlock()

	r.setLastStatus("start recording succeeded")
	return true
}

// flushCallback drains one job's buffer: a nil frame is the
// end-of-recording sentinel and finishes the job; otherwise the frame is
// "written" (here: just accounted for) and the worker keeps going.
func (r *demoRecorder) flushCallback(jobID int64) func(*demoFrame) bool {
	return func(f *demoFrame) bool {
		if f == nil {
			r.mu.Lock()
			if job, ok := r.jobs[jobID]; ok {
				job.state = protocol.JobStateFinished
				job.healthy = true
				job.description = "stop recording succeeded"
				job.buffer = nil
			}
			r.mu.Unlock()
			return false
		}
		return true
	}
}

// StopRecording mirrors original_source Recorder::StopRecording: pushes
// the end-of-recording sentinel and lets the flusher finish the job.
func (r *demoRecorder) StopRecording(jobID int64) bool {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		r.setLastStatus("stop recording failed: add-on not initialized")
		return false
	}
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		r.setLastStatus("stop recording failed: job id does not exist")
		return false
	}
	if job.state != protocol.JobStateRecording {
		r.mu.Unlock()
		r.setLastStatus("stop recording failed: job is already stopped")
		return false
	}
	job.state = protocol.JobStateFlushing
	job.description = "stop recording triggered, flushing buffer"
	job.buffer.Push(nil)
	r.mu.Unlock()

	r.setLastStatus("stop recording triggered")
	return true
}

// SavePrebuffer mirrors original_source Recorder::SavePrebuffer: start
// then immediately stop a job, so only the pre-buffer's seeded content (if
// any) gets flushed out.
func (r *demoRecorder) SavePrebuffer(jobID int64, path string) bool {
	r.mu.Lock()
	enabled := r.preBufferEnabled
	r.mu.Unlock()
	if !enabled {
		r.setLastStatus("save prebuffer failed: prebuffer is not enabled")
		return false
	}
	if !r.StartRecording(jobID, path) {
		return false
	}
	if !r.StopRecording(jobID) {
		return false
	}
	r.setLastStatus("save prebuffer triggered")
	return true
}

func (r *demoRecorder) SetPrebufferLength(d time.Duration) bool {
	r.preBuffer.SetLength(d)
	r.setLastStatus("set prebuffer length succeeded")
	return true
}

func (r *demoRecorder) EnablePrebuffering() bool {
	r.mu.Lock()
	r.preBufferEnabled = true
	r.mu.Unlock()
	r.setLastStatus("enable prebuffering succeeded")
	return true
}

func (r *demoRecorder) DisablePrebuffering() bool {
	r.mu.Lock()
	r.preBufferEnabled = false
	r.mu.Unlock()
	r.preBuffer.Clear()
	r.setLastStatus("disable prebuffering succeeded")
	return true
}

func (r *demoRecorder) PrebufferFrameCount() int64 {
	return int64(r.preBuffer.Count())
}

type demoJobStatus struct {
	jobID       int64
	state       string
	healthy     bool
	description string
	frameCount  int64
	queueCount  int64
}

func (r *demoRecorder) JobStatuses() []demoJobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]demoJobStatus, 0, len(r.jobs))
	for jobID, job := range r.jobs {
		var queueCount int64
		if job.buffer != nil {
			queueCount = int64(job.buffer.Count())
		}
		out = append(out, demoJobStatus{
			jobID:       jobID,
			state:       job.state,
			healthy:     job.healthy,
			description: job.description,
			frameCount:  job.frameCount,
			queueCount:  queueCount,
		})
	}
	return out
}
