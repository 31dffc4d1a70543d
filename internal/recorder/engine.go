// Package recorder implements the recording engine: pre-buffering,
// per-job writer workers, and the top-level orchestration that routes
// frames from the subscribed middleware topics into the active job and
// fans control operations out to add-ons (spec Components H–M).
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/otus-rec/rec-agent/internal/addon"
	"github.com/otus-rec/rec-agent/internal/frame"
	"github.com/otus-rec/rec-agent/internal/middleware"
	"github.com/otus-rec/rec-agent/internal/protocol"
	"github.com/otus-rec/rec-agent/internal/recerr"
	"github.com/otus-rec/rec-agent/internal/upload"
)

// RecordMode governs which discovered topics the engine subscribes to.
type RecordMode int

const (
	ModeAll RecordMode = iota
	ModeBlacklist
	ModeWhitelist
)

// EngineConfig carries the fixed, construction-time settings the engine
// needs from its surrounding environment.
type EngineConfig struct {
	HostName           string
	DefaultPreBufferLen time.Duration
	SupportFiles        []string
}

// Engine is the top-level recording orchestrator (spec Component K).
type Engine struct {
	cfg      EngineConfig
	mw       middleware.Middleware
	addons   *addon.Manager
	uploader upload.Uploader

	mu            sync.Mutex
	preBuffer     *preBuffer
	jobs          []*Job
	recordingJob  *Job
	connected     bool
	hostFilter    map[string]bool
	recordMode    RecordMode
	listedTopics  map[string]bool
	subscribers   map[string]middleware.Subscriber
	topicSnapshot middleware.Snapshot
}

// New constructs an Engine bound to mw and am. Neither connects nor
// subscribes to anything until Connect/reconcile runs. up may be nil if
// the caller never intends to call Upload.
func New(cfg EngineConfig, mw middleware.Middleware, am *addon.Manager, up upload.Uploader) *Engine {
	e := &Engine{
		cfg:          cfg,
		mw:           mw,
		addons:       am,
		uploader:     up,
		preBuffer:    newPreBuffer(cfg.DefaultPreBufferLen),
		hostFilter:   make(map[string]bool),
		listedTopics: make(map[string]bool),
		subscribers:  make(map[string]middleware.Subscriber),
	}
	e.pushPreBufferConfig()
	return e
}

// Connect marks the engine connected to the middleware. It is idempotent.
// It also tells the add-on manager the engine is initialized, so any
// add-on enabled from now on receives an `initialize` call (spec §4.G).
func (e *Engine) Connect() {
	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	e.addons.SetEngineInitialized(true)
}

// EnablePreBuffering / DisablePreBuffering toggle pre-roll capture.
func (e *Engine) EnablePreBuffering() {
	e.preBuffer.SetEnabled(true)
	e.pushPreBufferConfig()
}

func (e *Engine) DisablePreBuffering() {
	e.preBuffer.SetEnabled(false)
	e.preBuffer.Clear()
	e.pushPreBufferConfig()
}

// SetPreBufferLength updates the pre-buffer retention window.
func (e *Engine) SetPreBufferLength(d time.Duration) {
	e.preBuffer.SetLength(d)
	e.pushPreBufferConfig()
}

// pushPreBufferConfig mirrors the engine's current pre-buffer settings into
// the add-on manager, so any add-on enabled afterward starts in sync.
func (e *Engine) pushPreBufferConfig() {
	e.addons.SetPreBufferConfig(addon.PreBufferConfig{
		Enabled: e.preBuffer.Enabled(),
		Length:  e.preBuffer.GetLength(),
	})
}

// PreBufferFrameCount reports how many frames the pre-buffer currently holds.
func (e *Engine) PreBufferFrameCount() int { return e.preBuffer.Count() }

// OnFrame is the middleware receive callback (spec §4.K "Frame routing").
// It must return quickly: the engine lock is held only long enough to
// route the frame, never across the caller's own I/O.
func (e *Engine) OnFrame(topic string, payload []byte, publishTime time.Time, publisherClock int64) {
	f := frame.New(topic, payload, publishTime, publisherClock)

	e.mu.Lock()
	if e.preBuffer.Enabled() {
		e.preBuffer.Push(f)
	}
	job := e.recordingJob
	e.mu.Unlock()

	if job != nil {
		job.AddFrame(f)
	}
}

// StartRecording creates and starts a new RecordJob for cfg (spec §4.K
// StartRecording).
func (e *Engine) StartRecording(cfg JobConfig) error {
	if cfg.MeasurementRootDir == "" && cfg.MeasurementName == "" {
		return recerr.New("start_recording", recerr.CodeGeneric, "measurement root dir and name both empty")
	}

	e.Connect()
	snapshot := e.Snapshot()

	e.mu.Lock()
	if e.recordingJob != nil {
		e.mu.Unlock()
		return recerr.New("start_recording", recerr.CodeCurrentlyRecording, "another job is already recording")
	}
	for _, j := range e.jobs {
		if j.IsDeleted() {
			continue
		}
		if j.State() != StateNotStarted && j.CompletePath() == cfg.CompletePath {
			e.mu.Unlock()
			return recerr.New("start_recording", recerr.CodeGeneric, fmt.Sprintf("path collision: %s", cfg.CompletePath))
		}
	}

	job := newJob(cfg)
	if err := job.InitializeMeasurementDirectory(e.cfg.HostName, e.cfg.SupportFiles); err != nil {
		e.mu.Unlock()
		return err
	}
	for _, h := range e.addons.Enabled() {
		job.SeedAddonStatus(h.Session.ID())
	}
	e.jobs = append(e.jobs, job)

	seed := e.preBuffer.Snapshot()
	if err := job.StartRecording(e.cfg.HostName, snapshot.Topics, seed); err != nil {
		e.mu.Unlock()
		return err
	}
	e.recordingJob = job
	e.mu.Unlock()

	fd := protocol.Descriptors()[protocol.FuncStartRecording]
	e.addons.Broadcast(protocol.Request{
		FunctionName: protocol.FuncStartRecording,
		Parameters: map[string]protocol.Variant{
			"id":   protocol.Int64Variant(cfg.JobID),
			"path": protocol.StringVariant(cfg.CompletePath),
		},
	}, fd)
	return nil
}

// StopRecording stops the currently recording job, if any.
func (e *Engine) StopRecording() error {
	e.mu.Lock()
	job := e.recordingJob
	if job == nil {
		e.mu.Unlock()
		return recerr.New("stop_recording", recerr.CodeGeneric, "no job is currently recording")
	}
	err := job.StopRecording()
	e.recordingJob = nil
	e.mu.Unlock()
	if err != nil {
		return err
	}

	fd := protocol.Descriptors()[protocol.FuncStopRecording]
	e.addons.Broadcast(protocol.Request{
		FunctionName: protocol.FuncStopRecording,
		Parameters:   map[string]protocol.Variant{"id": protocol.Int64Variant(0)},
	}, fd)
	return nil
}

// SavePreBufferedData flushes the current pre-buffer to a new job without
// disturbing whichever job is actively recording.
func (e *Engine) SavePreBufferedData(cfg JobConfig) error {
	e.mu.Lock()
	connected := e.connected
	enabled := e.preBuffer.Enabled()
	e.mu.Unlock()
	if !connected {
		return recerr.New("save_prebuffer", recerr.CodeGeneric, "not connected")
	}
	if !enabled {
		return recerr.New("save_prebuffer", recerr.CodeGeneric, "pre-buffering disabled")
	}

	snapshot := e.Snapshot()

	e.mu.Lock()
	job := newJob(cfg)
	if err := job.InitializeMeasurementDirectory(e.cfg.HostName, e.cfg.SupportFiles); err != nil {
		e.mu.Unlock()
		return err
	}
	e.jobs = append(e.jobs, job)
	seed := e.preBuffer.Snapshot()
	err := job.SaveBuffer(e.cfg.HostName, snapshot.Topics, seed)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	fd := protocol.Descriptors()[protocol.FuncSavePrebuffer]
	e.addons.Broadcast(protocol.Request{
		FunctionName: protocol.FuncSavePrebuffer,
		Parameters: map[string]protocol.Variant{
			"id":   protocol.Int64Variant(cfg.JobID),
			"path": protocol.StringVariant(cfg.CompletePath),
		},
	}, fd)
	return nil
}

// SetHostFilter / SetRecordMode / SetListedTopics mutate subscription
// selection; all are refused while a job is recording (spec §4.K).
func (e *Engine) SetHostFilter(hosts []string) error {
	return e.withFilterLock(func() {
		e.hostFilter = toSet(hosts)
	})
}

func (e *Engine) SetRecordMode(mode RecordMode) error {
	return e.withFilterLock(func() { e.recordMode = mode })
}

func (e *Engine) SetListedTopics(topics []string) error {
	return e.withFilterLock(func() { e.listedTopics = toSet(topics) })
}

func (e *Engine) withFilterLock(mutate func()) error {
	e.mu.Lock()
	if e.recordingJob != nil {
		e.mu.Unlock()
		return recerr.New("set_filter", recerr.CodeCurrentlyRecording, "cannot change filters while recording")
	}
	mutate()
	e.mu.Unlock()

	e.preBuffer.Clear()
	e.reconcileSubscribers()
	return nil
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

// acceptsTopic is the pure filtering function from spec §4.K.
func acceptsTopic(info middleware.TopicInfo, mode RecordMode, listed, hostFilter map[string]bool) bool {
	if len(info.Publishers) == 0 {
		return false
	}
	switch mode {
	case ModeBlacklist:
		if listed[info.Topic] {
			return false
		}
	case ModeWhitelist:
		if !listed[info.Topic] {
			return false
		}
	}
	if len(hostFilter) == 0 {
		return true
	}
	for _, p := range info.Publishers {
		if hostFilter[p.Host] {
			return true
		}
	}
	return false
}

// Snapshot returns the engine's last-known topic snapshot.
func (e *Engine) Snapshot() middleware.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.topicSnapshot
}

// SetTopicInfo is called by the monitoring timer with a freshly obtained
// snapshot; it stores it, forwards it to the active writer, and triggers
// subscriber reconciliation.
func (e *Engine) SetTopicInfo(snapshot middleware.Snapshot) {
	e.mu.Lock()
	e.topicSnapshot = snapshot
	job := e.recordingJob
	e.mu.Unlock()

	if job != nil {
		job.mu.Lock()
		if job.writer != nil {
			job.writer.SetTopicInfo(snapshot.Topics)
		}
		job.mu.Unlock()
	}

	e.reconcileSubscribers()
}

func (e *Engine) reconcileSubscribers() {
	e.mu.Lock()
	snapshot := e.topicSnapshot
	mode := e.recordMode
	listed := e.listedTopics
	hostFilter := e.hostFilter
	e.mu.Unlock()

	wanted := make(map[string]bool)
	for topic, info := range snapshot.Topics {
		if acceptsTopic(info, mode, listed, hostFilter) {
			wanted[topic] = true
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for topic := range wanted {
		if _, ok := e.subscribers[topic]; ok {
			continue
		}
		sub, err := e.mw.Subscribe(topic)
		if err != nil {
			slog.Error("failed to subscribe", "topic", topic, "error", err)
			continue
		}
		sub.SetHandler(func(f *frame.Frame) {
			e.OnFrame(f.Topic, f.Payload, f.PublishTime, f.PublisherClock)
		})
		e.subscribers[topic] = sub
	}
	for topic, sub := range e.subscribers {
		if wanted[topic] {
			continue
		}
		_ = sub.Close()
		delete(e.subscribers, topic)
	}
}

// GarbageCollect trims the pre-buffer and refreshes job bookkeeping (spec
// §4.K GarbageCollect / Component M).
func (e *Engine) GarbageCollect(now time.Time) {
	e.preBuffer.Trim(now)

	e.mu.Lock()
	jobs := append([]*Job(nil), e.jobs...)
	e.mu.Unlock()

	for _, j := range jobs {
		j.GetJobStatus()
	}
}

// SetAddonStatus applies an add-on-reported job status to the matching
// job, as invoked by the add-on status poller (spec §4.K
// set_job_status).
func (e *Engine) SetAddonStatus(jobID int64, addonID string, status AddonJobStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		if j.config.JobID == jobID {
			j.SetAddonStatus(addonID, status)
			return
		}
	}
}

// JobStatuses returns a snapshot of every known job's status.
func (e *Engine) JobStatuses() []JobStatus {
	e.mu.Lock()
	jobs := append([]*Job(nil), e.jobs...)
	e.mu.Unlock()

	out := make([]JobStatus, len(jobs))
	for i, j := range jobs {
		out[i] = j.GetJobStatus()
	}
	return out
}

// Upload starts uploading jobID's completed measurement (spec §4.J
// upload). It fails if no Uploader was configured, the job is unknown,
// or the job is not in a state that permits uploading.
func (e *Engine) Upload(jobID int64, destination string, deleteAfterUpload bool) error {
	if e.uploader == nil {
		return recerr.New("upload", recerr.CodeResourceUnavailable, "no uploader configured")
	}
	e.mu.Lock()
	var job *Job
	for _, j := range e.jobs {
		if j.config.JobID == jobID {
			job = j
			break
		}
	}
	e.mu.Unlock()
	if job == nil {
		return recerr.New("upload", recerr.CodeMeasIDNotFound, fmt.Sprintf("no job with id %d", jobID))
	}
	return job.Upload(e.uploader, upload.Config{
		JobID:             jobID,
		Destination:       destination,
		DeleteAfterUpload: deleteAfterUpload,
	})
}

// DeleteMeasurement removes jobID's directory and marks it deleted.
func (e *Engine) DeleteMeasurement(jobID int64) error {
	e.mu.Lock()
	var job *Job
	for _, j := range e.jobs {
		if j.config.JobID == jobID {
			job = j
			break
		}
	}
	e.mu.Unlock()
	if job == nil {
		return recerr.New("delete_measurement", recerr.CodeMeasIDNotFound, fmt.Sprintf("no job with id %d", jobID))
	}
	return job.DeleteMeasurement()
}

// Shutdown stops every subscriber and the add-on manager.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	subs := make([]middleware.Subscriber, 0, len(e.subscribers))
	for _, s := range e.subscribers {
		subs = append(subs, s)
	}
	e.subscribers = make(map[string]middleware.Subscriber)
	e.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	e.addons.StopAll(5 * time.Second)
}
