package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/otus-rec/rec-agent/internal/frame"
	"github.com/otus-rec/rec-agent/internal/middleware"
	"github.com/otus-rec/rec-agent/internal/protocol"
	"github.com/otus-rec/rec-agent/internal/recerr"
	"github.com/otus-rec/rec-agent/internal/upload"
	"github.com/otus-rec/rec-agent/pkg/measurement"
)

// JobConfig is the caller-supplied, one-shot-evaluated description of one
// recording (spec §3 JobConfig).
type JobConfig struct {
	JobID             int64
	MeasurementRootDir string
	MeasurementName    string
	Description        string
	MaxFileSizeMB      int64
	CompletePath        string
}

// MainState is a RecordJob's position in its state machine (spec §4.J).
type MainState int

const (
	StateNotStarted MainState = iota
	StateRecording
	StateFlushing
	StateFinishedFlushing
	StateUploading
	StateFinishedUploading
)

func (s MainState) String() string {
	switch s {
	case StateRecording:
		return protocol.JobStateRecording
	case StateFlushing:
		return protocol.JobStateFlushing
	case StateFinishedFlushing, StateFinishedUploading:
		return protocol.JobStateFinished
	default:
		return protocol.JobStateNotStarted
	}
}

// AddonJobStatus is the last status an add-on reported for this job.
type AddonJobStatus struct {
	Healthy bool
	Message string
}

// JobStatus is an immutable snapshot returned by GetJobStatus.
type JobStatus struct {
	JobID          int64
	State          MainState
	IsDeleted      bool
	Healthy        bool
	Message        string
	FrameCount     int64
	QueueCount     int64
	PerAddonStatus map[string]AddonJobStatus
	UploadStatus   *upload.Status
}

// Job is the Go rendering of spec §4.J's RecordJob: one measurement's full
// lifecycle, wrapping a writer worker and an optional upload worker.
type Job struct {
	config JobConfig

	mu             sync.Mutex
	state          MainState
	isDeleted      bool
	safeToDelete   bool
	metadataFiles  []string
	perAddonStatus map[string]AddonJobStatus
	healthy        bool
	message        string

	writer       *writer
	uploadWorker upload.Worker
	uploadHook   func()
}

// newJob constructs a Job in NotStarted state. It does not touch disk;
// call InitializeMeasurementDirectory before starting recording.
func newJob(cfg JobConfig) *Job {
	return &Job{
		config:         cfg,
		state:          StateNotStarted,
		healthy:        true,
		perAddonStatus: make(map[string]AddonJobStatus),
	}
}

// InitializeMeasurementDirectory lays out the on-disk structure a fresh
// measurement needs: doc/ and <host>/ directories, a description file, an
// empty marker file, and a copy of supporting host/middleware info (spec
// §4.J / §12).
func (j *Job) InitializeMeasurementDirectory(hostName string, supportFiles []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	path := j.config.CompletePath
	entries, statErr := os.ReadDir(path)
	wasEmpty := os.IsNotExist(statErr) || (statErr == nil && len(entries) == 0)

	if err := os.MkdirAll(filepath.Join(path, "doc"), 0o755); err != nil {
		return fmt.Errorf("job: create doc dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(path, hostName), 0o755); err != nil {
		return fmt.Errorf("job: create host dir: %w", err)
	}

	sysInfoPath := filepath.Join(path, hostName, "system_information.txt")
	if err := os.WriteFile(sysInfoPath, []byte(systemInformationDump(hostName)), 0o644); err != nil {
		return fmt.Errorf("job: write system_information.txt: %w", err)
	}

	descPath := filepath.Join(path, "doc", "description.txt")
	if err := os.WriteFile(descPath, []byte(j.config.Description), 0o644); err != nil {
		return fmt.Errorf("job: write description.txt: %w", err)
	}

	markerName := filepath.Base(path) + ".ecalmeas"
	if err := os.WriteFile(filepath.Join(path, markerName), nil, 0o644); err != nil {
		return fmt.Errorf("job: write marker file: %w", err)
	}

	meas, err := measurement.Open(filepath.Join(path, hostName))
	if err == nil {
		_ = meas.CopySupportFiles(supportFiles...)
		_ = meas.Close()
	}

	j.metadataFiles = []string{
		filepath.Join(hostName, "system_information.txt"),
		filepath.Join("doc", "description.txt"),
		markerName,
	}
	j.safeToDelete = wasEmpty
	return nil
}

func systemInformationDump(hostName string) string {
	return fmt.Sprintf("host: %s\nos: %s\narch: %s\nrecorded_at: %s\n",
		hostName, runtime.GOOS, runtime.GOARCH, time.Now().Format(time.RFC3339))
}

// StartRecording transitions NotStarted -> Recording, creating the writer
// worker seeded with topicInfo and any pre-buffered frames.
func (j *Job) StartRecording(hostName string, topicInfo map[string]middleware.TopicInfo, seed []*frame.Frame) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateNotStarted {
		return recerr.New("start_recording", recerr.CodeUnsupportedAction, "job is not in NotStarted state")
	}
	j.writer = newWriter(j.config.CompletePath, hostName, topicInfo, seed)
	j.state = StateRecording
	return nil
}

// StopRecording transitions Recording -> Flushing.
func (j *Job) StopRecording() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRecording {
		return recerr.New("stop_recording", recerr.CodeUnsupportedAction, "job is not Recording")
	}
	j.writer.Flush()
	j.state = StateFlushing
	return nil
}

// SaveBuffer transitions NotStarted -> Flushing directly: the writer is
// created already in flushing mode, so it simply drains seed and exits.
func (j *Job) SaveBuffer(hostName string, topicInfo map[string]middleware.TopicInfo, seed []*frame.Frame) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateNotStarted {
		return recerr.New("save_prebuffer", recerr.CodeUnsupportedAction, "job is not in NotStarted state")
	}
	j.writer = newWriter(j.config.CompletePath, hostName, topicInfo, seed)
	j.writer.Flush()
	j.state = StateFlushing
	return nil
}

// AddFrame routes f to the writer; it is a no-op unless the job is
// Recording (spec §4.J add_frame).
func (j *Job) AddFrame(f *frame.Frame) bool {
	j.mu.Lock()
	w := j.writer
	state := j.state
	j.mu.Unlock()
	if state != StateRecording || w == nil {
		return false
	}
	return w.AddFrame(f)
}

// SetAddonStatus records the most recent status an add-on reported for
// this job.
func (j *Job) SetAddonStatus(addonID string, status AddonJobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.perAddonStatus[addonID] = status
}

// SeedAddonStatus ensures an empty status entry exists for addonID, so
// GetJobStatus reports it even before the addon's first poll.
func (j *Job) SeedAddonStatus(addonID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.perAddonStatus[addonID]; !ok {
		j.perAddonStatus[addonID] = AddonJobStatus{Healthy: true}
	}
}

// Upload starts uploading the completed measurement via u. It is legal
// only when the job is not deleted and not currently recording, flushing,
// or uploading (spec §4.J upload). When cfg.DeleteAfterUpload is set, the
// job deletes its own directory once the upload worker exits
// successfully.
func (j *Job) Upload(u upload.Uploader, cfg upload.Config) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.isDeleted {
		return recerr.New("upload", recerr.CodeMeasIsDeleted, "measurement is deleted")
	}
	switch j.state {
	case StateRecording:
		return recerr.New("upload", recerr.CodeCurrentlyRecording, "job is recording")
	case StateFlushing:
		return recerr.New("upload", recerr.CodeCurrentlyFlushing, "job is flushing")
	case StateUploading:
		return recerr.New("upload", recerr.CodeCurrentlyUploading, "job is already uploading")
	}

	cfg.CompletePath = j.config.CompletePath
	cfg.SkipMetadataFiles = j.metadataFiles
	w, err := u.Start(cfg)
	if err != nil {
		return recerr.New("upload", recerr.CodeResourceUnavailable, err.Error())
	}

	j.uploadWorker = w
	j.state = StateUploading
	if cfg.DeleteAfterUpload {
		j.uploadHook = func() { _ = j.DeleteMeasurement() }
	}
	return nil
}

// AddComment appends text to the job's description file; refused while
// uploading.
func (j *Job) AddComment(text string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateUploading {
		return recerr.New("add_comment", recerr.CodeCurrentlyUploading, "cannot comment while uploading")
	}
	f, err := os.OpenFile(filepath.Join(j.config.CompletePath, "doc", "description.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("job: open description: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString("\n" + text)
	return err
}

// DeleteMeasurement removes the measurement directory tree and marks the
// job terminally deleted.
func (j *Job) DeleteMeasurement() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.state {
	case StateRecording:
		return recerr.New("delete_measurement", recerr.CodeCurrentlyRecording, "job is recording")
	case StateFlushing:
		return recerr.New("delete_measurement", recerr.CodeCurrentlyFlushing, "job is flushing")
	case StateUploading:
		return recerr.New("delete_measurement", recerr.CodeCurrentlyUploading, "job is uploading")
	}
	if !j.safeToDelete {
		return recerr.New("delete_measurement", recerr.CodeDirNotEmpty, "directory was not empty at creation")
	}
	if err := os.RemoveAll(j.config.CompletePath); err != nil {
		return fmt.Errorf("job: delete directory: %w", err)
	}
	j.isDeleted = true
	return nil
}

// refreshLocked performs the Flushing->FinishedFlushing and
// Uploading->FinishedUploading checks before a status snapshot is taken.
// Callers must hold j.mu.
func (j *Job) refreshLocked() {
	if j.state == StateFlushing && j.writer != nil && j.writer.Exited() {
		j.state = StateFinishedFlushing
	}
	if j.state == StateUploading && j.uploadWorker != nil && j.uploadWorker.Exited() {
		j.state = StateFinishedUploading
	}
}

// takeUploadHookLocked returns and clears the pending delete-after-upload
// hook once the job has reached FinishedUploading, or nil if there is
// none pending. Callers must hold j.mu and must invoke the returned hook
// only after releasing it.
func (j *Job) takeUploadHookLocked() func() {
	if j.state != StateFinishedUploading || j.uploadHook == nil {
		return nil
	}
	hook := j.uploadHook
	j.uploadHook = nil
	return hook
}

// GetJobStatus performs the state-refresh pass described in spec §4.J and
// returns an immutable snapshot.
func (j *Job) GetJobStatus() JobStatus {
	j.mu.Lock()
	j.refreshLocked()
	hook := j.takeUploadHookLocked()
	j.mu.Unlock()
	if hook != nil {
		hook()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	status := JobStatus{
		JobID:          j.config.JobID,
		State:          j.state,
		IsDeleted:      j.isDeleted,
		Healthy:        j.healthy,
		Message:        j.message,
		PerAddonStatus: make(map[string]AddonJobStatus, len(j.perAddonStatus)),
	}
	for k, v := range j.perAddonStatus {
		status.PerAddonStatus[k] = v
	}
	if j.writer != nil {
		ws := j.writer.Status()
		status.FrameCount = ws.WrittenCount + ws.QueuedCount
		status.QueueCount = ws.QueuedCount
		status.Healthy = ws.Healthy
		status.Message = ws.Message
	}
	if j.uploadWorker != nil {
		us := j.uploadWorker.Status()
		status.UploadStatus = &us
	}
	return status
}

// CompletePath returns the job's target directory (used by the engine to
// enforce invariant I7 / path-collision checks).
func (j *Job) CompletePath() string {
	return j.config.CompletePath
}

// State returns the job's current main state.
func (j *Job) State() MainState {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.refreshLocked()
	return j.state
}

// IsDeleted reports whether the job has been deleted.
func (j *Job) IsDeleted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.isDeleted
}
