// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/otus-rec/rec-agent/internal/addon"
	"github.com/otus-rec/rec-agent/internal/recerr"
	"github.com/otus-rec/rec-agent/internal/recorder"
)

// CommandHandler handles control plane commands, dispatching them against
// the recording engine and the add-on manager.
type CommandHandler struct {
	engine         *recorder.Engine
	addons         *addon.Manager
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon.shutdown to trigger graceful stop
	startTime      int64  // Unix timestamp of daemon start for uptime calc

	nextJobID func() int64
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(engine *recorder.Engine, addons *addon.Manager, reloader ConfigReloader, nextJobID func() int64) *CommandHandler {
	return &CommandHandler{
		engine:         engine,
		addons:         addons,
		configReloader: reloader,
		startTime:      time.Now().Unix(),
		nextJobID:      nextJobID,
	}
}

// SetShutdownFunc sets the callback invoked by the daemon.shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "record.start", "addon.list"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes. The JSON-RPC reserved range (-32700..-32600) covers
// transport/protocol failures; engine-rejected operations are mapped into
// the implementation-defined server-error range (-32000..-32099) keyed off
// recerr.Code so a client can branch on the specific rejection reason.
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error

	errCodeServerBase = -32000
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "record.start":
		return h.handleRecordStart(cmd)
	case "record.stop":
		return h.handleRecordStop(cmd)
	case "record.save_prebuffer":
		return h.handleSavePrebuffer(cmd)
	case "record.status":
		return h.handleJobStatuses(cmd)
	case "record.delete":
		return h.handleDeleteMeasurement(cmd)
	case "record.upload":
		return h.handleUpload(cmd)
	case "record.set_host_filter":
		return h.handleSetHostFilter(cmd)
	case "record.set_mode":
		return h.handleSetRecordMode(cmd)
	case "record.set_listed_topics":
		return h.handleSetListedTopics(cmd)
	case "record.enable_prebuffer":
		return h.handlePreBufferToggle(cmd, true)
	case "record.disable_prebuffer":
		return h.handlePreBufferToggle(cmd, false)
	case "record.set_prebuffer_length":
		return h.handleSetPreBufferLength(cmd)
	case "addon.list":
		return h.handleAddonList(cmd)
	case "addon.enable":
		return h.handleAddonSetEnabled(cmd, true)
	case "addon.disable":
		return h.handleAddonSetEnabled(cmd, false)
	case "config.reload":
		return h.handleConfigReload(cmd)
	case "daemon.shutdown":
		return h.handleDaemonShutdown(cmd)
	case "daemon.status":
		return h.handleDaemonStatus(cmd)
	default:
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method %q not found", cmd.Method),
			},
		}
	}
}

// engineError converts an error returned by the recorder/addon packages
// into a Response, mapping *recerr.Error into the server-error range so
// clients can branch on the rejection reason.
func engineError(id string, err error) Response {
	if recErr, ok := err.(*recerr.Error); ok {
		return Response{
			ID: id,
			Error: &ErrorInfo{
				Code:    errCodeServerBase - int(recErr.Code),
				Message: recErr.Error(),
			},
		}
	}
	return Response{
		ID: id,
		Error: &ErrorInfo{
			Code:    ErrCodeInternalError,
			Message: err.Error(),
		},
	}
}

func invalidParams(id string, err error) Response {
	return Response{
		ID: id,
		Error: &ErrorInfo{
			Code:    ErrCodeInvalidParams,
			Message: fmt.Sprintf("invalid params: %v", err),
		},
	}
}

// ─── record.* ───

// RecordStartParams is the payload for record.start and record.save_prebuffer.
type RecordStartParams struct {
	MeasurementRootDir string `json:"measurement_root_dir"`
	MeasurementName    string `json:"measurement_name"`
	Description        string `json:"description"`
	MaxFileSizeMB      int64  `json:"max_file_size_mb"`
}

func (h *CommandHandler) buildJobConfig(p RecordStartParams) recorder.JobConfig {
	cfg := recorder.JobConfig{
		JobID:              h.nextJobID(),
		MeasurementRootDir: p.MeasurementRootDir,
		MeasurementName:    p.MeasurementName,
		Description:        p.Description,
		MaxFileSizeMB:      p.MaxFileSizeMB,
	}
	return cfg.Evaluate(time.Now())
}

func (h *CommandHandler) handleRecordStart(cmd Command) Response {
	var p RecordStartParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd.ID, err)
	}
	cfg := h.buildJobConfig(p)
	if err := h.engine.StartRecording(cfg); err != nil {
		return engineError(cmd.ID, err)
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"job_id": cfg.JobID, "path": cfg.CompletePath}}
}

func (h *CommandHandler) handleRecordStop(cmd Command) Response {
	if err := h.engine.StopRecording(); err != nil {
		return engineError(cmd.ID, err)
	}
	return Response{ID: cmd.ID, Result: "stopped"}
}

func (h *CommandHandler) handleSavePrebuffer(cmd Command) Response {
	var p RecordStartParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd.ID, err)
	}
	cfg := h.buildJobConfig(p)
	if err := h.engine.SavePreBufferedData(cfg); err != nil {
		return engineError(cmd.ID, err)
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"job_id": cfg.JobID, "path": cfg.CompletePath}}
}

func (h *CommandHandler) handleJobStatuses(cmd Command) Response {
	return Response{ID: cmd.ID, Result: h.engine.JobStatuses()}
}

// DeleteMeasurementParams is the payload for record.delete.
type DeleteMeasurementParams struct {
	JobID int64 `json:"job_id"`
}

func (h *CommandHandler) handleDeleteMeasurement(cmd Command) Response {
	var p DeleteMeasurementParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd.ID, err)
	}
	if err := h.engine.DeleteMeasurement(p.JobID); err != nil {
		return engineError(cmd.ID, err)
	}
	return Response{ID: cmd.ID, Result: "deleted"}
}

// UploadParams is the payload for record.upload.
type UploadParams struct {
	JobID             int64  `json:"job_id"`
	Destination       string `json:"destination"`
	DeleteAfterUpload bool   `json:"delete_after_upload"`
}

func (h *CommandHandler) handleUpload(cmd Command) Response {
	var p UploadParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd.ID, err)
	}
	if err := h.engine.Upload(p.JobID, p.Destination, p.DeleteAfterUpload); err != nil {
		return engineError(cmd.ID, err)
	}
	return Response{ID: cmd.ID, Result: "uploading"}
}

// FilterParams is the payload for record.set_host_filter / set_listed_topics.
type FilterParams struct {
	Items []string `json:"items"`
}

func (h *CommandHandler) handleSetHostFilter(cmd Command) Response {
	var p FilterParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd.ID, err)
	}
	if err := h.engine.SetHostFilter(p.Items); err != nil {
		return engineError(cmd.ID, err)
	}
	return Response{ID: cmd.ID, Result: "ok"}
}

func (h *CommandHandler) handleSetListedTopics(cmd Command) Response {
	var p FilterParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd.ID, err)
	}
	if err := h.engine.SetListedTopics(p.Items); err != nil {
		return engineError(cmd.ID, err)
	}
	return Response{ID: cmd.ID, Result: "ok"}
}

// RecordModeParams is the payload for record.set_mode.
type RecordModeParams struct {
	Mode string `json:"mode"` // all | blacklist | whitelist
}

func (h *CommandHandler) handleSetRecordMode(cmd Command) Response {
	var p RecordModeParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd.ID, err)
	}
	var mode recorder.RecordMode
	switch p.Mode {
	case "all":
		mode = recorder.ModeAll
	case "blacklist":
		mode = recorder.ModeBlacklist
	case "whitelist":
		mode = recorder.ModeWhitelist
	default:
		return invalidParams(cmd.ID, fmt.Errorf("unknown mode %q", p.Mode))
	}
	if err := h.engine.SetRecordMode(mode); err != nil {
		return engineError(cmd.ID, err)
	}
	return Response{ID: cmd.ID, Result: "ok"}
}

func (h *CommandHandler) handlePreBufferToggle(cmd Command, enable bool) Response {
	if enable {
		h.engine.EnablePreBuffering()
	} else {
		h.engine.DisablePreBuffering()
	}
	return Response{ID: cmd.ID, Result: "ok"}
}

// PreBufferLengthParams is the payload for record.set_prebuffer_length.
type PreBufferLengthParams struct {
	DurationSeconds int64 `json:"duration_seconds"`
}

func (h *CommandHandler) handleSetPreBufferLength(cmd Command) Response {
	var p PreBufferLengthParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd.ID, err)
	}
	h.engine.SetPreBufferLength(time.Duration(p.DurationSeconds) * time.Second)
	return Response{ID: cmd.ID, Result: "ok"}
}

// ─── addon.* ───

// AddonInfo summarizes an enabled, running add-on for addon.list results.
type AddonInfo struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Disabled bool   `json:"disabled"`
	Running  bool   `json:"running"`
}

func (h *CommandHandler) handleAddonList(cmd Command) Response {
	handles := h.addons.Enabled()
	out := make([]AddonInfo, 0, len(handles))
	for _, hd := range handles {
		out = append(out, AddonInfo{ID: hd.Session.ID(), Path: hd.Path, Disabled: hd.Disabled, Running: hd.Session.IsRunning()})
	}
	return Response{ID: cmd.ID, Result: out}
}

// AddonEnableParams is the payload for addon.enable / addon.disable.
type AddonEnableParams struct {
	ID string `json:"id"`
}

func (h *CommandHandler) handleAddonSetEnabled(cmd Command, enabled bool) Response {
	var p AddonEnableParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd.ID, err)
	}
	if !h.addons.SetEnabled(p.ID, enabled) {
		return Response{ID: cmd.ID, Error: &ErrorInfo{Code: ErrCodeInvalidParams, Message: fmt.Sprintf("unknown addon id %q", p.ID)}}
	}
	return Response{ID: cmd.ID, Result: "ok"}
}

// ─── config / daemon ───

func (h *CommandHandler) handleConfigReload(cmd Command) Response {
	if h.configReloader == nil {
		return Response{ID: cmd.ID, Error: &ErrorInfo{Code: ErrCodeInternalError, Message: "config reload not supported"}}
	}
	if err := h.configReloader.Reload(); err != nil {
		return Response{ID: cmd.ID, Error: &ErrorInfo{Code: ErrCodeInternalError, Message: err.Error()}}
	}
	return Response{ID: cmd.ID, Result: "reloaded"}
}

func (h *CommandHandler) handleDaemonShutdown(cmd Command) Response {
	if h.shutdownFunc != nil {
		go h.shutdownFunc()
	}
	return Response{ID: cmd.ID, Result: "shutting down"}
}

// DaemonStatus is the result of daemon.status.
type DaemonStatus struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	JobCount      int   `json:"job_count"`
	AddonCount    int   `json:"addon_count"`
}

func (h *CommandHandler) handleDaemonStatus(cmd Command) Response {
	return Response{ID: cmd.ID, Result: DaemonStatus{
		UptimeSeconds: time.Now().Unix() - h.startTime,
		JobCount:      len(h.engine.JobStatuses()),
		AddonCount:    len(h.addons.Enabled()),
	}}
}
