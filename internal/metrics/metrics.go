// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceivedTotal counts frames delivered by the middleware per topic.
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rec_agent_frames_received_total",
			Help: "Total number of frames received from the middleware",
		},
		[]string{"topic"},
	)

	// FramesDroppedTotal counts frames dropped by the pre-buffer or a
	// writer's backpressure policy.
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rec_agent_frames_dropped_total",
			Help: "Total number of frames dropped before being durably written",
		},
		[]string{"topic", "reason"},
	)

	// PreBufferOccupancy tracks how many frames currently sit in the
	// pre-buffer ring.
	PreBufferOccupancy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rec_agent_pre_buffer_occupancy",
			Help: "Current number of frames held in the pre-buffer ring",
		},
	)

	// WriterQueueDepth tracks the queue depth of each active job's writer.
	WriterQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rec_agent_writer_queue_depth",
			Help: "Number of frames queued for write in an active job",
		},
		[]string{"job_id"},
	)

	// FramesWrittenTotal counts frames durably persisted by a job's writer.
	FramesWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rec_agent_frames_written_total",
			Help: "Total number of frames written to measurement storage",
		},
		[]string{"job_id", "topic"},
	)

	// JobState tracks each job's current main state (spec §4.J states).
	JobState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rec_agent_job_state",
			Help: "Current state of a record job (0=not_started,1=recording,2=flushing,3=finished_flushing,4=uploading,5=finished_uploading)",
		},
		[]string{"job_id"},
	)

	// ActiveJobs tracks the total number of non-deleted jobs known to the engine.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rec_agent_active_jobs",
			Help: "Current number of record jobs tracked by the engine",
		},
	)

	// AddonSessionsTotal tracks discovered add-on sessions by health.
	AddonSessionsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rec_agent_addon_sessions",
			Help: "Number of add-on sessions by health status",
		},
		[]string{"status"},
	)

	// AddonRequestsTotal counts request/response round-trips sent to add-ons.
	AddonRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rec_agent_addon_requests_total",
			Help: "Total number of requests sent to add-on subprocesses",
		},
		[]string{"addon_id", "function", "outcome"},
	)

	// GCRunsTotal counts garbage-collection sweeps over finished jobs.
	GCRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rec_agent_gc_runs_total",
			Help: "Total number of garbage-collection sweeps performed",
		},
	)

	// CommandsHandledTotal counts control-plane commands processed, by
	// method and outcome.
	CommandsHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rec_agent_commands_handled_total",
			Help: "Total number of control commands handled",
		},
		[]string{"method", "outcome"},
	)
)

// JobStateValue represents a job's MainState as a numeric value for the
// JobState gauge.
const (
	JobStateNotStarted        = 0
	JobStateRecording         = 1
	JobStateFlushing          = 2
	JobStateFinishedFlushing  = 3
	JobStateUploading         = 4
	JobStateFinishedUploading = 5
)
