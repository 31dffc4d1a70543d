// Package upload declares the interface the recording engine needs from
// the surrounding uploader (spec §1: "the FTP uploader, treated as an
// opaque background worker reporting progress"). The transfer protocol
// itself is out of scope for this repository; this package is the seam
// component J is written against, plus a small local-filesystem fake used by
// tests and the daemon's bundled stand-in.
package upload

import "time"

// Config carries everything an uploader needs to ship one measurement
// directory to its remote destination.
type Config struct {
	JobID             int64
	CompletePath      string
	Destination       string
	DeleteAfterUpload bool
	SkipMetadataFiles []string
}

// Status is a point-in-time snapshot of one upload's progress.
type Status struct {
	Healthy       bool
	Message       string
	BytesSent     int64
	BytesTotal    int64
	FilesUploaded int
	FilesTotal    int
	StartedAt     time.Time
}

// Worker is one running upload (spec §4.J "upload(upload_config): starts
// the upload worker (opaque)"). Implementations run in the background;
// Status must be safe to call concurrently with the transfer.
type Worker interface {
	// Status returns the worker's current progress snapshot.
	Status() Status
	// Exited reports whether the transfer has finished, successfully or
	// not; job state advances Uploading->FinishedUploading once true.
	Exited() bool
	// Cancel requests the transfer stop as soon as possible.
	Cancel()
}

// Uploader starts upload workers. One Uploader instance is shared by the
// engine across every job that requests an upload.
type Uploader interface {
	Start(cfg Config) (Worker, error)
}
