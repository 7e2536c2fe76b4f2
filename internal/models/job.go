package models

import (
	"time"
)

// JobType represents the type of media processing job.
type JobType string

const (
	// JobTypeVideoTranscode converts video between codecs/containers.
	JobTypeVideoTranscode JobType = "video-transcode"
	// JobTypeAudioTranscode converts audio between codecs.
	JobTypeAudioTranscode JobType = "audio-transcode"
	// JobTypeImageProcess resizes and filters images.
	JobTypeImageProcess JobType = "image-process"
	// JobTypeDocumentConvert converts documents between formats.
	JobTypeDocumentConvert JobType = "document-convert"
	// JobTypeCustom is interpreted entirely by the handling plugin.
	JobTypeCustom JobType = "custom"
)

// AllJobTypes lists every known job type, in queue setup order.
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeVideoTranscode,
		JobTypeAudioTranscode,
		JobTypeImageProcess,
		JobTypeDocumentConvert,
		JobTypeCustom,
	}
}

// IsValid reports whether t is a known job type.
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeVideoTranscode, JobTypeAudioTranscode, JobTypeImageProcess,
		JobTypeDocumentConvert, JobTypeCustom:
		return true
	}
	return false
}

// JobPriority determines dequeue order within a type queue.
type JobPriority int

const (
	// PriorityLow is background work.
	PriorityLow JobPriority = 0
	// PriorityNormal is the default.
	PriorityNormal JobPriority = 1
	// PriorityHigh jumps ahead of normal work.
	PriorityHigh JobPriority = 2
	// PriorityUrgent is dequeued before everything else.
	PriorityUrgent JobPriority = 3
)

// ParseJobPriority converts a priority name to its value.
// Unknown names map to PriorityNormal.
func ParseJobPriority(s string) JobPriority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// String returns the priority name.
func (p JobPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// MarshalJSON renders the priority as its name.
func (p JobPriority) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON accepts a priority name.
func (p *JobPriority) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	*p = ParseJobPriority(s)
	return nil
}

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting in a type queue.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a worker is executing the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled.
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true for completed, failed, and cancelled.
// Terminal statuses are non-reversible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// VideoParams holds parameters for a video transcode job.
type VideoParams struct {
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
	VideoCodec string `json:"video_codec"`
	AudioCodec string `json:"audio_codec"`
	BitrateK   int    `json:"bitrate_kbps"`
	Resolution string `json:"resolution,omitempty"` // e.g. "1280x720"
	Container  string `json:"container,omitempty"`  // e.g. "mp4", "mkv"
	HWAccel    string `json:"hw_accel,omitempty"`   // hint only; plugin may ignore
}

// AudioParams holds parameters for an audio transcode job.
type AudioParams struct {
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
	Codec      string `json:"codec"`
	BitrateK   int    `json:"bitrate_kbps"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// ImageFilter is one step of an image processing pipeline.
type ImageFilter string

// Image filters supported by the image-process job type.
const (
	FilterResize    ImageFilter = "resize"
	FilterBlur      ImageFilter = "blur"
	FilterSharpen   ImageFilter = "sharpen"
	FilterGrayscale ImageFilter = "grayscale"
	FilterNormalize ImageFilter = "normalize"
	FilterFlip      ImageFilter = "flip"
	FilterFlop      ImageFilter = "flop"
)

// IsValid reports whether f is a known image filter.
func (f ImageFilter) IsValid() bool {
	switch f {
	case FilterResize, FilterBlur, FilterSharpen, FilterGrayscale,
		FilterNormalize, FilterFlip, FilterFlop:
		return true
	}
	return false
}

// ImageParams holds parameters for an image processing job.
type ImageParams struct {
	InputPath      string        `json:"input_path"`
	OutputPath     string        `json:"output_path"`
	Width          int           `json:"width,omitempty"`
	Height         int           `json:"height,omitempty"`
	PreserveAspect bool          `json:"preserve_aspect"`
	Filters        []ImageFilter `json:"filters,omitempty"`
	Quality        int           `json:"quality,omitempty"` // 1-100
	Format         string        `json:"format,omitempty"`  // e.g. "jpg", "png", "webp"
}

// DocumentParams holds parameters for a document conversion job.
type DocumentParams struct {
	InputPath    string            `json:"input_path"`
	OutputPath   string            `json:"output_path"`
	Format       string            `json:"format"` // e.g. "pdf", "html", "docx"
	TemplatePath string            `json:"template_path,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// JobParams is the tagged union of per-type request parameters. Exactly one
// field matching the job type is set; Custom carries an opaque map the
// handling plugin interprets.
type JobParams struct {
	Video    *VideoParams      `json:"video,omitempty"`
	Audio    *AudioParams      `json:"audio,omitempty"`
	Image    *ImageParams      `json:"image,omitempty"`
	Document *DocumentParams   `json:"document,omitempty"`
	Custom   map[string]string `json:"custom,omitempty"`
}

// JobRequest is a job submission.
type JobRequest struct {
	Type     JobType     `json:"type"`
	Priority JobPriority `json:"priority"`
	TenantID string      `json:"tenant_id"`
	UserID   string      `json:"user_id"`
	Params   JobParams   `json:"params"`
	// MaxAttempts bounds retries created through the retry operation
	// (0 = no limit).
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// Validate checks the request shape: known type, and the params variant
// matching the type populated with its required fields.
func (r *JobRequest) Validate() error {
	if !r.Type.IsValid() {
		return ErrUnknownJobType
	}
	switch r.Type {
	case JobTypeVideoTranscode:
		if r.Params.Video == nil {
			return ErrParamsRequired
		}
		if r.Params.Video.InputPath == "" || r.Params.Video.OutputPath == "" {
			return ErrInputOutputRequired
		}
	case JobTypeAudioTranscode:
		if r.Params.Audio == nil {
			return ErrParamsRequired
		}
		if r.Params.Audio.InputPath == "" || r.Params.Audio.OutputPath == "" {
			return ErrInputOutputRequired
		}
	case JobTypeImageProcess:
		if r.Params.Image == nil {
			return ErrParamsRequired
		}
		if r.Params.Image.InputPath == "" || r.Params.Image.OutputPath == "" {
			return ErrInputOutputRequired
		}
		for _, f := range r.Params.Image.Filters {
			if !f.IsValid() {
				return ErrUnknownImageFilter
			}
		}
	case JobTypeDocumentConvert:
		if r.Params.Document == nil {
			return ErrParamsRequired
		}
		if r.Params.Document.InputPath == "" || r.Params.Document.OutputPath == "" {
			return ErrInputOutputRequired
		}
		if r.Params.Document.Format == "" {
			return ErrFormatRequired
		}
	case JobTypeCustom:
		if len(r.Params.Custom) == 0 {
			return ErrParamsRequired
		}
	}
	return nil
}

// JobProgress is a point-in-time progress report for a processing job.
type JobProgress struct {
	Percent float64        `json:"percent"` // 0-100, monotonic while processing
	Stage   string         `json:"stage,omitempty"`
	ETA     *time.Duration `json:"eta,omitempty"`
}

// Job is the mutable job record owned by the queue. All mutation happens
// under the queue's records lock; callers receive snapshots.
type Job struct {
	ID          ULID        `json:"id"`
	Type        JobType     `json:"type"`
	Priority    JobPriority `json:"priority"`
	TenantID    string      `json:"tenant_id"`
	UserID      string      `json:"user_id"`
	SubmittedAt time.Time   `json:"submitted_at"`
	Request     JobRequest  `json:"request"`

	Status     JobStatus   `json:"status"`
	Progress   JobProgress `json:"progress"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	EndedAt    *time.Time  `json:"ended_at,omitempty"`
	Error      string      `json:"error,omitempty"`
	OutputPath string      `json:"output_path,omitempty"`
	PluginID   string      `json:"plugin_id,omitempty"`

	// ParentID links a retry to the failed job it was cloned from.
	ParentID ULID `json:"parent_id,omitempty"`
	// Attempt is 1 for the original submission and increments per retry.
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts,omitempty"`

	// CancelRequested is set by the canceller and observed by the worker.
	// The terminal status is decided by the worker at return time.
	CancelRequested bool `json:"cancel_requested,omitempty"`
}

// NewJob creates a pending job from a validated request.
func NewJob(req JobRequest) *Job {
	now := Now()
	return &Job{
		ID:          NewULID(),
		Type:        req.Type,
		Priority:    req.Priority,
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		SubmittedAt: now,
		Request:     req,
		Status:      JobStatusPending,
		Attempt:     1,
		MaxAttempts: req.MaxAttempts,
	}
}

// MarkProcessing transitions pending → processing.
func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	now := Now()
	j.StartedAt = &now
}

// MarkCompleted records successful completion and the output artifact.
// The final progress update is pinned to 100%.
func (j *Job) MarkCompleted(outputPath string) {
	j.Status = JobStatusCompleted
	now := Now()
	j.EndedAt = &now
	j.OutputPath = outputPath
	j.Progress.Percent = 100
	j.Progress.Stage = "completed"
	j.Progress.ETA = nil
}

// MarkFailed records failure with a reason.
func (j *Job) MarkFailed(reason string) {
	j.Status = JobStatusFailed
	now := Now()
	j.EndedAt = &now
	j.Error = reason
}

// MarkCancelled records cancellation.
func (j *Job) MarkCancelled() {
	j.Status = JobStatusCancelled
	now := Now()
	j.EndedAt = &now
}

// Clone returns a snapshot copy safe to hand outside the records lock.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
