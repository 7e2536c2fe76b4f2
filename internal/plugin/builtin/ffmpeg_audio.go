package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/ffmpeg"
	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/plugin"
)

// audioEncoders maps caller codec names to ffmpeg encoder names.
var audioEncoders = map[string]string{
	"mp3":    "libmp3lame",
	"aac":    "aac",
	"opus":   "libopus",
	"vorbis": "libvorbis",
	"flac":   "flac",
}

// FFmpegAudioPlugin transcodes audio files through the external ffmpeg
// binary.
type FFmpegAudioPlugin struct {
	detector *ffmpeg.BinaryDetector
	prober   *ffmpeg.Prober
	runner   *ffmpeg.Runner
	timeout  time.Duration

	initialized atomic.Bool
	procs       *procTable
}

// NewFFmpegAudioPlugin creates the audio transcode plugin.
func NewFFmpegAudioPlugin(detector *ffmpeg.BinaryDetector, processTimeout time.Duration) *FFmpegAudioPlugin {
	return &FFmpegAudioPlugin{
		detector: detector,
		timeout:  processTimeout,
		procs:    newProcTable(),
	}
}

// Descriptor identifies the plugin.
func (p *FFmpegAudioPlugin) Descriptor() models.PluginDescriptor {
	return models.PluginDescriptor{
		ID:       "ffmpeg-audio",
		Name:     "FFmpeg Audio Transcoder",
		Version:  "1.0.0",
		Author:   "mediad",
		JobTypes: []models.JobType{models.JobTypeAudioTranscode},
		Capabilities: []string{
			"transcode", "resample", "loudness-normalize", "streaming",
		},
		InputFormats:  []string{"mp3", "flac", "wav", "ogg", "m4a", "aac", "opus"},
		OutputFormats: []string{"mp3", "aac", "opus", "ogg", "flac", "wav"},
		BuiltIn:       true,
	}
}

// Initialize detects the ffmpeg installation.
func (p *FFmpegAudioPlugin) Initialize(_ string) error {
	info, err := p.detector.Detect(context.Background())
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, err, "ffmpeg unavailable")
	}
	p.runner = ffmpeg.NewRunner(info.FFmpegPath, nil)
	p.prober = ffmpeg.NewProber(info.FFprobePath)
	p.initialized.Store(true)
	return nil
}

// Shutdown cancels in-flight work.
func (p *FFmpegAudioPlugin) Shutdown() {
	p.initialized.Store(false)
	p.procs.cancelAll()
}

// Healthy reports whether the plugin is operational.
func (p *FFmpegAudioPlugin) Healthy() bool {
	return p.initialized.Load()
}

// CanHandle accepts audio-transcode requests carrying audio params.
func (p *FFmpegAudioPlugin) CanHandle(jobType models.JobType, params models.JobParams) bool {
	return jobType == models.JobTypeAudioTranscode && params.Audio != nil
}

// Process transcodes the input file.
func (p *FFmpegAudioPlugin) Process(ctx context.Context, job *models.Job, sink plugin.ProgressSink) (string, error) {
	if !p.initialized.Load() {
		return "", errkind.E(errkind.Unavailable, "ffmpeg-audio plugin not initialized")
	}
	ap := job.Request.Params.Audio
	if ap == nil {
		return "", errkind.E(errkind.Validation, "audio params required")
	}

	if _, err := os.Stat(ap.InputPath); err != nil {
		return "", errkind.Wrap(errkind.Storage, err, "input file %q", ap.InputPath)
	}
	if dir := filepath.Dir(ap.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errkind.Wrap(errkind.Storage, err, "creating output directory")
		}
	}

	sink(models.JobProgress{Percent: 0, Stage: "probing"})

	var duration time.Duration
	if info, err := p.prober.ProbeMedia(ctx, ap.InputPath); err == nil {
		duration = info.Duration
	}

	var args []string
	encoder := ap.Codec
	if mapped, ok := audioEncoders[strings.ToLower(ap.Codec)]; ok {
		encoder = mapped
	}
	if encoder == "" {
		encoder = "libmp3lame"
	}
	args = append(args, "-vn", "-c:a", encoder)
	if ap.BitrateK > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", ap.BitrateK))
	}
	if ap.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(ap.SampleRate))
	}
	if ap.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(ap.Channels))
	}

	procCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	release := p.procs.track(job.ID.String(), cancel)
	defer release()

	sink(models.JobProgress{Percent: 1, Stage: "transcoding"})
	err := p.runner.Transcode(procCtx, ffmpeg.TranscodeSpec{
		InputPath:  ap.InputPath,
		OutputPath: ap.OutputPath,
		Args:       args,
		Duration:   duration,
	}, func(percent float64) {
		sink(models.JobProgress{Percent: percent, Stage: "transcoding"})
	})
	if err != nil {
		if procCtx.Err() == context.Canceled {
			return "", procCtx.Err()
		}
		return "", errkind.Wrap(errkind.Transcode, err, "audio transcode failed")
	}

	if _, err := os.Stat(ap.OutputPath); err != nil {
		return "", errkind.E(errkind.Transcode, "output file was not created: %s", ap.OutputPath)
	}

	sink(models.JobProgress{Percent: 100, Stage: "completed"})
	return ap.OutputPath, nil
}

// Cancel terminates the job's external process, if active here.
func (p *FFmpegAudioPlugin) Cancel(jobID string) error {
	if !p.procs.cancel(jobID) {
		return errkind.E(errkind.NotFound, "job %q not active in ffmpeg-audio", jobID)
	}
	return nil
}
