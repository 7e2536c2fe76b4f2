package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/ffmpeg"
	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/plugin"
)

// videoEncoders maps caller codec names to ffmpeg encoder names.
var videoEncoders = map[string]string{
	"h264": "libx264",
	"h265": "libx265",
	"hevc": "libx265",
	"vp9":  "libvpx-vp9",
	"av1":  "libsvtav1",
}

// FFmpegVideoPlugin transcodes video files through the external ffmpeg
// binary.
type FFmpegVideoPlugin struct {
	detector *ffmpeg.BinaryDetector
	prober   *ffmpeg.Prober
	runner   *ffmpeg.Runner
	timeout  time.Duration

	initialized atomic.Bool
	procs       *procTable
}

// NewFFmpegVideoPlugin creates the video transcode plugin.
func NewFFmpegVideoPlugin(detector *ffmpeg.BinaryDetector, processTimeout time.Duration) *FFmpegVideoPlugin {
	return &FFmpegVideoPlugin{
		detector: detector,
		timeout:  processTimeout,
		procs:    newProcTable(),
	}
}

// Descriptor identifies the plugin.
func (p *FFmpegVideoPlugin) Descriptor() models.PluginDescriptor {
	return models.PluginDescriptor{
		ID:       "ffmpeg-video",
		Name:     "FFmpeg Video Transcoder",
		Version:  "1.0.0",
		Author:   "mediad",
		JobTypes: []models.JobType{models.JobTypeVideoTranscode},
		Capabilities: []string{
			"transcode", "scale", "container-remux", "hardware-accel",
		},
		InputFormats:  []string{"mp4", "mkv", "avi", "mov", "webm", "ts", "flv"},
		OutputFormats: []string{"mp4", "mkv", "webm", "ts"},
		BuiltIn:       true,
	}
}

// Initialize detects the ffmpeg installation.
func (p *FFmpegVideoPlugin) Initialize(_ string) error {
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
func (p *FFmpegVideoPlugin) Shutdown() {
	p.initialized.Store(false)
	p.procs.cancelAll()
}

// Healthy reports whether the plugin is operational.
func (p *FFmpegVideoPlugin) Healthy() bool {
	return p.initialized.Load()
}

// CanHandle accepts video-transcode requests carrying video params.
func (p *FFmpegVideoPlugin) CanHandle(jobType models.JobType, params models.JobParams) bool {
	return jobType == models.JobTypeVideoTranscode && params.Video != nil
}

// Process transcodes the input file.
func (p *FFmpegVideoPlugin) Process(ctx context.Context, job *models.Job, sink plugin.ProgressSink) (string, error) {
	if !p.initialized.Load() {
		return "", errkind.E(errkind.Unavailable, "ffmpeg-video plugin not initialized")
	}
	vp := job.Request.Params.Video
	if vp == nil {
		return "", errkind.E(errkind.Validation, "video params required")
	}

	if _, err := os.Stat(vp.InputPath); err != nil {
		return "", errkind.Wrap(errkind.Storage, err, "input file %q", vp.InputPath)
	}
	if dir := filepath.Dir(vp.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errkind.Wrap(errkind.Storage, err, "creating output directory")
		}
	}

	sink(models.JobProgress{Percent: 0, Stage: "probing"})

	// Duration drives percentage reporting; probe failure degrades to
	// stage-only progress.
	var duration time.Duration
	if info, err := p.prober.ProbeMedia(ctx, vp.InputPath); err == nil {
		duration = info.Duration
	}

	args := buildVideoArgs(vp)

	procCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	release := p.procs.track(job.ID.String(), cancel)
	defer release()

	sink(models.JobProgress{Percent: 1, Stage: "transcoding"})
	err := p.runner.Transcode(procCtx, ffmpeg.TranscodeSpec{
		InputPath:  vp.InputPath,
		OutputPath: vp.OutputPath,
		Args:       args,
		Duration:   duration,
	}, func(percent float64) {
		sink(models.JobProgress{Percent: percent, Stage: "transcoding"})
	})
	if err != nil {
		if procCtx.Err() == context.Canceled {
			return "", procCtx.Err()
		}
		return "", errkind.Wrap(errkind.Transcode, err, "video transcode failed")
	}

	if _, err := os.Stat(vp.OutputPath); err != nil {
		return "", errkind.E(errkind.Transcode, "output file was not created: %s", vp.OutputPath)
	}

	sink(models.JobProgress{Percent: 100, Stage: "completed"})
	return vp.OutputPath, nil
}

// Cancel terminates the job's external process, if active here.
func (p *FFmpegVideoPlugin) Cancel(jobID string) error {
	if !p.procs.cancel(jobID) {
		return errkind.E(errkind.NotFound, "job %q not active in ffmpeg-video", jobID)
	}
	return nil
}

// buildVideoArgs translates request params into encoder arguments.
func buildVideoArgs(vp *models.VideoParams) []string {
	var args []string

	encoder := vp.VideoCodec
	if mapped, ok := videoEncoders[strings.ToLower(vp.VideoCodec)]; ok {
		encoder = mapped
	}
	if encoder == "" {
		encoder = "libx264"
	}
	args = append(args, "-c:v", encoder)

	if vp.BitrateK > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", vp.BitrateK))
	}
	if vp.Resolution != "" {
		args = append(args, "-s", vp.Resolution)
	}
	if vp.AudioCodec != "" {
		args = append(args, "-c:a", vp.AudioCodec)
	} else {
		args = append(args, "-c:a", "copy")
	}
	if vp.Container != "" {
		args = append(args, "-f", containerFormat(vp.Container))
	}
	if vp.HWAccel != "" {
		// Hint only; the encoder silently ignores unsupported accelerators
		// because -hwaccel applies to decode.
		args = append([]string{"-hwaccel", vp.HWAccel}, args...)
	}

	return args
}

// containerFormat maps container names to ffmpeg muxer names.
func containerFormat(container string) string {
	switch strings.ToLower(container) {
	case "mkv":
		return "matroska"
	case "ts":
		return "mpegts"
	default:
		return strings.ToLower(container)
	}
}
