package builtin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/plugin"
)

// MagickPlugin processes images via the ImageMagick convert binary.
type MagickPlugin struct {
	convertPath string
	timeout     time.Duration

	initialized atomic.Bool
	procs       *procTable
}

// NewMagickPlugin creates the image processing plugin. convertPath may be
// empty to auto-detect "magick" or "convert" on PATH.
func NewMagickPlugin(convertPath string, processTimeout time.Duration) *MagickPlugin {
	return &MagickPlugin{
		convertPath: convertPath,
		timeout:     processTimeout,
		procs:       newProcTable(),
	}
}

// Descriptor identifies the plugin.
func (p *MagickPlugin) Descriptor() models.PluginDescriptor {
	return models.PluginDescriptor{
		ID:       "imagemagick",
		Name:     "ImageMagick Processor",
		Version:  "1.0.0",
		Author:   "mediad",
		JobTypes: []models.JobType{models.JobTypeImageProcess},
		Capabilities: []string{
			"resize", "blur", "sharpen", "grayscale", "normalize",
			"flip", "flop", "convert",
		},
		InputFormats:  []string{"jpg", "jpeg", "png", "webp", "gif", "bmp", "tiff", "heic", "svg"},
		OutputFormats: []string{"jpg", "jpeg", "png", "webp", "avif", "gif", "bmp", "tiff"},
		BuiltIn:       true,
	}
}

// Initialize verifies the convert binary is available.
func (p *MagickPlugin) Initialize(_ string) error {
	if p.convertPath == "" {
		for _, candidate := range []string{"magick", "convert"} {
			if path, err := exec.LookPath(candidate); err == nil {
				p.convertPath = path
				break
			}
		}
	}
	if p.convertPath == "" {
		return errkind.E(errkind.Unavailable, "ImageMagick not found on PATH")
	}
	if _, err := os.Stat(p.convertPath); err != nil {
		return errkind.Wrap(errkind.Unavailable, err, "ImageMagick not found at %q", p.convertPath)
	}
	p.initialized.Store(true)
	return nil
}

// Shutdown cancels in-flight work.
func (p *MagickPlugin) Shutdown() {
	p.initialized.Store(false)
	p.procs.cancelAll()
}

// Healthy reports whether the plugin is operational.
func (p *MagickPlugin) Healthy() bool {
	return p.initialized.Load()
}

// CanHandle accepts image-process requests carrying image params.
func (p *MagickPlugin) CanHandle(jobType models.JobType, params models.JobParams) bool {
	return jobType == models.JobTypeImageProcess && params.Image != nil
}

// Process runs the convert pipeline on the input image.
func (p *MagickPlugin) Process(ctx context.Context, job *models.Job, sink plugin.ProgressSink) (string, error) {
	if !p.initialized.Load() {
		return "", errkind.E(errkind.Unavailable, "imagemagick plugin not initialized")
	}
	ip := job.Request.Params.Image
	if ip == nil {
		return "", errkind.E(errkind.Validation, "image params required")
	}

	if _, err := os.Stat(ip.InputPath); err != nil {
		return "", errkind.Wrap(errkind.Storage, err, "input file %q", ip.InputPath)
	}
	if dir := filepath.Dir(ip.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errkind.Wrap(errkind.Storage, err, "creating output directory")
		}
	}

	sink(models.JobProgress{Percent: 0, Stage: "preparing"})
	args := buildConvertArgs(ip)

	procCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	release := p.procs.track(job.ID.String(), cancel)
	defer release()

	sink(models.JobProgress{Percent: 20, Stage: "processing"})

	cmd := exec.CommandContext(procCtx, p.convertPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if procCtx.Err() == context.Canceled {
			return "", procCtx.Err()
		}
		msg := strings.TrimSpace(string(output))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return "", errkind.E(errkind.Transcode, "convert failed: %v: %s", err, msg)
	}

	if _, err := os.Stat(ip.OutputPath); err != nil {
		return "", errkind.E(errkind.Transcode, "output file was not created: %s", ip.OutputPath)
	}

	sink(models.JobProgress{Percent: 100, Stage: "completed"})
	return ip.OutputPath, nil
}

// Cancel terminates the job's external process, if active here.
func (p *MagickPlugin) Cancel(jobID string) error {
	if !p.procs.cancel(jobID) {
		return errkind.E(errkind.NotFound, "job %q not active in imagemagick", jobID)
	}
	return nil
}

// buildConvertArgs translates request params into a convert invocation.
func buildConvertArgs(ip *models.ImageParams) []string {
	args := []string{ip.InputPath}

	if ip.Width > 0 || ip.Height > 0 {
		var geometry string
		if ip.PreserveAspect {
			// Fit within bounds preserving aspect ratio.
			switch {
			case ip.Width > 0 && ip.Height > 0:
				geometry = fmt.Sprintf("%dx%d", ip.Width, ip.Height)
			case ip.Width > 0:
				geometry = strconv.Itoa(ip.Width)
			default:
				geometry = "x" + strconv.Itoa(ip.Height)
			}
		} else {
			// Exact resize, ignoring aspect ratio.
			geometry = fmt.Sprintf("%dx%d!", ip.Width, ip.Height)
		}
		args = append(args, "-resize", geometry)
	}

	for _, filter := range ip.Filters {
		switch filter {
		case models.FilterBlur:
			args = append(args, "-blur", "0x2")
		case models.FilterSharpen:
			args = append(args, "-sharpen", "0x1")
		case models.FilterGrayscale:
			args = append(args, "-colorspace", "Gray")
		case models.FilterNormalize:
			args = append(args, "-normalize")
		case models.FilterFlip:
			args = append(args, "-flip")
		case models.FilterFlop:
			args = append(args, "-flop")
		case models.FilterResize:
			// Geometry already applied above.
		}
	}

	if ip.Quality > 0 {
		args = append(args, "-quality", strconv.Itoa(ip.Quality))
	}

	// Strip metadata for web output.
	args = append(args, "-strip")

	// The format prefix is ImageMagick's output-format hint.
	output := ip.OutputPath
	if ip.Format != "" {
		output = ip.Format + ":" + ip.OutputPath
	}
	args = append(args, output)

	return args
}
