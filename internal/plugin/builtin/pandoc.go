package builtin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/plugin"
)

// PandocPlugin converts documents via the external pandoc binary.
type PandocPlugin struct {
	pandocPath string
	timeout    time.Duration

	initialized atomic.Bool
	procs       *procTable
}

// NewPandocPlugin creates the document conversion plugin. pandocPath may be
// empty to auto-detect on PATH.
func NewPandocPlugin(pandocPath string, processTimeout time.Duration) *PandocPlugin {
	return &PandocPlugin{
		pandocPath: pandocPath,
		timeout:    processTimeout,
		procs:      newProcTable(),
	}
}

// Descriptor identifies the plugin.
func (p *PandocPlugin) Descriptor() models.PluginDescriptor {
	return models.PluginDescriptor{
		ID:       "pandoc",
		Name:     "Pandoc Document Converter",
		Version:  "1.0.0",
		Author:   "mediad",
		JobTypes: []models.JobType{models.JobTypeDocumentConvert},
		Capabilities: []string{
			"markdown", "html", "pdf", "docx", "custom-templates",
		},
		InputFormats:  []string{"md", "markdown", "html", "tex", "docx", "odt", "rst", "org", "txt"},
		OutputFormats: []string{"pdf", "html", "docx", "odt", "epub", "tex", "md"},
		BuiltIn:       true,
	}
}

// Initialize verifies pandoc is available.
func (p *PandocPlugin) Initialize(_ string) error {
	if p.pandocPath == "" {
		path, err := exec.LookPath("pandoc")
		if err != nil {
			return errkind.Wrap(errkind.Unavailable, err, "pandoc not found on PATH")
		}
		p.pandocPath = path
	}
	if _, err := os.Stat(p.pandocPath); err != nil {
		return errkind.Wrap(errkind.Unavailable, err, "pandoc not found at %q", p.pandocPath)
	}
	p.initialized.Store(true)
	return nil
}

// Shutdown cancels in-flight work.
func (p *PandocPlugin) Shutdown() {
	p.initialized.Store(false)
	p.procs.cancelAll()
}

// Healthy reports whether the plugin is operational.
func (p *PandocPlugin) Healthy() bool {
	return p.initialized.Load()
}

// CanHandle accepts document-convert requests carrying document params.
func (p *PandocPlugin) CanHandle(jobType models.JobType, params models.JobParams) bool {
	return jobType == models.JobTypeDocumentConvert && params.Document != nil
}

// Process converts the input document.
func (p *PandocPlugin) Process(ctx context.Context, job *models.Job, sink plugin.ProgressSink) (string, error) {
	if !p.initialized.Load() {
		return "", errkind.E(errkind.Unavailable, "pandoc plugin not initialized")
	}
	dp := job.Request.Params.Document
	if dp == nil {
		return "", errkind.E(errkind.Validation, "document params required")
	}

	if _, err := os.Stat(dp.InputPath); err != nil {
		return "", errkind.Wrap(errkind.Storage, err, "input file %q", dp.InputPath)
	}
	if dir := filepath.Dir(dp.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errkind.Wrap(errkind.Storage, err, "creating output directory")
		}
	}

	sink(models.JobProgress{Percent: 0, Stage: "preparing"})

	args := []string{dp.InputPath, "-o", dp.OutputPath}
	if dp.Format != "" {
		args = append(args, "-t", normalizeFormat(dp.Format))
	}
	if dp.TemplatePath != "" {
		args = append(args, "--template", dp.TemplatePath)
	}
	// Stable variable order keeps invocations reproducible for a given map.
	keys := make([]string, 0, len(dp.Variables))
	for k := range dp.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-V", fmt.Sprintf("%s=%s", k, dp.Variables[k]))
	}

	procCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	release := p.procs.track(job.ID.String(), cancel)
	defer release()

	sink(models.JobProgress{Percent: 20, Stage: "converting"})

	cmd := exec.CommandContext(procCtx, p.pandocPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if procCtx.Err() == context.Canceled {
			return "", procCtx.Err()
		}
		msg := strings.TrimSpace(string(output))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return "", errkind.E(errkind.Transcode, "pandoc failed: %v: %s", err, msg)
	}

	if _, err := os.Stat(dp.OutputPath); err != nil {
		return "", errkind.E(errkind.Transcode, "output file was not created: %s", dp.OutputPath)
	}

	sink(models.JobProgress{Percent: 100, Stage: "completed"})
	return dp.OutputPath, nil
}

// Cancel terminates the job's external process, if active here.
func (p *PandocPlugin) Cancel(jobID string) error {
	if !p.procs.cancel(jobID) {
		return errkind.E(errkind.NotFound, "job %q not active in pandoc", jobID)
	}
	return nil
}

// normalizeFormat maps output formats to pandoc writer names. PDF output
// is requested through the output extension, not a writer name.
func normalizeFormat(format string) string {
	switch strings.ToLower(format) {
	case "md":
		return "markdown"
	case "htm":
		return "html"
	case "pdf":
		return "pdf"
	default:
		return strings.ToLower(format)
	}
}
