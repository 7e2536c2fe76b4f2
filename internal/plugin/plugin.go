// Package plugin defines the media-processing plugin contract and the
// registry that loads, routes, and supervises plugins. Built-in plugins are
// compiled into the daemon; dynamic plugins are scan-loaded from a
// directory of shared objects.
package plugin

import (
	"context"

	"github.com/mediabuilder/mediad/internal/models"
)

// APIVersion is the plugin API version this host expects. Dynamic plugins
// declaring any other version are rejected at load time. Strict equality
// for now.
const APIVersion = "1.0.0"

// ProgressSink receives progress updates from a running Process call.
// Plugins must call it with non-decreasing percentages.
type ProgressSink func(progress models.JobProgress)

// Plugin is the contract every media-processing plugin implements.
//
// The registry exclusively owns every plugin instance: Initialize is called
// once before any routing, Shutdown once before the instance is released,
// and the instance is never released while a job holds a handle to it.
type Plugin interface {
	// Descriptor identifies the plugin and declares its capabilities.
	Descriptor() models.PluginDescriptor

	// Initialize prepares the plugin. Called once; must be safe to retry
	// after a failure.
	Initialize(configPath string) error

	// Shutdown releases resources and cancels any in-flight work the
	// plugin started.
	Shutdown()

	// Healthy is a cheap liveness probe.
	Healthy() bool

	// CanHandle reports whether this plugin can process the given request.
	// The registry routes with this after filtering on declared job types.
	CanHandle(jobType models.JobType, params models.JobParams) bool

	// Process executes a job, reporting progress through sink, and returns
	// the output artifact location. It may suspend while waiting on an
	// external process; ctx carries the job's wall-clock timeout.
	Process(ctx context.Context, job *models.Job, sink ProgressSink) (string, error)

	// Cancel makes a best-effort attempt to stop one of the plugin's
	// active jobs, typically by terminating its external process.
	Cancel(jobID string) error
}

// Streamer is implemented by plugins that can produce continuous output
// for a channel, in addition to one-shot job processing.
type Streamer interface {
	// StartStream begins continuous output for a channel and returns the
	// stream URL.
	StartStream(channelID string, source, output map[string]string) (string, error)

	// StopStream halts continuous output for a channel.
	StopStream(channelID string) error
}

// Factory constructs a plugin instance. Dynamic plugin artifacts export a
// symbol of this type named NewPlugin.
type Factory func() Plugin
