package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the daemon. Gauge values for queue depth and worker
// occupancy are set by the job queue; listener/viewer gauges by the engines;
// plugin health by the registry's probe loop.
var (
	// JobsPending is the number of jobs waiting in the per-type queues.
	JobsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_jobs_pending",
		Help: "Number of jobs currently pending across all type queues.",
	})

	// JobsProcessing is the number of jobs currently held by workers.
	JobsProcessing = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_jobs_processing",
		Help: "Number of jobs currently being processed.",
	})

	// JobsCompletedTotal counts jobs that reached the completed status.
	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_jobs_completed_total",
		Help: "Total number of jobs completed successfully.",
	})

	// JobsFailedTotal counts jobs that reached the failed status.
	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_jobs_failed_total",
		Help: "Total number of jobs that failed.",
	})

	// WorkersTotal is the configured worker count across all type pools.
	WorkersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_workers_total",
		Help: "Total number of configured job workers.",
	})

	// WorkersBusy is the number of workers currently executing a job.
	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_workers_busy",
		Help: "Number of workers currently executing a job.",
	})

	// RadioListenersTotal is the number of connected radio listeners.
	RadioListenersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_radio_listeners_total",
		Help: "Number of currently connected radio listeners across all channels.",
	})

	// TVViewersTotal is the number of connected TV viewers.
	TVViewersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_tv_viewers_total",
		Help: "Number of currently connected TV viewers across all channels.",
	})

	// PluginHealthy reports the last health probe result per plugin (1 or 0).
	PluginHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "media_plugin_healthy",
		Help: "Result of the last plugin health probe (1 healthy, 0 unhealthy).",
	}, []string{"plugin"})

	// BroadcastBytesTotal counts bytes fanned out per mount.
	BroadcastBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_broadcast_bytes_total",
		Help: "Total bytes written to broadcaster mounts.",
	}, []string{"mount"})

	// BroadcastListenersPruned counts listeners removed after send failure.
	BroadcastListenersPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_broadcast_listeners_pruned_total",
		Help: "Total number of listeners pruned after a failed or blocked send.",
	})
)
