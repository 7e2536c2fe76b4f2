// Package queue implements the in-memory job queue: per-type priority
// queues feeding bounded worker pools, progress tracking, cancellation,
// retry, and retention sweeping.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/mediabuilder/mediad/internal/config"
	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/observability"
	"github.com/mediabuilder/mediad/internal/plugin"
)

// Notifier delivers notifications best-effort. Implementations must never
// let delivery failure propagate back into queue state.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

// NopNotifier discards notifications; used when no external service is
// configured and in tests.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, models.Notification) {}

// typeQueue is one job type's pending entries plus its wakeup condvar.
type typeQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     entryHeap
	shutdown bool
}

func newTypeQueue() *typeQueue {
	tq := &typeQueue{}
	tq.cond = sync.NewCond(&tq.mu)
	return tq
}

// Queue accepts, schedules, executes, and tracks media jobs.
type Queue struct {
	cfg      config.QueueConfig
	registry *plugin.Registry
	notifier Notifier
	logger   *slog.Logger

	// jobsMu guards the records map only. It is never held across a
	// plugin call or a condvar wait.
	jobsMu sync.Mutex
	jobs   map[models.ULID]*models.Job

	queues map[models.JobType]*typeQueue

	running atomic.Bool
	wg      sync.WaitGroup

	totalWorkers int
	busyWorkers  atomic.Int64
	pendingCount atomic.Int64
	procCount    atomic.Int64

	sweeper *cron.Cron
}

// New creates a job queue wired to the plugin registry and notifier.
func New(cfg config.QueueConfig, registry *plugin.Registry, notifier Notifier, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}

	q := &Queue{
		cfg:      cfg,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		jobs:     make(map[models.ULID]*models.Job),
		queues:   make(map[models.JobType]*typeQueue),
	}
	for _, t := range models.AllJobTypes() {
		q.queues[t] = newTypeQueue()
	}
	return q
}

// Start launches the per-type worker pools and the retention sweeper.
func (q *Queue) Start() error {
	if !q.running.CompareAndSwap(false, true) {
		return errkind.E(errkind.Conflict, "queue already running")
	}

	total := 0
	for _, t := range models.AllJobTypes() {
		count := q.cfg.WorkersFor(string(t))
		total += count
		for i := 0; i < count; i++ {
			q.wg.Add(1)
			go q.worker(t, i)
		}
	}
	q.totalWorkers = total
	observability.WorkersTotal.Set(float64(total))

	q.sweeper = cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %s", q.cfg.SweepInterval)
	if _, err := q.sweeper.AddFunc(spec, q.sweep); err != nil {
		return fmt.Errorf("scheduling retention sweeper: %w", err)
	}
	q.sweeper.Start()

	q.logger.Info("job queue started",
		slog.Int("workers", total),
		slog.Duration("sweep_interval", q.cfg.SweepInterval))
	return nil
}

// Stop shuts the queue down. With wait=true the type queues drain and
// workers finish their current jobs; with wait=false outstanding work is
// cancelled and Stop returns once workers have observed the cancellation.
func (q *Queue) Stop(wait bool) {
	if !q.running.CompareAndSwap(true, false) {
		return
	}
	if q.sweeper != nil {
		q.sweeper.Stop()
	}

	if !wait {
		// Pending jobs are cancelled outright; processing jobs get the
		// cancel flag plus a plugin kick, and their workers record the
		// terminal state on return.
		q.jobsMu.Lock()
		var toCancel []*models.Job
		for _, job := range q.jobs {
			switch job.Status {
			case models.JobStatusPending:
				job.MarkCancelled()
				q.pendingCount.Add(-1)
			case models.JobStatusProcessing:
				job.CancelRequested = true
				toCancel = append(toCancel, job.Clone())
			}
		}
		q.jobsMu.Unlock()
		observability.JobsPending.Set(float64(q.pendingCount.Load()))

		for _, job := range toCancel {
			if p, ok := q.registry.Get(job.PluginID); ok {
				_ = p.Cancel(job.ID.String())
			}
		}
	}

	for _, tq := range q.queues {
		tq.mu.Lock()
		tq.shutdown = true
		tq.cond.Broadcast()
		tq.mu.Unlock()
	}

	q.wg.Wait()
	q.logger.Info("job queue stopped", slog.Bool("waited", wait))
}

// IsRunning reports whether the queue is accepting and executing jobs.
func (q *Queue) IsRunning() bool {
	return q.running.Load()
}

// Submit validates a request, records a pending job, and signals the
// matching type queue. Submission never blocks on worker availability.
func (q *Queue) Submit(ctx context.Context, req models.JobRequest) (*models.Job, error) {
	if !q.running.Load() {
		return nil, errkind.E(errkind.Unavailable, "job queue is not running")
	}
	if err := req.Validate(); err != nil {
		return nil, errkind.Wrap(errkind.Validation, err, "invalid job request")
	}

	job := models.NewJob(req)

	q.jobsMu.Lock()
	q.jobs[job.ID] = job
	snapshot := job.Clone()
	q.jobsMu.Unlock()

	tq := q.queues[req.Type]
	tq.mu.Lock()
	tq.heap.push(queueEntry{
		jobID:       job.ID,
		priority:    job.Priority,
		submittedAt: job.SubmittedAt,
	})
	tq.cond.Signal()
	tq.mu.Unlock()

	q.pendingCount.Add(1)
	observability.JobsPending.Set(float64(q.pendingCount.Load()))

	go q.notifier.Notify(context.WithoutCancel(ctx), models.Notification{
		Kind:     models.NotifyJobStarted,
		TenantID: job.TenantID,
		UserID:   job.UserID,
		JobID:    job.ID.String(),
		Payload:  map[string]any{"type": string(job.Type), "priority": job.Priority.String()},
	})

	q.logger.Info("job submitted",
		slog.String("job_id", job.ID.String()),
		slog.String("type", string(job.Type)),
		slog.String("priority", job.Priority.String()))
	return snapshot, nil
}

// Get returns a snapshot of a job record.
func (q *Queue) Get(id models.ULID) (*models.Job, error) {
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, errkind.E(errkind.NotFound, "job %s not found", id)
	}
	return job.Clone(), nil
}

// ListFilter narrows List output.
type ListFilter struct {
	TenantID string
	UserID   string
	Status   *models.JobStatus
	Limit    int
	Offset   int
}

// List returns job snapshots matching the filter, ordered by submission
// time descending.
func (q *Queue) List(filter ListFilter) []*models.Job {
	q.jobsMu.Lock()
	matched := make([]*models.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if filter.TenantID != "" && job.TenantID != filter.TenantID {
			continue
		}
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		matched = append(matched, job.Clone())
	}
	q.jobsMu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SubmittedAt.After(matched[j].SubmittedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.Job{}
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

// Cancel requests cancellation of a job. Pending jobs transition to
// cancelled immediately (their heap entries are discarded lazily);
// processing jobs get a cancel flag plus a best-effort plugin cancel, and
// the worker decides the terminal status when the plugin returns.
func (q *Queue) Cancel(id models.ULID) error {
	q.jobsMu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.jobsMu.Unlock()
		return errkind.E(errkind.NotFound, "job %s not found", id)
	}

	switch job.Status {
	case models.JobStatusPending:
		job.MarkCancelled()
		q.pendingCount.Add(-1)
		observability.JobsPending.Set(float64(q.pendingCount.Load()))
		q.jobsMu.Unlock()
		q.logger.Info("pending job cancelled", slog.String("job_id", id.String()))
		return nil

	case models.JobStatusProcessing:
		job.CancelRequested = true
		pluginID := job.PluginID
		q.jobsMu.Unlock()

		if p, ok := q.registry.Get(pluginID); ok {
			if err := p.Cancel(id.String()); err != nil {
				q.logger.Debug("plugin cancel returned error",
					slog.String("job_id", id.String()),
					slog.String("error", err.Error()))
			}
		}
		q.logger.Info("cancellation requested for processing job", slog.String("job_id", id.String()))
		return nil

	default:
		q.jobsMu.Unlock()
		return errkind.E(errkind.Conflict, "job %s is already %s", id, job.Status)
	}
}

// Retry clones a terminally failed job into a new pending job linked via
// ParentID.
func (q *Queue) Retry(ctx context.Context, id models.ULID) (*models.Job, error) {
	q.jobsMu.Lock()
	parent, ok := q.jobs[id]
	if !ok {
		q.jobsMu.Unlock()
		return nil, errkind.E(errkind.NotFound, "job %s not found", id)
	}
	if parent.Status != models.JobStatusFailed {
		q.jobsMu.Unlock()
		return nil, errkind.E(errkind.Conflict, "job %s is %s; only failed jobs can be retried", id, parent.Status)
	}
	req := parent.Request
	attempt := parent.Attempt + 1
	maxAttempts := parent.MaxAttempts
	q.jobsMu.Unlock()

	if maxAttempts > 0 && attempt > maxAttempts {
		return nil, errkind.E(errkind.Conflict, "job %s exhausted its retry budget (%d attempts)", id, maxAttempts)
	}

	retry, err := q.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	q.jobsMu.Lock()
	if record, ok := q.jobs[retry.ID]; ok {
		record.ParentID = id
		record.Attempt = attempt
		retry = record.Clone()
	}
	q.jobsMu.Unlock()

	q.logger.Info("job retried",
		slog.String("parent_id", id.String()),
		slog.String("job_id", retry.ID.String()),
		slog.Int("attempt", attempt))
	return retry, nil
}

// Stats summarises queue occupancy.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`

	PendingByType    map[models.JobType]int64 `json:"pending_by_type"`
	ProcessingByType map[models.JobType]int64 `json:"processing_by_type"`

	TotalWorkers int   `json:"total_workers"`
	BusyWorkers  int64 `json:"busy_workers"`
}

// GetStats returns a consistent snapshot of queue statistics.
func (q *Queue) GetStats() Stats {
	stats := Stats{
		PendingByType:    make(map[models.JobType]int64),
		ProcessingByType: make(map[models.JobType]int64),
		TotalWorkers:     q.totalWorkers,
		BusyWorkers:      q.busyWorkers.Load(),
	}

	q.jobsMu.Lock()
	for _, job := range q.jobs {
		switch job.Status {
		case models.JobStatusPending:
			stats.Pending++
			stats.PendingByType[job.Type]++
		case models.JobStatusProcessing:
			stats.Processing++
			stats.ProcessingByType[job.Type]++
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		case models.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	q.jobsMu.Unlock()

	return stats
}

// sweep removes terminal jobs older than their retention window. Output
// artifacts are left in place.
func (q *Queue) sweep() {
	now := models.Now()
	var removed int

	q.jobsMu.Lock()
	for id, job := range q.jobs {
		if !job.Status.IsTerminal() || job.EndedAt == nil {
			continue
		}
		retention := q.cfg.CompletedRetention.Duration()
		if job.Status == models.JobStatusFailed {
			retention = q.cfg.FailedRetention.Duration()
		}
		if now.Sub(*job.EndedAt) > retention {
			delete(q.jobs, id)
			removed++
		}
	}
	q.jobsMu.Unlock()

	if removed > 0 {
		q.logger.Info("retention sweep removed jobs", slog.Int("removed", removed))
	}
}
