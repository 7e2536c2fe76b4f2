package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/observability"
)

// worker is the per-type worker loop: wait for an entry, dequeue the
// highest-priority pending job, route it to a plugin, and record the
// terminal state.
func (q *Queue) worker(jobType models.JobType, workerID int) {
	defer q.wg.Done()

	logger := q.logger.With(
		slog.String("job_type", string(jobType)),
		slog.Int("worker", workerID))
	logger.Debug("worker started")

	tq := q.queues[jobType]
	for {
		tq.mu.Lock()
		for tq.heap.Len() == 0 && !tq.shutdown {
			tq.cond.Wait()
		}
		if tq.heap.Len() == 0 && tq.shutdown {
			tq.mu.Unlock()
			logger.Debug("worker stopping")
			return
		}
		entry, _ := tq.heap.pop()
		tq.mu.Unlock()

		// On shutdown the loop keeps draining whatever is queued, then
		// exits via the empty-heap check above.
		q.runJob(entry, logger)
	}
}

// runJob executes one dequeued entry.
func (q *Queue) runJob(entry queueEntry, logger *slog.Logger) {
	// Claim the record. Entries whose job left the pending state (cancelled
	// while queued, or swept) are discarded.
	q.jobsMu.Lock()
	job, ok := q.jobs[entry.jobID]
	if !ok || job.Status != models.JobStatusPending {
		q.jobsMu.Unlock()
		return
	}
	job.MarkProcessing()
	snapshot := job.Clone()
	q.jobsMu.Unlock()

	q.pendingCount.Add(-1)
	q.procCount.Add(1)
	q.busyWorkers.Add(1)
	observability.JobsPending.Set(float64(q.pendingCount.Load()))
	observability.JobsProcessing.Set(float64(q.procCount.Load()))
	observability.WorkersBusy.Set(float64(q.busyWorkers.Load()))

	defer func() {
		q.procCount.Add(-1)
		q.busyWorkers.Add(-1)
		observability.JobsProcessing.Set(float64(q.procCount.Load()))
		observability.WorkersBusy.Set(float64(q.busyWorkers.Load()))
	}()

	logger = logger.With(slog.String("job_id", snapshot.ID.String()))

	// Route to a plugin. The registry lock is not held while CanHandle runs.
	p, err := q.registry.FindForJob(snapshot.Type, snapshot.Request.Params)
	if err != nil {
		q.finishJob(snapshot.ID, "", err)
		return
	}
	desc := p.Descriptor()

	q.jobsMu.Lock()
	if record, ok := q.jobs[snapshot.ID]; ok {
		record.PluginID = desc.ID
	}
	q.jobsMu.Unlock()

	logger.Info("job dispatched", slog.String("plugin_id", desc.ID))

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.JobTimeout)
	defer cancel()

	sink := q.progressSink(snapshot.ID)
	outputPath, err := p.Process(ctx, snapshot, sink)
	q.finishJob(snapshot.ID, outputPath, err)
}

// progressSink returns the callback a plugin drives. Updates are applied
// under the records lock, kept monotonic, and coalesced within the
// configured window; the terminal 100% update is never dropped.
func (q *Queue) progressSink(jobID models.ULID) func(models.JobProgress) {
	var lastSent time.Time

	return func(p models.JobProgress) {
		now := time.Now()
		final := p.Percent >= 100

		if !final && q.cfg.ProgressWindow > 0 && now.Sub(lastSent) < q.cfg.ProgressWindow {
			return
		}
		lastSent = now

		var notification *models.Notification
		q.jobsMu.Lock()
		job, ok := q.jobs[jobID]
		if ok && job.Status == models.JobStatusProcessing {
			// Progress is monotonic non-decreasing while processing.
			if p.Percent >= job.Progress.Percent {
				job.Progress = p
				notification = &models.Notification{
					Kind:     models.NotifyJobProgress,
					TenantID: job.TenantID,
					UserID:   job.UserID,
					JobID:    jobID.String(),
					Payload: map[string]any{
						"percent": p.Percent,
						"stage":   p.Stage,
					},
				}
			}
		}
		q.jobsMu.Unlock()

		if notification != nil {
			go q.notifier.Notify(context.Background(), *notification)
		}
	}
}

// finishJob records the terminal state after a plugin returns. The
// cancel/completion race resolves here: a successful return wins over a
// pending cancel request.
func (q *Queue) finishJob(jobID models.ULID, outputPath string, procErr error) {
	var notification *models.Notification

	q.jobsMu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.jobsMu.Unlock()
		return
	}

	switch {
	case procErr == nil:
		job.MarkCompleted(outputPath)
		observability.JobsCompletedTotal.Inc()
		notification = &models.Notification{
			Kind:     models.NotifyJobCompleted,
			TenantID: job.TenantID,
			UserID:   job.UserID,
			JobID:    jobID.String(),
			Payload:  map[string]any{"output_path": outputPath},
		}

	case job.CancelRequested:
		job.MarkCancelled()

	case errors.Is(procErr, context.DeadlineExceeded):
		job.MarkFailed(errkind.E(errkind.Transcode, "job timed out").Error())
		observability.JobsFailedTotal.Inc()
		notification = failureNotification(job)

	default:
		job.MarkFailed(procErr.Error())
		observability.JobsFailedTotal.Inc()
		notification = failureNotification(job)
	}

	status := job.Status
	q.jobsMu.Unlock()

	if notification != nil {
		go q.notifier.Notify(context.Background(), *notification)
	}

	q.logger.Info("job finished",
		slog.String("job_id", jobID.String()),
		slog.String("status", string(status)))
}

// failureNotification builds the job_failed notification for a record
// already holding its error message. Caller holds the records lock.
func failureNotification(job *models.Job) *models.Notification {
	return &models.Notification{
		Kind:     models.NotifyJobFailed,
		TenantID: job.TenantID,
		UserID:   job.UserID,
		JobID:    job.ID.String(),
		Payload:  map[string]any{"error": job.Error},
	}
}
