package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/queue"
)

// JobHandler handles job API endpoints.
type JobHandler struct {
	queue *queue.Queue
}

// NewJobHandler creates a new job handler.
func NewJobHandler(q *queue.Queue) *JobHandler {
	return &JobHandler{queue: q}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "submitJob",
		Method:        "POST",
		Path:          "/jobs",
		Summary:       "Submit job",
		Description:   "Submits a media processing job to the queue",
		Tags:          []string{"Jobs"},
		DefaultStatus: 201,
	}, h.Submit)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/jobs",
		Summary:     "List jobs",
		Description: "Returns jobs filtered by tenant, user, and status",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJobStats",
		Method:      "GET",
		Path:        "/jobs/stats",
		Summary:     "Get job statistics",
		Description: "Returns queue occupancy and worker statistics",
		Tags:        []string{"Jobs"},
	}, h.GetStats)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a job by ID",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      "DELETE",
		Path:        "/jobs/{id}",
		Summary:     "Cancel job",
		Description: "Cancels a pending or running job",
		Tags:        []string{"Jobs"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID:   "retryJob",
		Method:        "POST",
		Path:          "/jobs/{id}/retry",
		Summary:       "Retry job",
		Description:   "Clones a failed job into a new submission",
		Tags:          []string{"Jobs"},
		DefaultStatus: 201,
	}, h.Retry)
}

// SubmitJobInput is the input for submitting a job.
type SubmitJobInput struct {
	Body models.JobRequest
}

// SubmitJobOutput is the output for submitting a job.
type SubmitJobOutput struct {
	Body *models.Job
}

// Submit accepts a job request.
func (h *JobHandler) Submit(ctx context.Context, input *SubmitJobInput) (*SubmitJobOutput, error) {
	job, err := h.queue.Submit(ctx, input.Body)
	if err != nil {
		return nil, apiError(err)
	}
	return &SubmitJobOutput{Body: job}, nil
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	Tenant string `query:"tenant" doc:"Filter by tenant ID"`
	User   string `query:"user" doc:"Filter by user ID"`
	Status string `query:"status" doc:"Filter by status (pending, processing, completed, failed, cancelled)"`
	Limit  int    `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum results"`
	Offset int    `query:"offset" minimum:"0" doc:"Pagination offset"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []*models.Job `json:"jobs"`
	}
}

// List returns jobs matching the filter, newest first.
func (h *JobHandler) List(_ context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	filter := queue.ListFilter{
		TenantID: input.Tenant,
		UserID:   input.User,
		Limit:    input.Limit,
		Offset:   input.Offset,
	}
	if input.Status != "" {
		status := models.JobStatus(input.Status)
		filter.Status = &status
	}

	resp := &ListJobsOutput{}
	resp.Body.Jobs = h.queue.List(filter)
	return resp, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body *models.Job
}

// GetByID returns a job by ID.
func (h *JobHandler) GetByID(_ context.Context, input *GetJobInput) (*GetJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid job ID", err)
	}

	job, err := h.queue.Get(id)
	if err != nil {
		return nil, apiError(err)
	}
	return &GetJobOutput{Body: job}, nil
}

// CancelJobInput is the input for cancelling a job.
type CancelJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// CancelJobOutput is the output for cancelling a job.
type CancelJobOutput struct {
	Body struct {
		Cancelled bool `json:"cancelled"`
	}
}

// Cancel requests job cancellation.
func (h *JobHandler) Cancel(_ context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid job ID", err)
	}

	if err := h.queue.Cancel(id); err != nil {
		return nil, apiError(err)
	}

	resp := &CancelJobOutput{}
	resp.Body.Cancelled = true
	return resp, nil
}

// RetryJobInput is the input for retrying a job.
type RetryJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// RetryJobOutput is the output for retrying a job.
type RetryJobOutput struct {
	Body *models.Job
}

// Retry clones a failed job.
func (h *JobHandler) Retry(ctx context.Context, input *RetryJobInput) (*RetryJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid job ID", err)
	}

	job, err := h.queue.Retry(ctx, id)
	if err != nil {
		return nil, apiError(err)
	}
	return &RetryJobOutput{Body: job}, nil
}

// GetJobStatsInput is the input for queue statistics.
type GetJobStatsInput struct{}

// GetJobStatsOutput is the output for queue statistics.
type GetJobStatsOutput struct {
	Body queue.Stats
}

// GetStats returns queue statistics.
func (h *JobHandler) GetStats(_ context.Context, _ *GetJobStatsInput) (*GetJobStatsOutput, error) {
	return &GetJobStatsOutput{Body: h.queue.GetStats()}, nil
}
