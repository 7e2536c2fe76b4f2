package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediabuilder/mediad/internal/dbal"
	"github.com/mediabuilder/mediad/internal/plugin"
	"github.com/mediabuilder/mediad/internal/queue"
	"github.com/mediabuilder/mediad/internal/radio"
	"github.com/mediabuilder/mediad/internal/tv"
)

// HealthHandler aggregates subsystem health into one snapshot.
type HealthHandler struct {
	version   string
	startedAt time.Time

	queue    *queue.Queue
	registry *plugin.Registry
	radio    *radio.Engine
	tv       *tv.Engine
	dbal     *dbal.Client
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startedAt: time.Now(),
	}
}

// WithQueue attaches the job queue.
func (h *HealthHandler) WithQueue(q *queue.Queue) *HealthHandler {
	h.queue = q
	return h
}

// WithRegistry attaches the plugin registry.
func (h *HealthHandler) WithRegistry(r *plugin.Registry) *HealthHandler {
	h.registry = r
	return h
}

// WithEngines attaches the radio and TV engines.
func (h *HealthHandler) WithEngines(r *radio.Engine, t *tv.Engine) *HealthHandler {
	h.radio = r
	h.tv = t
	return h
}

// WithDBAL attaches the external service client.
func (h *HealthHandler) WithDBAL(c *dbal.Client) *HealthHandler {
	h.dbal = c
	return h
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health snapshot",
		Tags:        []string{"System"},
	}, h.Get)
}

// HealthInput is the input for the health snapshot.
type HealthInput struct{}

// HealthOutput is the aggregate health snapshot.
type HealthOutput struct {
	Body struct {
		Status  string        `json:"status"`
		Version string        `json:"version"`
		Uptime  string        `json:"uptime"`
		Checks  []HealthCheck `json:"checks"`
	}
}

// HealthCheck is one subsystem's health line.
type HealthCheck struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Get returns the aggregate health snapshot.
func (h *HealthHandler) Get(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	resp := &HealthOutput{}
	resp.Body.Version = h.version
	resp.Body.Uptime = time.Since(h.startedAt).Round(time.Second).String()

	healthy := true
	add := func(check HealthCheck) {
		if !check.Healthy {
			healthy = false
		}
		resp.Body.Checks = append(resp.Body.Checks, check)
	}

	if h.queue != nil {
		add(HealthCheck{Name: "queue", Healthy: h.queue.IsRunning()})
	}
	if h.registry != nil {
		results := h.registry.HealthCheck()
		allHealthy := true
		for _, ok := range results {
			if !ok {
				allHealthy = false
			}
		}
		add(HealthCheck{Name: "plugins", Healthy: allHealthy})
	}
	if h.radio != nil {
		add(HealthCheck{Name: "radio", Healthy: true})
	}
	if h.tv != nil {
		add(HealthCheck{Name: "tv", Healthy: true})
	}
	if h.dbal != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		check := HealthCheck{Name: "dbal", Healthy: true}
		if err := h.dbal.Ping(pingCtx); err != nil {
			// The external service being down degrades notifications but
			// not core processing, so it does not flip the overall status.
			check.Healthy = false
			check.Detail = err.Error()
		}
		resp.Body.Checks = append(resp.Body.Checks, check)
	}

	if healthy {
		resp.Body.Status = "ok"
	} else {
		resp.Body.Status = "degraded"
	}
	return resp, nil
}
