package dbal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediabuilder/mediad/internal/config"
	"github.com/mediabuilder/mediad/internal/models"
)

// recorder captures requests hitting the stub DBAL server.
type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   []byte
}

func (r *recorder) record(req *http.Request, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, recordedRequest{
		method: req.Method,
		path:   req.URL.Path,
		auth:   req.Header.Get("Authorization"),
		body:   body,
	})
}

func (r *recorder) last() recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body := make([]byte, 0)
		if req.Body != nil {
			buf := make([]byte, 64*1024)
			n, _ := req.Body.Read(buf)
			body = buf[:n]
		}
		rec.record(req, body)
		handler(w, req)
	}))
	t.Cleanup(srv.Close)

	client := New(config.DBALConfig{
		URL:           srv.URL,
		APIKey:        "sekrit",
		Timeout:       2 * time.Second,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	}, nil)
	return client, rec
}

func TestNotifySendsBearerAndBody(t *testing.T) {
	client, rec := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	client.Notify(context.Background(), models.Notification{
		Kind:     models.NotifyJobCompleted,
		TenantID: "t1",
		UserID:   "u1",
		JobID:    "job-1",
		Payload:  map[string]any{"output_path": "/out/a.jpg"},
	})

	req := rec.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/notifications", req.path)
	assert.Equal(t, "Bearer sekrit", req.auth)

	var n map[string]any
	require.NoError(t, json.Unmarshal(req.body, &n))
	assert.Equal(t, "job_completed", n["kind"])
	assert.Equal(t, "t1", n["tenantId"])
	assert.Equal(t, "u1", n["userId"])
	assert.Equal(t, "job-1", n["jobId"])
}

func TestNotifyFailureIsSwallowed(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	// Must not panic or propagate anything.
	client.Notify(context.Background(), models.Notification{
		Kind:     models.NotifyJobFailed,
		TenantID: "t1",
	})
}

func TestCheckPermissionAllowed(t *testing.T) {
	client, rec := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"allowed": true}`))
	})

	allowed := client.CheckPermission(context.Background(), "t1", "u1", "media.submit")
	assert.True(t, allowed)

	req := rec.last()
	assert.Equal(t, "/api/permissions/check", req.path)
}

func TestCheckPermissionDeniesOnNon200(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	assert.False(t, client.CheckPermission(context.Background(), "t1", "u1", "media.submit"))
}

func TestCheckPermissionDeniesOnUnreachable(t *testing.T) {
	client := New(config.DBALConfig{
		URL:           "http://127.0.0.1:1", // nothing listens here
		Timeout:       200 * time.Millisecond,
		RetryAttempts: 0,
		RetryDelay:    time.Millisecond,
	}, nil)

	assert.False(t, client.CheckPermission(context.Background(), "t1", "u1", "media.submit"))
}

func TestUserLevel(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"level": 4}`))
	})

	level, err := client.UserLevel(context.Background(), "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, level)
}

func TestPing(t *testing.T) {
	client, rec := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, "/api/health", rec.last().path)
}

func TestStoreJobBestEffort(t *testing.T) {
	client, rec := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	job := models.NewJob(models.JobRequest{
		Type:   models.JobTypeCustom,
		Params: models.JobParams{Custom: map[string]string{"op": "x"}},
	})
	client.StoreJob(context.Background(), job)
	assert.Equal(t, 1, rec.count())

	client.UpdateJob(context.Background(), job)
	assert.Equal(t, http.MethodPut, rec.last().method)
	assert.Equal(t, "/api/jobs/"+job.ID.String(), rec.last().path)
}
