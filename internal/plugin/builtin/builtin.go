// Package builtin provides the plugins compiled into the daemon: FFmpeg
// video/audio transcoding, ImageMagick image processing, and Pandoc
// document conversion. Each drives an external CLI as a child process.
package builtin

import (
	"context"
	"sync"
)

// procTable tracks the cancel function of each active job so Cancel can
// terminate the right external process. Shared by all built-in plugins.
type procTable struct {
	mu   sync.Mutex
	jobs map[string]context.CancelFunc
}

func newProcTable() *procTable {
	return &procTable{jobs: make(map[string]context.CancelFunc)}
}

// track registers a job's cancel function and returns a release func the
// worker defers.
func (t *procTable) track(jobID string, cancel context.CancelFunc) func() {
	t.mu.Lock()
	t.jobs[jobID] = cancel
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.jobs, jobID)
		t.mu.Unlock()
	}
}

// cancel invokes a tracked job's cancel function, killing its process.
// Returns false if the job is not active in this plugin.
func (t *procTable) cancel(jobID string) bool {
	t.mu.Lock()
	cancel, ok := t.jobs[jobID]
	t.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// cancelAll terminates every tracked process; used by Shutdown.
func (t *procTable) cancelAll() {
	t.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(t.jobs))
	for _, c := range t.jobs {
		cancels = append(cancels, c)
	}
	t.jobs = make(map[string]context.CancelFunc)
	t.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}
