// Package broadcast fans byte chunks written by channel loops out to every
// HTTP listener attached to a mount. One mount exists per live channel;
// distinct mounts use distinct locks so producers never block each other.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/mediabuilder/mediad/internal/observability"
)

// Broadcaster owns the mount map. Producers call Write; the HTTP layer
// attaches listeners.
type Broadcaster struct {
	mu     sync.Mutex
	mounts map[string]*mountState

	listenerBuffer int
	logger         *slog.Logger
}

// mountState carries one mount's listener list under its own lock, so
// writers on different mounts proceed in parallel.
type mountState struct {
	mu        sync.Mutex
	listeners []*Listener
	closed    bool
}

// New creates a broadcaster. listenerBuffer is the per-listener chunk
// channel capacity; a listener whose buffer is full is pruned.
func New(listenerBuffer int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if listenerBuffer < 1 {
		listenerBuffer = 1
	}
	return &Broadcaster{
		mounts:         make(map[string]*mountState),
		listenerBuffer: listenerBuffer,
		logger:         logger,
	}
}

// CreateMount allocates mount state if absent. Idempotent.
func (b *Broadcaster) CreateMount(mount string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.mounts[mount]; !ok {
		b.mounts[mount] = &mountState{}
		b.logger.Debug("mount created", slog.String("mount", mount))
	}
}

// RemoveMount removes a mount and closes every listener attached to it.
// Subsequent writes to the mount are no-ops.
func (b *Broadcaster) RemoveMount(mount string) {
	b.mu.Lock()
	state, ok := b.mounts[mount]
	delete(b.mounts, mount)
	b.mu.Unlock()

	if !ok {
		return
	}

	state.mu.Lock()
	listeners := state.listeners
	state.listeners = nil
	state.closed = true
	state.mu.Unlock()

	for _, l := range listeners {
		l.close()
	}
	b.logger.Debug("mount removed",
		slog.String("mount", mount),
		slog.Int("listeners_closed", len(listeners)))
}

// IsActive reports whether the mount exists.
func (b *Broadcaster) IsActive(mount string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.mounts[mount]
	return ok
}

// Attach registers a new listener on a mount. Fails if the mount does not
// exist; creating the mount is the channel-start path's job.
func (b *Broadcaster) Attach(mount string) (*Listener, error) {
	b.mu.Lock()
	state, ok := b.mounts[mount]
	b.mu.Unlock()

	if !ok {
		return nil, ErrNoSuchMount
	}

	l := newListener(mount, b.listenerBuffer)

	state.mu.Lock()
	if state.closed {
		state.mu.Unlock()
		return nil, ErrNoSuchMount
	}
	state.listeners = append(state.listeners, l)
	state.mu.Unlock()

	return l, nil
}

// Detach removes a listener from its mount and closes it. Safe to call for
// listeners that were already pruned.
func (b *Broadcaster) Detach(l *Listener) {
	b.mu.Lock()
	state, ok := b.mounts[l.mount]
	b.mu.Unlock()

	if ok {
		state.mu.Lock()
		for i, cand := range state.listeners {
			if cand == l {
				state.listeners = append(state.listeners[:i], state.listeners[i+1:]...)
				break
			}
		}
		state.mu.Unlock()
	}

	l.close()
}

// ListenerCount returns the number of listeners attached to a mount.
func (b *Broadcaster) ListenerCount(mount string) int {
	b.mu.Lock()
	state, ok := b.mounts[mount]
	b.mu.Unlock()

	if !ok {
		return 0
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.listeners)
}

// Write fans a chunk out to every listener on the mount, pruning listeners
// whose buffers are full. Writing to a removed mount is a no-op and
// reports false so producers can detect mount teardown.
func (b *Broadcaster) Write(mount string, data []byte) bool {
	// Look up the state pointer under the global lock, then drop it; the
	// per-mount lock is the innermost lock in the daemon.
	b.mu.Lock()
	state, ok := b.mounts[mount]
	b.mu.Unlock()

	if !ok {
		return false
	}

	// Copy once so every listener sees a stable chunk regardless of how the
	// producer reuses its read buffer.
	chunk := make([]byte, len(data))
	copy(chunk, data)

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.closed {
		return false
	}

	var pruned []*Listener
	kept := state.listeners[:0]
	for _, l := range state.listeners {
		if l.send(chunk) {
			kept = append(kept, l)
		} else {
			pruned = append(pruned, l)
		}
	}
	state.listeners = kept

	for _, l := range pruned {
		l.close()
		observability.BroadcastListenersPruned.Inc()
		b.logger.Debug("listener pruned",
			slog.String("mount", mount),
			slog.String("listener_id", l.ID.String()))
	}

	observability.BroadcastBytesTotal.WithLabelValues(mount).Add(float64(len(chunk)))
	return true
}

// Mounts returns the names of all active mounts.
func (b *Broadcaster) Mounts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.mounts))
	for name := range b.mounts {
		names = append(names, name)
	}
	return names
}
