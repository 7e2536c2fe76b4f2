package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrNoSuchMount is returned when attaching to a mount that does not exist.
var ErrNoSuchMount = errors.New("no such mount")

// Listener is a single attached byte-stream consumer. The broadcaster owns
// the handle from Attach until a failed send or mount removal closes it;
// consumers drain Chunks until it is closed.
type Listener struct {
	ID          uuid.UUID
	ConnectedAt time.Time

	mount     string
	ch        chan []byte
	closeOnce sync.Once
	bytesSent atomic.Uint64
}

func newListener(mount string, buffer int) *Listener {
	return &Listener{
		ID:          uuid.New(),
		ConnectedAt: time.Now(),
		mount:       mount,
		ch:          make(chan []byte, buffer),
	}
}

// Chunks returns the channel the consumer reads from. The channel is closed
// when the listener is pruned or its mount is removed.
func (l *Listener) Chunks() <-chan []byte {
	return l.ch
}

// Mount returns the mount this listener is attached to.
func (l *Listener) Mount() string {
	return l.mount
}

// BytesSent returns the number of bytes buffered toward this listener.
func (l *Listener) BytesSent() uint64 {
	return l.bytesSent.Load()
}

// send enqueues a chunk without blocking. A full buffer means the consumer
// is not draining; the send fails and the broadcaster prunes the listener.
func (l *Listener) send(chunk []byte) bool {
	select {
	case l.ch <- chunk:
		l.bytesSent.Add(uint64(len(chunk)))
		return true
	default:
		return false
	}
}

// close releases the listener. Idempotent; pending chunks remain readable
// until the channel drains.
func (l *Listener) close() {
	l.closeOnce.Do(func() {
		close(l.ch)
	})
}
