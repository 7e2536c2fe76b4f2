package broadcast

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(l *Listener) []byte {
	var buf bytes.Buffer
	for chunk := range l.Chunks() {
		buf.Write(chunk)
	}
	return buf.Bytes()
}

func TestCreateMountIdempotent(t *testing.T) {
	b := New(4, nil)

	b.CreateMount("radio-1")
	b.CreateMount("radio-1")

	assert.True(t, b.IsActive("radio-1"))
	assert.Len(t, b.Mounts(), 1)
}

func TestAttachUnknownMountFails(t *testing.T) {
	b := New(4, nil)

	_, err := b.Attach("nope")
	assert.ErrorIs(t, err, ErrNoSuchMount)
}

func TestWriteFansOutInOrder(t *testing.T) {
	b := New(16, nil)
	b.CreateMount("m")

	l1, err := b.Attach("m")
	require.NoError(t, err)
	l2, err := b.Attach("m")
	require.NoError(t, err)

	assert.True(t, b.Write("m", []byte("abc")))
	assert.True(t, b.Write("m", []byte("def")))

	b.RemoveMount("m")

	// Each listener observes the exact concatenation of writes after attach.
	assert.Equal(t, []byte("abcdef"), drain(l1))
	assert.Equal(t, []byte("abcdef"), drain(l2))
}

func TestWriteCopiesChunk(t *testing.T) {
	b := New(4, nil)
	b.CreateMount("m")

	l, err := b.Attach("m")
	require.NoError(t, err)

	buf := []byte("aaaa")
	b.Write("m", buf)
	copy(buf, "zzzz") // producer reuses its read buffer

	b.RemoveMount("m")
	assert.Equal(t, []byte("aaaa"), drain(l))
}

func TestSlowListenerPruned(t *testing.T) {
	b := New(2, nil)
	b.CreateMount("m")

	fast, err := b.Attach("m")
	require.NoError(t, err)
	_, err = b.Attach("m")
	require.NoError(t, err)
	require.Equal(t, 2, b.ListenerCount("m"))

	// Fill both buffers, then keep the fast listener drained while the
	// slow one never reads. The third write overflows the slow buffer.
	b.Write("m", []byte("1"))
	b.Write("m", []byte("2"))
	<-fast.Chunks()
	<-fast.Chunks()
	b.Write("m", []byte("3"))

	assert.Equal(t, 1, b.ListenerCount("m"), "slow listener must be pruned")

	// The fast listener is unaffected.
	assert.Equal(t, []byte("3"), <-fast.Chunks())
}

func TestRemoveMountClosesListeners(t *testing.T) {
	b := New(4, nil)
	b.CreateMount("m")

	l, err := b.Attach("m")
	require.NoError(t, err)

	b.RemoveMount("m")

	_, open := <-l.Chunks()
	assert.False(t, open, "listener channel must be closed after mount removal")
	assert.False(t, b.IsActive("m"))

	// Writes after removal are no-ops.
	assert.False(t, b.Write("m", []byte("x")))
}

func TestDetachRemovesListener(t *testing.T) {
	b := New(4, nil)
	b.CreateMount("m")

	l, err := b.Attach("m")
	require.NoError(t, err)
	require.Equal(t, 1, b.ListenerCount("m"))

	b.Detach(l)
	assert.Equal(t, 0, b.ListenerCount("m"))

	// Detach is safe to repeat.
	b.Detach(l)
}

func TestListenerBytesSent(t *testing.T) {
	b := New(8, nil)
	b.CreateMount("m")

	l, err := b.Attach("m")
	require.NoError(t, err)

	b.Write("m", []byte("hello"))
	assert.Equal(t, uint64(5), l.BytesSent())
}
