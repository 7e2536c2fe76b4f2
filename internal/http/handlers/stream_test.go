package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediabuilder/mediad/internal/broadcast"
	"github.com/mediabuilder/mediad/internal/config"
	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/radio"
)

func streamServer(t *testing.T, b *broadcast.Broadcaster) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	h := NewStreamHandler(b, nil, nil, "", nil)
	h.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamUnknownMount404(t *testing.T) {
	b := broadcast.New(8, nil)
	srv := streamServer(t, b)

	resp, err := http.Get(srv.URL + "/stream/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"code":"not_found"`)
}

func TestStreamReceivesWrittenBytes(t *testing.T) {
	b := broadcast.New(32, nil)
	b.CreateMount("live")
	srv := streamServer(t, b)

	resp, err := http.Get(srv.URL + "/stream/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Wait for the listener to attach, then produce.
	deadline := time.Now().Add(2 * time.Second)
	for b.ListenerCount("live") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, b.ListenerCount("live"))

	b.Write("live", []byte("hello "))
	b.Write("live", []byte("world"))
	b.RemoveMount("live")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
}

func TestStreamTwoListenersSamePrefix(t *testing.T) {
	b := broadcast.New(32, nil)
	b.CreateMount("live")
	srv := streamServer(t, b)

	resp1, err := http.Get(srv.URL + "/stream/live")
	require.NoError(t, err)
	defer resp1.Body.Close()
	resp2, err := http.Get(srv.URL + "/stream/live")
	require.NoError(t, err)
	defer resp2.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.ListenerCount("live") < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 2, b.ListenerCount("live"))

	for i := 0; i < 4; i++ {
		b.Write("live", []byte{byte('a' + i)})
	}
	b.RemoveMount("live")

	body1, err := io.ReadAll(resp1.Body)
	require.NoError(t, err)
	body2, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)

	assert.Equal(t, "abcd", string(body1))
	assert.Equal(t, body1, body2, "all listeners observe the identical byte stream")
}

func TestServeRadioPlaylistExport(t *testing.T) {
	b := broadcast.New(8, nil)
	engine := radio.New(config.RadioConfig{
		MaxChannels: 2, BitrateKbps: 128, SampleRate: 44100, Channels: 2,
		Codec: "mp3", StreamMimeType: "audio/mpeg",
	}, 8192, nil, nil, b, nil, nil)

	status, err := engine.Create(models.RadioChannelConfig{Name: "mix", TenantID: "t1"})
	require.NoError(t, err)
	require.NoError(t, engine.SetPlaylist(status.ID, []models.RadioTrack{
		{Path: "/music/one.mp3", Title: "One", Artist: "Someone", Duration: 240 * time.Second},
		{Path: "/music/two.mp3", Title: "Two"},
	}))

	router := chi.NewRouter()
	NewStreamHandler(b, engine, nil, "", nil).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/radio/channels/" + status.ID.String() + "/playlist.m3u")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/x-mpegurl", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, "#EXTM3U")
	assert.Contains(t, out, "#EXTINF:240,Someone - One")
	assert.Contains(t, out, "/music/two.mp3")

	// Unknown channels surface the standard error body.
	resp404, err := http.Get(srv.URL + "/radio/channels/" + models.NewULID().String() + "/playlist.m3u")
	require.NoError(t, err)
	defer resp404.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp404.StatusCode)
}

func TestStreamListenerCountDropsOnDisconnect(t *testing.T) {
	b := broadcast.New(32, nil)
	b.CreateMount("live")
	srv := streamServer(t, b)

	resp, err := http.Get(srv.URL + "/stream/live")
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for b.ListenerCount("live") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, b.ListenerCount("live"))

	resp.Body.Close()

	deadline = time.Now().Add(2 * time.Second)
	for b.ListenerCount("live") != 0 && time.Now().Before(deadline) {
		b.Write("live", []byte("tick")) // nudge the relay loop to notice
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, b.ListenerCount("live"))
}
