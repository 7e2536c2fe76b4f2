package tv

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediabuilder/mediad/internal/broadcast"
	"github.com/mediabuilder/mediad/internal/config"
	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/models"
)

func testTvConfig(t *testing.T) config.TVConfig {
	t.Helper()
	return config.TVConfig{
		Enabled:     true,
		MaxChannels: 2,
		Variants: []config.TVVariant{
			{Name: "720p", Width: 1280, Height: 720, BitrateKbps: 2500},
			{Name: "480p", Width: 854, Height: 480, BitrateKbps: 1000},
		},
		VideoCodec:       "h264",
		VideoPreset:      "fast",
		AudioCodec:       "aac",
		AudioBitrateKbps: 128,
		AudioSampleRate:  48000,
		SegmentDuration:  4 * time.Second,
		PlaylistWindow:   3,
		OutputDir:        t.TempDir(),
		EPGLookahead:     24 * time.Hour,
		EPGRefreshCron:   "0 */15 * * * *",
		CommercialBreak:  2 * time.Minute,
		FailureLimit:     3,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(testTvConfig(t), nil, nil, broadcast.New(8, nil), nil, nil)
}

func validConfig(name string) models.TvChannelConfig {
	return models.TvChannelConfig{Name: name, TenantID: "tenant-1"}
}

func entry(title, path string, start time.Time, dur time.Duration) models.TvScheduleEntry {
	return models.TvScheduleEntry{
		StartAt: start,
		Program: models.TvProgram{Title: title, Path: path, Duration: dur},
	}
}

func TestCreateAndDefaults(t *testing.T) {
	e := newTestEngine(t)

	status, err := e.Create(validConfig("movies"))
	require.NoError(t, err)
	assert.False(t, status.Live)
	assert.Equal(t, "h264", status.Config.VideoCodec)
	assert.Equal(t, "aac", status.Config.AudioCodec)
	assert.Equal(t, 2*time.Minute, status.Config.BreakDuration)
}

func TestChannelLimit(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create(validConfig("a"))
	require.NoError(t, err)
	_, err = e.Create(validConfig("b"))
	require.NoError(t, err)

	_, err = e.Create(validConfig("c"))
	assert.Equal(t, errkind.Conflict, errkind.KindOf(err))
}

func TestSetScheduleSortsEntries(t *testing.T) {
	e := newTestEngine(t)
	status, err := e.Create(validConfig("sorted"))
	require.NoError(t, err)

	base := time.Now().Add(time.Hour)
	require.NoError(t, e.SetSchedule(status.ID, []models.TvScheduleEntry{
		entry("second", "/media/b.mp4", base.Add(30*time.Minute), 30*time.Minute),
		entry("first", "/media/a.mp4", base, 30*time.Minute),
	}))

	got, err := e.GetSchedule(status.ID, base.Add(-time.Minute), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Program.Title)
	assert.Equal(t, "second", got[1].Program.Title)
	assert.NotEmpty(t, got[0].Program.ID)
}

func TestScheduleValidation(t *testing.T) {
	e := newTestEngine(t)
	status, err := e.Create(validConfig("v"))
	require.NoError(t, err)

	err = e.SetSchedule(status.ID, []models.TvScheduleEntry{
		{Program: models.TvProgram{Title: "no path"}, StartAt: time.Now()},
	})
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))

	err = e.SetSchedule(status.ID, []models.TvScheduleEntry{
		{Program: models.TvProgram{Title: "x", Path: "/m.mp4"}},
	})
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))
}

func TestCurrentEntrySelection(t *testing.T) {
	e := newTestEngine(t)
	status, err := e.Create(validConfig("now"))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, e.SetSchedule(status.ID, []models.TvScheduleEntry{
		entry("past", "/media/past.mp4", now.Add(-2*time.Hour), 30*time.Minute),
		entry("current", "/media/cur.mp4", now.Add(-10*time.Minute), time.Hour),
		entry("future", "/media/next.mp4", now.Add(2*time.Hour), time.Hour),
	}))

	st, err := e.state(status.ID)
	require.NoError(t, err)

	cur := e.currentEntry(st, now)
	require.NotNil(t, cur)
	assert.Equal(t, "current", cur.Program.Title)

	st.mu.Lock()
	nextUp := st.nextUp
	st.mu.Unlock()
	require.NotNil(t, nextUp)
	assert.Equal(t, "future", nextUp.Title)

	// A gap: nothing covers this instant.
	gap := e.currentEntry(st, now.Add(90*time.Minute))
	assert.Nil(t, gap)
}

func TestRemoveProgram(t *testing.T) {
	e := newTestEngine(t)
	status, err := e.Create(validConfig("rm"))
	require.NoError(t, err)

	require.NoError(t, e.AddProgram(status.ID, entry("one", "/m/1.mp4", time.Now().Add(time.Hour), time.Hour)))
	sched, err := e.GetSchedule(status.ID, time.Now(), time.Now().Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, sched, 1)

	require.NoError(t, e.RemoveProgram(status.ID, sched[0].Program.ID))
	err = e.RemoveProgram(status.ID, sched[0].Program.ID)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestEPGGeneration(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.Create(models.TvChannelConfig{Name: "alpha", TenantID: "t"})
	require.NoError(t, err)
	b, err := e.Create(models.TvChannelConfig{Name: "beta", TenantID: "t"})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, e.SetSchedule(a.ID, []models.TvScheduleEntry{
		entry("a1", "/m/a1.mp4", now.Add(time.Hour), time.Hour),
		entry("too far", "/m/a2.mp4", now.Add(48*time.Hour), time.Hour),
	}))
	require.NoError(t, e.SetSchedule(b.ID, []models.TvScheduleEntry{
		entry("b1", "/m/b1.mp4", now.Add(30*time.Minute), time.Hour),
	}))

	epg := e.GenerateEPG(24 * time.Hour)
	require.Len(t, epg, 2, "entries beyond the lookahead are excluded")
	assert.Equal(t, "b1", epg[0].Program.Title, "EPG is ordered by start time")
	assert.Equal(t, "a1", epg[1].Program.Title)

	channelEPG, err := e.GenerateChannelEPG(a.ID, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, channelEPG, 1)
	assert.Equal(t, "alpha", channelEPG[0].ChannelName)
}

func TestExportXMLTV(t *testing.T) {
	e := newTestEngine(t)
	ch, err := e.Create(models.TvChannelConfig{Name: "alpha", TenantID: "t"})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, e.SetSchedule(ch.ID, []models.TvScheduleEntry{
		entry("News", "/m/news.mp4", now.Add(time.Hour), 30*time.Minute),
	}))

	var buf bytes.Buffer
	require.NoError(t, e.ExportXMLTV(&buf, 24*time.Hour))

	out := buf.String()
	assert.Contains(t, out, "<tv generator-info-name=\"mediad\"")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "News")
	assert.Contains(t, out, "</tv>")
}

func TestSegmenterPlaylists(t *testing.T) {
	e := newTestEngine(t)
	status, err := e.Create(validConfig("hls"))
	require.NoError(t, err)

	st, err := e.state(status.ID)
	require.NoError(t, err)

	seg, err := e.newSegmenter(st)
	require.NoError(t, err)
	require.NoError(t, seg.writeMasterPlaylist())

	master, err := os.ReadFile(filepath.Join(seg.outputDir, "master.m3u8"))
	require.NoError(t, err)
	assert.Contains(t, string(master), "#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720")
	assert.Contains(t, string(master), "720p/playlist.m3u8")
	assert.Contains(t, string(master), "480p/playlist.m3u8")

	// Simulate five rendered segments with a window of three.
	v := &seg.variants[0]
	for i := 0; i < 5; i++ {
		name := segName(uint64(i))
		v.segments = append(v.segments, name)
		if len(v.segments) > seg.window {
			v.segments = v.segments[1:]
		}
		seg.seq++
		require.NoError(t, seg.writeVariantPlaylist(v))
	}

	playlist, err := os.ReadFile(filepath.Join(seg.outputDir, "720p", "playlist.m3u8"))
	require.NoError(t, err)
	content := string(playlist)

	assert.Contains(t, content, "#EXT-X-MEDIA-SEQUENCE:2")
	assert.NotContains(t, content, "seg000000.ts", "evicted segments leave the playlist")
	assert.Contains(t, content, "seg000004.ts")
	assert.Equal(t, 3, strings.Count(content, "#EXTINF:"))
}

func TestViewerDeltaNeverNegative(t *testing.T) {
	e := newTestEngine(t)
	status, err := e.Create(validConfig("viewers"))
	require.NoError(t, err)

	e.ViewerDelta(status.ID, 1)
	e.ViewerDelta(status.ID, -4)
	assert.Equal(t, 0, e.TotalViewers())
}

func TestDeleteRefusesLive(t *testing.T) {
	e := newTestEngine(t)
	status, err := e.Create(validConfig("live"))
	require.NoError(t, err)

	st, err := e.state(status.ID)
	require.NoError(t, err)
	st.live.Store(true)

	err = e.Delete(status.ID)
	assert.Equal(t, errkind.Conflict, errkind.KindOf(err))
}

// segName mirrors the loop's segment naming.
func segName(seq uint64) string {
	return fmt.Sprintf("seg%06d.ts", seq)
}
