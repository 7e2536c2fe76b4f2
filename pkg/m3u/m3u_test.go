package m3u

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, input string) []*Track {
	t.Helper()
	var tracks []*Track
	p := &Parser{
		OnTrack: func(track *Track) error {
			tracks = append(tracks, track)
			return nil
		},
	}
	require.NoError(t, p.Parse(strings.NewReader(input)))
	return tracks
}

func TestParseBasicPlaylist(t *testing.T) {
	tracks := parseAll(t, `#EXTM3U
#EXTINF:240,Boards of Canada - Roygbiv
/music/roygbiv.mp3
#EXTINF:195,Untitled Demo
/music/demo.flac
`)

	require.Len(t, tracks, 2)
	assert.Equal(t, 240, tracks[0].Seconds)
	assert.Equal(t, "Boards of Canada", tracks[0].Artist)
	assert.Equal(t, "Roygbiv", tracks[0].Title)
	assert.Equal(t, "/music/roygbiv.mp3", tracks[0].Path)

	assert.Empty(t, tracks[1].Artist)
	assert.Equal(t, "Untitled Demo", tracks[1].Title)
}

func TestParseBareLocations(t *testing.T) {
	tracks := parseAll(t, "/music/one.mp3\n/music/sub/two track.ogg\n")

	require.Len(t, tracks, 2)
	assert.Equal(t, "one", tracks[0].Title)
	assert.Equal(t, -1, tracks[0].Seconds)
	assert.Equal(t, "two track", tracks[1].Title)
}

func TestParseLiveStreamEntry(t *testing.T) {
	tracks := parseAll(t, `#EXTM3U
#EXTINF:-1,Late Night Stream
http://radio.example.com/live
`)

	require.Len(t, tracks, 1)
	assert.Equal(t, -1, tracks[0].Seconds)
	assert.True(t, tracks[0].IsRemote())
}

func TestParseToleratesIPTVAttributes(t *testing.T) {
	tracks := parseAll(t, `#EXTM3U
#EXTINF:-1 tvg-id="x" group-title="News",Some Channel
http://example.com/stream
`)

	require.Len(t, tracks, 1)
	assert.Equal(t, "Some Channel", tracks[0].Title)
}

func TestParseMalformedExtinfReported(t *testing.T) {
	var errLines []int
	var tracks []*Track
	p := &Parser{
		OnTrack: func(track *Track) error {
			tracks = append(tracks, track)
			return nil
		},
		OnError: func(lineNum int, err error) {
			errLines = append(errLines, lineNum)
		},
	}

	input := "#EXTM3U\n#EXTINF:notanumber,Broken\n/music/a.mp3\n#EXTINF:60,Fine\n/music/b.mp3\n"
	require.NoError(t, p.Parse(strings.NewReader(input)))

	// The broken EXTINF is reported; its location still parses as a bare
	// entry, and the next pair is unaffected.
	assert.Equal(t, []int{2}, errLines)
	require.Len(t, tracks, 2)
	assert.Equal(t, "Fine", tracks[1].Title)
}

func TestParseGzipCompressed(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("#EXTM3U\n#EXTINF:120,Zipped\n/music/z.mp3\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	var tracks []*Track
	p := &Parser{OnTrack: func(track *Track) error {
		tracks = append(tracks, track)
		return nil
	}}
	require.NoError(t, p.Parse(&buf))

	require.Len(t, tracks, 1)
	assert.Equal(t, "Zipped", tracks[0].Title)
}

func TestParseRequiresCallback(t *testing.T) {
	p := &Parser{}
	assert.Error(t, p.Parse(strings.NewReader("#EXTM3U\n")))
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteTrack(&Track{
		Seconds: 240,
		Artist:  "Cluster",
		Title:   "Sowiesoso",
		Path:    "/music/sowiesoso.mp3",
	}))
	require.NoError(t, w.WriteTrack(&Track{
		Title: "Unknown Length",
		Path:  "/music/x.mp3",
	}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "#EXTM3U\n"))
	assert.Contains(t, out, "#EXTINF:240,Cluster - Sowiesoso")
	assert.Contains(t, out, "#EXTINF:-1,Unknown Length")

	tracks := parseAll(t, out)
	require.Len(t, tracks, 2)
	assert.Equal(t, "Cluster", tracks[0].Artist)
	assert.Equal(t, "Sowiesoso", tracks[0].Title)
	assert.Equal(t, -1, tracks[1].Seconds)
}
