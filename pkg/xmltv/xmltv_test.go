package xmltv

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterProducesGuide(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteChannel(&Channel{ID: "ch1", DisplayName: "Movies One"}))
	require.NoError(t, w.WriteProgramme(&Programme{
		Start:       time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC),
		Stop:        time.Date(2026, 8, 1, 21, 30, 0, 0, time.UTC),
		Channel:     "ch1",
		Title:       "Evening Feature",
		Description: "/media/feature.mp4",
		Category:    "movie",
	}))
	require.NoError(t, w.WriteFooter())

	out := buf.String()
	assert.Contains(t, out, `<tv generator-info-name="mediad">`)
	assert.Contains(t, out, `<channel id="ch1">`)
	assert.Contains(t, out, "<display-name>Movies One</display-name>")
	assert.Contains(t, out, `start="20260801200000 +0000"`)
	assert.Contains(t, out, "<title>Evening Feature</title>")
	assert.Contains(t, out, "</tv>")
}

func TestWriterRejectsChannelAfterProgramme(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})

	require.NoError(t, w.WriteProgramme(&Programme{
		Start: time.Now(), Stop: time.Now().Add(time.Hour),
		Channel: "ch1", Title: "x",
	}))
	assert.Error(t, w.WriteChannel(&Channel{ID: "late"}))
}

func TestWriterEscapesMarkup(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteProgramme(&Programme{
		Start: time.Now(), Stop: time.Now().Add(time.Hour),
		Channel: "ch1", Title: "Cops & Robbers <Live>",
	}))
	require.NoError(t, w.WriteFooter())

	assert.Contains(t, buf.String(), "Cops &amp; Robbers &lt;Live&gt;")
}

func TestParserRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteChannel(&Channel{ID: "ch1", DisplayName: "Movies One", Icon: "http://example.com/ch1.png"}))
	start := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, w.WriteProgramme(&Programme{
		Start: start, Stop: start.Add(30 * time.Minute),
		Channel: "ch1", Title: "Morning News", Category: "news",
	}))
	require.NoError(t, w.WriteFooter())

	var channels []*Channel
	var programmes []*Programme
	p := &Parser{
		OnChannel: func(ch *Channel) error {
			channels = append(channels, ch)
			return nil
		},
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}
	require.NoError(t, p.Parse(&buf))

	require.Len(t, channels, 1)
	assert.Equal(t, "Movies One", channels[0].DisplayName)
	assert.Equal(t, "http://example.com/ch1.png", channels[0].Icon)

	require.Len(t, programmes, 1)
	assert.True(t, programmes[0].Start.Equal(start))
	assert.Equal(t, "Morning News", programmes[0].Title)
	assert.Equal(t, "news", programmes[0].Category)
}

func TestParserToleratesMissingOffset(t *testing.T) {
	doc := `<?xml version="1.0"?>
<tv>
  <programme start="20260801120000" stop="20260801130000" channel="ch1">
    <title>No Offset</title>
  </programme>
</tv>`

	var got *Programme
	p := &Parser{OnProgramme: func(prog *Programme) error {
		got = prog
		return nil
	}}
	require.NoError(t, p.Parse(strings.NewReader(doc)))

	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), got.Start)
}

func TestParserReportsBadTimestamps(t *testing.T) {
	doc := `<tv>
  <programme start="whenever" stop="20260801130000 +0000" channel="ch1">
    <title>Broken</title>
  </programme>
</tv>`

	var errs []error
	var programmes int
	p := &Parser{
		OnProgramme: func(*Programme) error {
			programmes++
			return nil
		},
		OnError: func(err error) {
			errs = append(errs, err)
		},
	}
	require.NoError(t, p.Parse(strings.NewReader(doc)))

	assert.Len(t, errs, 1)
	assert.Zero(t, programmes, "a programme with a bad timestamp is skipped")
}
