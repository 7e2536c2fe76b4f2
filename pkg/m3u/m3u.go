// Package m3u reads and writes extended M3U playlists the way radio
// channels use them: an ordered list of audio tracks with optional
// durations and display titles. Compressed playlists (gzip, bzip2, xz)
// are detected by magic bytes and decompressed transparently.
package m3u

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"
)

// Track is one playlist entry.
type Track struct {
	// Seconds is the declared duration from EXTINF; -1 or 0 when unknown.
	Seconds int

	// Artist is the part before " - " in the EXTINF title, when present.
	Artist string

	// Title is the display title.
	Title string

	// Path is the media location: a file path for local tracks, or a URL.
	Path string
}

// IsRemote reports whether the track points at a URL rather than a file.
func (t *Track) IsRemote() bool {
	return strings.Contains(t.Path, "://")
}

// Parser streams tracks out of a playlist via callbacks, so arbitrarily
// large playlists never materialise in memory.
type Parser struct {
	// OnTrack is called for each parsed track. Returning an error aborts
	// the parse.
	OnTrack func(track *Track) error

	// OnError is called for recoverable per-line problems (malformed
	// EXTINF). Nil means they are skipped silently.
	OnError func(lineNum int, err error)
}

// Compression magic bytes.
var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte{'B', 'Z', 'h'}
	xzMagic    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// Parse reads a playlist, transparently decompressing gzip, bzip2, or xz
// input, and invokes OnTrack per entry.
func (p *Parser) Parse(r io.Reader) error {
	if p.OnTrack == nil {
		return fmt.Errorf("OnTrack callback is required")
	}

	br := bufio.NewReader(r)
	head, _ := br.Peek(len(xzMagic))

	var reader io.Reader = br
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("opening gzip playlist: %w", err)
		}
		defer gz.Close()
		reader = gz
	case bytes.HasPrefix(head, bzip2Magic):
		reader = bzip2.NewReader(br)
	case bytes.HasPrefix(head, xzMagic):
		xzr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("opening xz playlist: %w", err)
		}
		reader = xzr
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var pending *Track
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "" || line == "#EXTM3U":
			continue

		case strings.HasPrefix(line, "#EXTINF:"):
			track, err := parseExtinf(line)
			if err != nil {
				if p.OnError != nil {
					p.OnError(lineNum, err)
				}
				pending = nil
				continue
			}
			pending = track

		case strings.HasPrefix(line, "#"):
			// Unknown directives are ignored.
			continue

		default:
			// A bare location line; with no preceding EXTINF the file name
			// stands in for the title.
			track := pending
			pending = nil
			if track == nil {
				track = &Track{Seconds: -1, Title: titleFromPath(line)}
			}
			track.Path = line
			if err := p.OnTrack(track); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading playlist: %w", err)
	}
	return nil
}

// parseExtinf parses "#EXTINF:<seconds>,<title>" with an optional
// "Artist - Title" split. IPTV-style key=value attributes between the
// duration and the comma are tolerated and discarded.
func parseExtinf(line string) (*Track, error) {
	rest := strings.TrimPrefix(line, "#EXTINF:")

	comma := strings.Index(rest, ",")
	if comma < 0 {
		return nil, fmt.Errorf("EXTINF without title separator: %q", line)
	}

	durPart := strings.TrimSpace(rest[:comma])
	if sp := strings.IndexByte(durPart, ' '); sp >= 0 {
		durPart = durPart[:sp]
	}
	seconds, err := strconv.Atoi(durPart)
	if err != nil {
		return nil, fmt.Errorf("EXTINF with invalid duration %q", durPart)
	}

	track := &Track{Seconds: seconds}
	title := strings.TrimSpace(rest[comma+1:])
	if artist, rest, ok := strings.Cut(title, " - "); ok && artist != "" && rest != "" {
		track.Artist = strings.TrimSpace(artist)
		track.Title = strings.TrimSpace(rest)
	} else {
		track.Title = title
	}
	return track, nil
}

// titleFromPath derives a display title from a bare location line.
func titleFromPath(path string) string {
	base := path
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

// Writer emits an extended M3U playlist.
type Writer struct {
	w             io.Writer
	headerWritten bool
}

// NewWriter creates a playlist writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the #EXTM3U header; WriteTrack calls it implicitly.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return nil
	}
	if _, err := fmt.Fprintln(w.w, "#EXTM3U"); err != nil {
		return fmt.Errorf("writing playlist header: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteTrack writes one entry.
func (w *Writer) WriteTrack(track *Track) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}

	seconds := track.Seconds
	if seconds == 0 {
		seconds = -1
	}
	title := track.Title
	if track.Artist != "" {
		title = track.Artist + " - " + title
	}

	if _, err := fmt.Fprintf(w.w, "#EXTINF:%d,%s\n%s\n", seconds, title, track.Path); err != nil {
		return fmt.Errorf("writing playlist entry: %w", err)
	}
	return nil
}
