package tv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeVariantPlaylist rewrites one variant's rolling media playlist.
// Segment numbering is monotonic, so the media sequence is derived from
// the oldest segment still in the window.
func (s *segmenter) writeVariantPlaylist(v *segVariant) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(s.segDur.Seconds())+1)

	mediaSeq := s.seq - uint64(len(v.segments))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSeq)

	for _, name := range v.segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", s.segDur.Seconds())
		b.WriteString(name)
		b.WriteString("\n")
	}

	path := filepath.Join(s.outputDir, v.name, "playlist.m3u8")
	return atomicWrite(path, []byte(b.String()))
}

// writeMasterPlaylist writes the master playlist listing every variant.
func (s *segmenter) writeMasterPlaylist() error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, v := range s.variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			v.bitrateK*1000, v.width, v.height)
		fmt.Fprintf(&b, "%s/playlist.m3u8\n", v.name)
	}

	path := filepath.Join(s.outputDir, "master.m3u8")
	return atomicWrite(path, []byte(b.String()))
}

// atomicWrite writes via a temp file and rename so playlist readers never
// observe a partial file.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
