package radio

import (
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"

	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/pkg/m3u"
)

// audioExtensions are the file types auto-DJ picks up while scanning.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
}

// scanFolders walks the configured folders collecting audio files as
// tracks. Embedded tags provide title/artist/album; .m3u playlists found
// in a folder contribute their local entries. Optionally shuffled.
func (e *Engine) scanFolders(folders []string, shuffle bool) []models.RadioTrack {
	var tracks []models.RadioTrack

	for _, folder := range folders {
		err := filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if d.IsDir() {
				return nil
			}

			ext := strings.ToLower(filepath.Ext(path))
			switch {
			case audioExtensions[ext]:
				tracks = append(tracks, e.trackFromFile(path))
			case ext == ".m3u" || ext == ".m3u8":
				tracks = append(tracks, e.tracksFromPlaylist(path)...)
			}
			return nil
		})
		if err != nil {
			e.logger.Warn("auto-dj folder scan failed",
				slog.String("folder", folder),
				slog.String("error", err.Error()))
		}
	}

	if shuffle {
		rand.Shuffle(len(tracks), func(i, j int) {
			tracks[i], tracks[j] = tracks[j], tracks[i]
		})
	}
	return tracks
}

// trackFromFile builds a track from an audio file, reading embedded
// metadata when available.
func (e *Engine) trackFromFile(path string) models.RadioTrack {
	track := models.RadioTrack{
		ID:    models.NewULID().String(),
		Path:  path,
		Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}

	f, err := os.Open(path)
	if err != nil {
		return track
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return track
	}
	if meta.Title() != "" {
		track.Title = meta.Title()
	}
	track.Artist = meta.Artist()
	track.Album = meta.Album()
	return track
}

// tracksFromPlaylist reads local-file entries out of an .m3u playlist.
// Remote URLs are skipped; a radio channel plays files it can decode.
func (e *Engine) tracksFromPlaylist(path string) []models.RadioTrack {
	f, err := os.Open(path)
	if err != nil {
		e.logger.Warn("playlist open failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}
	defer f.Close()

	base := filepath.Dir(path)
	var tracks []models.RadioTrack

	parser := &m3u.Parser{
		OnTrack: func(entry *m3u.Track) error {
			if entry.IsRemote() {
				return nil
			}
			mediaPath := entry.Path
			if !filepath.IsAbs(mediaPath) {
				mediaPath = filepath.Join(base, mediaPath)
			}
			if _, err := os.Stat(mediaPath); err != nil {
				return nil
			}
			track := models.RadioTrack{
				ID:     models.NewULID().String(),
				Path:   mediaPath,
				Title:  entry.Title,
				Artist: entry.Artist,
			}
			if entry.Seconds > 0 {
				track.Duration = secondsToDuration(entry.Seconds)
			}
			tracks = append(tracks, track)
			return nil
		},
	}
	if err := parser.Parse(f); err != nil {
		e.logger.Warn("playlist parse failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	return tracks
}

// secondsToDuration converts an EXTINF duration to a time.Duration.
func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
