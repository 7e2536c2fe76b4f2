package models

import (
	"time"
)

// RadioTrack is a single playable audio item.
type RadioTrack struct {
	ID       string        `json:"id"`
	Path     string        `json:"path"`
	Title    string        `json:"title,omitempty"`
	Artist   string        `json:"artist,omitempty"`
	Album    string        `json:"album,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Validate checks the track shape.
func (t *RadioTrack) Validate() error {
	if t.Path == "" {
		return ErrMediaPathRequired
	}
	return nil
}

// RadioChannelConfig is the caller-supplied configuration of a radio channel.
type RadioChannelConfig struct {
	Name        string `json:"name"`
	TenantID    string `json:"tenant_id"`
	Codec       string `json:"codec,omitempty"`        // defaults from engine config
	BitrateK    int    `json:"bitrate_kbps,omitempty"` // defaults from engine config
	SampleRate  int    `json:"sample_rate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	Description string `json:"description,omitempty"`

	// Crossfade overlaps the tail of the current track with the head of the
	// next. Zero disables crossfading for this channel.
	Crossfade time.Duration `json:"crossfade,omitempty"`
	// TargetLUFS is the integrated loudness target for normalization.
	// Zero means use the engine default.
	TargetLUFS float64 `json:"target_lufs,omitempty"`

	// AutoDJ repopulates the playlist by scanning folders for audio files.
	AutoDJ        bool     `json:"auto_dj,omitempty"`
	AutoDJFolders []string `json:"auto_dj_folders,omitempty"`
	Shuffle       bool     `json:"shuffle,omitempty"`
}

// Validate checks the channel config shape.
func (c *RadioChannelConfig) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.TenantID == "" {
		return ErrTenantRequired
	}
	return nil
}

// RadioChannelStatus is the externally visible state of a radio channel.
type RadioChannelStatus struct {
	ID            ULID               `json:"id"`
	Config        RadioChannelConfig `json:"config"`
	Live          bool               `json:"live"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	NowPlaying    *RadioTrack        `json:"now_playing,omitempty"`
	NextUp        *RadioTrack        `json:"next_up,omitempty"`
	ListenerCount int                `json:"listener_count"`
	PlaylistLen   int                `json:"playlist_len"`
	StreamURL     string             `json:"stream_url,omitempty"`
	StopReason    string             `json:"stop_reason,omitempty"`
}
