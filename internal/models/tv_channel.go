package models

import (
	"time"
)

// TvProgram is a single scheduled media item.
type TvProgram struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Path        string        `json:"path"`
	Duration    time.Duration `json:"duration"`
	Description string        `json:"description,omitempty"`
	Category    string        `json:"category,omitempty"`
}

// TvScheduleEntry places a program at a wall-clock start time.
type TvScheduleEntry struct {
	Program TvProgram `json:"program"`
	StartAt time.Time `json:"start_at"`
}

// Validate checks the schedule entry shape.
func (e *TvScheduleEntry) Validate() error {
	if e.Program.Path == "" {
		return ErrMediaPathRequired
	}
	if e.StartAt.IsZero() {
		return ErrStartTimeRequired
	}
	return nil
}

// EndAt returns the wall-clock end of the entry.
func (e *TvScheduleEntry) EndAt() time.Time {
	return e.StartAt.Add(e.Program.Duration)
}

// TvChannelConfig is the caller-supplied configuration of a TV channel.
type TvChannelConfig struct {
	Name        string `json:"name"`
	TenantID    string `json:"tenant_id"`
	Description string `json:"description,omitempty"`

	// VideoCodec/AudioCodec default from engine config when empty.
	VideoCodec string `json:"video_codec,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty"`

	// IntroBumper and OutroBumper wrap scheduled programs; IdleFiller plays
	// during schedule gaps.
	IntroBumper string `json:"intro_bumper,omitempty"`
	OutroBumper string `json:"outro_bumper,omitempty"`
	IdleFiller  string `json:"idle_filler,omitempty"`

	// Commercials are drawn from this pool between programs until the
	// target break duration is reached.
	Commercials   []string      `json:"commercials,omitempty"`
	BreakDuration time.Duration `json:"break_duration,omitempty"`
	BreakCadence  time.Duration `json:"break_cadence,omitempty"`
}

// Validate checks the channel config shape.
func (c *TvChannelConfig) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.TenantID == "" {
		return ErrTenantRequired
	}
	return nil
}

// TvChannelStatus is the externally visible state of a TV channel.
type TvChannelStatus struct {
	ID          ULID            `json:"id"`
	Config      TvChannelConfig `json:"config"`
	Live        bool            `json:"live"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	NowPlaying  *TvProgram      `json:"now_playing,omitempty"`
	NextUp      *TvProgram      `json:"next_up,omitempty"`
	ViewerCount int             `json:"viewer_count"`
	ScheduleLen int             `json:"schedule_len"`
	MasterURL   string          `json:"master_url,omitempty"`
	VariantURLs map[string]string `json:"variant_urls,omitempty"`
	StopReason  string          `json:"stop_reason,omitempty"`
}

// EpgEntry is one row of the electronic program guide: a projection of a
// schedule entry over the lookahead window.
type EpgEntry struct {
	ChannelID   ULID      `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	Program     TvProgram `json:"program"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
}
