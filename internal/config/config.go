// Package config provides configuration management for mediad using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8090
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultVideoWorkers    = 2
	defaultAudioWorkers    = 4
	defaultDocumentWorkers = 4
	defaultImageWorkers    = 8
	defaultCustomWorkers   = 2

	defaultCompletedRetention = 24 * time.Hour
	defaultFailedRetention    = 168 * time.Hour
	defaultSweepInterval      = 10 * time.Minute
	defaultJobTimeout         = 2 * time.Hour
	defaultProgressWindow     = 250 * time.Millisecond

	defaultPluginAPIVersion  = "1.0.0"
	defaultHealthInterval    = 30 * time.Second
	defaultMaxRadioChannels  = 10
	defaultMaxTvChannels     = 5
	defaultRadioBitrateKbps  = 128
	defaultRadioSampleRate   = 44100
	defaultRadioChannelCount = 2
	defaultCrossfade         = 3 * time.Second
	defaultTargetLUFS        = -14.0
	defaultChunkSize         = 8 * 1024
	defaultListenerBuffer    = 512
	defaultSegmentDuration   = 4 * time.Second
	defaultPlaylistWindow    = 10
	defaultEPGLookahead      = 24 * time.Hour
	defaultEPGRefreshCron    = "0 */15 * * * *"
	defaultCommercialBreak   = 2 * time.Minute

	defaultDBALTimeout    = 5 * time.Second
	defaultDBALRetries    = 3
	defaultDBALRetryDelay = time.Second

	defaultRateLimitRPM = 100
)

// Config holds all configuration for the daemon.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Plugins   PluginsConfig   `mapstructure:"plugins"`
	Radio     RadioConfig     `mapstructure:"radio"`
	TV        TVConfig        `mapstructure:"tv"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	DBAL      DBALConfig      `mapstructure:"dbal"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimitRPM    int           `mapstructure:"rate_limit_rpm"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// QueueConfig holds job queue configuration. Worker pools are sized per job
// type: video encoding is far more expensive than image work, so the
// defaults skew accordingly.
type QueueConfig struct {
	VideoWorkers    int `mapstructure:"video_workers"`
	AudioWorkers    int `mapstructure:"audio_workers"`
	DocumentWorkers int `mapstructure:"document_workers"`
	ImageWorkers    int `mapstructure:"image_workers"`
	CustomWorkers   int `mapstructure:"custom_workers"`

	// CompletedRetention is how long completed and cancelled jobs are kept
	// before the sweeper removes them. Accepts human-readable values like
	// "24h" or "7d".
	CompletedRetention Duration `mapstructure:"completed_retention"`
	// FailedRetention is how long failed jobs are kept.
	FailedRetention Duration `mapstructure:"failed_retention"`
	// SweepInterval is how often the retention sweeper runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// JobTimeout is the wall-clock limit for a single job execution.
	JobTimeout time.Duration `mapstructure:"job_timeout"`
	// ProgressWindow coalesces progress updates arriving within this window.
	// The terminal 100% update is always delivered.
	ProgressWindow time.Duration `mapstructure:"progress_window"`
}

// PluginsConfig holds plugin registry configuration.
type PluginsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Dir            string        `mapstructure:"dir"`
	ConfigPath     string        `mapstructure:"config_path"`
	APIVersion     string        `mapstructure:"api_version"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// RadioConfig holds radio engine configuration.
type RadioConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	MaxChannels    int           `mapstructure:"max_channels"`
	BitrateKbps    int           `mapstructure:"bitrate_kbps"`
	SampleRate     int           `mapstructure:"sample_rate"`
	Channels       int           `mapstructure:"channels"`
	Codec          string        `mapstructure:"codec"`
	Crossfade      time.Duration `mapstructure:"crossfade"`
	Normalization  bool          `mapstructure:"normalization"`
	TargetLUFS     float64       `mapstructure:"target_lufs"`
	EmptyRescan    time.Duration `mapstructure:"empty_rescan"`
	FailureLimit   int           `mapstructure:"failure_limit"`
	StreamMimeType string        `mapstructure:"stream_mime_type"`
}

// TVVariant describes one bitrate/resolution rung of the TV output ladder.
type TVVariant struct {
	Name        string `mapstructure:"name"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	BitrateKbps int    `mapstructure:"bitrate_kbps"`
}

// TVConfig holds TV engine configuration.
type TVConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxChannels      int           `mapstructure:"max_channels"`
	Variants         []TVVariant   `mapstructure:"variants"`
	VideoCodec       string        `mapstructure:"video_codec"`
	VideoPreset      string        `mapstructure:"video_preset"`
	AudioCodec       string        `mapstructure:"audio_codec"`
	AudioBitrateKbps int           `mapstructure:"audio_bitrate_kbps"`
	AudioSampleRate  int           `mapstructure:"audio_sample_rate"`
	SegmentDuration  time.Duration `mapstructure:"segment_duration"`
	PlaylistWindow   int           `mapstructure:"playlist_window"`
	OutputDir        string        `mapstructure:"output_dir"`
	EPGLookahead     time.Duration `mapstructure:"epg_lookahead"`
	EPGRefreshCron   string        `mapstructure:"epg_refresh_cron"`
	CommercialBreak  time.Duration `mapstructure:"commercial_break"`
	FailureLimit     int           `mapstructure:"failure_limit"`
}

// BroadcastConfig holds stream broadcaster configuration.
type BroadcastConfig struct {
	// ChunkSize is the read size used by engine loops when piping encoder
	// output to a mount. Supports human-readable values like "8KB".
	ChunkSize ByteSize `mapstructure:"chunk_size"`
	// ListenerBuffer is the per-listener chunk channel capacity. A listener
	// whose buffer is full is treated as dead and pruned.
	ListenerBuffer int `mapstructure:"listener_buffer"`
}

// FFmpegConfig holds external encoder binary configuration.
type FFmpegConfig struct {
	BinaryPath     string        `mapstructure:"binary_path"` // empty = auto-detect on PATH
	ProbePath      string        `mapstructure:"probe_path"`  // empty = auto-detect on PATH
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

// DBALConfig holds external notification/permission service configuration.
type DBALConfig struct {
	URL           string        `mapstructure:"url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// StorageConfig holds working directory configuration.
type StorageConfig struct {
	TempDir   string `mapstructure:"temp_dir"`
	OutputDir string `mapstructure:"output_dir"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with MEDIAD_ and use underscores for
// nesting. Example: MEDIAD_SERVER_PORT=8090.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mediad")
		v.AddConfigPath("$HOME/.mediad")
	}

	v.SetEnvPrefix("MEDIAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, DecodeOptions()); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DecodeOptions returns the viper decode hook supporting human-readable
// Duration ("2w", "30d", "24h") and ByteSize ("8KB", "5MB") values in
// addition to the standard conversions.
func DecodeOptions() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rpm", defaultRateLimitRPM)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Queue defaults
	v.SetDefault("queue.video_workers", defaultVideoWorkers)
	v.SetDefault("queue.audio_workers", defaultAudioWorkers)
	v.SetDefault("queue.document_workers", defaultDocumentWorkers)
	v.SetDefault("queue.image_workers", defaultImageWorkers)
	v.SetDefault("queue.custom_workers", defaultCustomWorkers)
	v.SetDefault("queue.completed_retention", defaultCompletedRetention)
	v.SetDefault("queue.failed_retention", defaultFailedRetention)
	v.SetDefault("queue.sweep_interval", defaultSweepInterval)
	v.SetDefault("queue.job_timeout", defaultJobTimeout)
	v.SetDefault("queue.progress_window", defaultProgressWindow)

	// Plugin defaults
	v.SetDefault("plugins.enabled", true)
	v.SetDefault("plugins.dir", "/plugins")
	v.SetDefault("plugins.config_path", "")
	v.SetDefault("plugins.api_version", defaultPluginAPIVersion)
	v.SetDefault("plugins.health_interval", defaultHealthInterval)

	// Radio defaults
	v.SetDefault("radio.enabled", true)
	v.SetDefault("radio.max_channels", defaultMaxRadioChannels)
	v.SetDefault("radio.bitrate_kbps", defaultRadioBitrateKbps)
	v.SetDefault("radio.sample_rate", defaultRadioSampleRate)
	v.SetDefault("radio.channels", defaultRadioChannelCount)
	v.SetDefault("radio.codec", "mp3")
	v.SetDefault("radio.crossfade", defaultCrossfade)
	v.SetDefault("radio.normalization", true)
	v.SetDefault("radio.target_lufs", defaultTargetLUFS)
	v.SetDefault("radio.empty_rescan", 2*time.Second)
	v.SetDefault("radio.failure_limit", 3)
	v.SetDefault("radio.stream_mime_type", "audio/mpeg")

	// TV defaults
	v.SetDefault("tv.enabled", true)
	v.SetDefault("tv.max_channels", defaultMaxTvChannels)
	v.SetDefault("tv.variants", []map[string]any{
		{"name": "1080p", "width": 1920, "height": 1080, "bitrate_kbps": 5000},
		{"name": "720p", "width": 1280, "height": 720, "bitrate_kbps": 2500},
		{"name": "480p", "width": 854, "height": 480, "bitrate_kbps": 1000},
	})
	v.SetDefault("tv.video_codec", "h264")
	v.SetDefault("tv.video_preset", "fast")
	v.SetDefault("tv.audio_codec", "aac")
	v.SetDefault("tv.audio_bitrate_kbps", 128)
	v.SetDefault("tv.audio_sample_rate", 48000)
	v.SetDefault("tv.segment_duration", defaultSegmentDuration)
	v.SetDefault("tv.playlist_window", defaultPlaylistWindow)
	v.SetDefault("tv.output_dir", "/data/hls/tv")
	v.SetDefault("tv.epg_lookahead", defaultEPGLookahead)
	v.SetDefault("tv.epg_refresh_cron", defaultEPGRefreshCron)
	v.SetDefault("tv.commercial_break", defaultCommercialBreak)
	v.SetDefault("tv.failure_limit", 3)

	// Broadcast defaults
	v.SetDefault("broadcast.chunk_size", defaultChunkSize)
	v.SetDefault("broadcast.listener_buffer", defaultListenerBuffer)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.process_timeout", defaultJobTimeout)

	// DBAL defaults
	v.SetDefault("dbal.url", "http://localhost:8080")
	v.SetDefault("dbal.api_key", "")
	v.SetDefault("dbal.timeout", defaultDBALTimeout)
	v.SetDefault("dbal.retry_attempts", defaultDBALRetries)
	v.SetDefault("dbal.retry_delay", defaultDBALRetryDelay)

	// Storage defaults
	v.SetDefault("storage.temp_dir", "/data/temp")
	v.SetDefault("storage.output_dir", "/data/output")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	for name, n := range map[string]int{
		"queue.video_workers":    c.Queue.VideoWorkers,
		"queue.audio_workers":    c.Queue.AudioWorkers,
		"queue.document_workers": c.Queue.DocumentWorkers,
		"queue.image_workers":    c.Queue.ImageWorkers,
		"queue.custom_workers":   c.Queue.CustomWorkers,
	} {
		if n < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}

	if c.Queue.CompletedRetention <= 0 {
		return fmt.Errorf("queue.completed_retention must be positive")
	}
	if c.Queue.FailedRetention <= 0 {
		return fmt.Errorf("queue.failed_retention must be positive")
	}

	if c.Plugins.Enabled && c.Plugins.APIVersion == "" {
		return fmt.Errorf("plugins.api_version is required when plugins are enabled")
	}

	if c.Radio.MaxChannels < 1 {
		return fmt.Errorf("radio.max_channels must be at least 1")
	}
	if c.TV.MaxChannels < 1 {
		return fmt.Errorf("tv.max_channels must be at least 1")
	}
	if len(c.TV.Variants) == 0 {
		return fmt.Errorf("tv.variants must contain at least one entry")
	}
	if c.TV.PlaylistWindow < 1 {
		return fmt.Errorf("tv.playlist_window must be at least 1")
	}

	if c.Broadcast.ListenerBuffer < 1 {
		return fmt.Errorf("broadcast.listener_buffer must be at least 1")
	}
	if c.Broadcast.ChunkSize < 1 {
		return fmt.Errorf("broadcast.chunk_size must be at least 1 byte")
	}

	if c.DBAL.URL == "" {
		return fmt.Errorf("dbal.url is required")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WorkersFor returns the configured worker count for a job type name.
// Unknown types fall back to the custom pool size.
func (c *QueueConfig) WorkersFor(jobType string) int {
	switch jobType {
	case "video-transcode":
		return c.VideoWorkers
	case "audio-transcode":
		return c.AudioWorkers
	case "document-convert":
		return c.DocumentWorkers
	case "image-process":
		return c.ImageWorkers
	default:
		return c.CustomWorkers
	}
}
