package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg, DecodeOptions()))
	return &cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Queue.VideoWorkers)
	assert.Equal(t, 8, cfg.Queue.ImageWorkers)
	assert.Equal(t, 24*time.Hour, cfg.Queue.CompletedRetention.Duration())
	assert.Equal(t, 168*time.Hour, cfg.Queue.FailedRetention.Duration())
	assert.Equal(t, "1.0.0", cfg.Plugins.APIVersion)
	assert.Equal(t, 3*time.Second, cfg.Radio.Crossfade)
	assert.Equal(t, -14.0, cfg.Radio.TargetLUFS)
	assert.Len(t, cfg.TV.Variants, 3)
	assert.Equal(t, "1080p", cfg.TV.Variants[0].Name)
	assert.Equal(t, 512, cfg.Broadcast.ListenerBuffer)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero workers", func(c *Config) { c.Queue.ImageWorkers = 0 }},
		{"zero retention", func(c *Config) { c.Queue.CompletedRetention = 0 }},
		{"no api version", func(c *Config) { c.Plugins.APIVersion = "" }},
		{"no variants", func(c *Config) { c.TV.Variants = nil }},
		{"zero playlist window", func(c *Config) { c.TV.PlaylistWindow = 0 }},
		{"zero listener buffer", func(c *Config) { c.Broadcast.ListenerBuffer = 0 }},
		{"no dbal url", func(c *Config) { c.DBAL.URL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
queue:
  video_workers: 1
radio:
  codec: opus
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Queue.VideoWorkers)
	assert.Equal(t, "opus", cfg.Radio.Codec)
	// Unset values keep their defaults.
	assert.Equal(t, 4, cfg.Queue.AudioWorkers)
}

func TestLoadExplicitMissingFileErrors(t *testing.T) {
	// An explicitly named but absent file is an error; only the implicit
	// search paths fall back to defaults.
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWorkersFor(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, 2, cfg.Queue.WorkersFor("video-transcode"))
	assert.Equal(t, 4, cfg.Queue.WorkersFor("audio-transcode"))
	assert.Equal(t, 8, cfg.Queue.WorkersFor("image-process"))
	assert.Equal(t, 4, cfg.Queue.WorkersFor("document-convert"))
	assert.Equal(t, 2, cfg.Queue.WorkersFor("custom"))
	assert.Equal(t, 2, cfg.Queue.WorkersFor("anything-else"))
}

func TestServerAddress(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 8090}
	assert.Equal(t, "127.0.0.1:8090", cfg.Address())
}
