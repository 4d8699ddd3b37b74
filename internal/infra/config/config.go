// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	TagReader TagReaderConfig        `yaml:"tagreader"`
	Controls  ControlsConfig         `yaml:"controls"`
	Audio     AudioConfig            `yaml:"audio"`
	Playback  PlaybackConfig         `yaml:"playback"`
	Broadcast BroadcastConfig        `yaml:"broadcast"`
	Library   LibraryConfig          `yaml:"library"`
	Guards    map[string]GuardConfig `yaml:"guards"`
	Spotify   SpotifyConfig          `yaml:"spotify"`
	Log       LogConfig              `yaml:"log"`
	Messages  MessagesConfig         `yaml:"messages"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr          string      `yaml:"addr" default:":8080"`
	OperatorToken string      `yaml:"operator_token"`
	Hooks         HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// TagReaderConfig represents tag reader polling and debounce configuration.
type TagReaderConfig struct {
	PollIntervalMs     int `yaml:"poll_interval_ms" default:"100" validate:"gt=0,lte=5000"`
	CooldownMs         int `yaml:"cooldown_ms" default:"1000" validate:"gte=0"`
	RemovalThresholdMs int `yaml:"removal_threshold_ms" default:"2000" validate:"gt=0"`
	ErrorThreshold     int `yaml:"error_threshold" default:"5" validate:"gt=0"`
	ResetAttempts      int `yaml:"reset_attempts" default:"3" validate:"gt=0,lte=10"`
	ResetBackoffMs     int `yaml:"reset_backoff_ms" default:"200" validate:"gte=0"`
}

// ControlsConfig represents the manual control mapping.
type ControlsConfig struct {
	Buttons    map[string]string `yaml:"buttons"`
	EncoderCW  string            `yaml:"encoder_cw" default:"volume_up"`
	EncoderCCW string            `yaml:"encoder_ccw" default:"volume_down"`
	MaxDetents int               `yaml:"max_detents" default:"5" validate:"gt=0"`
}

// AudioConfig represents audio engine configuration.
type AudioConfig struct {
	ProgressIntervalMs         int `yaml:"progress_interval_ms" default:"1000" validate:"gte=100,lte=10000"`
	RetryAttempts              int `yaml:"retry_attempts" default:"3" validate:"gt=0,lte=10"`
	RetryBackoffMs             int `yaml:"retry_backoff_ms" default:"100" validate:"gte=0"`
	PreviousRestartThresholdMs int `yaml:"previous_restart_threshold_ms" default:"3000" validate:"gte=0"`
	SeekStepMs                 int `yaml:"seek_step_ms" default:"10000" validate:"gt=0"`
	VolumeStep                 int `yaml:"volume_step" default:"5" validate:"gt=0,lte=100"`
	DefaultVolume              int `yaml:"default_volume" default:"50" validate:"gte=0,lte=100"`
	QueueSize                  int `yaml:"queue_size" default:"64" validate:"gt=0"`
}

// PlaybackConfig represents playback decision configuration.
type PlaybackConfig struct {
	ManualPriorityWindowMs int `yaml:"manual_priority_window_ms" default:"5000" validate:"gte=0"`
	RecheckIntervalMs      int `yaml:"recheck_interval_ms" default:"2000" validate:"gte=0"`
	QueueSize              int `yaml:"queue_size" default:"128" validate:"gt=0"`
	ResolveTimeoutMs       int `yaml:"resolve_timeout_ms" default:"2000" validate:"gt=0"`
}

// BroadcastConfig represents state broadcast configuration.
type BroadcastConfig struct {
	MaxAttempts        int `yaml:"max_attempts" default:"3" validate:"gt=0,lte=20"`
	RetryInitialMs     int `yaml:"retry_initial_ms" default:"200" validate:"gt=0"`
	RetryMaxMs         int `yaml:"retry_max_ms" default:"2000" validate:"gt=0"`
	WriteTimeoutMs     int `yaml:"write_timeout_ms" default:"2000" validate:"gt=0"`
	DedupTTLSec        int `yaml:"dedup_ttl_sec" default:"300" validate:"gt=0"`
	DedupSize          int `yaml:"dedup_size" default:"4096" validate:"gt=0"`
	PositionIntervalMs int `yaml:"position_interval_ms" default:"1000" validate:"gte=0"`
	QueueSize          int `yaml:"queue_size" default:"256" validate:"gt=0"`
}

// LibraryConfig represents playlist lookup configuration.
type LibraryConfig struct {
	Resolvers []ResolverConfig `yaml:"resolvers" validate:"required,min=1,dive"`
}

// ResolverConfig represents a single tag resolver configuration.
type ResolverConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=library spotify"`
	DisplayName string         `yaml:"display_name"`
	Settings    map[string]any `yaml:"settings" validate:"required"`
}

// GuardConfig represents a command guard configuration.
type GuardConfig struct {
	Disabled bool           `yaml:"disabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// SpotifyConfig represents Spotify API configuration.
// Credentials are only needed when a spotify resolver is configured.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// LogConfig represents log file configuration.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"10" validate:"gt=0"`
	MaxBackups int    `yaml:"max_backups" default:"3" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" default:"7" validate:"gte=0"`
}

// MessagesConfig represents user-facing messages for operation results.
type MessagesConfig struct {
	Success        string `yaml:"success"`
	DefaultError   string `yaml:"default_error"`
	UnknownCommand string `yaml:"unknown_command"`
	InvalidArgs    string `yaml:"invalid_args"`
	NoPlaylist     string `yaml:"no_playlist"`
	UnknownTag     string `yaml:"unknown_tag"`
	DeviceBusy     string `yaml:"device_busy"`
	PlaybackFailed string `yaml:"playback_failed"`
	RateLimited    string `yaml:"rate_limited"`
	NotPaused      string `yaml:"not_paused"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("TAGBOX_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TAGBOX_OPERATOR_TOKEN"); v != "" {
		c.Server.OperatorToken = v
	}
	if v := os.Getenv("TAGBOX_LOG_FILE"); v != "" {
		c.Log.File = v
	}
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	var msg string
	switch code {
	case "success":
		msg = c.Messages.Success
	case "unknown_command":
		msg = c.Messages.UnknownCommand
	case "invalid_args":
		msg = c.Messages.InvalidArgs
	case "no_playlist":
		msg = c.Messages.NoPlaylist
	case "unknown_tag":
		msg = c.Messages.UnknownTag
	case "device_busy":
		msg = c.Messages.DeviceBusy
	case "playback_failed":
		msg = c.Messages.PlaybackFailed
	case "rate_limited":
		msg = c.Messages.RateLimited
	case "not_paused":
		msg = c.Messages.NotPaused
	}
	if msg == "" {
		return c.Messages.DefaultError
	}
	return msg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.TagReader.CooldownMs > c.TagReader.RemovalThresholdMs {
		return errors.Newf("tagreader.cooldown_ms (%d) must not exceed tagreader.removal_threshold_ms (%d)",
			c.TagReader.CooldownMs, c.TagReader.RemovalThresholdMs)
	}
	if c.Broadcast.RetryMaxMs < c.Broadcast.RetryInitialMs {
		return errors.Newf("broadcast.retry_max_ms (%d) must be at least broadcast.retry_initial_ms (%d)",
			c.Broadcast.RetryMaxMs, c.Broadcast.RetryInitialMs)
	}

	if c.usesSpotify() && !c.SpotifyEnabled() {
		return errors.New("spotify resolver configured but spotify credentials are missing")
	}

	return nil
}

// SpotifyEnabled reports whether all spotify credentials are set.
func (c *Config) SpotifyEnabled() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != "" && c.Spotify.RefreshToken != ""
}

func (c *Config) usesSpotify() bool {
	for _, r := range c.Library.Resolvers {
		if r.Type == "spotify" {
			return true
		}
	}
	return false
}

// IsGuardEnabled checks if a command guard is enabled. Guards are enabled
// unless explicitly disabled.
func (c *Config) IsGuardEnabled(name string) bool {
	if g, ok := c.Guards[name]; ok {
		return !g.Disabled
	}
	return true
}

// GetGuardSettings returns the settings for a guard.
func (c *Config) GetGuardSettings(name string) map[string]any {
	if g, ok := c.Guards[name]; ok && g.Settings != nil {
		return g.Settings
	}
	return map[string]any{}
}

// Ms converts a millisecond setting to a duration.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
