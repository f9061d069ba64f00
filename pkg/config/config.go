package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/teu-im/teuim/pkg/configutil"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Stream     StreamConfig     `mapstructure:"stream"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Credential CredentialConfig `mapstructure:"credential"`
	Status     StatusConfig     `mapstructure:"status"`
	Recording  RecordingConfig  `mapstructure:"recording"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type StreamConfig struct {
	URL              string   `mapstructure:"url"`
	Model            string   `mapstructure:"model"`
	LanguageHints    []string `mapstructure:"language_hints"`
	TargetLanguages  []string `mapstructure:"target_languages"`
	IncludeNonFinal  bool     `mapstructure:"include_nonfinal"`
	ConnectTimeoutMS int      `mapstructure:"connect_timeout_ms"`
}

type AudioConfig struct {
	DeviceID string         `mapstructure:"device_id"`
	Settings map[string]any `mapstructure:"settings"`
}

type CredentialConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ProjectID   string `mapstructure:"project_id"`
	BearerToken string `mapstructure:"bearer_token"`
}

type StatusConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type RecordingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Mode              string `mapstructure:"mode"` // "wholefile" or "chunked"
	SegmentDurationMS int    `mapstructure:"segment_duration_ms"`
}

type StorageConfig struct {
	Provider string         `mapstructure:"provider"` // "s3" or "memory"
	Settings map[string]any `mapstructure:"settings"`
}

type RetryConfig struct {
	MaxRetries  int `mapstructure:"max_retries"`
	BaseDelayMS int `mapstructure:"base_delay_ms"`
	MaxDelayMS  int `mapstructure:"max_delay_ms"`
}

type MetricsConfig struct {
	Path string `mapstructure:"path"` // JSONL event sink, empty disables
}

func (c StreamConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c RecordingConfig) SegmentDuration() time.Duration {
	return time.Duration(c.SegmentDurationMS) * time.Millisecond
}

func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// storageSchemas lists the settings keys each storage provider accepts.
var storageSchemas = map[string]configutil.Schema{
	"s3": {
		Required: []string{"bucket"},
		Optional: []string{"region", "endpoint", "key_prefix"},
	},
	"memory": {},
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("stream.model", "stt-rt-preview")
	v.SetDefault("stream.include_nonfinal", true)
	v.SetDefault("stream.connect_timeout_ms", 10000)
	v.SetDefault("audio.device_id", "default")
	v.SetDefault("recording.enabled", false)
	v.SetDefault("recording.mode", "wholefile")
	v.SetDefault("recording.segment_duration_ms", 5000)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("metrics.path", "")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := configutil.RequireString(c.Stream.URL, "stream.url"); err != nil {
		return err
	}
	if len(c.Stream.TargetLanguages) == 0 {
		return fmt.Errorf("stream.target_languages must name at least one language")
	}
	if err := configutil.RequireString(c.Credential.Endpoint, "credential.endpoint"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Credential.ProjectID, "credential.project_id"); err != nil {
		return err
	}
	switch c.Recording.Mode {
	case "wholefile", "chunked":
	default:
		return fmt.Errorf("recording.mode %q is not supported", c.Recording.Mode)
	}
	schema, ok := storageSchemas[c.Storage.Provider]
	if !ok {
		return fmt.Errorf("storage.provider %q is not supported", c.Storage.Provider)
	}
	if err := configutil.ValidateSettings(c.Storage.Settings, schema); err != nil {
		return fmt.Errorf("storage.settings: %w", err)
	}
	return nil
}
