package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Worker    WorkerConfig    `yaml:"worker"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Selection SelectionConfig `yaml:"selection"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string        `yaml:"host" envconfig:"SERVER_HOST"`
	Port           int           `yaml:"port" envconfig:"SERVER_PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"SERVER_REQUEST_TIMEOUT"`
	AllowedOrigins []string      `yaml:"allowed_origins" envconfig:"SERVER_ALLOWED_ORIGINS"`
	// RateLimit is the sustained POST request rate per client IP; 0 disables it.
	RateLimit float64 `yaml:"rate_limit" envconfig:"SERVER_RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" envconfig:"SERVER_RATE_BURST"`
}

// StorageConfig holds filesystem storage configuration.
type StorageConfig struct {
	OutputPath  string `yaml:"output_path" envconfig:"STORAGE_PATH"`
	TempPath    string `yaml:"temp_path" envconfig:"STORAGE_TEMP_PATH"`
	CookiesPath string `yaml:"cookies_path" envconfig:"COOKIES_PATH"`
	// Retention is how long finished jobs and produced files are kept.
	Retention       time.Duration `yaml:"retention" envconfig:"STORAGE_RETENTION"`
	JanitorInterval time.Duration `yaml:"janitor_interval" envconfig:"STORAGE_JANITOR_INTERVAL"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Count           int           `yaml:"count" envconfig:"WORKER_COUNT"`
	PollInterval    time.Duration `yaml:"poll_interval" envconfig:"WORKER_POLL_INTERVAL"`
	QueueSize       int           `yaml:"queue_size" envconfig:"WORKER_QUEUE_SIZE"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"WORKER_SHUTDOWN_TIMEOUT"`
}

// ExtractorConfig holds media extraction and transcoding configuration.
type ExtractorConfig struct {
	AutoInstall   bool          `yaml:"auto_install" envconfig:"EXTRACTOR_AUTO_INSTALL"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" envconfig:"EXTRACTOR_PROBE_TIMEOUT"`
	ProbeAttempts int           `yaml:"probe_attempts" envconfig:"EXTRACTOR_PROBE_ATTEMPTS"`
	RetryDelay    time.Duration `yaml:"retry_delay" envconfig:"EXTRACTOR_RETRY_DELAY"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" envconfig:"EXTRACTOR_MAX_RETRY_DELAY"`
	AudioBitrate  string        `yaml:"audio_bitrate" envconfig:"EXTRACTOR_AUDIO_BITRATE"`
	FFmpegPath    string        `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH"`
	UserAgent     string        `yaml:"user_agent" envconfig:"EXTRACTOR_USER_AGENT"`
}

// SelectionConfig controls direct-link delivery.
type SelectionConfig struct {
	// PreferDirect enables direct links to progressive origin renditions.
	// When false every request is processed server-side.
	PreferDirect bool `yaml:"prefer_direct" envconfig:"SELECTION_PREFER_DIRECT"`
	// VerifyDirect requires a successful HEAD probe before handing out a
	// direct link.
	VerifyDirect bool `yaml:"verify_direct" envconfig:"SELECTION_VERIFY_DIRECT"`
}

// EventsConfig holds progress event relay configuration.
type EventsConfig struct {
	BufferSize    int    `yaml:"buffer_size" envconfig:"EVENTS_BUFFER_SIZE"`
	Persist       bool   `yaml:"persist" envconfig:"EVENTS_PERSIST"`
	DBPath        string `yaml:"db_path" envconfig:"EVENTS_DB_PATH"`
	RetentionDays int    `yaml:"retention_days" envconfig:"EVENTS_RETENTION_DAYS"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// Default returns the configuration used when neither the file nor the
// environment sets a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5000,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   0,
			RequestTimeout: 60 * time.Second,
			AllowedOrigins: []string{"*"},
			RateLimit:      2,
			RateBurst:      10,
		},
		Storage: StorageConfig{
			OutputPath:      "downloads",
			TempPath:        "downloads/.tmp",
			CookiesPath:     "cookies.txt",
			Retention:       24 * time.Hour,
			JanitorInterval: 10 * time.Minute,
		},
		Worker: WorkerConfig{
			Count:           2,
			PollInterval:    time.Second,
			QueueSize:       100,
			ShutdownTimeout: 30 * time.Second,
		},
		Extractor: ExtractorConfig{
			AutoInstall:   false,
			ProbeTimeout:  45 * time.Second,
			ProbeAttempts: 2,
			RetryDelay:    2 * time.Second,
			MaxRetryDelay: 10 * time.Second,
			AudioBitrate:  "192k",
			FFmpegPath:    "ffmpeg",
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		},
		Selection: SelectionConfig{
			PreferDirect: true,
			VerifyDirect: false,
		},
		Events: EventsConfig{
			BufferSize:    1000,
			Persist:       false,
			DBPath:        "downloads/.events.db",
			RetentionDays: 7,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads configuration from file and environment variables.
// Environment variables override file values, which override defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Storage.OutputPath == "" {
		return fmt.Errorf("STORAGE_PATH is required")
	}
	if c.Storage.TempPath == "" {
		return fmt.Errorf("STORAGE_TEMP_PATH is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be positive")
	}
	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must not be negative")
	}
	if c.Extractor.ProbeAttempts < 1 {
		return fmt.Errorf("EXTRACTOR_PROBE_ATTEMPTS must be at least 1")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("SERVER_RATE_LIMIT must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("SERVER_RATE_BURST must be at least 1 when rate limiting is enabled")
	}
	if c.Events.BufferSize < 1 {
		return fmt.Errorf("EVENTS_BUFFER_SIZE must be at least 1")
	}
	if c.Events.Persist && c.Events.DBPath == "" {
		return fmt.Errorf("EVENTS_DB_PATH is required when EVENTS_PERSIST is set")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SlogLevel parses the configured level name.
func (c *LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is invalid", c.Level)
	}
	return level, nil
}
