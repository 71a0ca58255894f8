package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`

	MaxUploadBytesMb int64 `yaml:"max_upload_mb"`

	Jobs      Jobs      `yaml:"jobs"`
	Polling   Polling   `yaml:"polling"`
	Effects   Effects   `yaml:"effects"`
	Artifacts Artifacts `yaml:"artifacts"`
	Sessions  Sessions  `yaml:"sessions"`

	Redis Redis `yaml:"redis"`
	MinIO MinIO `yaml:"minio"`
	NATS  NATS  `yaml:"nats"`
}

type Jobs struct {
	PlainURL       string        `yaml:"plain_url"`
	FileBatchURL   string        `yaml:"file_batch_url"`
	StatusURL      string        `yaml:"status_url"`
	StreamURL      string        `yaml:"stream_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`
	// Zero caps a stream at the polling budget.
	StreamMaxDuration time.Duration `yaml:"stream_max_duration"`
}

type Polling struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type Effects struct {
	Delay            time.Duration `yaml:"delay"`
	Subject          string        `yaml:"subject"`
	DestinationView  string        `yaml:"destination_view"`
	DestinationRoute string        `yaml:"destination_route"`
}

type Artifacts struct {
	Backend       string `yaml:"backend"`
	BaseDir       string `yaml:"base_dir"`
	PublicBaseURL string `yaml:"public_base_url"`

	// Zero MaxAge disables cleanup.
	MaxAge          time.Duration `yaml:"max_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type Sessions struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint        string        `yaml:"endpoint"`
	Region          string        `yaml:"region"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UseSSL          bool          `yaml:"use_ssl"`
	Bucket          string        `yaml:"bucket"`
	BasePath        string        `yaml:"base_path"`
	PublicRead      bool          `yaml:"public_read"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectBackoff  time.Duration `yaml:"connect_backoff"`
}

// NATS is optional; without a URL effects are only logged.
type NATS struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	MaxReconnects int    `yaml:"max_reconnects"`
	Stream        string `yaml:"stream"`
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	return &cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Addr == "" {
		return fmt.Errorf("addr is empty")
	}
	if cfg.Jobs.PlainURL == "" {
		return fmt.Errorf("jobs.plain_url is empty")
	}
	if cfg.Jobs.FileBatchURL == "" {
		return fmt.Errorf("jobs.file_batch_url is empty")
	}
	if cfg.Jobs.StatusURL == "" {
		return fmt.Errorf("jobs.status_url is empty")
	}
	if cfg.Polling.MaxAttempts < 0 {
		return fmt.Errorf("polling.max_attempts must not be negative, got %d", cfg.Polling.MaxAttempts)
	}

	switch cfg.Artifacts.Backend {
	case "", "local":
		if cfg.Artifacts.BaseDir == "" {
			return fmt.Errorf("artifacts.base_dir is empty")
		}
	case "minio":
		if cfg.MinIO.Endpoint == "" || cfg.MinIO.Bucket == "" {
			return fmt.Errorf("minio.endpoint and minio.bucket are required for minio artifacts")
		}
	default:
		return fmt.Errorf("unknown artifacts.backend %q", cfg.Artifacts.Backend)
	}

	switch cfg.Sessions.Backend {
	case "", "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for redis sessions")
		}
	default:
		return fmt.Errorf("unknown sessions.backend %q", cfg.Sessions.Backend)
	}

	return nil
}

func (cfg *Config) setDefaults() {
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = ":50051"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytesMb <= 0 {
		cfg.MaxUploadBytesMb = 50
	}
	if cfg.Jobs.RequestTimeout <= 0 {
		cfg.Jobs.RequestTimeout = 30 * time.Second
	}
	if cfg.Jobs.StreamIdleTimeout <= 0 {
		cfg.Jobs.StreamIdleTimeout = cfg.Jobs.RequestTimeout
	}
	if cfg.Polling.Interval <= 0 {
		cfg.Polling.Interval = 2 * time.Second
	}
	if cfg.Polling.MaxAttempts == 0 {
		cfg.Polling.MaxAttempts = 120
	}
	if cfg.Jobs.StreamMaxDuration <= 0 {
		cfg.Jobs.StreamMaxDuration = time.Duration(cfg.Polling.MaxAttempts) * cfg.Polling.Interval
	}
	if cfg.Effects.Delay <= 0 {
		cfg.Effects.Delay = 10 * time.Second
	}
	if cfg.Effects.Subject == "" {
		cfg.Effects.Subject = "assistant.effects"
	}
	if cfg.Effects.DestinationView == "" {
		cfg.Effects.DestinationView = "links"
	}
	if cfg.Effects.DestinationRoute == "" {
		cfg.Effects.DestinationRoute = "/links"
	}
	if cfg.Artifacts.Backend == "" {
		cfg.Artifacts.Backend = "local"
	}
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "memory"
	}
	if cfg.Sessions.TTL <= 0 {
		cfg.Sessions.TTL = 24 * time.Hour
	}
	if cfg.Artifacts.MaxAge > 0 && cfg.Artifacts.CleanupInterval <= 0 {
		cfg.Artifacts.CleanupInterval = time.Hour
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "ASSISTANT_EFFECTS"
	}
}

func (cfg *Config) SlogLevel() slog.Level {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
