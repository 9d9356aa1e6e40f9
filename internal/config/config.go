// Package config loads service configuration from an optional YAML file
// and CREWDESK_-prefixed environment variables, layered over defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CREWDESK_"

// Config is the root service configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database" validate:"required"`
	Redis         RedisConfig         `koanf:"redis"`
	Log           LogConfig           `koanf:"log"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// DatabaseConfig configures the PostgreSQL pool and migrations.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// RedisConfig configures the push fan-out broker connection.
type RedisConfig struct {
	URL            string        `koanf:"url"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	ConnectRetries int           `koanf:"connect_retries"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// NotificationsConfig configures the queue, worker pool, and channel
// transports.
type NotificationsConfig struct {
	Queue  QueueConfig  `koanf:"queue"`
	Worker WorkerConfig `koanf:"worker"`
	Email  EmailConfig  `koanf:"email"`
	SMS    SMSConfig    `koanf:"sms"`
	Push   PushConfig   `koanf:"push"`
}

// QueueConfig tunes scheduling, retries, rate limiting, and retention.
type QueueConfig struct {
	MaxAttempts        int           `koanf:"max_attempts"`
	InitialBackoff     time.Duration `koanf:"initial_backoff"`
	MaxBackoff         time.Duration `koanf:"max_backoff"`
	BackoffMultiplier  float64       `koanf:"backoff_multiplier"`
	RateLimit          int           `koanf:"rate_limit"`
	RateWindow         time.Duration `koanf:"rate_window"`
	ClaimHeartbeat     time.Duration `koanf:"claim_heartbeat"`
	CompletedRetention time.Duration `koanf:"completed_retention"`
	CompletedCap       int           `koanf:"completed_cap"`
}

// WorkerConfig sizes the dispatch worker pool.
type WorkerConfig struct {
	NumWorkers   int           `koanf:"num_workers"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// EmailConfig configures the SMTP transport.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// SMSConfig configures the SMS provider transport.
type SMSConfig struct {
	Enabled   bool    `koanf:"enabled"`
	APIURL    string  `koanf:"api_url"`
	APIKey    string  `koanf:"api_key"`
	From      string  `koanf:"from"`
	RateLimit float64 `koanf:"rate_limit"`
}

// PushConfig configures the redis push broadcaster.
type PushConfig struct {
	Enabled       bool   `koanf:"enabled"`
	ChannelPrefix string `koanf:"channel_prefix"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsAddr:     ":9090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrationsPath:  "migrations",
		},
		Redis: RedisConfig{
			ConnectTimeout: 10 * time.Second,
			ConnectRetries: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Notifications: NotificationsConfig{
			Queue: QueueConfig{
				MaxAttempts:        3,
				InitialBackoff:     2 * time.Second,
				MaxBackoff:         5 * time.Minute,
				BackoffMultiplier:  2.0,
				RateLimit:          100,
				RateWindow:         60 * time.Second,
				ClaimHeartbeat:     2 * time.Minute,
				CompletedRetention: 7 * 24 * time.Hour,
				CompletedCap:       1000,
			},
			Worker: WorkerConfig{
				NumWorkers:   5,
				PollInterval: time.Second,
			},
			Email: EmailConfig{
				SMTPPort: 587,
			},
			SMS: SMSConfig{
				RateLimit: 10,
			},
			Push: PushConfig{
				ChannelPrefix: "crewdesk:notifications",
			},
		},
	}
}

// Load reads configuration from the optional YAML file at path, then
// from the environment. Environment keys map the first underscore to a
// section separator: CREWDESK_SERVER_ADDR becomes server.addr and
// CREWDESK_DATABASE_MAX_OPEN_CONNS becomes database.max_open_conns.
// Deeper sections such as notifications.queue are file-only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.Replace(key, "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
