// Package config loads application configuration from defaults, an
// optional YAML file, and environment variables, in that order of
// precedence (later wins).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Auth          AuthConfig          `koanf:"auth"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AuthConfig contains the credentials the API accepts.
type AuthConfig struct {
	CronSecret     string `koanf:"cron_secret"`
	ServiceRoleKey string `koanf:"service_role_key"`
	JWTSecret      string `koanf:"jwt_secret"`
}

// NotificationsConfig contains queue and channel settings.
type NotificationsConfig struct {
	AppURL   string         `koanf:"app_url"`
	Queue    QueueConfig    `koanf:"queue"`
	WhatsApp WhatsAppConfig `koanf:"whatsapp"`
	Push     PushConfig     `koanf:"push"`
	Language string         `koanf:"language"`
}

// QueueConfig tunes the delivery queue engine.
type QueueConfig struct {
	MaxBatch       int           `koanf:"max_batch"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
	ShareTTL       time.Duration `koanf:"share_ttl"`
}

// WhatsAppConfig contains Meta Cloud API settings.
type WhatsAppConfig struct {
	Enabled       bool          `koanf:"enabled"`
	AccessToken   string        `koanf:"access_token"`
	PhoneNumberID string        `koanf:"phone_number_id"`
	BaseURL       string        `koanf:"base_url"`
	Timeout       time.Duration `koanf:"timeout"`
	RateLimit     float64       `koanf:"rate_limit"`
}

// PushConfig contains Firebase Cloud Messaging settings.
type PushConfig struct {
	Enabled     bool          `koanf:"enabled"`
	ProjectID   string        `koanf:"project_id"`
	BaseURL     string        `koanf:"base_url"`
	AccessToken string        `koanf:"access_token"`
	Timeout     time.Duration `koanf:"timeout"`
}

// Load reads configuration. Path may be empty, in which case only
// defaults and TRAVELOPS_* environment variables apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(defaults(), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// Double underscore separates nesting levels, single underscores
	// stay part of the key: TRAVELOPS_DATABASE__URL -> database.url,
	// TRAVELOPS_AUTH__CRON_SECRET -> auth.cron_secret.
	envProvider := env.Provider("TRAVELOPS_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "TRAVELOPS_")), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func defaults() *confmap.Confmap {
	return confmap.Provider(map[string]any{
		"server.host":                "0.0.0.0",
		"server.port":                "8080",
		"server.metrics_port":        "9090",
		"server.read_timeout":        "15s",
		"server.read_header_timeout": "5s",
		"server.write_timeout":       "15s",
		"server.idle_timeout":        "60s",
		"server.shutdown_timeout":    "10s",

		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "30m",
		"database.connect_timeout":   "30s",
		"database.connect_attempts":  5,
		"database.migrations_path":   "migrations",

		"log.level":  "info",
		"log.format": "json",

		"cors.allowed_origins": []string{"*"},

		"notifications.queue.max_batch":       25,
		"notifications.queue.max_attempts":    5,
		"notifications.queue.initial_backoff": "5m",
		"notifications.queue.max_backoff":     "60m",
		"notifications.queue.share_ttl":       "48h",
		"notifications.whatsapp.timeout":      "5s",
		"notifications.whatsapp.rate_limit":   20,
		"notifications.push.timeout":          "5s",
		"notifications.language":              "en",
	}, ".")
}
