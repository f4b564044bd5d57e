package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the top-level daemon configuration. Values come from a JSON
// file and may be overridden per-field through CRM_* environment
// variables.
type Config struct {
	DataDir   string          `json:"data_dir"  env:"CRM_DATA_DIR"`
	LogLevel  string          `json:"log_level" env:"CRM_LOG_LEVEL"`
	API       APIConfig       `json:"api"`
	Gateway   GatewayConfig   `json:"gateway"`
	Responder ResponderConfig `json:"responder"`
	Monitor   MonitorConfig   `json:"monitor"`
	Events    EventsConfig    `json:"events"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"    env:"CRM_API_HOST"`
	Port int    `json:"port"    env:"CRM_API_PORT"`
	Key  string `json:"api_key" env:"CRM_API_KEY"`
}

// GatewayConfig holds settings for the messaging gateway that exposes
// connected accounts, their chats, and message delivery.
type GatewayConfig struct {
	URL   string `json:"url"   env:"CRM_GATEWAY_URL"`
	Token string `json:"token" env:"CRM_GATEWAY_TOKEN"`
}

// ResponderConfig holds settings for the response generation service.
type ResponderConfig struct {
	URL    string `json:"url"     env:"CRM_RESPONDER_URL"`
	APIKey string `json:"api_key" env:"CRM_RESPONDER_API_KEY"`
}

// MonitorConfig holds inbound-message monitor settings.
type MonitorConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds" env:"CRM_POLL_INTERVAL"`
}

// EventsConfig holds optional AMQP event publishing settings. An empty
// URL disables external publishing; events stay on the in-process bus.
type EventsConfig struct {
	URL      string `json:"url,omitempty"      env:"CRM_AMQP_URL"`
	Exchange string `json:"exchange,omitempty" env:"CRM_AMQP_EXCHANGE"`
}

// Default returns a configuration with all fallback values set.
func Default() *Config {
	return &Config{
		DataDir:  "/data",
		LogLevel: "info",
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Monitor: MonitorConfig{
			PollIntervalSeconds: 10,
		},
		Events: EventsConfig{
			Exchange: "crm.events",
		},
	}
}

// Load reads configuration from a JSON file, applies environment
// overrides, and validates the result. An empty path skips the file and
// builds the config from defaults and environment alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}
	if c.Gateway.URL == "" {
		errs = append(errs, "gateway.url is required")
	}
	if c.Responder.URL == "" {
		errs = append(errs, "responder.url is required")
	}
	if c.Monitor.PollIntervalSeconds <= 0 {
		errs = append(errs, "monitor.poll_interval_seconds must be positive")
	}
	if c.Events.URL != "" && c.Events.Exchange == "" {
		errs = append(errs, "events.exchange is required when events.url is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// DatabasePath returns the sqlite database location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "crm.db")
}

// PollInterval returns the monitor interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalSeconds) * time.Second
}
