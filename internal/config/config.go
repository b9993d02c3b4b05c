package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete portal configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Upstream UpstreamConfig `yaml:"upstream" envconfig:"UPSTREAM"`
	Portal   PortalConfig   `yaml:"portal" envconfig:"PORTAL"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"3001"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig contains origin admission and rate limiting configuration.
// AllowedDomain is a bare host (no scheme); the origin guard admits both the
// http:// and https:// forms of it.
type SecurityConfig struct {
	AllowedDomain string          `yaml:"allowed_domain" envconfig:"ALLOWED_DOMAIN" default:"localhost:3000"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output string `yaml:"output" envconfig:"OUTPUT" default:"console"`
}

// UpstreamConfig describes the licensing service the gateway relays to.
// The token never leaves the server; browsers only ever see relay responses.
type UpstreamConfig struct {
	BaseURL        string        `yaml:"base_url" envconfig:"BASE_URL" default:"https://api.keygen.sh"`
	AccountID      string        `yaml:"account_id" envconfig:"ACCOUNT_ID"`
	Token          string        `yaml:"token" envconfig:"TOKEN"`
	PageSize       int           `yaml:"page_size" envconfig:"PAGE_SIZE" default:"100"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"20s"`
}

// PortalConfig carries the identity produced by the external auth layer and
// the address renewal requests are mailed to.
type PortalConfig struct {
	UserEmail    string `yaml:"user_email" envconfig:"USER_EMAIL"`
	UserName     string `yaml:"user_name" envconfig:"USER_NAME"`
	RequestEmail string `yaml:"request_email" envconfig:"REQUEST_EMAIL"`
}

// Load loads configuration from environment variables and an optional
// config.yaml next to the working directory. Environment wins.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := envconfig.Process("KEYPORTAL", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file if it exists.
// A missing file is not an error; defaults and env cover it.
func loadFromFile(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Security.AllowedDomain == "" {
		return fmt.Errorf("security.allowed_domain is required")
	}
	if strings.Contains(c.Security.AllowedDomain, "://") {
		return fmt.Errorf("security.allowed_domain must be a bare host, got %q", c.Security.AllowedDomain)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.AccountID == "" {
		return fmt.Errorf("upstream.account_id is required")
	}
	if c.Upstream.Token == "" {
		return fmt.Errorf("upstream.token is required")
	}
	if c.Upstream.PageSize <= 0 {
		return fmt.Errorf("upstream.page_size must be positive, got %d", c.Upstream.PageSize)
	}
	return nil
}
