package config

import "time"

// Config is the root configuration for the memgate server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Namespace NamespaceConfig `yaml:"namespace"`
	Static    []StaticConfig  `yaml:"static"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener and request limits.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AuthConfig configures API key authentication and rate limiting.
type AuthConfig struct {
	APIKey         string          `yaml:"api_key"`
	Header         string          `yaml:"header"`
	AllowAnonymous bool            `yaml:"allow_anonymous"`
	PublicPrefixes []string        `yaml:"public_prefixes"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the fixed-window rate limiter.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Window        time.Duration `yaml:"window"`
	MaxRequests   int           `yaml:"max_requests"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// NamespaceConfig configures tenant namespace extraction and validation.
type NamespaceConfig struct {
	Header              string         `yaml:"header"`
	SkipPrefixes        []string       `yaml:"skip_prefixes"`
	PassthroughPrefixes []string       `yaml:"passthrough_prefixes"`
	AutoProvision       bool           `yaml:"auto_provision"`
	Registry            RegistryConfig `yaml:"registry"`
}

// RegistryConfig selects the namespace record store backend.
type RegistryConfig struct {
	Type     string `yaml:"type"` // memory or redis
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StaticConfig mounts a directory of static assets under a URL prefix.
type StaticConfig struct {
	Prefix string `yaml:"prefix"`
	Root   string `yaml:"root"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			IdleTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			MaxBodyBytes:      1 << 20, // 1 MiB
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			Header: "x-api-key",
			RateLimit: RateLimitConfig{
				Enabled:       true,
				Window:        time.Minute,
				MaxRequests:   100,
				SweepInterval: 5 * time.Minute,
			},
		},
		Namespace: NamespaceConfig{
			Header: "x-namespace",
			Registry: RegistryConfig{
				Type: "memory",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
