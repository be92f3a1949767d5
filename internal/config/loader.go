package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	// Unmarshal YAML into config
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Validate configuration
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max_body_bytes must be positive, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Server.IdleTimeout <= 0 {
		return fmt.Errorf("server idle_timeout must be positive")
	}

	// Fail-open auth is opt-in: an empty key only passes with allow_anonymous.
	if cfg.Auth.APIKey == "" && !cfg.Auth.AllowAnonymous {
		return fmt.Errorf("auth api_key is empty; set auth.allow_anonymous to run without authentication")
	}
	if cfg.Auth.Header == "" {
		return fmt.Errorf("auth header name must not be empty")
	}
	if cfg.Auth.RateLimit.Enabled {
		if cfg.Auth.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit window must be positive")
		}
		if cfg.Auth.RateLimit.MaxRequests < 1 {
			return fmt.Errorf("rate_limit max_requests must be at least 1")
		}
		if cfg.Auth.RateLimit.SweepInterval <= 0 {
			return fmt.Errorf("rate_limit sweep_interval must be positive")
		}
	}
	for _, p := range cfg.Auth.PublicPrefixes {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("public prefix %q must start with /", p)
		}
	}

	for _, p := range cfg.Namespace.SkipPrefixes {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("namespace skip prefix %q must start with /", p)
		}
	}
	for _, p := range cfg.Namespace.PassthroughPrefixes {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("namespace passthrough prefix %q must start with /", p)
		}
	}
	switch cfg.Namespace.Registry.Type {
	case "memory":
	case "redis":
		if cfg.Namespace.Registry.Addr == "" {
			return fmt.Errorf("redis registry requires an addr")
		}
	default:
		return fmt.Errorf("unknown registry type %q", cfg.Namespace.Registry.Type)
	}

	for _, s := range cfg.Static {
		if !strings.HasPrefix(s.Prefix, "/") {
			return fmt.Errorf("static prefix %q must start with /", s.Prefix)
		}
		if s.Root == "" {
			return fmt.Errorf("static mount %q has no root directory", s.Prefix)
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics path %q must start with /", cfg.Metrics.Path)
	}

	return nil
}
