// Package config handles configuration loading and management for kounsel.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigPathEnv overrides the default configuration file path.
	ConfigPathEnv = "KOUNSELRC"

	// TokenEnv overrides the bearer token from the config file.
	TokenEnv = "KOUNSEL_TOKEN"

	// DefaultAPIPrefix is the path prefix of the counselor backend API.
	DefaultAPIPrefix = ""

	// DefaultBackendURL is used when the config file does not set one.
	DefaultBackendURL = "http://localhost:8000"
)

// LogConfig holds logging-related settings.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level"`
	// File is an optional log file path (rotated).
	File string `yaml:"file"`
	// JSON enables JSON log output.
	JSON bool `yaml:"json"`
	// Components restricts logging to the named components.
	Components []string `yaml:"components"`
}

// Config represents the complete kounsel configuration.
type Config struct {
	// BackendURL is the base URL of the counselor backend
	// (e.g. "https://api.kcetcounsel.example").
	BackendURL string `yaml:"backend_url"`
	// APIPrefix is prepended to API paths (usually empty).
	APIPrefix string `yaml:"api_prefix"`
	// Token is the bearer token used to authenticate requests.
	// The KOUNSEL_TOKEN environment variable takes precedence.
	Token string `yaml:"token"`
	// WebBaseURL is the base address of the web UI, used to build
	// shareable session links (e.g. "https://kcetcounsel.example/chat").
	WebBaseURL string `yaml:"web_base_url"`
	// Transport selects the streaming transport: "sse" (default) or "ws".
	Transport string `yaml:"transport"`
	// Log holds logging settings.
	Log LogConfig `yaml:"log"`
}

// DefaultConfigPath returns the default configuration file path for the
// current platform (~/.kounselrc, honoring XDG_CONFIG_HOME on Linux).
func DefaultConfigPath() string {
	if envPath := os.Getenv(ConfigPathEnv); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		configDir = home
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			home, _ := os.UserHomeDir()
			configDir = home
		}
	}

	return filepath.Join(configDir, ".kounselrc")
}

// Load reads and parses the configuration file from the given path.
// A missing file is not an error: defaults are returned so the CLI
// works against a local backend out of the box.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyDefaults(&Config{}), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses YAML configuration data into a Config struct.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return applyDefaults(&cfg), nil
}

// applyDefaults fills in zero-value fields and environment overrides.
func applyDefaults(cfg *Config) *Config {
	if cfg.BackendURL == "" {
		cfg.BackendURL = DefaultBackendURL
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	if cfg.Transport == "" {
		cfg.Transport = "sse"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if envToken := os.Getenv(TokenEnv); envToken != "" {
		cfg.Token = envToken
	}
	return cfg
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url cannot be empty")
	}
	if !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		return fmt.Errorf("backend_url must start with http:// or https://, got %q", c.BackendURL)
	}
	switch c.Transport {
	case "sse", "ws":
	default:
		return fmt.Errorf("transport must be \"sse\" or \"ws\", got %q", c.Transport)
	}
	return nil
}
