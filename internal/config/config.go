// Package config provides file-based configuration with environment
// variable overrides for the gateway. TOML is the canonical format; YAML
// files are also accepted, selected by file extension.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// defaultReadTimeoutSeconds bounds a single protocol read so a silent
// peer cannot hold a session goroutine forever.
const defaultReadTimeoutSeconds = 300

// Config holds the complete application configuration. It is immutable
// after startup and shared read-only by every connection.
type Config struct {
	Network NetworkConfig `toml:"network" yaml:"network"`
	Storage StorageConfig `toml:"storage" yaml:"storage"`
	API     APIConfig     `toml:"api" yaml:"api"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`

	// LocalDomain is the one domain accepted by the static fallback rule
	// when the platform API is unconfigured.
	LocalDomain string `toml:"local_domain" yaml:"local_domain"`
}

// NetworkConfig holds the listener addresses and the per-read timeout.
type NetworkConfig struct {
	ListenAddress      string `toml:"listen_address" yaml:"listen_address"`
	PolicyPort         int    `toml:"policy_port" yaml:"policy_port"`
	DeliveryPort       int    `toml:"delivery_port" yaml:"delivery_port"`
	ReadTimeoutSeconds int    `toml:"read_timeout_seconds" yaml:"read_timeout_seconds"`
}

// StorageConfig holds the spool location. Messages land under
// BasePath/Incoming.
type StorageConfig struct {
	BasePath string `toml:"base_path" yaml:"base_path"`
	Incoming string `toml:"incoming" yaml:"incoming"`
}

// APIConfig holds the platform API credentials. API mode is enabled only
// when all three values are set.
type APIConfig struct {
	BaseURL    string `toml:"base_url" yaml:"base_url"`
	ServiceKey string `toml:"service_key" yaml:"service_key"`
	SecretKey  string `toml:"secret_key" yaml:"secret_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// MetricsConfig holds the optional prometheus listener address. Empty
// disables the metrics endpoint.
type MetricsConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
}

// Load builds configuration from defaults and environment variables only.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a TOML (or .yaml/.yml) file as the
// base layer, then overrides with environment variables.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment variables always override file values.
	cfg.applyEnvVars()

	return cfg, nil
}

// APIConfigured reports whether all platform API credentials are set.
// This is the single gate deciding API mode for the whole process.
func (c *Config) APIConfigured() bool {
	return c.API.BaseURL != "" &&
		c.API.ServiceKey != "" &&
		c.API.SecretKey != ""
}

// PolicyAddr returns the policy listener address.
func (c *Config) PolicyAddr() string {
	return fmt.Sprintf("%s:%d", c.Network.ListenAddress, c.Network.PolicyPort)
}

// DeliveryAddr returns the delivery listener address.
func (c *Config) DeliveryAddr() string {
	return fmt.Sprintf("%s:%d", c.Network.ListenAddress, c.Network.DeliveryPort)
}

// ReadTimeout returns the per-read deadline for both protocols. Zero or
// negative disables deadlines.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Network.ReadTimeoutSeconds) * time.Second
}

// applyDefaults sets the reference deployment's default values.
func (c *Config) applyDefaults() {
	c.Network.ListenAddress = "0.0.0.0"
	c.Network.PolicyPort = 12345
	c.Network.DeliveryPort = 2525
	c.Network.ReadTimeoutSeconds = defaultReadTimeoutSeconds
	c.Storage.BasePath = "/var/mail/restmail"
	c.Storage.Incoming = "incoming"
	c.LocalDomain = "restmail.org"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("RESTMAIL_LISTEN_ADDRESS"); v != "" {
		c.Network.ListenAddress = v
	}
	if v := os.Getenv("RESTMAIL_POLICY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Network.PolicyPort = port
		}
	}
	if v := os.Getenv("RESTMAIL_DELIVERY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Network.DeliveryPort = port
		}
	}
	if v := os.Getenv("RESTMAIL_READ_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Network.ReadTimeoutSeconds = secs
		}
	}

	if v := os.Getenv("RESTMAIL_STORAGE_BASE_PATH"); v != "" {
		c.Storage.BasePath = v
	}
	if v := os.Getenv("RESTMAIL_STORAGE_INCOMING"); v != "" {
		c.Storage.Incoming = v
	}

	if v := os.Getenv("RESTMAIL_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("RESTMAIL_API_SERVICE_KEY"); v != "" {
		c.API.ServiceKey = v
	}
	if v := os.Getenv("RESTMAIL_API_SECRET_KEY"); v != "" {
		c.API.SecretKey = v
	}

	if v := os.Getenv("RESTMAIL_LOCAL_DOMAIN"); v != "" {
		c.LocalDomain = v
	}
	if v := os.Getenv("RESTMAIL_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
