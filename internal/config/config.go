// Package config provides configuration management for the ChatFlow backend.
// It handles loading and parsing YAML configuration files, and provides
// structured access to application settings including the server port,
// logging behavior, and object-storage sync credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPort is used when the configuration file does not specify one.
const DefaultPort = 8317

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port" json:"port"`

	// Debug enables verbose logging and gin debug mode.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile mirrors log output into a rotated file under LogsDir.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsDir is the directory for rotated log files. Empty means "logs"
	// next to the working directory.
	LogsDir string `yaml:"logs-dir" json:"logs-dir"`

	// StateDir is the directory holding the local state database. Empty
	// means ~/.chatflow.
	StateDir string `yaml:"state-dir" json:"state-dir"`

	// Storage holds default credentials for the S3-compatible session sync.
	// Request-supplied credentials take precedence over these.
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// OAuth optionally overrides the Google OAuth client credentials used
	// by the token managers. Environment variables win over these values.
	OAuth OAuthConfig `yaml:"oauth,omitempty" json:"oauth,omitempty"`
}

// StorageConfig holds S3/R2 credentials for the sessions.json blob sync.
type StorageConfig struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access-key-id" json:"access-key-id"`
	SecretAccessKey string `yaml:"secret-access-key" json:"secret-access-key"`
}

// OAuthConfig carries per-provider OAuth client credentials.
type OAuthConfig struct {
	GeminiClientID          string `yaml:"gemini-client-id,omitempty" json:"gemini-client-id,omitempty"`
	GeminiClientSecret      string `yaml:"gemini-client-secret,omitempty" json:"gemini-client-secret,omitempty"`
	AntigravityClientID     string `yaml:"antigravity-client-id,omitempty" json:"antigravity-client-id,omitempty"`
	AntigravityClientSecret string `yaml:"antigravity-client-secret,omitempty" json:"antigravity-client-secret,omitempty"`
}

// Configured reports whether the storage credentials are complete enough to
// construct a client.
func (s StorageConfig) Configured() bool {
	return strings.TrimSpace(s.Endpoint) != "" &&
		strings.TrimSpace(s.AccessKeyID) != "" &&
		strings.TrimSpace(s.SecretAccessKey) != ""
}

// LoadConfig reads and parses the configuration file at the given path.
// A missing file is not an error; defaults are returned instead so the
// server can start without any local configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Port: DefaultPort}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	cfg.applyEnvDefaults()
	return cfg, nil
}

// applyEnvDefaults fills unset storage credentials from the R2_* environment
// variables so the sync endpoint works without a config file.
func (c *Config) applyEnvDefaults() {
	if c.Storage.Endpoint == "" {
		c.Storage.Endpoint = os.Getenv("R2_ENDPOINT")
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = os.Getenv("R2_BUCKET")
	}
	if c.Storage.AccessKeyID == "" {
		c.Storage.AccessKeyID = os.Getenv("R2_ACCESS_KEY_ID")
	}
	if c.Storage.SecretAccessKey == "" {
		c.Storage.SecretAccessKey = os.Getenv("R2_SECRET_ACCESS_KEY")
	}
}

// ResolveStateDir returns the directory for the local state database,
// creating it if necessary.
func (c *Config) ResolveStateDir() (string, error) {
	dir := strings.TrimSpace(c.StateDir)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".chatflow")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}
	return dir, nil
}
