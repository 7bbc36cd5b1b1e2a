// Package config manages holdfast node configuration
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/holdfast-net/holdfast/internal/audit"
	"github.com/holdfast-net/holdfast/internal/replicate"
	"github.com/holdfast-net/holdfast/internal/retrieve"
)

// ErrNotFound is returned when no config exists in the config directory.
var ErrNotFound = errors.New("config: not found - run 'holdfast init' first")

// EnvDir overrides the default config directory when set.
const EnvDir = "HOLDFAST_DIR"

// LoggingConfig mirrors internal/logging.Config in serializable form.
type LoggingConfig struct {
	Level       string `json:"level,omitempty"`
	Development bool   `json:"development,omitempty"`
	JSON        bool   `json:"json,omitempty"`
}

// Config represents the holdfast node configuration. Engine tunables use the
// engine packages' own config types; zero fields fall back to each engine's
// defaults.
type Config struct {
	// Store backend: "fs" or "bolt".
	StoreBackend string `json:"store_backend"`

	// InboundRatePerSecond caps messages the router will process; zero
	// means unlimited.
	InboundRatePerSecond float64 `json:"inbound_rate_per_second,omitempty"`

	// JanitorInterval is how often the holder evicts expired records.
	JanitorInterval time.Duration `json:"janitor_interval"`

	Replication replicate.Config          `json:"replication"`
	Admission   replicate.AdmissionConfig `json:"admission"`
	Retrieval   retrieve.Config           `json:"retrieval"`
	Audit       audit.Config              `json:"audit"`
	Logging     LoggingConfig             `json:"logging,omitempty"`

	// ConfigDir is where this config was loaded from (not serialized).
	ConfigDir string `json:"-"`
}

// DefaultConfigDir returns the default config directory, honoring EnvDir.
func DefaultConfigDir() string {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".holdfast")
}

// Default returns a config with every tunable at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.StoreBackend == "" {
		c.StoreBackend = "fs"
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
	c.Replication.ApplyDefaults()
	c.Retrieval.ApplyDefaults()
	c.Audit.ApplyDefaults()
}

// Validate rejects configs no engine could run with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "fs", "bolt":
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.Replication.QuorumN < 1 {
		return errors.New("quorum must be at least 1")
	}
	if c.Admission.AcceptProbability < 0 || c.Admission.AcceptProbability > 1 {
		return errors.New("accept probability must be in [0,1]")
	}
	return nil
}

// Exists reports whether a config file is present in configDir.
func Exists(configDir string) bool {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	_, err := os.Stat(filepath.Join(configDir, "config.json"))
	return err == nil
}

// Load loads configuration from the config directory, applying defaults to
// any unset field.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	data, err := os.ReadFile(filepath.Join(configDir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ConfigDir = configDir
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to its directory with restrictive permissions.
func (c *Config) Save() error {
	if c.ConfigDir == "" {
		c.ConfigDir = DefaultConfigDir()
	}
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.ConfigDir, "config.json"), data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DataDir is where the node's stores and state files live.
func (c *Config) DataDir() string {
	return filepath.Join(c.ConfigDir, "data")
}

// KeystoreDir is where the node's key material lives.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.ConfigDir, "keys")
}
