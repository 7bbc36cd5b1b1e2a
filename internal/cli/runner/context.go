package runner

import (
	"fmt"
	"sync"

	"github.com/holdfast-net/holdfast/internal/config"
	"github.com/holdfast-net/holdfast/internal/keystore"
)

// CommandContext provides shared dependencies to command handlers.
// Dependencies are lazily initialized on first access.
type CommandContext struct {
	// Config is the loaded configuration (may be nil if not initialized)
	Config *config.Config

	// ConfigErr is the error from loading config, if any
	ConfigErr error

	ks     *keystore.Keystore
	ksErr  error
	ksOnce sync.Once
}

// NewContext creates a new CommandContext with the given config.
func NewContext(cfg *config.Config, cfgErr error) *CommandContext {
	return &CommandContext{
		Config:    cfg,
		ConfigErr: cfgErr,
	}
}

// Keystore opens the node's key material lazily. Returns ErrNoKeystore when
// the keys have not been generated yet.
func (c *CommandContext) Keystore() (*keystore.Keystore, error) {
	c.ksOnce.Do(func() {
		if c.Config == nil {
			c.ksErr = ErrNotInitialized
			return
		}
		if !keystore.Exists(c.Config.KeystoreDir()) {
			c.ksErr = ErrNoKeystore
			return
		}
		c.ks, c.ksErr = keystore.Open(c.Config.KeystoreDir())
	})
	return c.ks, c.ksErr
}

// SaveConfig saves the configuration with standardized error wrapping.
func (c *CommandContext) SaveConfig() error {
	if c.Config == nil {
		return ErrNotInitialized
	}
	if err := c.Config.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// HasConfig returns true if config is loaded successfully.
func (c *CommandContext) HasConfig() bool {
	return c.Config != nil && c.ConfigErr == nil
}
