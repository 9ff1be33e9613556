// Package config loads and hot-reloads the daemon's configuration.
package config

import (
	"fmt"

	"github.com/relaystream/core/internal/sessionpool"
)

// CatalogConfig configures the read-only catalog store.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// PoolConfig configures the session pool's account list.
type PoolConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// AccountConfig is one backend account entry.
type AccountConfig struct {
	ID          string `mapstructure:"id"`
	Tier        string `mapstructure:"tier"`
	Credentials string `mapstructure:"credentials"`
	Enabled     bool   `mapstructure:"enabled"`
}

// ToAccount converts the config row into a sessionpool.Account.
func (a AccountConfig) ToAccount() sessionpool.Account {
	tier := sessionpool.TierStandard
	if a.Tier == "premium" {
		tier = sessionpool.TierPremium
	}
	status := sessionpool.StatusOffline
	if a.Enabled {
		status = sessionpool.StatusActive
	}
	return sessionpool.Account{
		ID:          a.ID,
		Tier:        tier,
		Credentials: []byte(a.Credentials),
		Status:      status,
	}
}

// StreamingConfig configures reader/fetch behavior.
type StreamingConfig struct {
	ReaderTTLSeconds int `mapstructure:"reader_ttl_seconds"`
}

// LogConfig configures log rotation.
type LogConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the full daemon configuration.
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Log       LogConfig       `mapstructure:"log"`
	HTTPAddr  string          `mapstructure:"http_addr"`
}

// Validate checks required fields are present.
func (c *Config) Validate() error {
	if c.Catalog.Path == "" {
		return fmt.Errorf("config: catalog.path is required")
	}
	for _, acc := range c.Pool.Accounts {
		if acc.ID == "" {
			return fmt.Errorf("config: pool.accounts entries must have an id")
		}
	}
	return nil
}

// Accounts converts the configured account list to sessionpool.Account
// values.
func (c *Config) Accounts() []sessionpool.Account {
	out := make([]sessionpool.Account, 0, len(c.Pool.Accounts))
	for _, acc := range c.Pool.Accounts {
		out = append(out, acc.ToAccount())
	}
	return out
}
