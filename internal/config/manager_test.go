package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid minimal config",
			config: &Config{
				Catalog: CatalogConfig{Path: "/data/catalog.db"},
			},
			wantErr: false,
		},
		{
			name:    "missing catalog path",
			config:  &Config{},
			wantErr: true,
		},
		{
			name: "account missing id",
			config: &Config{
				Catalog: CatalogConfig{Path: "/data/catalog.db"},
				Pool:    PoolConfig{Accounts: []AccountConfig{{Tier: "premium"}}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAccountConfigToAccount(t *testing.T) {
	cfg := AccountConfig{ID: "acc-1", Tier: "premium", Enabled: true}
	acc := cfg.ToAccount()
	assert.Equal(t, "acc-1", acc.ID)
	assert.Equal(t, "premium", string(acc.Tier))
	assert.Equal(t, "active", string(acc.Status))
}

func TestAccountConfigDisabledIsOffline(t *testing.T) {
	cfg := AccountConfig{ID: "acc-1", Tier: "standard", Enabled: false}
	acc := cfg.ToAccount()
	assert.Equal(t, "offline", string(acc.Status))
}
