// File: internal/config/config_test.go
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "adarchive", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1280, cfg.Browser.Viewport.Width)
	assert.Equal(t, 2.0, cfg.Browser.DeviceScaleFactor)
	assert.Equal(t, 30*time.Second, cfg.Network.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Network.PollInterval)
	assert.Zero(t, cfg.Scrape.Limit, "no limit unless asked for")
	assert.Equal(t, "1px solid rgb(233, 234, 235)", cfg.Scrape.ContainerBorder)
	assert.Equal(t, ")]}',\n", cfg.Replay.FramingPrefix)
	assert.Contains(t, cfg.Replay.Categories, CategoryCreative)
	assert.Contains(t, cfg.Replay.Categories, CategoryPerformance)
	assert.Equal(t, 750*time.Millisecond, cfg.Replay.Pacing)
	assert.False(t, cfg.Store.Enabled)
}

// -- Validation Logic Tests --

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Scrape.Query = "climate"
	return cfg
}

func TestConfigValidation(t *testing.T) {
	t.Run("Valid Config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("Zero limit means unlimited", func(t *testing.T) {
		cfg := validConfig()
		cfg.Scrape.Limit = 0
		assert.NoError(t, cfg.Validate())
	})

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"Missing query", func(c *Config) { c.Scrape.Query = "  " }, "query is required"},
		{"Negative limit", func(c *Config) { c.Scrape.Limit = -1 }, "limit must not be negative"},
		{"Bad viewport", func(c *Config) { c.Browser.Viewport.Height = 0 }, "viewport width and height must be positive integers"},
		{"Negative scale", func(c *Config) { c.Browser.DeviceScaleFactor = -1 }, "device_scale_factor must not be negative"},
		{"Zero poll interval", func(c *Config) { c.Network.PollInterval = 0 }, "poll_interval must be a positive duration"},
		{"Settle shorter than quiet", func(c *Config) {
			c.Network.QuietPeriod = 5 * time.Second
			c.Network.SettleTimeout = time.Second
		}, "settle_timeout must not be shorter than quiet_period"},
		{"Negative pacing", func(c *Config) { c.Replay.Pacing = -time.Second }, "pacing must not be negative"},
		{"Missing creative prefix", func(c *Config) { c.Replay.Categories = map[string]string{} }, "categories.creative prefix is required"},
		{"Store without URL", func(c *Config) { c.Store.Enabled = true }, "store.url is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Overrides from YAML", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		yaml := []byte(`
scrape:
  query: "housing"
  limit: 7
  country: "GB"
replay:
  pacing: 2s
browser:
  headless: false
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yaml)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "housing", cfg.Scrape.Query)
		assert.Equal(t, 7, cfg.Scrape.Limit)
		assert.Equal(t, "GB", cfg.Scrape.Country)
		assert.Equal(t, 2*time.Second, cfg.Replay.Pacing)
		assert.False(t, cfg.Browser.Headless)
		// Untouched keys keep their defaults.
		assert.Equal(t, "all", cfg.Scrape.ActiveStatus)
	})

	t.Run("Credentials from environment", func(t *testing.T) {
		t.Setenv("ADARCHIVE_EMAIL", "someone@example.com")
		t.Setenv("ADARCHIVE_PASSWORD", "hunter2")

		v := viper.New()
		SetDefaults(v)
		v.Set("scrape.query", "energy")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "someone@example.com", cfg.Auth.Email)
		assert.Equal(t, "hunter2", cfg.Auth.Password)
	})

	t.Run("Invalid configuration is rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestOutputConfigResolveDir(t *testing.T) {
	home, err := homedir.Dir()
	if err != nil {
		t.Skip("no home directory available")
	}

	dir, err := OutputConfig{Dir: "~/ads"}.ResolveDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "ads"), dir)

	tmp := os.TempDir()
	dir, err = OutputConfig{Dir: tmp}.ResolveDir()
	require.NoError(t, err)
	assert.Equal(t, tmp, dir)
}
