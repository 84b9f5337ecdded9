package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	require.NoError(t, config.Validate())
	assert.True(t, config.BackgroundProcessingEnabled)
	assert.Equal(t, 4*time.Hour, Duration(config.Jobs.DataSyncInterval))
	assert.Equal(t, 50*time.Minute, Duration(config.Jobs.TokenRefreshInterval))
	assert.Equal(t, 24*time.Hour, Duration(config.Jobs.SyncWindow))
	assert.Equal(t, []string{"steps", "heart_rate", "sleep"}, config.Jobs.Categories)
	assert.Equal(t, 500, config.Cache.CountLimit)
	assert.Equal(t, int64(5*1024*1024), config.Cache.TotalCostLimit)
	assert.Equal(t, 10, config.Host.MaxPending)
	assert.Equal(t, 30*time.Second, Duration(config.Host.ExecutionBudget))
	assert.Equal(t, 4, config.Workers)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
background_processing_enabled: false
jobs:
  data_sync_interval: 2h
  categories: [steps]
cache:
  count_limit: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.False(t, config.BackgroundProcessingEnabled)
	assert.Equal(t, "2h", config.Jobs.DataSyncInterval)
	assert.Equal(t, []string{"steps"}, config.Jobs.Categories)
	assert.Equal(t, 50, config.Cache.CountLimit)
	// Untouched fields keep their defaults.
	assert.Equal(t, "50m", config.Jobs.TokenRefreshInterval)
	assert.Equal(t, int64(5<<20), config.Cache.TotalCostLimit)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"server": {"port": "9090"}, "host": {"max_pending": 3}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", config.Server.Port)
	assert.Equal(t, 3, config.Host.MaxPending)
	assert.Equal(t, "30s", config.Host.ExecutionBudget)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFallsBackToEnv(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("PORT", "7070")
	t.Setenv("BACKGROUND_PROCESSING_ENABLED", "false")
	t.Setenv("SYNC_CATEGORIES", "sleep,steps")
	t.Setenv("HOST_MAX_PENDING", "4")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.test/abc")

	config, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "7070", config.Server.Port)
	assert.False(t, config.BackgroundProcessingEnabled)
	assert.Equal(t, []string{"sleep", "steps"}, config.Jobs.Categories)
	assert.Equal(t, 4, config.Host.MaxPending)
	assert.Equal(t, "https://hooks.slack.test/abc", config.Slack.WebhookURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad interval", func(c *Config) { c.Jobs.DataSyncInterval = "soon" }, "jobs.data_sync_interval"},
		{"negative budget", func(c *Config) { c.Host.ExecutionBudget = "-1s" }, "host.execution_budget"},
		{"no categories", func(c *Config) { c.Jobs.Categories = nil }, "jobs.categories"},
		{"zero count limit", func(c *Config) { c.Cache.CountLimit = 0 }, "cache.count_limit"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"empty base url", func(c *Config) { c.API.BaseURL = "" }, "api.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
