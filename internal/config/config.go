package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server                      ServerConfig `json:"server" yaml:"server"`
	BackgroundProcessingEnabled bool         `json:"background_processing_enabled" yaml:"background_processing_enabled"`
	Jobs                        JobsConfig   `json:"jobs" yaml:"jobs"`
	Cache                       CacheConfig  `json:"cache" yaml:"cache"`
	Host                        HostConfig   `json:"host" yaml:"host"`
	API                         APIConfig    `json:"api" yaml:"api"`
	Slack                       SlackConfig  `json:"slack" yaml:"slack"`
	Workers                     int          `json:"workers" yaml:"workers"`
}

type ServerConfig struct {
	Port         string `json:"port" yaml:"port"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
}

type JobsConfig struct {
	DataSyncInterval     string   `json:"data_sync_interval" yaml:"data_sync_interval"`
	TokenRefreshInterval string   `json:"token_refresh_interval" yaml:"token_refresh_interval"`
	SyncWindow           string   `json:"sync_window" yaml:"sync_window"`
	Categories           []string `json:"categories" yaml:"categories"`
	// PollInterval drives the in-process sync loop while the app is active.
	PollInterval         string   `json:"poll_interval" yaml:"poll_interval"`
}

type CacheConfig struct {
	CountLimit     int   `json:"count_limit" yaml:"count_limit"`
	TotalCostLimit int64 `json:"total_cost_limit" yaml:"total_cost_limit"`
}

type HostConfig struct {
	MaxPending        int    `json:"max_pending" yaml:"max_pending"`
	ExecutionBudget   string `json:"execution_budget" yaml:"execution_budget"`
	NetworkRetryDelay string `json:"network_retry_delay" yaml:"network_retry_delay"`
}

type APIConfig struct {
	BaseURL  string `json:"base_url" yaml:"base_url"`
	TokenURL string `json:"token_url" yaml:"token_url"`
	Timeout  string `json:"timeout" yaml:"timeout"`

	// RefreshToken seeds the session at startup. Prefer WELLNESS_REFRESH_TOKEN.
	RefreshToken string `json:"refresh_token" yaml:"refresh_token"`
}

type SlackConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// Load reads the config file at configPath. JSON and YAML are picked by
// extension. When the file cannot be read the configuration is built from
// the environment, after loading .env or .env.local if present.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if err := godotenv.Load(); err != nil {
			if err := godotenv.Load(".env.local"); err != nil {
				fmt.Printf("No .env or .env.local file found. Using environment variables.\n")
			}
		}
		return FromEnv(), nil
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if webhook := os.Getenv("SLACK_WEBHOOK_URL"); webhook != "" {
		config.Slack.WebhookURL = webhook
	}
	if token := os.Getenv("WELLNESS_REFRESH_TOKEN"); token != "" {
		config.API.RefreshToken = token
	}

	return config, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  "15s",
			WriteTimeout: "15s",
		},
		BackgroundProcessingEnabled: true,
		Jobs: JobsConfig{
			DataSyncInterval:     "4h",
			TokenRefreshInterval: "50m",
			SyncWindow:           "24h",
			Categories:           []string{"steps", "heart_rate", "sleep"},
			PollInterval:         "15m",
		},
		Cache: CacheConfig{
			CountLimit:     500,
			TotalCostLimit: 5 << 20,
		},
		Host: HostConfig{
			MaxPending:        10,
			ExecutionBudget:   "30s",
			NetworkRetryDelay: "5m",
		},
		API: APIConfig{
			BaseURL:  "https://api.wellness.example.com",
			TokenURL: "https://auth.wellness.example.com/oauth/token",
			Timeout:  "30s",
		},
		Workers: 4,
	}
}

// FromEnv overlays environment variables on the defaults.
func FromEnv() *Config {
	config := DefaultConfig()

	config.Server.Port = getEnv("PORT", config.Server.Port)
	config.BackgroundProcessingEnabled = getEnvBool("BACKGROUND_PROCESSING_ENABLED", config.BackgroundProcessingEnabled)
	config.Jobs.DataSyncInterval = getEnv("DATA_SYNC_INTERVAL", config.Jobs.DataSyncInterval)
	config.Jobs.TokenRefreshInterval = getEnv("TOKEN_REFRESH_INTERVAL", config.Jobs.TokenRefreshInterval)
	config.Jobs.SyncWindow = getEnv("SYNC_WINDOW", config.Jobs.SyncWindow)
	config.Jobs.PollInterval = getEnv("POLL_INTERVAL", config.Jobs.PollInterval)
	if categories := getEnv("SYNC_CATEGORIES", ""); categories != "" {
		config.Jobs.Categories = strings.Split(categories, ",")
	}
	config.Cache.CountLimit = getEnvInt("CACHE_COUNT_LIMIT", config.Cache.CountLimit)
	config.Cache.TotalCostLimit = int64(getEnvInt("CACHE_TOTAL_COST_LIMIT", int(config.Cache.TotalCostLimit)))
	config.Host.MaxPending = getEnvInt("HOST_MAX_PENDING", config.Host.MaxPending)
	config.Host.ExecutionBudget = getEnv("HOST_EXECUTION_BUDGET", config.Host.ExecutionBudget)
	config.API.BaseURL = getEnv("WELLNESS_API_URL", config.API.BaseURL)
	config.API.TokenURL = getEnv("WELLNESS_TOKEN_URL", config.API.TokenURL)
	config.API.RefreshToken = getEnv("WELLNESS_REFRESH_TOKEN", "")
	config.Slack.WebhookURL = getEnv("SLACK_WEBHOOK_URL", "")
	config.Workers = getEnvInt("WORKERS", config.Workers)

	return config
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	durations := []struct {
		name  string
		value string
	}{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"jobs.data_sync_interval", c.Jobs.DataSyncInterval},
		{"jobs.token_refresh_interval", c.Jobs.TokenRefreshInterval},
		{"jobs.sync_window", c.Jobs.SyncWindow},
		{"jobs.poll_interval", c.Jobs.PollInterval},
		{"host.execution_budget", c.Host.ExecutionBudget},
		{"host.network_retry_delay", c.Host.NetworkRetryDelay},
		{"api.timeout", c.API.Timeout},
	}
	for _, d := range durations {
		if _, err := parsePositive(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}

	if c.Server.Port == "" {
		return errors.New("invalid server.port: empty")
	}
	if len(c.Jobs.Categories) == 0 {
		return errors.New("invalid jobs.categories: at least one category is required")
	}
	if c.Cache.CountLimit <= 0 {
		return fmt.Errorf("invalid cache.count_limit: %d", c.Cache.CountLimit)
	}
	if c.Cache.TotalCostLimit <= 0 {
		return fmt.Errorf("invalid cache.total_cost_limit: %d", c.Cache.TotalCostLimit)
	}
	if c.Host.MaxPending <= 0 {
		return fmt.Errorf("invalid host.max_pending: %d", c.Host.MaxPending)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("invalid workers: %d", c.Workers)
	}
	if c.API.BaseURL == "" {
		return errors.New("invalid api.base_url: empty")
	}

	return nil
}

// Duration parses a validated duration field. Call Validate first.
func Duration(value string) time.Duration {
	d, _ := parsePositive(value)
	return d
}

func parsePositive(value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", value)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}
