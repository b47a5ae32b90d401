package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// FetchPolicy controls how measurement-fetch failures are handled during
// snapshot normalization. Strict surfaces the provider error; lenient
// tolerates it into an empty snapshot. Sleep fetches are always lenient.
type FetchPolicy string

const (
	FetchStrict  FetchPolicy = "strict"
	FetchLenient FetchPolicy = "lenient"
)

// Config holds the application configuration
type Config struct {
	Port     int    `json:"port"`
	DataPath string `json:"data_path"`
	Timezone string `json:"timezone"`

	// Wearable provider OAuth application
	WithingsClientID     string `json:"withings_client_id"`
	WithingsClientSecret string `json:"withings_client_secret"`
	WithingsRedirectURI  string `json:"withings_redirect_uri"`

	// Reasoning Engine
	AnthropicAPIKey string `json:"anthropic_api_key"`
	Model           string `json:"model"`

	// Measurement-fetch failure policy for the HTTP snapshot endpoint.
	FetchPolicy FetchPolicy `json:"fetch_policy"`

	// Cron expression for the background daily sync. Empty disables it.
	SyncSchedule string `json:"sync_schedule"`

	// Path to the coaching profile YAML file.
	ProfilePath string `json:"profile_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Port:         8080,
		DataPath:     filepath.Join(homeDir, ".local", "share", "lifemaster"),
		Timezone:     "Europe/Madrid",
		Model:        "claude-sonnet-4-20250514",
		FetchPolicy:  FetchStrict,
		SyncSchedule: "30 6 * * *",
	}
}

// GetConfigPath returns the path where config should be saved
func GetConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "lifemaster", "config.json")
}

// Load loads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPaths := []string{
		".lifemaster/config.json",
		GetConfigPath(),
	}

	for _, path := range configPaths {
		if data, err := os.ReadFile(path); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", path, err)
			}
			break
		}
	}

	applyEnv(cfg)

	if cfg.FetchPolicy != FetchStrict && cfg.FetchPolicy != FetchLenient {
		return nil, fmt.Errorf("invalid fetch_policy %q (want strict or lenient)", cfg.FetchPolicy)
	}

	if err := os.MkdirAll(cfg.DataPath, 0755); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LIFEMASTER_DATA_PATH"); v != "" {
		cfg.DataPath = v
	}
	if v := os.Getenv("LIFEMASTER_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("LIFEMASTER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("WITHINGS_CLIENT_ID"); v != "" {
		cfg.WithingsClientID = v
	}
	if v := os.Getenv("WITHINGS_CLIENT_SECRET"); v != "" {
		cfg.WithingsClientSecret = v
	}
	if v := os.Getenv("WITHINGS_REDIRECT_URI"); v != "" {
		cfg.WithingsRedirectURI = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := os.Getenv("LIFEMASTER_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("LIFEMASTER_FETCH_POLICY"); v != "" {
		cfg.FetchPolicy = FetchPolicy(v)
	}
	if v := os.Getenv("LIFEMASTER_SYNC_SCHEDULE"); v != "" {
		cfg.SyncSchedule = v
	}
	if v := os.Getenv("LIFEMASTER_PROFILE_PATH"); v != "" {
		cfg.ProfilePath = v
	}
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
