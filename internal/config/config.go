package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL         string `yaml:"database_url"`
	PollInterval        int    `yaml:"poll_interval"` // seconds
	MaxRetries          int    `yaml:"max_retries"`
	ShutdownTimeout     int    `yaml:"shutdown_timeout"` // seconds
	CastBatchSize       int    `yaml:"cast_batch_size"`
	SyncCron            string `yaml:"sync_cron"`
	AccountCron         string `yaml:"account_cron"`
	GoogleClientID      string `yaml:"google_client_id"`
	GoogleClientSecret  string `yaml:"google_client_secret"`
	OutlookClientID     string `yaml:"outlook_client_id"`
	OutlookClientSecret string `yaml:"outlook_client_secret"`
}

// Default returns the configuration used when neither the config file nor
// the environment sets a value
func Default() *Config {
	return &Config{
		PollInterval:    10, // poll every 10 seconds
		MaxRetries:      3,
		ShutdownTimeout: 30,
		CastBatchSize:   100,
		SyncCron:        "*/15 * * * *",
		AccountCron:     "0 */6 * * *",
	}
}

// Load reads configuration from an optional YAML file named by
// SHADOWCAL_CONFIG_FILE, then from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("SHADOWCAL_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.SyncCron, "SYNC_CRON")
	setString(&cfg.AccountCron, "ACCOUNT_CRON")
	setString(&cfg.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.OutlookClientID, "OUTLOOK_CLIENT_ID")
	setString(&cfg.OutlookClientSecret, "OUTLOOK_CLIENT_SECRET")

	for key, target := range map[string]*int{
		"POLL_INTERVAL":    &cfg.PollInterval,
		"MAX_RETRIES":      &cfg.MaxRetries,
		"SHUTDOWN_TIMEOUT": &cfg.ShutdownTimeout,
		"CAST_BATCH_SIZE":  &cfg.CastBatchSize,
	} {
		if err := setInt(target, key); err != nil {
			return nil, err
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.PollInterval <= 0 || cfg.CastBatchSize <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL and CAST_BATCH_SIZE must be positive")
	}

	for key, spec := range map[string]string{"SYNC_CRON": cfg.SyncCron, "ACCOUNT_CRON": cfg.AccountCron} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", key, spec, err)
		}
	}

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		fmt.Println("Warning: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set, Google token refresh will not work")
	}

	if cfg.OutlookClientID == "" || cfg.OutlookClientSecret == "" {
		fmt.Println("Warning: OUTLOOK_CLIENT_ID or OUTLOOK_CLIENT_SECRET not set, Outlook token refresh will not work")
	}

	return cfg, nil
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt(target *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*target = n
	return nil
}
