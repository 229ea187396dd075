// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Sync tunes the reconciliation loop and the control API surface.
type Sync struct {
	ListenAddr    string  `yaml:"listen_addr"`
	PollInterval  int     `yaml:"poll_interval_ms"`
	StorePath     string  `yaml:"store_path"`
	EventLogPath  string  `yaml:"event_log_path"`
	MaxBidPerPush float64 `yaml:"max_bid_per_push"`
}

// Retry bounds attempts against either upstream platform.
type Retry struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelay   int `yaml:"base_delay_ms"`
}

// Ebay describes eBay API connectivity. Credentials (EBAY_APP_ID, EBAY_CERT_ID,
// EBAY_DEV_ID, EBAY_USER_TOKEN) come from the environment, never from YAML.
type Ebay struct {
	Sandbox        bool   `yaml:"sandbox"`
	SiteID         string `yaml:"site_id"`
	RequestTimeout int    `yaml:"request_timeout_ms"`
}

// Artifacte describes the on-chain auction platform endpoints. The optional
// custodial signer key (SOLANA_PRIVATE_KEY_BASE58) comes from the environment.
type Artifacte struct {
	APIBase        string `yaml:"api_base"`
	RPCURL         string `yaml:"rpc_url"`
	Treasury       string `yaml:"treasury"`
	Mint           string `yaml:"mint"`
	MintDecimals   int    `yaml:"mint_decimals"`
	Commitment     string `yaml:"commitment"`
	RequestTimeout int    `yaml:"request_timeout_ms"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Sync      Sync      `yaml:"sync"`
	Retry     Retry     `yaml:"retry"`
	Ebay      Ebay      `yaml:"ebay"`
	Artifacte Artifacte `yaml:"artifacte"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
