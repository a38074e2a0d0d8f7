package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/marketmaker"
)

// FileName is the default config file name.
const FileName = "config.yaml"

// Config holds all configuration for the DEX daemon.
type Config struct {
	// DataDir is the directory for portfolios and swap stores.
	DataDir string `yaml:"data_dir"`

	Logging     LoggingConfig     `yaml:"logging"`
	RPC         RPCConfig         `yaml:"rpc"`
	MarketMaker MarketMakerConfig `yaml:"marketmaker"`
	Price       PriceConfig       `yaml:"price"`
	Swaps       SwapsConfig       `yaml:"swaps"`

	// Electrum overrides the default electrum servers per currency symbol.
	Electrum map[string][]marketmaker.ElectrumServer `yaml:"electrum,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stdout).
	File string `yaml:"file"`
}

// RPCConfig holds the UI facing API settings.
type RPCConfig struct {
	// ListenAddr is the HTTP address for JSON-RPC and WebSocket.
	ListenAddr string `yaml:"listen_addr"`
}

// MarketMakerConfig holds trading daemon connection settings.
type MarketMakerConfig struct {
	// URL is the daemon RPC endpoint.
	URL string `yaml:"url"`

	// SocketURL is the daemon push channel.
	SocketURL string `yaml:"socket_url"`

	// UserPass authenticates RPC calls.
	UserPass string `yaml:"userpass"`

	// RateLimit caps RPC calls per second.
	RateLimit int `yaml:"rate_limit"`

	Timeout time.Duration `yaml:"timeout"`

	// PrivateURL and PrivateSocketURL point at the daemon instance that
	// routes private swaps. Private trading is off when PrivateURL is empty.
	PrivateURL       string `yaml:"private_url,omitempty"`
	PrivateSocketURL string `yaml:"private_socket_url,omitempty"`
}

// PriceConfig holds reference price settings.
type PriceConfig struct {
	URL      string        `yaml:"url"`
	Fiat     string        `yaml:"fiat"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// SwapsConfig holds swap store settings.
type SwapsConfig struct {
	// TickInterval is how often subscribers get a refresh event.
	TickInterval time.Duration `yaml:"tick_interval"`

	// RetryInitial and RetryMax bound the backoff for busy storage.
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "~/.resdex",
		Logging: LoggingConfig{
			Level: "info",
		},
		RPC: RPCConfig{
			ListenAddr: "127.0.0.1:17446",
		},
		MarketMaker: MarketMakerConfig{
			URL:       "http://127.0.0.1:17445",
			SocketURL: "ws://127.0.0.1:17447",
			RateLimit: 10,
			Timeout:   30 * time.Second,
		},
		Price: PriceConfig{
			URL:      "https://min-api.cryptocompare.com/data/pricemulti",
			Fiat:     "USD",
			CacheTTL: 5 * time.Minute,
		},
		Swaps: SwapsConfig{
			TickInterval: time.Minute,
			RetryInitial: 10 * time.Second,
			RetryMax:     10 * time.Minute,
		},
	}
}

// ElectrumServers returns the configured servers for symbol, falling back
// to the currency table.
func (c *Config) ElectrumServers(symbol string) []marketmaker.ElectrumServer {
	if servers, ok := c.Electrum[symbol]; ok && len(servers) > 0 {
		return servers
	}
	if cur, ok := Currencies[symbol]; ok {
		return cur.Electrum
	}
	return nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.RPC.ListenAddr == "" {
		return fmt.Errorf("rpc.listen_addr cannot be empty")
	}
	if c.MarketMaker.URL == "" {
		return fmt.Errorf("marketmaker.url cannot be empty")
	}
	if c.Swaps.RetryInitial <= 0 {
		return fmt.Errorf("swaps.retry_initial must be positive")
	}
	if c.Swaps.RetryMax < c.Swaps.RetryInitial {
		return fmt.Errorf("swaps.retry_max cannot be less than swaps.retry_initial")
	}
	for symbol := range c.Electrum {
		if !IsCurrencySupported(symbol) {
			return fmt.Errorf("electrum: unsupported currency %s", symbol)
		}
	}
	return nil
}

// Load loads configuration from the data directory.
// If the file doesn't exist, it creates one with default values.
func Load(dataDir string) (*Config, error) {
	configPath := Path(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# ResDEX daemon configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Path returns the full path to the config file for the given data directory.
func Path(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), FileName)
}

// ExpandPath expands ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
