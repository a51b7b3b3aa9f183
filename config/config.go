package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chainrelay/wallet"
)

// DatabaseConfig selects the transaction/user store backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite". DSN format follows the driver.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ChainConfig points the relayer at its RPC endpoint and signing identity.
// Key material is never read from the YAML file: the private key arrives via
// RELAY_RELAYER_KEY (hex) or a v3 keystore file plus RELAY_RELAYER_PASSPHRASE.
type ChainConfig struct {
	RPCURL       string `yaml:"rpcUrl"`
	KeystoreFile string `yaml:"keystoreFile"`

	relayerKeyHex      string
	keystorePassphrase string
}

// VaultConfig locates the custodial key vault.
type VaultConfig struct {
	Path string `yaml:"path"`

	passphrase string
}

// RateLimitConfig gates inbound transfer submissions per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

// ObservabilityConfig toggles metrics, tracing, and request logs.
type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	MetricsPrefix string `yaml:"metricsPrefix"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
}

// LoggingConfig optionally mirrors logs to a rotating file.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Config is the full runtime configuration for relayerd.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`

	// MaxTxAmount caps a single relayed transfer, in chain-native units.
	MaxTxAmount string `yaml:"maxTxAmount"`

	Database      DatabaseConfig      `yaml:"database"`
	Chain         ChainConfig         `yaml:"chain"`
	Vault         VaultConfig         `yaml:"vault"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`

	apiKey string
}

// Load reads the optional YAML file, layers environment overrides on top, and
// validates the result. A missing relayer key is fatal here, before any
// listener starts.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		MaxTxAmount:   "0.1",
		Database:      DatabaseConfig{Driver: "postgres"},
		Vault:         VaultConfig{Path: "relay-data/keyvault"},
		RateLimit:     RateLimitConfig{RequestsPerMinute: 5, Burst: 5},
		Observability: ObservabilityConfig{
			ServiceName:   "relayerd",
			MetricsPrefix: "relay",
			Metrics:       true,
			Tracing:       false,
			LogRequests:   true,
		},
	}

	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("RELAY_LISTEN")); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_DB_DRIVER")); v != "" {
		cfg.Database.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_DB_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_RPC_URL")); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_MAX_TX_AMOUNT")); v != "" {
		cfg.MaxTxAmount = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_VAULT_PATH")); v != "" {
		cfg.Vault.Path = v
	}
	if v := os.Getenv("RELAY_RATE_LIMIT_PER_MINUTE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			cfg.RateLimit.RequestsPerMinute = parsed
		}
	}
	cfg.Chain.relayerKeyHex = strings.TrimSpace(os.Getenv("RELAY_RELAYER_KEY"))
	cfg.Chain.keystorePassphrase = os.Getenv("RELAY_RELAYER_PASSPHRASE")
	cfg.Vault.passphrase = os.Getenv("RELAY_VAULT_PASSPHRASE")
	cfg.apiKey = strings.TrimSpace(os.Getenv("RELAY_API_KEY"))
}

// Validate enforces startup preconditions. It deliberately does not touch the
// network; key decoding happens in LoadRelayerKey.
func (cfg *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", cfg.Database.Driver)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(cfg.Chain.RPCURL) == "" {
		return fmt.Errorf("chain.rpcUrl is required (RELAY_RPC_URL)")
	}
	if cfg.Chain.relayerKeyHex == "" && strings.TrimSpace(cfg.Chain.KeystoreFile) == "" {
		return fmt.Errorf("relayer private key is not set: provide RELAY_RELAYER_KEY or chain.keystoreFile")
	}
	if strings.TrimSpace(cfg.MaxTxAmount) == "" {
		return fmt.Errorf("maxTxAmount is required")
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rateLimit.requestsPerMinute must be positive")
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
	return nil
}

// LoadRelayerKey materialises the relayer signing key from the hex environment
// variable or, failing that, the configured keystore file.
func (c ChainConfig) LoadRelayerKey() (*wallet.PrivateKey, error) {
	if c.relayerKeyHex != "" {
		key, err := wallet.PrivateKeyFromHex(c.relayerKeyHex)
		if err != nil {
			return nil, fmt.Errorf("parse RELAY_RELAYER_KEY: %w", err)
		}
		return key, nil
	}
	key, err := wallet.LoadFromKeystore(c.KeystoreFile, c.keystorePassphrase)
	if err != nil {
		return nil, fmt.Errorf("load relayer keystore: %w", err)
	}
	return key, nil
}

// VaultPassphrase returns the passphrase protecting stored user keys.
func (c VaultConfig) VaultPassphrase() string {
	return c.passphrase
}

// APIKey returns the optional static bearer token guarding the HTTP surface.
func (cfg Config) APIKey() string {
	return cfg.apiKey
}
