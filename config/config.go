package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	AES      AESConfig      `mapstructure:"aes"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Registry RegistryConfig `mapstructure:"registry"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Intent   IntentConfig   `mapstructure:"intent"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// StatementTimeout is set per session; zero keeps the server default.
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`

	// Timeout applies to dial, read and write.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

// VaultConfig holds the key used to digest API keys at rest.
type VaultConfig struct {
	APIKeyPepper string `mapstructure:"api_key_pepper"`
}

type RegistryConfig struct {
	// AutoActivate moves newly onboarded merchants straight to ACTIVE.
	AutoActivate bool `mapstructure:"auto_activate"`
}

// TokenConfig describes an ERC-20 contract accepted for payment.
type TokenConfig struct {
	Currency string `mapstructure:"currency"`
	Contract string `mapstructure:"contract"`
	Decimals int32  `mapstructure:"decimals"`
}

type ChainConfig struct {
	Name                  string        `mapstructure:"name"`
	RPCURL                string        `mapstructure:"rpc_url"`
	NativeCurrency        string        `mapstructure:"native_currency"` // empty disables native transfers
	NativeDecimals        int32         `mapstructure:"native_decimals"`
	Tokens                []TokenConfig `mapstructure:"tokens"`
	RequiredConfirmations int           `mapstructure:"required_confirmations"`
	StartBlock            uint64        `mapstructure:"start_block"`
	BatchSize             uint64        `mapstructure:"batch_size"`
	ReorgDepth            uint64        `mapstructure:"reorg_depth"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	CallTimeout           time.Duration `mapstructure:"call_timeout"`
	MaxRetries            uint          `mapstructure:"max_retries"`
}

// Currencies lists every currency code the configured chain can settle.
func (c ChainConfig) Currencies() []string {
	out := make([]string, 0, len(c.Tokens)+1)
	if c.NativeCurrency != "" {
		out = append(out, strings.ToUpper(c.NativeCurrency))
	}
	for _, t := range c.Tokens {
		out = append(out, strings.ToUpper(t.Currency))
	}
	return out
}

// Reorg policies applied when a matched transaction leaves the canonical chain.
const (
	ReorgPolicyReopen = "reopen"
	ReorgPolicyFail   = "fail"
)

type IntentConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	MaxTTL        time.Duration `mapstructure:"max_ttl"`
	Tolerance     string        `mapstructure:"tolerance"` // absolute amount, decimal string
	ReorgPolicy   string        `mapstructure:"reorg_policy"`
	AwaitingGrace time.Duration `mapstructure:"awaiting_grace"`
}

// ToleranceDecimal parses Tolerance.
func (i IntentConfig) ToleranceDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(i.Tolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing intent tolerance %q: %w", i.Tolerance, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("intent tolerance must not be negative")
	}
	return d, nil
}

type WebhookConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	MaxPerMerchant int           `mapstructure:"max_per_merchant"`
	ClaimLease     time.Duration `mapstructure:"claim_lease"`
}

type SweeperConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CPG_ (Crypto Payment Gateway).
// Nested keys use underscore: CPG_DATABASE_HOST, CPG_CHAIN_RPC_URL, etc.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CPG_DATABASE_HOST -> database.host
	v.SetEnvPrefix("CPG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "payment_gateway")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.statement_timeout", "5s")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.timeout", "500ms")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "crypto-payment-gateway")
	v.SetDefault("aes.key", "")
	v.SetDefault("vault.api_key_pepper", "")
	v.SetDefault("registry.auto_activate", false)
	v.SetDefault("chain.name", "ethereum")
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.native_currency", "ETH")
	v.SetDefault("chain.native_decimals", 18)
	v.SetDefault("chain.tokens", []map[string]interface{}{})
	v.SetDefault("chain.required_confirmations", 12)
	v.SetDefault("chain.start_block", 0)
	v.SetDefault("chain.batch_size", 50)
	v.SetDefault("chain.reorg_depth", 64)
	v.SetDefault("chain.poll_interval", "12s")
	v.SetDefault("chain.call_timeout", "5s")
	v.SetDefault("chain.max_retries", 3)
	v.SetDefault("intent.default_ttl", "30m")
	v.SetDefault("intent.max_ttl", "24h")
	v.SetDefault("intent.tolerance", "0")
	v.SetDefault("intent.reorg_policy", ReorgPolicyReopen)
	v.SetDefault("intent.awaiting_grace", "0s")
	v.SetDefault("webhook.max_attempts", 8)
	v.SetDefault("webhook.base_backoff", "10s")
	v.SetDefault("webhook.max_backoff", "1h")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.poll_interval", "2s")
	v.SetDefault("webhook.batch_size", 100)
	v.SetDefault("webhook.max_concurrent", 32)
	v.SetDefault("webhook.max_per_merchant", 4)
	v.SetDefault("webhook.claim_lease", "1m")
	v.SetDefault("sweeper.interval", "30s")
	v.SetDefault("sweeper.batch_size", 200)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate checks the settings the gateway cannot run safely without.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if err := validateHexKey("aes.key", c.AES.Key); err != nil {
		errs = append(errs, err)
	}
	if err := validateHexKey("vault.api_key_pepper", c.Vault.APIKeyPepper); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Intent.ToleranceDecimal(); err != nil {
		errs = append(errs, err)
	}
	switch c.Intent.ReorgPolicy {
	case ReorgPolicyReopen, ReorgPolicyFail:
	default:
		errs = append(errs, fmt.Errorf("intent.reorg_policy must be %q or %q", ReorgPolicyReopen, ReorgPolicyFail))
	}
	if c.Intent.DefaultTTL <= 0 || c.Intent.DefaultTTL > c.Intent.MaxTTL {
		errs = append(errs, errors.New("intent.default_ttl must be positive and not exceed intent.max_ttl"))
	}
	if c.Chain.RequiredConfirmations < 1 {
		errs = append(errs, errors.New("chain.required_confirmations must be at least 1"))
	}
	if len(c.Chain.Currencies()) == 0 {
		errs = append(errs, errors.New("chain must configure a native currency or at least one token"))
	}
	if c.Webhook.MaxAttempts < 1 {
		errs = append(errs, errors.New("webhook.max_attempts must be at least 1"))
	}
	if c.Webhook.MaxConcurrent < 1 || c.Webhook.MaxPerMerchant < 1 {
		errs = append(errs, errors.New("webhook concurrency limits must be at least 1"))
	}

	return errors.Join(errs...)
}

func validateHexKey(name, value string) error {
	key, err := hex.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%s must be hex encoded: %w", name, err)
	}
	if len(key) != 32 {
		return fmt.Errorf("%s must be 32 bytes, got %d", name, len(key))
	}
	return nil
}
