package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Store     StoreConfig     `yaml:"store"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Genesis   GenesisConfig   `yaml:"genesis"`
	Host      HostConfig      `yaml:"host"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// StoreConfig selects the state store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	Path   string `yaml:"path"`
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Enabled     bool            `yaml:"enabled"`
	Addr        string          `yaml:"addr"`
	Auth        AuthConfig      `yaml:"auth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	HistorySize int             `yaml:"history_size"` // events kept for /api/v1/events
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig binds a gateway auth token to the account it acts as.
type TokenConfig struct {
	Token   string `yaml:"token"`
	Name    string `yaml:"name"`
	Account string `yaml:"account"`
}

// RateLimitConfig bounds requests per connection.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// GenesisConfig holds the parameters used by "croncatd init".
type GenesisConfig struct {
	Owner                   string      `yaml:"owner"`
	Treasury                string      `yaml:"treasury,omitempty"`
	NativeDenom             string      `yaml:"native_denom"`
	MinTasksPerAgent        uint64      `yaml:"min_tasks_per_agent"`
	AgentsEjectThreshold    uint64      `yaml:"agents_eject_threshold"`
	AgentNominationDuration uint64      `yaml:"agent_nomination_duration"` // seconds
	AgentFee                uint64      `yaml:"agent_fee"`
	GasPrice                uint32      `yaml:"gas_price"`
	ProxyCallbackGas        uint32      `yaml:"proxy_callback_gas"`
	SlotGranularity         uint64      `yaml:"slot_granularity"`
	TokenWhitelist          []string    `yaml:"token_whitelist,omitempty"`
	Available               FundsConfig `yaml:"available"`
	Staked                  FundsConfig `yaml:"staked"`
}

// FundsConfig is a set of native coins and token amounts.
type FundsConfig struct {
	Native []CoinConfig  `yaml:"native,omitempty"`
	Tokens []TokenAmount `yaml:"tokens,omitempty"`
}

// CoinConfig is one native coin.
type CoinConfig struct {
	Denom  string `yaml:"denom"`
	Amount uint64 `yaml:"amount"`
}

// TokenAmount is an amount of a token contract.
type TokenAmount struct {
	Address string `yaml:"address"`
	Amount  uint64 `yaml:"amount"`
}

// HostConfig describes the host chain the registry runs on.
type HostConfig struct {
	ContractAddress string         `yaml:"contract_address"`
	Accounts        []AccountFunds `yaml:"accounts,omitempty"` // seeded into the in-memory bank
	Breaker         BreakerConfig  `yaml:"breaker"`
}

// AccountFunds seeds one host account.
type AccountFunds struct {
	Address     string `yaml:"address"`
	FundsConfig `yaml:",inline"`
}

// BreakerConfig holds circuit breaker settings for host balance queries.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"` // consecutive failures before opening (default: 5)
	Timeout     time.Duration `yaml:"timeout"`      // open -> half-open (default: 30s)
	Interval    time.Duration `yaml:"interval"`     // closed-state count reset (default: 60s)
}

// ReconcileConfig controls the ledger drift check.
type ReconcileConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"` // cron expression or duration string
	Timeout  time.Duration `yaml:"timeout"`
}

// SchedulerConfig holds additional maintenance jobs.
type SchedulerConfig struct {
	Enabled bool        `yaml:"enabled"`
	Jobs    []JobConfig `yaml:"jobs"`
}

// JobConfig defines a single scheduled job.
type JobConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`
	Action   string `yaml:"action"`
}

// defaultDataDir returns the persistent data directory under $HOME/.croncat/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".croncat", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter:    "noop",
			ServiceName: "croncatd",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(defaultDataDir(), "croncat.db"),
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8420",
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 20,
				Burst:             40,
			},
			HistorySize: 256,
		},
		Genesis: GenesisConfig{
			NativeDenom:             "atom",
			MinTasksPerAgent:        3,
			AgentsEjectThreshold:    600,
			AgentNominationDuration: 360,
			AgentFee:                5,
			GasPrice:                1,
			ProxyCallbackGas:        3,
			SlotGranularity:         60,
		},
		Host: HostConfig{
			ContractAddress: "croncat",
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Schedule: "5m",
			Timeout:  30 * time.Second,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		if err := newIncludeLoader(absPath).apply(cfg, filepath.Dir(absPath), 0); err != nil {
			return nil, err
		}

		// The main file takes precedence over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CRONCAT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps CRONCAT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CRONCAT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CRONCAT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CRONCAT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CRONCAT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("CRONCAT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("CRONCAT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CRONCAT_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("CRONCAT_GATEWAY_ENABLED"); v != "" {
		cfg.Gateway.Enabled = v == "true"
	}
	// Format: "token:account,token2:account2"
	if v := os.Getenv("CRONCAT_GATEWAY_TOKENS"); v != "" {
		var tokens []TokenConfig
		for _, pair := range splitAndTrim(v, ",") {
			tok, account, ok := strings.Cut(pair, ":")
			if !ok || tok == "" || account == "" {
				continue
			}
			tokens = append(tokens, TokenConfig{Token: tok, Name: account, Account: account})
		}
		if len(tokens) > 0 {
			cfg.Gateway.Auth.Tokens = tokens
		}
	}
	if v := os.Getenv("CRONCAT_GATEWAY_RATE_LIMIT"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Gateway.RateLimit.RequestsPerSecond = rps
		}
	}
	if v := os.Getenv("CRONCAT_GENESIS_OWNER"); v != "" {
		cfg.Genesis.Owner = v
	}
	if v := os.Getenv("CRONCAT_GENESIS_NATIVE_DENOM"); v != "" {
		cfg.Genesis.NativeDenom = v
	}
	if v := os.Getenv("CRONCAT_HOST_CONTRACT_ADDRESS"); v != "" {
		cfg.Host.ContractAddress = v
	}
	if v := os.Getenv("CRONCAT_RECONCILE_ENABLED"); v != "" {
		cfg.Reconcile.Enabled = v == "true"
	}
	if v := os.Getenv("CRONCAT_RECONCILE_SCHEDULE"); v != "" {
		cfg.Reconcile.Schedule = v
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets decrypts "enc:..." gateway auth tokens in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Gateway.Auth.Tokens {
		tok := cfg.Gateway.Auth.Tokens[i].Token
		if !strings.HasPrefix(tok, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("gateway auth token %s: %w", cfg.Gateway.Auth.Tokens[i].Name, err)
		}
		cfg.Gateway.Auth.Tokens[i].Token = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
