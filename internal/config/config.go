// Package config loads offpay settings: built-in defaults, then an optional
// YAML file, then a .env file, then the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"

	"github.com/roach88/offpay/internal/policy"
)

// EnvPrefix marks environment variables that override config keys.
// Nested keys are separated by a double underscore:
// OFFPAY_SYNC__LEDGER_URL sets sync.ledger_url.
const EnvPrefix = "OFFPAY_"

// maxSyncBatch is the ledger API's per-request payload cap.
const maxSyncBatch = 500

// policyEnv maps the documented policy variables onto config keys.
var policyEnv = map[string]string{
	"PER_TX_LIMIT":        "policy.per_tx_limit",
	"WALLET_MAX_BALANCE":  "policy.wallet_max_balance",
	"DAILY_SPEND_LIMIT":   "policy.daily_spend_limit",
	"SYNC_DEADLINE_HOURS": "sync.deadline_hours",
}

var DefaultConfig = []byte(`
application: "offpay"

logger:
  level: "info"

wallet:
  path: "offpay.db"
  key_file: "offpay.key"
  address: ""
  name: ""
  device_id: ""
  journal_capacity: 1000
  nonce_capacity: 500

policy:
  per_tx_limit: 500
  wallet_max_balance: 2000
  daily_spend_limit: 4000

sync:
  ledger_url: "http://localhost:8080"
  deadline_hours: 96
  interval: "30s"
  timeout: "15s"
  retention_days: 7
  batch_size: 100

server:
  addr: ":8080"
  postgres_dsn: ""
  redis:
    addr: ""
    password: ""
    db: 0
    rejection_key: "offpay:rejections"
    max_rejections: 10000
  kafka:
    brokers: []
    topic: "offpay.transfers"
    client_id: "offpay-ledger"

reconcile:
  late_sync_hours: 24
`)

type Config struct {
	Application string    `koanf:"application"`
	Logger      Logger    `koanf:"logger"`
	Wallet      Wallet    `koanf:"wallet"`
	Policy      Policy    `koanf:"policy"`
	Sync        Sync      `koanf:"sync"`
	Server      Server    `koanf:"server"`
	Reconcile   Reconcile `koanf:"reconcile"`
}

type Logger struct {
	Level string `koanf:"level"`
}

// Wallet is the device-side store and identity.
type Wallet struct {
	Path            string `koanf:"path"`
	KeyFile         string `koanf:"key_file"`
	Address         string `koanf:"address"`
	Name            string `koanf:"name"`
	DeviceID        string `koanf:"device_id"`
	JournalCapacity int    `koanf:"journal_capacity"`
	NonceCapacity   int    `koanf:"nonce_capacity"`
}

type Policy struct {
	PerTxLimit       int64 `koanf:"per_tx_limit"`
	WalletMaxBalance int64 `koanf:"wallet_max_balance"`
	DailySpendLimit  int64 `koanf:"daily_spend_limit"`
}

type Sync struct {
	LedgerURL     string        `koanf:"ledger_url"`
	DeadlineHours int           `koanf:"deadline_hours"`
	Interval      time.Duration `koanf:"interval"`
	Timeout       time.Duration `koanf:"timeout"`
	RetentionDays int           `koanf:"retention_days"`
	BatchSize     int           `koanf:"batch_size"`
}

type Server struct {
	Addr        string `koanf:"addr"`
	PostgresDSN string `koanf:"postgres_dsn"`
	Redis       Redis  `koanf:"redis"`
	Kafka       Kafka  `koanf:"kafka"`
}

type Redis struct {
	Addr          string `koanf:"addr"`
	Password      string `koanf:"password"`
	DB            int    `koanf:"db"`
	RejectionKey  string `koanf:"rejection_key"`
	MaxRejections int64  `koanf:"max_rejections"`
}

type Kafka struct {
	Brokers  []string `koanf:"brokers"`
	Topic    string   `koanf:"topic"`
	ClientID string   `koanf:"client_id"`
}

type Reconcile struct {
	LateSyncHours int `koanf:"late_sync_hours"`
}

// Options selects the optional sources. Empty fields are skipped, except
// that a missing EnvFile is silently ignored.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load merges every source and validates the result.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(DefaultConfig), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if opts.ConfigFile != "" {
		if err := k.Load(file.Provider(opts.ConfigFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", opts.ConfigFile, err)
		}
	}
	if opts.EnvFile != "" {
		// Variables already set in the environment win over the file.
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable to a config key, or "" to skip it.
func envKey(name string) string {
	if key, ok := policyEnv[name]; ok {
		return key
	}
	if !strings.HasPrefix(name, EnvPrefix) {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", ".")
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, fmt.Errorf("%s: %s", field, msg))
	}

	if c.Application == "" {
		add("application", "cannot be empty")
	}
	if c.Logger.Level == "" {
		add("logger.level", "cannot be empty")
	}
	if c.Wallet.Path == "" {
		add("wallet.path", "cannot be empty")
	}
	if err := c.Limits().Validate(); err != nil {
		add("policy", err.Error())
	}
	if c.Sync.DeadlineHours <= 0 {
		add("sync.deadline_hours", "must be positive")
	}
	if c.Sync.Interval <= 0 {
		add("sync.interval", "must be positive")
	}
	if c.Sync.RetentionDays <= 0 {
		add("sync.retention_days", "must be positive")
	}
	if c.Sync.BatchSize <= 0 || c.Sync.BatchSize > maxSyncBatch {
		add("sync.batch_size", fmt.Sprintf("must be between 1 and %d", maxSyncBatch))
	}
	if c.Reconcile.LateSyncHours <= 0 {
		add("reconcile.late_sync_hours", "must be positive")
	}
	if len(c.Server.Kafka.Brokers) > 0 && c.Server.Kafka.Topic == "" {
		add("server.kafka.topic", "cannot be empty when brokers are set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Limits returns the policy limits.
func (c *Config) Limits() policy.Limits {
	return policy.Limits{
		PerTx:     c.Policy.PerTxLimit,
		Daily:     c.Policy.DailySpendLimit,
		WalletMax: c.Policy.WalletMaxBalance,
	}
}

// SyncDeadline is how long after issue a payment may still settle.
func (c *Config) SyncDeadline() time.Duration {
	return time.Duration(c.Sync.DeadlineHours) * time.Hour
}

// Retention is how long settled records stay on the device.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Sync.RetentionDays) * 24 * time.Hour
}

// LateSync is the reconciliation dispute threshold.
func (c *Config) LateSync() time.Duration {
	return time.Duration(c.Reconcile.LateSyncHours) * time.Hour
}
