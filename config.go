package arbridge

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/mohans/arbridge/pallet"
)

// Local store backends.
const (
	LocalStoreBadger = "badger"
	LocalStoreRedis  = "redis"
	LocalStoreMemory = "memory"
)

// Config is the node configuration, read from a JSON file and ARB_* env overrides.
type Config struct {
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	ChainDB       string `json:"chain_db"`

	LocalStore     string `json:"local_store"`
	LocalStorePath string `json:"local_store_path"`

	GatewayURL    string   `json:"gateway_url"`
	WalletPath    string   `json:"wallet_path"`
	SignerEnabled bool     `json:"signer_enabled"`
	SignerSeeds   []string `json:"signer_seeds"` // hex ed25519 seeds of the local accounts

	BlockTime   string `json:"block_time"`
	Concurrency int    `json:"concurrency"`

	ExistentialDeposit  uint64            `json:"existential_deposit"`
	MaxDataLength       int               `json:"max_data_length"`
	MaxTxHashLength     int               `json:"max_tx_hash_length"`
	MaxSignedDataLength int               `json:"max_signed_data_length"`
	Genesis             map[string]uint64 `json:"genesis"`

	AMQPURL   string `json:"amqp_url"`
	AMQPQueue string `json:"amqp_queue"`

	AdminAddr string `json:"admin_addr"`
	Debug     bool   `json:"debug"`
}

func DefaultConfig() Config {
	return Config{
		RedisAddr:          "127.0.0.1:6379",
		ChainDB:            "file:arbridge.db?_pragma=busy_timeout(5000)",
		LocalStore:         LocalStoreBadger,
		LocalStorePath:     "arbridge-local",
		BlockTime:          "6s",
		ExistentialDeposit: 1,
		AMQPQueue:          "arbridge.events",
		AdminAddr:          "127.0.0.1:9945",
	}
}

// LoadConfig reads path (if not empty) over the defaults, then applies env overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if _, err := cfg.BlockInterval(); err != nil {
		return cfg, err
	}
	switch cfg.LocalStore {
	case LocalStoreBadger, LocalStoreRedis, LocalStoreMemory:
	default:
		return cfg, fmt.Errorf("unknown local store %q", cfg.LocalStore)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"ARB_REDIS_ADDR":       &c.RedisAddr,
		"ARB_REDIS_PASSWORD":   &c.RedisPassword,
		"ARB_CHAIN_DB":         &c.ChainDB,
		"ARB_LOCAL_STORE":      &c.LocalStore,
		"ARB_LOCAL_STORE_PATH": &c.LocalStorePath,
		"ARB_GATEWAY_URL":      &c.GatewayURL,
		"ARB_WALLET_PATH":      &c.WalletPath,
		"ARB_BLOCK_TIME":       &c.BlockTime,
		"ARB_AMQP_URL":         &c.AMQPURL,
		"ARB_AMQP_QUEUE":       &c.AMQPQueue,
		"ARB_ADMIN_ADDR":       &c.AdminAddr,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := os.LookupEnv("ARB_SIGNER_SEEDS"); ok {
		c.SignerSeeds = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.SignerSeeds = append(c.SignerSeeds, s)
			}
		}
	}

	var err error
	if v, ok := os.LookupEnv("ARB_SIGNER_ENABLED"); ok {
		if c.SignerEnabled, err = cast.ToBoolE(v); err != nil {
			return fmt.Errorf("ARB_SIGNER_ENABLED: %w", err)
		}
	}
	if v, ok := os.LookupEnv("ARB_DEBUG"); ok {
		if c.Debug, err = cast.ToBoolE(v); err != nil {
			return fmt.Errorf("ARB_DEBUG: %w", err)
		}
	}
	if v, ok := os.LookupEnv("ARB_REDIS_DB"); ok {
		if c.RedisDB, err = cast.ToIntE(v); err != nil {
			return fmt.Errorf("ARB_REDIS_DB: %w", err)
		}
	}
	if v, ok := os.LookupEnv("ARB_CONCURRENCY"); ok {
		if c.Concurrency, err = cast.ToIntE(v); err != nil {
			return fmt.Errorf("ARB_CONCURRENCY: %w", err)
		}
	}
	if v, ok := os.LookupEnv("ARB_EXISTENTIAL_DEPOSIT"); ok {
		if c.ExistentialDeposit, err = cast.ToUint64E(v); err != nil {
			return fmt.Errorf("ARB_EXISTENTIAL_DEPOSIT: %w", err)
		}
	}
	return nil
}

// BlockInterval parses BlockTime. "0" or empty disables scheduled blocks.
func (c Config) BlockInterval() (time.Duration, error) {
	if strings.TrimSpace(c.BlockTime) == "" {
		return 0, nil
	}
	d, err := cast.ToDurationE(c.BlockTime)
	if err != nil {
		return 0, fmt.Errorf("block_time %q: %w", c.BlockTime, err)
	}
	return d, nil
}

func (c Config) Limits() pallet.Limits {
	l := pallet.DefaultLimits()
	if c.MaxDataLength > 0 {
		l.MaxDataLength = c.MaxDataLength
	}
	if c.MaxTxHashLength > 0 {
		l.MaxTxHashLength = c.MaxTxHashLength
	}
	if c.MaxSignedDataLength > 0 {
		l.MaxSignedDataLength = c.MaxSignedDataLength
	}
	return l
}

func (c Config) Endowments() map[pallet.AccountID]pallet.Balance {
	out := make(map[pallet.AccountID]pallet.Balance, len(c.Genesis))
	for acct, b := range c.Genesis {
		out[pallet.AccountID(acct)] = pallet.Balance(b)
	}
	return out
}
