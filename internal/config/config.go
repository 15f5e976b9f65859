package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// Signing key material. The path is read once at startup.
	WalletPath string

	// Ledger collaborators
	UploadURL  string
	GatewayURL string
	LedgerDir  string // when set, a local file ledger replaces both URLs

	// Durable store
	StoreDriver string
	SQLitePath  string
	DatabaseURL string
	RedisURL    string

	// Network behaviour
	NetworkTimeout   time.Duration
	UploadMaxRetries int
	UploadRetryDelay time.Duration

	MaxBodyBytes int64

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing or invalid required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg, err := parse()
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

func parse() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		WalletPath:  os.Getenv("SU_WALLET_PATH"),
		UploadURL:   getEnv("UPLOAD_URL", "https://node2.irys.xyz"),
		GatewayURL:  getEnv("GATEWAY_URL", "https://arweave.net"),
		LedgerDir:   os.Getenv("LEDGER_DIR"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/sequencer.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	var err error
	if cfg.NetworkTimeout, err = getDuration("NETWORK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.UploadRetryDelay, err = getDuration("UPLOAD_RETRY_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.UploadMaxRetries, err = getInt("UPLOAD_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	maxBody, err := getInt("MAX_BODY_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxBodyBytes = int64(maxBody)

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	switch cfg.StoreDriver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", DriverPostgres)
		}
	case DriverRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when STORE_DRIVER=%s", DriverRedis)
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	// In production, require a wallet
	if cfg.Env == "production" && cfg.WalletPath == "" {
		return nil, fmt.Errorf("SU_WALLET_PATH is required in production")
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: invalid non-negative integer %q", key, value)
	}
	return n, nil
}
