package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "ENV", "SU_WALLET_PATH", "UPLOAD_URL", "GATEWAY_URL", "LEDGER_DIR",
	"STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "REDIS_URL", "NETWORK_TIMEOUT",
	"UPLOAD_MAX_RETRIES", "UPLOAD_RETRY_DELAY", "MAX_BODY_BYTES", "RATE_LIMIT_WHITELIST", "AUTO_BLOCK_ENABLED",
}

func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := parse()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "https://node2.irys.xyz", cfg.UploadURL)
	assert.Equal(t, "https://arweave.net", cfg.GatewayURL)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "./data/sequencer.db", cfg.SQLitePath)
	assert.Equal(t, 10*time.Second, cfg.NetworkTimeout)
	assert.Equal(t, 3, cfg.UploadMaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.UploadRetryDelay)
	assert.Equal(t, int64(10<<20), cfg.MaxBodyBytes)
	assert.Empty(t, cfg.RateLimitWhitelist)
	assert.False(t, cfg.AutoBlockEnabled)
}

func TestOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/su")
	t.Setenv("NETWORK_TIMEOUT", "2s")
	t.Setenv("UPLOAD_MAX_RETRIES", "0")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.0/8, ,127.0.0.1")

	cfg, err := parse()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 2*time.Second, cfg.NetworkTimeout)
	assert.Equal(t, 0, cfg.UploadMaxRetries)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.RateLimitWhitelist)
}

func TestInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown driver":    {"STORE_DRIVER": "mongo"},
		"postgres no url":   {"STORE_DRIVER": "postgres"},
		"redis no url":      {"STORE_DRIVER": "redis"},
		"bad duration":      {"NETWORK_TIMEOUT": "soon"},
		"negative retries":  {"UPLOAD_MAX_RETRIES": "-1"},
		"production no key": {"ENV": "production"},
		"bad body size":     {"MAX_BODY_BYTES": "lots"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := parse()
			assert.Error(t, err)
		})
	}
}

func TestLoadPanicsInProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")
	assert.Panics(t, func() { Load() })
}
