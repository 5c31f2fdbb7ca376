package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jovells/dchain/pkg/config"
)

var envKeys = []string{
	"PORT", "LOG_LEVEL", "LOG_FORMAT", "STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH",
	"CUSTODY_DRIVER", "REDIS_ADDR", "REDIS_DB", "EVENTS_REDIS_CHANNEL", "ASSET_DECIMALS",
	"RELEASE_POLICY", "JWT_SECRET", "RATE_LIMIT_RPS", "OTEL_ENABLED", "DISCLOSURE_STORAGE_TYPE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// TestLoad_Defaults verifies the service boots locally with no environment.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "memory", cfg.CustodyDriver)
	assert.Equal(t, 6, cfg.AssetDecimals)
	assert.False(t, cfg.OTelEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://dchain@db:5432/dchain")
	t.Setenv("CUSTODY_DRIVER", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("RELEASE_POLICY", "caller == shipment.retailer")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "postgres://dchain@db:5432/dchain", cfg.DatabaseURL)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "caller == shipment.retailer", cfg.ReleasePolicy)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.True(t, cfg.OTelEnabled)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"unknown store":        func(c *config.Config) { c.StoreDriver = "mongo" },
		"postgres without url": func(c *config.Config) { c.StoreDriver = "postgres" },
		"unknown custody":      func(c *config.Config) { c.CustodyDriver = "ethereum" },
		"redis without addr":   func(c *config.Config) { c.CustodyDriver = "redis"; c.RedisAddr = "" },
		"decimals":             func(c *config.Config) { c.AssetDecimals = 40 },
		"log format":           func(c *config.Config) { c.LogFormat = "xml" },
		"rate limit":           func(c *config.Config) { c.RateLimitBurst = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Defaults()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dchain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
schema_version: "1.2.0"
port: "7070"
store_driver: memory
release_policy: caller == shipment.supplier
asset_symbol: USDC
`)
	t.Setenv("PORT", "6060")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Port, "environment wins over the file")
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "caller == shipment.supplier", cfg.ReleasePolicy)
	assert.Equal(t, "USDC", cfg.AssetSymbol)
	assert.Equal(t, 6, cfg.AssetDecimals, "unset keys keep defaults")
}

func TestLoadFile_SchemaVersion(t *testing.T) {
	clearEnv(t)

	_, err := config.LoadFile(writeFile(t, "port: \"1\"\n"))
	assert.ErrorContains(t, err, "schema_version is required")

	_, err = config.LoadFile(writeFile(t, "schema_version: \"2.0.0\"\n"))
	assert.ErrorContains(t, err, "not supported")

	_, err = config.LoadFile(writeFile(t, "schema_version: \"one\"\n"))
	assert.ErrorContains(t, err, "invalid schema_version")

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
