package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds server configuration.
type Config struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // "text" | "json"
	Environment string `yaml:"environment"`
	DataDir     string `yaml:"data_dir"`

	StoreDriver string `yaml:"store_driver"` // "memory" | "sqlite" | "postgres"
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	CustodyDriver string `yaml:"custody_driver"` // "memory" | "redis"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// EventsRedisChannel enables Redis pub/sub event delivery when set.
	EventsRedisChannel string `yaml:"events_redis_channel"`

	AssetSymbol   string `yaml:"asset_symbol"`
	AssetDecimals int    `yaml:"asset_decimals"`

	// ReleasePolicy is a CEL expression replacing the default releaser rule.
	ReleasePolicy string `yaml:"release_policy"`

	JWTSecret      string  `yaml:"jwt_secret"`
	JWTIssuer      string  `yaml:"jwt_issuer"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTelEndpoint string `yaml:"otel_endpoint"`

	DisclosureStorageType string `yaml:"disclosure_storage_type"` // "fs" | "s3" | "gcs"
	DisclosureS3Bucket    string `yaml:"disclosure_s3_bucket"`
	DisclosureS3Region    string `yaml:"disclosure_s3_region"`
	DisclosureS3Endpoint  string `yaml:"disclosure_s3_endpoint"`
	DisclosureS3Prefix    string `yaml:"disclosure_s3_prefix"`
	DisclosureGCSBucket   string `yaml:"disclosure_gcs_bucket"`
	DisclosureGCSPrefix   string `yaml:"disclosure_gcs_prefix"`
}

// Defaults returns the local development configuration.
func Defaults() *Config {
	return &Config{
		Port:                  "8080",
		LogLevel:              "INFO",
		LogFormat:             "text",
		Environment:           "development",
		DataDir:               "data",
		StoreDriver:           "sqlite",
		SQLitePath:            "data/dchain.db",
		CustodyDriver:         "memory",
		RedisAddr:             "localhost:6379",
		AssetSymbol:           "mUSDT",
		AssetDecimals:         6,
		JWTIssuer:             "dchain",
		RateLimitRPS:          20,
		RateLimitBurst:        40,
		OTelEndpoint:          "localhost:4317",
		DisclosureStorageType: "fs",
	}
}

// Load loads configuration from environment variables over the defaults.
func Load() *Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	setString(&c.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.Environment, "DCHAIN_ENV")
	setString(&c.DataDir, "DATA_DIR")
	setString(&c.StoreDriver, "STORE_DRIVER")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.SQLitePath, "SQLITE_PATH")
	setString(&c.CustodyDriver, "CUSTODY_DRIVER")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setInt(&c.RedisDB, "REDIS_DB")
	setString(&c.EventsRedisChannel, "EVENTS_REDIS_CHANNEL")
	setString(&c.AssetSymbol, "ASSET_SYMBOL")
	setInt(&c.AssetDecimals, "ASSET_DECIMALS")
	setString(&c.ReleasePolicy, "RELEASE_POLICY")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.JWTIssuer, "JWT_ISSUER")
	setFloat(&c.RateLimitRPS, "RATE_LIMIT_RPS")
	setInt(&c.RateLimitBurst, "RATE_LIMIT_BURST")
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.OTelEnabled = v == "true" || v == "1"
	}
	setString(&c.OTelEndpoint, "OTEL_ENDPOINT")
	setString(&c.DisclosureStorageType, "DISCLOSURE_STORAGE_TYPE")
	setString(&c.DisclosureS3Bucket, "DISCLOSURE_S3_BUCKET")
	setString(&c.DisclosureS3Region, "DISCLOSURE_S3_REGION")
	if c.DisclosureS3Region == "" {
		setString(&c.DisclosureS3Region, "AWS_REGION")
	}
	setString(&c.DisclosureS3Endpoint, "DISCLOSURE_S3_ENDPOINT")
	setString(&c.DisclosureS3Prefix, "DISCLOSURE_S3_PREFIX")
	setString(&c.DisclosureGCSBucket, "DISCLOSURE_GCS_BUCKET")
	setString(&c.DisclosureGCSPrefix, "DISCLOSURE_GCS_PREFIX")
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", c.StoreDriver)
	}
	switch c.CustodyDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported custody driver: %s", c.CustodyDriver)
	}
	if (c.CustodyDriver == "redis" || c.EventsRedisChannel != "") && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required for redis custody or events")
	}
	if c.AssetDecimals < 0 || c.AssetDecimals > 18 {
		return fmt.Errorf("ASSET_DECIMALS must be between 0 and 18, got %d", c.AssetDecimals)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.LogFormat)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
