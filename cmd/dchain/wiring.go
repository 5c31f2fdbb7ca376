package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Jovells/dchain/pkg/authz"
	"github.com/Jovells/dchain/pkg/config"
	"github.com/Jovells/dchain/pkg/custody"
	"github.com/Jovells/dchain/pkg/disclosure"
	"github.com/Jovells/dchain/pkg/events"
	"github.com/Jovells/dchain/pkg/identity"
	"github.com/Jovells/dchain/pkg/observability"
	"github.com/Jovells/dchain/pkg/store"
)

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadFile(path)
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		if cfg.SQLitePath != ":memory:" {
			//nolint:gosec // G301: shared data directory
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
				return nil, fmt.Errorf("failed to ensure sqlite dir: %w", err)
			}
		}
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		return store.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// newCustodian returns the configured custodian. rdb may be nil when the
// memory driver is selected.
func newCustodian(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient) (custody.Custodian, error) {
	switch cfg.CustodyDriver {
	case "memory":
		return custody.NewMemory(), nil
	case "redis":
		c := custody.NewRedis(rdb, "dchain")
		if err := c.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis custody: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported custody driver: %s", cfg.CustodyDriver)
	}
}

func newAuthorizer(cfg *config.Config) (authz.Authorizer, error) {
	if cfg.ReleasePolicy == "" {
		return authz.RoleAuthorizer{}, nil
	}
	return authz.NewCELAuthorizer(map[authz.Action]string{
		authz.ActionReleasePayment: cfg.ReleasePolicy,
	}, authz.RoleAuthorizer{})
}

func newKeySet(cfg *config.Config) (identity.KeySet, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return identity.NewHMACKeySet(cfg.JWTSecret)
}

func assetFor(cfg *config.Config) custody.Asset {
	return custody.Asset{Symbol: cfg.AssetSymbol, Decimals: cfg.AssetDecimals}
}

func observabilityConfig(cfg *config.Config) *observability.Config {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = version
	oc.Environment = cfg.Environment
	oc.Enabled = cfg.OTelEnabled
	oc.OTLPEndpoint = cfg.OTelEndpoint
	return oc
}

func disclosureConfig(cfg *config.Config) disclosure.StoreConfig {
	return disclosure.StoreConfig{
		Type:       disclosure.StoreType(cfg.DisclosureStorageType),
		DataDir:    cfg.DataDir,
		S3Bucket:   cfg.DisclosureS3Bucket,
		S3Region:   cfg.DisclosureS3Region,
		S3Prefix:   cfg.DisclosureS3Prefix,
		S3Endpoint: cfg.DisclosureS3Endpoint,
		GCSBucket:  cfg.DisclosureGCSBucket,
		GCSPrefix:  cfg.DisclosureGCSPrefix,
	}
}

// tailSeq finds the newest committed event so a restarted relay does not
// republish history.
func tailSeq(ctx context.Context, src events.Source) (uint64, error) {
	var after uint64
	for {
		batch, err := src.EventsSince(ctx, after, store.MaxListLimit)
		if err != nil {
			return 0, err
		}
		if len(batch) == 0 {
			return after, nil
		}
		after = batch[len(batch)-1].Seq
	}
}
