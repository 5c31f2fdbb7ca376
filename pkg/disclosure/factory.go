package disclosure

import (
	"context"
	"fmt"
	"path/filepath"
)

// StoreType represents the disclosure storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	Type       StoreType
	DataDir    string
	S3Bucket   string
	S3Region   string
	S3Prefix   string
	S3Endpoint string
	GCSBucket  string
	GCSPrefix  string
}

// NewStore creates the configured BlobStore. The filesystem store is the
// default and lives under DataDir/disclosures.
func NewStore(ctx context.Context, cfg StoreConfig) (BlobStore, error) {
	switch cfg.Type {
	case "", StoreTypeFS:
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "disclosures"))
	case StoreTypeS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("DISCLOSURE_S3_BUCKET is required for S3 storage")
		}
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.S3Bucket,
			Region:   region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case StoreTypeGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("DISCLOSURE_GCS_BUCKET is required for GCS storage")
		}
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported disclosure storage type: %s", cfg.Type)
	}
}
