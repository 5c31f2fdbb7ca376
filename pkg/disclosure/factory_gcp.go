//go:build gcp

package disclosure

import "context"

func newGCSStore(ctx context.Context, cfg StoreConfig) (BlobStore, error) {
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
}
