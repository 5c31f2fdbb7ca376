//go:build !gcp

package disclosure

import (
	"context"
	"fmt"
)

func newGCSStore(context.Context, StoreConfig) (BlobStore, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
