//go:build gcp

package archive

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("AUDIT_ARCHIVE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("AUDIT_ARCHIVE_GCS_BUCKET is required for GCS archives")
	}

	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("AUDIT_ARCHIVE_GCS_PREFIX"),
	})
}
